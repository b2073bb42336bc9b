package forecast

import (
	"fmt"
	"math"
)

// Strategy-specific minimums, counted in nonzero periods.
const (
	minSimpleNonzero   = 3
	minSeasonalNonzero = 12
)

// Config carries per-request strategy settings. Cluster is the owning
// customer's segment label, -1 when segmentation is off.
type Config struct {
	SeasonalPeriod int
	Cluster        int
}

func (c Config) period() int {
	if c.SeasonalPeriod > 0 {
		return c.SeasonalPeriod
	}
	return 12
}

// Outcome is one strategy's result for one entity. A refused outcome carries
// no forecast; the caller applies the fallback policy. Params holds the
// fitted hyperparameters for diagnostics and the advisory cache.
type Outcome struct {
	Forecast []float64
	Refused  bool
	Reason   string
	Params   map[string]float64
}

// Refuse builds a refusal outcome
func Refuse(reason string) Outcome { return Outcome{Refused: true, Reason: reason} }

// Strategy is the capability every forecasting model exposes
type Strategy interface {
	Name() string
	FitPredict(series []float64, horizon int, cfg Config) Outcome
}

// Run invokes a strategy behind its boundary: internal panics (singular
// fits, numerical blowups) become refusals, never propagated errors.
// Successful forecasts are shape-checked, rejected when non-finite, and
// clamped non-negative.
func Run(s Strategy, series []float64, horizon int, cfg Config) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Refuse(fmt.Sprintf("%s: internal fault: %v", s.Name(), r))
		}
	}()
	out = s.FitPredict(series, horizon, cfg)
	if out.Refused {
		return out
	}
	if len(out.Forecast) != horizon {
		return Refuse(fmt.Sprintf("%s: produced %d periods, want %d", s.Name(), len(out.Forecast), horizon))
	}
	for i, v := range out.Forecast {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Refuse(fmt.Sprintf("%s: non-finite forecast value", s.Name()))
		}
		if v < 0 {
			out.Forecast[i] = 0
		}
	}
	return out
}

// Registry maps selector names to strategies
type Registry struct {
	byName map[string]Strategy
	order  []string
}

// NewRegistry builds a registry with the five built-in strategies
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Strategy)}
	r.register(NaiveSeasonal{})
	r.register(ExponentialSmoothing{})
	r.register(SeasonalAutoregressive{})
	r.register(AdditiveDecomposition{})
	r.register(GradientBoosted{})
	return r
}

func (r *Registry) register(s Strategy) {
	r.byName[s.Name()] = s
	r.order = append(r.order, s.Name())
}

// Lookup returns the strategy registered under name
func (r *Registry) Lookup(name string) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names lists registered strategy names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Info describes one strategy for the models listing
type Info struct {
	Name        string
	Description string
	Kind        string
	MinNonzero  int
	Seasonal    bool
}

var infos = map[string]Info{
	"naive_seasonal": {
		Name:        "naive_seasonal",
		Description: "repeats the value observed one season back",
		Kind:        "statistical",
		MinNonzero:  minSimpleNonzero,
		Seasonal:    true,
	},
	"exp_smoothing": {
		Name:        "exp_smoothing",
		Description: "Holt-Winters triple exponential smoothing, additive trend and seasonality",
		Kind:        "statistical",
		MinNonzero:  minSeasonalNonzero,
		Seasonal:    true,
	},
	"seasonal_ar": {
		Name:        "seasonal_ar",
		Description: "differenced autoregressive model with a seasonal AR term",
		Kind:        "statistical",
		MinNonzero:  minSeasonalNonzero,
		Seasonal:    true,
	},
	"additive_decomp": {
		Name:        "additive_decomp",
		Description: "piecewise-linear trend with changepoints plus monthly seasonal factors",
		Kind:        "statistical",
		MinNonzero:  minSimpleNonzero,
		Seasonal:    true,
	},
	"gbt": {
		Name:        "gbt",
		Description: "boosted regression stumps over lag features",
		Kind:        "learned",
		MinNonzero:  6,
		Seasonal:    false,
	},
}

// Describe returns listing metadata in registration order
func (r *Registry) Describe() []Info {
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, infos[name])
	}
	return out
}

func nonzeroCount(series []float64) int {
	n := 0
	for _, v := range series {
		if v > 0 {
			n++
		}
	}
	return n
}

func meanOf(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}
