package forecast

import "fmt"

// Holt-Winters smoothing constants
const (
	hwAlpha = 0.3
	hwBeta  = 0.1
	hwGamma = 0.2
)

// ExponentialSmoothing is Holt-Winters triple exponential smoothing with
// additive trend and additive seasonality. It needs two full seasonal cycles
// to initialize the seasonal components and refuses below that.
type ExponentialSmoothing struct{}

func (ExponentialSmoothing) Name() string { return "exp_smoothing" }

func (ExponentialSmoothing) FitPredict(series []float64, horizon int, cfg Config) Outcome {
	period := cfg.period()
	n := len(series)
	if n < 2*period {
		return Refuse(fmt.Sprintf("exp_smoothing: need %d periods for two full seasons, got %d", 2*period, n))
	}
	if nonzeroCount(series) < period {
		return Refuse("exp_smoothing: fewer nonzero periods than one season")
	}

	// season means anchor the initial level and the seasonal deviations
	seasons := n / period
	seasonMean := make([]float64, seasons)
	for s := 0; s < seasons; s++ {
		var sum float64
		for i := 0; i < period; i++ {
			sum += series[s*period+i]
		}
		seasonMean[s] = sum / float64(period)
	}
	seasonal := make([]float64, period)
	for i := 0; i < period; i++ {
		var dev float64
		for s := 0; s < seasons; s++ {
			dev += series[s*period+i] - seasonMean[s]
		}
		seasonal[i] = dev / float64(seasons)
	}
	level := seasonMean[0]
	var trend float64
	for i := 0; i < period; i++ {
		trend += (series[period+i] - series[i]) / float64(period)
	}
	trend /= float64(period)

	for i := 0; i < n; i++ {
		si := i % period
		prevLevel := level
		level = hwAlpha*(series[i]-seasonal[si]) + (1-hwAlpha)*(level+trend)
		trend = hwBeta*(level-prevLevel) + (1-hwBeta)*trend
		seasonal[si] = hwGamma*(series[i]-level) + (1-hwGamma)*seasonal[si]
	}

	f := make([]float64, horizon)
	for i := range f {
		v := level + float64(i+1)*trend + seasonal[(n+i)%period]
		if v < 0 {
			v = 0
		}
		f[i] = v
	}
	return Outcome{
		Forecast: f,
		Params: map[string]float64{
			"alpha":  hwAlpha,
			"beta":   hwBeta,
			"gamma":  hwGamma,
			"period": float64(period),
		},
	}
}
