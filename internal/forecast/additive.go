package forecast

import (
	"fmt"
	"math"

	"github.com/sajari/regression"
)

// AdditiveDecomposition fits a piecewise-linear trend with hinge-basis
// changepoints at 25/50/75% of the history by multiple linear regression,
// then layers monthly additive seasonal factors estimated from the detrended
// residuals once two full seasons exist. Changepoints require a year of
// history; shorter series get a plain linear trend.
type AdditiveDecomposition struct{}

func (AdditiveDecomposition) Name() string { return "additive_decomp" }

func (AdditiveDecomposition) FitPredict(series []float64, horizon int, cfg Config) Outcome {
	if nonzeroCount(series) < minSimpleNonzero {
		return Refuse("additive_decomp: fewer than 3 nonzero periods")
	}
	n := len(series)
	period := cfg.period()

	var knots []float64
	if n >= 12 {
		knots = []float64{float64(n) * 0.25, float64(n) * 0.5, float64(n) * 0.75}
	}

	r := new(regression.Regression)
	r.SetObserved("sales")
	r.SetVar(0, "t")
	for i := range knots {
		r.SetVar(i+1, fmt.Sprintf("hinge%d", i+1))
	}
	for t, v := range series {
		r.Train(regression.DataPoint(v, trendFeatures(float64(t), knots)))
	}
	if err := r.Run(); err != nil {
		return Refuse("additive_decomp: trend fit failed: " + err.Error())
	}
	coeffs := r.GetCoeffs()
	if len(coeffs) != len(knots)+2 {
		return Refuse("additive_decomp: degenerate trend fit")
	}
	trendAt := func(t float64) float64 {
		v := coeffs[0] + coeffs[1]*t
		for i, k := range knots {
			if t > k {
				v += coeffs[i+2] * (t - k)
			}
		}
		return v
	}

	factors := make([]float64, period)
	withSeasonal := n >= 2*period
	if withSeasonal {
		counts := make([]int, period)
		for t, v := range series {
			factors[t%period] += v - trendAt(float64(t))
			counts[t%period]++
		}
		for i := range factors {
			if counts[i] > 0 {
				factors[i] /= float64(counts[i])
			}
		}
	}

	f := make([]float64, horizon)
	for i := range f {
		v := trendAt(float64(n + i))
		if withSeasonal {
			v += factors[(n+i)%period]
		}
		if v < 0 {
			v = 0
		}
		f[i] = v
	}

	params := map[string]float64{
		"changepoints": float64(len(knots)),
		"period":       float64(period),
	}
	if !math.IsNaN(r.R2) && !math.IsInf(r.R2, 0) {
		params["r2"] = r.R2
	}
	return Outcome{Forecast: f, Params: params}
}

// trendFeatures builds the regression row for time index t: the raw index
// plus one hinge term per changepoint
func trendFeatures(t float64, knots []float64) []float64 {
	fs := make([]float64, 1+len(knots))
	fs[0] = t
	for i, k := range knots {
		if t > k {
			fs[i+1] = t - k
		}
	}
	return fs
}
