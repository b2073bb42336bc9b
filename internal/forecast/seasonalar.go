package forecast

import (
	"errors"
	"fmt"
	"math"
)

// SeasonalAutoregressive is an ARIMA-family strategy: the series is first
// differenced, an AR(1) term is estimated through the Yule-Walker equations,
// an MA(1) term from the residual autocorrelation, and a seasonal AR term at
// the seasonal lag is added when two full cycles are available. Forecasts
// are produced by a damped recursion on the differenced scale and then
// integrated back.
type SeasonalAutoregressive struct{}

func (SeasonalAutoregressive) Name() string { return "seasonal_ar" }

func (SeasonalAutoregressive) FitPredict(series []float64, horizon int, cfg Config) Outcome {
	if nonzeroCount(series) < minSeasonalNonzero {
		return Refuse(fmt.Sprintf("seasonal_ar: fewer than %d nonzero periods", minSeasonalNonzero))
	}
	period := cfg.period()
	n := len(series)
	seasonal := n >= 2*period

	diffs := difference(series)
	mean := meanOf(diffs)
	centered := make([]float64, len(diffs))
	for i, v := range diffs {
		centered[i] = v - mean
	}

	phi := fitAR(centered, 1)
	var sphi []float64
	if seasonal {
		sphi = fitSeasonalAR(centered, 1, period)
	}
	resid := arResiduals(centered, phi, sphi, period)
	theta := fitMA(resid, 1)

	// damped recursion on the differenced scale; the MA term only
	// contributes to the first step, where the last residual is known
	work := append([]float64(nil), centered...)
	diffFc := make([]float64, horizon)
	for t := 0; t < horizon; t++ {
		var next float64
		if len(phi) > 0 && len(work) > 0 {
			next += phi[0] * work[len(work)-1]
		}
		if len(sphi) > 0 && len(work) >= period {
			next += sphi[0] * work[len(work)-period]
		}
		if t == 0 && len(theta) > 0 && len(resid) > 0 {
			next += theta[0] * resid[len(resid)-1]
		}
		next /= 1.0 + 0.1*float64(t)
		work = append(work, next)
		diffFc[t] = next + mean
	}

	f := make([]float64, horizon)
	level := series[n-1]
	for i, d := range diffFc {
		level += d
		if level < 0 {
			level = 0
		}
		f[i] = level
	}

	params := map[string]float64{"p": 1, "d": 1, "q": 1, "period": float64(period), "seasonalP": 0}
	if seasonal {
		params["seasonalP"] = 1
	}
	return Outcome{Forecast: f, Params: params}
}

// difference applies first-order differencing
func difference(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, len(series)-1)
	for i := range out {
		out[i] = series[i+1] - series[i]
	}
	return out
}

func varianceOf(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	mean := meanOf(series)
	var sumSq float64
	for _, v := range series {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(series))
}

// autocorr computes the autocorrelation of a centered series at a lag
func autocorr(series []float64, lag int) float64 {
	if lag < 0 || lag >= len(series) {
		return 0
	}
	n := len(series)
	mean := meanOf(series)
	var c0, ck float64
	for i := 0; i < n; i++ {
		c0 += (series[i] - mean) * (series[i] - mean)
	}
	for i := 0; i < n-lag; i++ {
		ck += (series[i] - mean) * (series[i+lag] - mean)
	}
	if c0 == 0 {
		return 0
	}
	return ck / c0
}

// fitAR estimates AR coefficients from the Yule-Walker equations using
// Levinson-Durbin recursion. A near-constant series yields zero coefficients.
func fitAR(centered []float64, p int) []float64 {
	if p == 0 {
		return nil
	}
	if varianceOf(centered) < 1e-10 {
		return make([]float64, p)
	}
	acf := make([]float64, p+1)
	for k := 0; k <= p; k++ {
		acf[k] = autocorr(centered, k)
	}
	coeffs, err := levinsonDurbin(acf, p)
	if err != nil {
		coeffs = make([]float64, p)
		coeffs[0] = 0.5
	}
	return coeffs
}

// fitSeasonalAR estimates seasonal AR coefficients from autocorrelations at
// multiples of the seasonal lag
func fitSeasonalAR(centered []float64, P, s int) []float64 {
	if P == 0 || s <= 0 {
		return nil
	}
	acf := make([]float64, P+1)
	for k := 0; k <= P; k++ {
		acf[k] = autocorr(centered, k*s)
	}
	coeffs, err := levinsonDurbin(acf, P)
	if err != nil {
		coeffs = make([]float64, P)
		coeffs[0] = 0.3
	}
	return coeffs
}

// levinsonDurbin solves the Yule-Walker equations
func levinsonDurbin(acf []float64, p int) ([]float64, error) {
	if p == 0 {
		return nil, nil
	}
	phi := make([][]float64, p+1)
	for i := range phi {
		phi[i] = make([]float64, p+1)
	}
	v := acf[0]
	for k := 1; k <= p; k++ {
		num := acf[k]
		for j := 1; j < k; j++ {
			num -= phi[k-1][j] * acf[k-j]
		}
		if v == 0 {
			return nil, errors.New("zero variance in Levinson-Durbin recursion")
		}
		phi[k][k] = num / v
		for j := 1; j < k; j++ {
			phi[k][j] = phi[k-1][j] - phi[k][k]*phi[k-1][k-j]
		}
		v *= 1 - phi[k][k]*phi[k][k]
		if v < 0 {
			return nil, errors.New("negative variance in Levinson-Durbin recursion")
		}
	}
	coeffs := make([]float64, p)
	for i := 0; i < p; i++ {
		coeffs[i] = phi[p][i+1]
	}
	return coeffs, nil
}

// arResiduals computes one-step prediction errors of the fitted AR terms,
// used to estimate the MA component
func arResiduals(centered, phi, sphi []float64, period int) []float64 {
	start := 1
	if len(sphi) > 0 && period > start {
		start = period
	}
	if len(centered) <= start {
		return nil
	}
	out := make([]float64, len(centered)-start)
	for t := start; t < len(centered); t++ {
		var pred float64
		if len(phi) > 0 {
			pred += phi[0] * centered[t-1]
		}
		if len(sphi) > 0 && t-period >= 0 {
			pred += sphi[0] * centered[t-period]
		}
		out[t-start] = centered[t] - pred
	}
	return out
}

// fitMA estimates MA coefficients from residual autocorrelations, clamped to
// keep the process invertible
func fitMA(resid []float64, q int) []float64 {
	if q == 0 || len(resid) == 0 {
		return nil
	}
	coeffs := make([]float64, q)
	for i := 0; i < q && i < len(resid); i++ {
		coeffs[i] = autocorr(resid, i+1)
		if math.Abs(coeffs[i]) > 1 {
			coeffs[i] = coeffs[i] / math.Abs(coeffs[i]) * 0.9
		}
	}
	return coeffs
}
