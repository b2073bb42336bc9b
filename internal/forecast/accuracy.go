package forecast

import "math"

// MAPEUndefined is the sentinel for an accuracy metric that could not be
// computed. It is distinct from any genuine high-error score and must never
// be averaged together with real scores.
const MAPEUndefined = 999.0

// Defined reports whether m is a real accuracy score
func Defined(m float64) bool { return m != MAPEUndefined }

// EstimateMAPE scores a strategy by holdout: train on all but the last
// k periods (k = min(folds, n/4)), predict those k, and average
// |actual-predicted|/actual over the holdout periods where actual > 0,
// as a percentage. Returns MAPEUndefined when the series is too short,
// the strategy refuses on the training split, or no holdout period has
// a positive actual.
func EstimateMAPE(s Strategy, series []float64, folds int, cfg Config) float64 {
	n := len(series)
	if n < 6 || folds < 1 {
		return MAPEUndefined
	}
	k := folds
	if n/4 < k {
		k = n / 4
	}
	if k < 1 {
		return MAPEUndefined
	}
	out := Run(s, series[:n-k], k, cfg)
	if out.Refused {
		return MAPEUndefined
	}
	var sum float64
	var cnt int
	for i, actual := range series[n-k:] {
		if actual > 0 {
			sum += math.Abs(actual-out.Forecast[i]) / actual
			cnt++
		}
	}
	if cnt == 0 {
		return MAPEUndefined
	}
	return sum / float64(cnt) * 100
}
