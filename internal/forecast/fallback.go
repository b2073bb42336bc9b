package forecast

// Fallback substitutes the mean of the last up-to-3 nonzero historical
// values, replicated across the horizon. An entity with no sales at all
// gets a zero forecast.
func Fallback(series []float64, horizon int) []float64 {
	var sum float64
	var cnt int
	for i := len(series) - 1; i >= 0 && cnt < 3; i-- {
		if series[i] > 0 {
			sum += series[i]
			cnt++
		}
	}
	var level float64
	if cnt > 0 {
		level = sum / float64(cnt)
	}
	f := make([]float64, horizon)
	for i := range f {
		f[i] = level
	}
	return f
}
