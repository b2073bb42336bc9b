package forecast

// NaiveSeasonal repeats the value observed one season back. With less than a
// full season of history it repeats the last observed value instead.
type NaiveSeasonal struct{}

func (NaiveSeasonal) Name() string { return "naive_seasonal" }

func (NaiveSeasonal) FitPredict(series []float64, horizon int, cfg Config) Outcome {
	if nonzeroCount(series) < minSimpleNonzero {
		return Refuse("naive_seasonal: fewer than 3 nonzero periods")
	}
	period := cfg.period()
	n := len(series)
	f := make([]float64, horizon)
	for i := range f {
		if n >= period {
			f[i] = series[n-period+i%period]
		} else {
			f[i] = series[n-1]
		}
	}
	return Outcome{Forecast: f, Params: map[string]float64{"period": float64(period)}}
}
