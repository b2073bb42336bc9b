package forecast

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   Status
	}{
		{name: "steady sales", series: []float64{10, 12, 11, 13}, want: StatusActive},
		{name: "exactly two nonzero", series: []float64{0, 5, 0, 7}, want: StatusActive},
		{name: "last three zero", series: []float64{50, 60, 0, 0, 0}, want: StatusClosed},
		{name: "strong history then silent window", series: []float64{900, 950, 1000, 0, 0, 0}, want: StatusClosed},
		{name: "negatives count as silent", series: []float64{10, 20, -1, 0, 0}, want: StatusClosed},
		{name: "all zero", series: []float64{0, 0, 0}, want: StatusClosed},
		{name: "sparse but alive", series: []float64{0, 5, 0, 3, 9, 0}, want: StatusActive},
		{name: "one sale then silence", series: []float64{5, 0, 0, 0}, want: StatusClosed},
		{name: "one sale recent", series: []float64{0, 0, 5, 0}, want: StatusInsufficient},
		{name: "short sparse series", series: []float64{0, 5}, want: StatusInsufficient},
		{name: "short all-zero series", series: []float64{0, 0}, want: StatusInsufficient},
		{name: "empty", series: nil, want: StatusInsufficient},
		{name: "zero interrupted recently", series: []float64{10, 0, 0, 7}, want: StatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.series); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.series, got, tt.want)
			}
		})
	}
}
