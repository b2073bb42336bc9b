package forecast

import (
	"math"
	"sort"
)

// Gradient boosting settings
const (
	gbtLags   = 3
	gbtRounds = 50
	gbtShrink = 0.1
)

// GradientBoosted fits boosted regression stumps over lag features
// [t-1, t-2, t-3] and forecasts recursively, feeding each prediction back
// as a lag for the next step.
type GradientBoosted struct{}

func (GradientBoosted) Name() string { return "gbt" }

func (GradientBoosted) FitPredict(series []float64, horizon int, cfg Config) Outcome {
	if nonzeroCount(series) < 6 {
		return Refuse("gbt: fewer than 6 nonzero periods")
	}
	n := len(series)
	rows := n - gbtLags
	if rows < 3 {
		return Refuse("gbt: not enough lagged rows to train on")
	}

	X := make([][]float64, rows)
	y := make([]float64, rows)
	for t := gbtLags; t < n; t++ {
		X[t-gbtLags] = lagRow(series, t)
		y[t-gbtLags] = series[t]
	}

	base := meanOf(y)
	resid := make([]float64, rows)
	for i := range resid {
		resid[i] = y[i] - base
	}

	var stumps []stump
	for round := 0; round < gbtRounds; round++ {
		st, ok := bestStump(X, resid)
		if !ok {
			break
		}
		stumps = append(stumps, st)
		for i := range resid {
			resid[i] -= gbtShrink * st.eval(X[i])
		}
	}

	lags := append([]float64(nil), series...)
	f := make([]float64, horizon)
	for i := 0; i < horizon; i++ {
		x := lagRow(lags, len(lags))
		v := base
		for _, st := range stumps {
			v += gbtShrink * st.eval(x)
		}
		if v < 0 {
			v = 0
		}
		f[i] = v
		lags = append(lags, v)
	}

	return Outcome{Forecast: f, Params: map[string]float64{
		"rounds":       float64(len(stumps)),
		"learningRate": gbtShrink,
		"lags":         gbtLags,
	}}
}

func lagRow(series []float64, t int) []float64 {
	return []float64{series[t-1], series[t-2], series[t-3]}
}

// stump is a depth-1 regression tree: one feature, one threshold, two leaves
type stump struct {
	feature   int
	threshold float64
	left      float64
	right     float64
}

func (s stump) eval(x []float64) float64 {
	if x[s.feature] <= s.threshold {
		return s.left
	}
	return s.right
}

// bestStump picks the single-feature threshold split maximizing the SSE
// reduction of the residuals. Returns false when no feature admits a split.
func bestStump(X [][]float64, resid []float64) (stump, bool) {
	n := len(resid)
	var total float64
	for _, r := range resid {
		total += r
	}

	var best stump
	bestScore := math.Inf(-1)
	found := false
	for j := 0; j < gbtLags; j++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return X[idx[a]][j] < X[idx[b]][j] })

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += resid[idx[k]]
			if X[idx[k]][j] == X[idx[k+1]][j] {
				continue
			}
			leftN := float64(k + 1)
			rightN := float64(n - k - 1)
			rightSum := total - leftSum
			score := leftSum*leftSum/leftN + rightSum*rightSum/rightN
			if score > bestScore {
				bestScore = score
				best = stump{
					feature:   j,
					threshold: (X[idx[k]][j] + X[idx[k+1]][j]) / 2,
					left:      leftSum / leftN,
					right:     rightSum / rightN,
				}
				found = true
			}
		}
	}
	return best, found
}
