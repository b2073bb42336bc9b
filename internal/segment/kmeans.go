package segment

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// kmeans runs Lloyd iterations with k-means++ seeding and keeps the
// best labeling across restarts. Ties always resolve to the lowest
// index so identical inputs produce identical labels.
func kmeans(points [][]float64, k, restarts, maxIter int, rng *rand.Rand) []int {
	best := make([]int, len(points))
	bestCost := math.Inf(1)
	for r := 0; r < restarts; r++ {
		labels, cost := kmeansOnce(points, k, maxIter, rng)
		if cost < bestCost {
			bestCost = cost
			copy(best, labels)
		}
	}
	return best
}

func kmeansOnce(points [][]float64, k, maxIter int, rng *rand.Rand) ([]int, float64) {
	centroids := seedCentroids(points, k, rng)
	labels := make([]int, len(points))
	prev := make([]int, len(points))
	for i := range prev {
		prev[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		for i, p := range points {
			labels[i] = nearest(p, centroids)
		}
		fixEmptyClusters(points, centroids, labels)

		changed := false
		for i := range labels {
			if labels[i] != prev[i] {
				changed = true
			}
			prev[i] = labels[i]
		}
		if !changed {
			break
		}
		recompute(points, centroids, labels)
	}

	cost := 0.0
	for i, p := range points {
		d := floats.Distance(p, centroids[labels[i]], 2)
		cost += d * d
	}
	return labels, cost
}

// seedCentroids picks initial centers by k-means++: each new center is
// drawn with probability proportional to its squared distance from the
// centers chosen so far.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, cloneVec(first))

	dist2 := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centroids {
				if dc := floats.Distance(p, c, 2); dc < d {
					d = dc
				}
			}
			dist2[i] = d * d
			total += dist2[i]
		}
		idx := 0
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d2 := range dist2 {
				acc += d2
				if acc >= target {
					idx = i
					break
				}
			}
		} else {
			// all remaining points coincide with a center
			idx = rng.Intn(len(points))
		}
		centroids = append(centroids, cloneVec(points[idx]))
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) int {
	bestIdx := 0
	bestDist := math.Inf(1)
	for j, c := range centroids {
		if d := floats.Distance(p, c, 2); d < bestDist {
			bestDist = d
			bestIdx = j
		}
	}
	return bestIdx
}

func recompute(points [][]float64, centroids [][]float64, labels []int) {
	counts := make([]int, len(centroids))
	for j := range centroids {
		for d := range centroids[j] {
			centroids[j][d] = 0
		}
	}
	for i, p := range points {
		j := labels[i]
		counts[j]++
		floats.Add(centroids[j], p)
	}
	for j, c := range counts {
		if c > 0 {
			floats.Scale(1/float64(c), centroids[j])
		}
	}
}

// fixEmptyClusters reseeds any centroid that lost all members to the
// point farthest from its current center, then relabels that point.
func fixEmptyClusters(points [][]float64, centroids [][]float64, labels []int) {
	counts := make([]int, len(centroids))
	for _, l := range labels {
		counts[l]++
	}
	for j, c := range counts {
		if c > 0 {
			continue
		}
		farIdx := -1
		farDist := -1.0
		for i, p := range points {
			if counts[labels[i]] <= 1 {
				continue
			}
			if d := floats.Distance(p, centroids[labels[i]], 2); d > farDist {
				farDist = d
				farIdx = i
			}
		}
		if farIdx < 0 {
			continue
		}
		counts[labels[farIdx]]--
		copy(centroids[j], points[farIdx])
		labels[farIdx] = j
		counts[j]++
	}
}

func cloneVec(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
