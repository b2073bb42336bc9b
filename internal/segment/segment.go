package segment

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/demandcast/demandcast/internal/dataset"
)

const (
	// recencySentinel marks a customer that never sold anything
	recencySentinel = 999
	// seed fixes the clustering outcome for identical requests
	seed        = 42
	restarts    = 10
	maxIter     = 100
	featureDims = 7
	trendTail   = 6
)

// Assignment maps customer IDs to cluster labels
type Assignment map[string]int

// Cluster returns the label for a customer, -1 when unassigned
func (a Assignment) Cluster(customerID string) int {
	if a == nil {
		return -1
	}
	if label, ok := a[customerID]; ok {
		return label
	}
	return -1
}

// Assign groups customers into k behavioral clusters over the window.
// With fewer customers than clusters every customer collapses into cluster 0.
// Series data is never mutated; the returned warnings surface the grouping.
func Assign(ds *dataset.Dataset, w *dataset.Window, k int) (Assignment, []string) {
	if k <= 0 || len(ds.Customers) == 0 {
		return nil, nil
	}
	asg := make(Assignment, len(ds.Customers))
	if len(ds.Customers) < k {
		for _, c := range ds.Customers {
			asg[c.ID] = 0
		}
		warning := fmt.Sprintf("customers grouped into 1 cluster: only %d customers for %d requested",
			len(ds.Customers), k)
		return asg, []string{warning}
	}

	points := make([][]float64, len(ds.Customers))
	for i, c := range ds.Customers {
		points[i] = features(c, w)
	}
	standardize(points)

	rng := rand.New(rand.NewSource(seed))
	labels := kmeans(points, k, restarts, maxIter, rng)
	for i, c := range ds.Customers {
		asg[c.ID] = labels[i]
	}
	return asg, []string{fmt.Sprintf("customers grouped into %d clusters", k)}
}

// features builds the 7-dimension behavior vector for one customer:
// total sales, mean, std, entity count, recency, frequency, and the
// trend slope over the trailing periods.
func features(c *dataset.Customer, w *dataset.Window) []float64 {
	n := w.Len()
	perPeriod := make([]float64, n)
	for _, e := range c.Entities {
		for i, v := range e.Truncated(w) {
			perPeriod[i] += v
		}
	}

	var total float64
	active := 0
	lastSale := -1
	for i, v := range perPeriod {
		total += v
		if v > 0 {
			active++
			lastSale = i
		}
	}

	mean, std := stat.MeanStdDev(perPeriod, nil)
	if math.IsNaN(std) {
		std = 0
	}

	recency := float64(recencySentinel)
	if lastSale >= 0 {
		recency = float64(n - 1 - lastSale)
	}
	frequency := float64(active) / float64(n)

	slope := 0.0
	if tail := perPeriod[max(0, n-trendTail):]; len(tail) >= 2 {
		xs := make([]float64, len(tail))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope = stat.LinearRegression(xs, tail, nil, false)
	}

	return []float64{total, mean, std, float64(len(c.Entities)), recency, frequency, slope}
}

// standardize centers each feature dimension to zero mean and unit variance
// in place. Zero-variance dimensions collapse to zeros.
func standardize(points [][]float64) {
	if len(points) == 0 {
		return
	}
	col := make([]float64, len(points))
	for d := 0; d < featureDims; d++ {
		for i, p := range points {
			col[i] = p[d]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			for _, p := range points {
				p[d] = 0
			}
			continue
		}
		for _, p := range points {
			p[d] = (p[d] - mean) / std
		}
	}
}
