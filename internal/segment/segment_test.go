package segment

import (
	"math"
	"strings"
	"testing"

	"github.com/demandcast/demandcast/internal/dataset"
)

func windowOf(n int) *dataset.Window {
	months := make([]string, n)
	for i := range months {
		months[i] = "m"
	}
	return &dataset.Window{Months: months, CutoffIndex: n - 1}
}

func customerWith(id string, series ...[]float64) *dataset.Customer {
	c := &dataset.Customer{ID: id}
	for i, s := range series {
		c.Entities = append(c.Entities, &dataset.Entity{
			ID:         id + "-e" + string(rune('A'+i)),
			CustomerID: id,
			Series:     s,
		})
	}
	return c
}

func TestFeatures(t *testing.T) {
	w := windowOf(6)
	c := customerWith("C1", []float64{0, 10, 0, 20, 0, 0})

	got := features(c, w)
	if len(got) != featureDims {
		t.Fatalf("features() returned %d dims, want %d", len(got), featureDims)
	}
	if got[0] != 30 {
		t.Errorf("total = %v, want 30", got[0])
	}
	if got[1] != 5 {
		t.Errorf("mean = %v, want 5", got[1])
	}
	if got[2] <= 0 {
		t.Errorf("std = %v, want > 0", got[2])
	}
	if got[3] != 1 {
		t.Errorf("entity count = %v, want 1", got[3])
	}
	if got[4] != 2 {
		t.Errorf("recency = %v, want 2", got[4])
	}
	if math.Abs(got[5]-2.0/6.0) > 1e-12 {
		t.Errorf("frequency = %v, want %v", got[5], 2.0/6.0)
	}
	if math.Abs(got[6]-(-2.0/7.0)) > 1e-12 {
		t.Errorf("slope = %v, want %v", got[6], -2.0/7.0)
	}
}

func TestFeaturesNeverSold(t *testing.T) {
	w := windowOf(4)
	c := customerWith("C1", []float64{0, 0, 0, 0})

	got := features(c, w)
	if got[4] != recencySentinel {
		t.Errorf("recency = %v, want sentinel %v", got[4], float64(recencySentinel))
	}
	if got[5] != 0 {
		t.Errorf("frequency = %v, want 0", got[5])
	}
}

func TestFeaturesSumAcrossEntities(t *testing.T) {
	w := windowOf(3)
	c := customerWith("C1",
		[]float64{1, 2, 3},
		[]float64{10, 20, 30},
	)

	got := features(c, w)
	if got[0] != 66 {
		t.Errorf("total = %v, want 66", got[0])
	}
	if got[3] != 2 {
		t.Errorf("entity count = %v, want 2", got[3])
	}
}

func TestAssignSeparatesDistinctGroups(t *testing.T) {
	big := []float64{1000, 1100, 1200, 1000, 1100, 1200}
	small := []float64{1, 2, 1, 2, 1, 2}
	ds := &dataset.Dataset{Customers: []*dataset.Customer{
		customerWith("B1", big),
		customerWith("B2", big),
		customerWith("B3", big),
		customerWith("S1", small),
		customerWith("S2", small),
		customerWith("S3", small),
	}}
	w := windowOf(6)

	asg, warnings := Assign(ds, w, 2)
	if len(asg) != 6 {
		t.Fatalf("assignment size = %d, want 6", len(asg))
	}
	if asg["B1"] != asg["B2"] || asg["B2"] != asg["B3"] {
		t.Errorf("big customers split across clusters: %v", asg)
	}
	if asg["S1"] != asg["S2"] || asg["S2"] != asg["S3"] {
		t.Errorf("small customers split across clusters: %v", asg)
	}
	if asg["B1"] == asg["S1"] {
		t.Errorf("big and small customers share cluster %d", asg["B1"])
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "2 clusters") {
		t.Errorf("warnings = %v, want grouping note", warnings)
	}
}

func TestAssignDeterministic(t *testing.T) {
	ds := &dataset.Dataset{Customers: []*dataset.Customer{
		customerWith("C1", []float64{5, 10, 15, 20, 25, 30}),
		customerWith("C2", []float64{100, 90, 80, 70, 60, 50}),
		customerWith("C3", []float64{0, 0, 3, 0, 4, 0}),
		customerWith("C4", []float64{7, 7, 7, 7, 7, 7}),
		customerWith("C5", []float64{200, 0, 200, 0, 200, 0}),
	}}
	w := windowOf(6)

	first, _ := Assign(ds, w, 3)
	second, _ := Assign(ds, w, 3)
	for id, label := range first {
		if second[id] != label {
			t.Errorf("customer %s: first run cluster %d, second run %d", id, label, second[id])
		}
	}
}

func TestAssignFewerCustomersThanClusters(t *testing.T) {
	ds := &dataset.Dataset{Customers: []*dataset.Customer{
		customerWith("C1", []float64{1, 2, 3}),
		customerWith("C2", []float64{4, 5, 6}),
	}}
	w := windowOf(3)

	asg, warnings := Assign(ds, w, 5)
	for id, label := range asg {
		if label != 0 {
			t.Errorf("customer %s assigned cluster %d, want 0", id, label)
		}
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "1 cluster") {
		t.Errorf("warnings = %v, want collapse note", warnings)
	}
}

func TestAssignDisabled(t *testing.T) {
	ds := &dataset.Dataset{Customers: []*dataset.Customer{
		customerWith("C1", []float64{1, 2, 3}),
	}}
	w := windowOf(3)

	asg, warnings := Assign(ds, w, 0)
	if asg != nil || warnings != nil {
		t.Errorf("Assign with k=0 = (%v, %v), want (nil, nil)", asg, warnings)
	}
}

func TestAssignmentCluster(t *testing.T) {
	asg := Assignment{"C1": 2}
	if got := asg.Cluster("C1"); got != 2 {
		t.Errorf("Cluster(C1) = %d, want 2", got)
	}
	if got := asg.Cluster("missing"); got != -1 {
		t.Errorf("Cluster(missing) = %d, want -1", got)
	}
	var none Assignment
	if got := none.Cluster("C1"); got != -1 {
		t.Errorf("nil assignment Cluster = %d, want -1", got)
	}
}

func TestStandardizeZeroVariance(t *testing.T) {
	points := [][]float64{
		{5, 1, 0, 0, 0, 0, 0},
		{5, 2, 0, 0, 0, 0, 0},
		{5, 3, 0, 0, 0, 0, 0},
	}
	standardize(points)
	for i, p := range points {
		if p[0] != 0 {
			t.Errorf("point %d dim 0 = %v, want 0 for constant feature", i, p[0])
		}
	}
	if !(points[0][1] < points[1][1] && points[1][1] < points[2][1]) {
		t.Errorf("dim 1 ordering lost after standardize: %v %v %v",
			points[0][1], points[1][1], points[2][1])
	}
}
