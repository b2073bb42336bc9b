package survival

import (
	"math"
	"testing"

	"github.com/demandcast/demandcast/internal/api"
	"github.com/demandcast/demandcast/internal/dataset"
)

func datasetOf(series map[string][]float64, n int) (*dataset.Dataset, *dataset.Window) {
	months := make([]string, n)
	for i := range months {
		months[i] = "m"
	}
	c := &dataset.Customer{ID: "C1"}
	for id, s := range series {
		c.Entities = append(c.Entities, &dataset.Entity{ID: id, CustomerID: "C1", Series: s})
	}
	ds := &dataset.Dataset{Months: months, Customers: []*dataset.Customer{c}}
	return ds, &dataset.Window{Months: months, CutoffIndex: n - 1}
}

func TestBuildProfileActiveEntity(t *testing.T) {
	ds, w := datasetOf(map[string][]float64{
		"E1": {10, 20, 30},
	}, 3)

	p := BuildProfile(ds, w, 4, DefaultDecay)
	probs := p["E1"]
	if len(probs) != 4 {
		t.Fatalf("profile length = %d, want 4", len(probs))
	}
	want := math.Exp(-DefaultDecay)
	if math.Abs(probs[0]-want) > 1e-12 {
		t.Errorf("first step prob = %v, want %v", probs[0], want)
	}
	for i := 1; i < len(probs); i++ {
		if probs[i] >= probs[i-1] && probs[i-1] > floorProb {
			t.Errorf("probability did not decay at step %d: %v then %v", i, probs[i-1], probs[i])
		}
	}
}

func TestBuildProfileInactiveEntity(t *testing.T) {
	series := make([]float64, 24)
	series[0] = 50
	ds, w := datasetOf(map[string][]float64{"E1": series}, 24)

	p := BuildProfile(ds, w, 3, DefaultDecay)
	for i, prob := range p["E1"] {
		if prob != floorProb {
			t.Errorf("step %d prob = %v, want floor %v after long silence", i, prob, floorProb)
		}
	}
}

func TestBuildProfileNeverSold(t *testing.T) {
	ds, w := datasetOf(map[string][]float64{
		"E1": {0, 0, 0, 0},
	}, 4)

	p := BuildProfile(ds, w, 3, DefaultDecay)
	for i, prob := range p["E1"] {
		if prob != neverSoldProb {
			t.Errorf("step %d prob = %v, want %v for never-sold entity", i, prob, neverSoldProb)
		}
	}
}

func TestBuildProfileDefaultsDecay(t *testing.T) {
	ds, w := datasetOf(map[string][]float64{
		"E1": {5, 5, 5},
	}, 3)

	got := BuildProfile(ds, w, 1, 0)["E1"][0]
	want := BuildProfile(ds, w, 1, DefaultDecay)["E1"][0]
	if got != want {
		t.Errorf("zero decay prob = %v, want default-decay %v", got, want)
	}
}

func TestApplyScalesForecasts(t *testing.T) {
	results := []api.EntityResult{
		{EntityID: "E1", Forecast: []float64{100, 100}, FirstForecast: 100},
		{EntityID: "E2", Forecast: []float64{40, 40}, FirstForecast: 40},
	}
	p := Profile{"E1": {0.8, 0.5}}

	Apply(results, p)
	if results[0].Forecast[0] != 80 || results[0].Forecast[1] != 50 {
		t.Errorf("E1 forecast = %v, want [80 50]", results[0].Forecast)
	}
	if results[0].FirstForecast != 80 {
		t.Errorf("E1 first forecast = %v, want 80", results[0].FirstForecast)
	}
	if results[1].Forecast[0] != 40 || results[1].FirstForecast != 40 {
		t.Errorf("E2 without profile changed: %v", results[1])
	}
}

func TestApplyShortProfile(t *testing.T) {
	results := []api.EntityResult{
		{EntityID: "E1", Forecast: []float64{10, 10, 10}, FirstForecast: 10},
	}
	Apply(results, Profile{"E1": {0.5}})
	want := []float64{5, 10, 10}
	for i, v := range results[0].Forecast {
		if v != want[i] {
			t.Errorf("forecast[%d] = %v, want %v", i, v, want[i])
		}
	}
}
