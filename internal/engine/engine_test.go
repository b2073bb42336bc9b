package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/demandcast/demandcast/internal/api"
	"github.com/demandcast/demandcast/internal/dataset"
	"github.com/demandcast/demandcast/internal/ensemble"
	"github.com/demandcast/demandcast/internal/forecast"
	"github.com/demandcast/demandcast/internal/metrics"
	"github.com/demandcast/demandcast/internal/paramcache"
)

func testEngine(cfg Config) *Engine {
	return New(cfg, forecast.NewRegistry(), nil, metrics.NewWith(prometheus.NewRegistry()))
}

func intp(v int) *int { return &v }

func boolp(v bool) *bool { return &v }

func monthLabels(year, month, count int) []string {
	labels := make([]string, count)
	d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	for i := range labels {
		labels[i] = d.Format("2006-01")
		d = d.AddDate(0, 1, 0)
	}
	return labels
}

type entitySpec struct {
	customer string
	id       string
	series   []float64
}

func requestFor(months []string, horizon int, model string, entities ...entitySpec) *api.ForecastRequest {
	var order []string
	grouped := make(map[string][]api.EntityPayload)
	for _, e := range entities {
		series := make(map[string]float64, len(e.series))
		for i, v := range e.series {
			series[months[i]] = v
		}
		if _, seen := grouped[e.customer]; !seen {
			order = append(order, e.customer)
		}
		grouped[e.customer] = append(grouped[e.customer], api.EntityPayload{ID: e.id, Series: series})
	}
	customers := make([]api.CustomerPayload, 0, len(order))
	for _, id := range order {
		customers = append(customers, api.CustomerPayload{ID: id, Entities: grouped[id]})
	}
	return &api.ForecastRequest{
		Dataset:       api.DatasetPayload{Months: months, Customers: customers},
		Horizon:       horizon,
		CutoffMonth:   months[len(months)-1],
		ModelSelector: model,
		Options: &api.Options{
			ClusterCount:             intp(0),
			EnableSurvivalAdjustment: boolp(false),
		},
	}
}

func flatSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func seasonalSeries(years int) []float64 {
	devs := []float64{0, 10, 20, 30, 20, 10, 0, -10, -20, -30, -20, -10}
	out := make([]float64, 0, years*12)
	for y := 0; y < years; y++ {
		for _, d := range devs {
			out = append(out, 100+d)
		}
	}
	return out
}

func TestPredictFlatNaive(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	req := requestFor(months, 6, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: flatSeries(24, 100)})

	resp, err := testEngine(Config{}).Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if resp.ModelRequested != "naive_seasonal" || resp.ModelUsed != "naive_seasonal" {
		t.Errorf("models = %s/%s, want naive_seasonal both", resp.ModelRequested, resp.ModelUsed)
	}

	results := resp.FullDetail.AllEntityResults
	if len(results) != 1 {
		t.Fatalf("entity results = %d, want 1", len(results))
	}
	r := results[0]
	if len(r.Forecast) != 6 {
		t.Fatalf("forecast length = %d, want 6", len(r.Forecast))
	}
	for i, v := range r.Forecast {
		if v != 100 {
			t.Errorf("forecast[%d] = %v, want 100", i, v)
		}
	}
	if r.MAPE == nil || *r.MAPE != 0 {
		t.Errorf("MAPE = %v, want 0 on a constant series", r.MAPE)
	}
	if r.Status != "active" {
		t.Errorf("status = %s, want active", r.Status)
	}

	if len(resp.HistoricalChart) != 24 {
		t.Fatalf("historical chart = %d points, want 24", len(resp.HistoricalChart))
	}
	for i, p := range resp.HistoricalChart {
		if p.TotalSales != 100 {
			t.Errorf("historical[%d] = %v, want 100", i, p.TotalSales)
		}
	}
	if resp.ForecastChart[0].Month != "2025-01" {
		t.Errorf("first forecast month = %s, want 2025-01", resp.ForecastChart[0].Month)
	}

	if resp.Summary.TotalHistoric != 100 || resp.Summary.TotalForecast != 100 {
		t.Errorf("summary totals = %v/%v, want 100/100",
			resp.Summary.TotalHistoric, resp.Summary.TotalForecast)
	}
	if resp.Summary.GrowthPct != 0 {
		t.Errorf("growth = %v, want 0", resp.Summary.GrowthPct)
	}

	hs := resp.Diagnostics.HoldoutScores
	if hs.H1 == nil || *hs.H1 != 0 {
		t.Errorf("h1 = %v, want 0", hs.H1)
	}
	if hs.H3 == nil || *hs.H3 != 0 {
		t.Errorf("h3 = %v, want 0", hs.H3)
	}
	if hs.H6 == nil || *hs.H6 != 0 {
		t.Errorf("h6 = %v, want 0", hs.H6)
	}
	if resp.Diagnostics.ModelParams["period"] != 12 {
		t.Errorf("model params = %v, want period 12", resp.Diagnostics.ModelParams)
	}
	if resp.Diagnostics.ClustersUsed != nil {
		t.Errorf("clusters used = %v, want nil when disabled", *resp.Diagnostics.ClustersUsed)
	}
	if resp.Diagnostics.SurvivalApplied {
		t.Error("survival applied, want disabled")
	}
}

func TestPredictShapeAcrossModels(t *testing.T) {
	months := monthLabels(2022, 1, 36)
	specs := []entitySpec{
		{customer: "C1", id: "E1", series: seasonalSeries(3)},
		{customer: "C1", id: "E2", series: append(flatSeries(33, 0), 5, 9, 4)},
		{customer: "C2", id: "E3", series: append(flatSeries(33, 80), 0, 0, 0)},
	}
	models := append([]api.ModelName{}, api.ModelNames()...)
	for _, model := range models {
		eng := testEngine(Config{})
		resp, err := eng.Predict(context.Background(), requestFor(months, 4, string(model), specs...))
		if err != nil {
			t.Fatalf("%s: Predict() error: %v", model, err)
		}
		results := resp.FullDetail.AllEntityResults
		if len(results) != 3 {
			t.Fatalf("%s: results = %d, want 3", model, len(results))
		}
		for _, r := range results {
			if len(r.Forecast) != 4 {
				t.Errorf("%s/%s: forecast length = %d, want 4", model, r.EntityID, len(r.Forecast))
			}
			for i, v := range r.Forecast {
				if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					t.Errorf("%s/%s: forecast[%d] = %v", model, r.EntityID, i, v)
				}
			}
		}
	}
}

func TestPredictClosedOverridesModel(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	req := requestFor(months, 6, "exp_smoothing",
		entitySpec{customer: "C1", id: "E1", series: append(flatSeries(21, 100), 0, 0, 0)})

	resp, err := testEngine(Config{}).Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	r := resp.FullDetail.AllEntityResults[0]
	if r.Status != "closed" {
		t.Fatalf("status = %s, want closed", r.Status)
	}
	for i, v := range r.Forecast {
		if v != 0 {
			t.Errorf("forecast[%d] = %v, want 0 for closed entity", i, v)
		}
	}
	if r.FirstForecast != 0 {
		t.Errorf("first forecast = %v, want 0", r.FirstForecast)
	}
	if r.MAPE != nil {
		t.Errorf("MAPE = %v, want nil for closed entity", *r.MAPE)
	}
	if resp.Summary.ActiveEntities != 0 || resp.Summary.ActiveCustomers != 0 {
		t.Errorf("summary counts = %d entities / %d customers active, want 0/0",
			resp.Summary.ActiveEntities, resp.Summary.ActiveCustomers)
	}
}

func TestPredictInsufficientDataBoundary(t *testing.T) {
	months := monthLabels(2025, 1, 2)
	req := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: []float64{0, 70}})

	resp, err := testEngine(Config{}).Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	r := resp.FullDetail.AllEntityResults[0]
	if r.Status != "insufficient_data" {
		t.Fatalf("status = %s, want insufficient_data", r.Status)
	}
	for i, v := range r.Forecast {
		if v != 70 {
			t.Errorf("forecast[%d] = %v, want the single nonzero value 70", i, v)
		}
	}
	if r.MAPE != nil {
		t.Errorf("MAPE = %v, want nil", *r.MAPE)
	}
	if resp.Diagnostics.HoldoutScores.H1 != nil {
		t.Errorf("h1 = %v, want nil with no scorable entity", *resp.Diagnostics.HoldoutScores.H1)
	}
}

func TestPredictEnsembleDropsFailingComponent(t *testing.T) {
	months := monthLabels(2022, 1, 36)
	spec := entitySpec{customer: "C1", id: "E1", series: seasonalSeries(3)}
	cfg := Config{Ensemble: ensemble.Spec{Components: []ensemble.Component{
		{Name: api.ModelAdditive, Weight: 0.5},
		{Name: api.ModelName("bogus"), Weight: 0.5},
	}}}

	req := requestFor(months, 4, "ensemble", spec)
	resp, err := testEngine(cfg).Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}

	found := false
	for _, w := range resp.Warnings {
		if strings.Contains(w, "component bogus dropped") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want bogus drop notice", resp.Warnings)
	}
	if resp.ModelRequested != "ensemble" {
		t.Errorf("model requested = %s, want ensemble", resp.ModelRequested)
	}
	if resp.ModelUsed != "additive_decomp" {
		t.Errorf("model used = %s, want the single survivor", resp.ModelUsed)
	}
	if w := resp.Diagnostics.ModelParams["weight_additive_decomp"]; math.Abs(w-1) > 1e-9 {
		t.Errorf("survivor weight = %v, want 1", w)
	}

	direct, err := testEngine(cfg).Predict(context.Background(), requestFor(months, 4, "additive_decomp", spec))
	if err != nil {
		t.Fatalf("direct Predict() error: %v", err)
	}
	if !reflect.DeepEqual(resp.FullDetail.AllEntityResults, direct.FullDetail.AllEntityResults) {
		t.Errorf("degraded ensemble differs from surviving component:\n%+v\n%+v",
			resp.FullDetail.AllEntityResults, direct.FullDetail.AllEntityResults)
	}
}

func TestPredictEnsembleExhausted(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	cfg := Config{Ensemble: ensemble.Spec{Components: []ensemble.Component{
		{Name: api.ModelName("bogus1"), Weight: 0.5},
		{Name: api.ModelName("bogus2"), Weight: 0.5},
	}}}

	req := requestFor(months, 3, "ensemble",
		entitySpec{customer: "C1", id: "E1", series: flatSeries(24, 10)})
	_, err := testEngine(cfg).Predict(context.Background(), req)

	var exhausted *ensemble.ExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Predict() error = %v, want ExhaustionError", err)
	}
	if len(exhausted.Failures) != 2 {
		t.Errorf("failures = %d, want 2", len(exhausted.Failures))
	}
}

func TestPredictIdempotent(t *testing.T) {
	months := monthLabels(2022, 1, 36)
	specs := []entitySpec{
		{customer: "C1", id: "E1", series: seasonalSeries(3)},
		{customer: "C2", id: "E2", series: flatSeries(36, 40)},
		{customer: "C3", id: "E3", series: append(flatSeries(30, 0), 3, 0, 5, 2, 0, 1)},
	}
	req := requestFor(months, 5, "naive_seasonal", specs...)
	req.Options = nil // full default path: clustering and survival on

	eng := testEngine(Config{})
	first, err := eng.Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("first Predict() error: %v", err)
	}
	second, err := eng.Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("second Predict() error: %v", err)
	}

	first.Diagnostics.ElapsedSeconds = 0
	second.Diagnostics.ElapsedSeconds = 0
	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("responses differ between identical requests:\n%s\n%s", a, b)
	}
}

func TestPredictClusterCollapseWarning(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	req := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: flatSeries(24, 10)},
		entitySpec{customer: "C2", id: "E2", series: flatSeries(24, 90)},
		entitySpec{customer: "C3", id: "E3", series: flatSeries(24, 55)})
	req.Options = &api.Options{EnableSurvivalAdjustment: boolp(false)} // cluster count defaults to 5

	resp, err := testEngine(Config{}).Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	found := false
	for _, w := range resp.Warnings {
		if strings.Contains(w, "1 cluster") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want single-cluster collapse notice", resp.Warnings)
	}
	if resp.Diagnostics.ClustersUsed == nil || *resp.Diagnostics.ClustersUsed != 1 {
		t.Errorf("clusters used = %v, want 1", resp.Diagnostics.ClustersUsed)
	}
}

func TestPredictSurvivalAdjustment(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	series := append(flatSeries(22, 100), 50, 0)
	base := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: series})

	off, err := testEngine(Config{}).Predict(context.Background(), base)
	if err != nil {
		t.Fatalf("Predict() without survival error: %v", err)
	}

	adjusted := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: series})
	adjusted.Options = &api.Options{ClusterCount: intp(0), EnableSurvivalAdjustment: boolp(true)}
	on, err := testEngine(Config{}).Predict(context.Background(), adjusted)
	if err != nil {
		t.Fatalf("Predict() with survival error: %v", err)
	}

	if !on.Diagnostics.SurvivalApplied || off.Diagnostics.SurvivalApplied {
		t.Errorf("survival applied = %v/%v, want true/false",
			on.Diagnostics.SurvivalApplied, off.Diagnostics.SurvivalApplied)
	}
	found := false
	for _, w := range on.Warnings {
		if w == "survival adjustment applied" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want survival notice", on.Warnings)
	}
	rawFirst := off.FullDetail.AllEntityResults[0].FirstForecast
	adjFirst := on.FullDetail.AllEntityResults[0].FirstForecast
	if rawFirst <= 0 {
		t.Fatalf("raw first forecast = %v, want positive", rawFirst)
	}
	if adjFirst >= rawFirst {
		t.Errorf("adjusted first forecast = %v, want below raw %v", adjFirst, rawFirst)
	}
}

func TestPredictValidationError(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	req := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: flatSeries(24, 10)})
	req.Horizon = 0

	_, err := testEngine(Config{}).Predict(context.Background(), req)
	var verr *api.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Predict() error = %v, want ValidationError", err)
	}
	if verr.Field != "horizon" {
		t.Errorf("field = %s, want horizon", verr.Field)
	}
}

func TestPredictUnknownCutoff(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	req := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: flatSeries(24, 10)})
	req.CutoffMonth = "2030-01"

	_, err := testEngine(Config{}).Predict(context.Background(), req)
	var serr *dataset.DataShapeError
	if !errors.As(err, &serr) {
		t.Fatalf("Predict() error = %v, want DataShapeError", err)
	}
}

func TestPredictCanceledContext(t *testing.T) {
	months := monthLabels(2023, 1, 24)
	req := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: flatSeries(24, 10)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testEngine(Config{}).Predict(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Predict() error = %v, want context.Canceled", err)
	}
}

func TestPredictWritesParamCache(t *testing.T) {
	cache, err := paramcache.NewMemoryStore(16)
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	defer cache.Close()
	eng := New(Config{}, forecast.NewRegistry(), cache, metrics.NewWith(prometheus.NewRegistry()))

	months := monthLabels(2023, 1, 24)
	req := requestFor(months, 3, "naive_seasonal",
		entitySpec{customer: "C1", id: "E1", series: flatSeries(24, 10)})
	if _, err := eng.Predict(context.Background(), req); err != nil {
		t.Fatalf("Predict() error: %v", err)
	}

	got, err := cache.Get(context.Background(), "E1")
	if err != nil {
		t.Fatalf("cache Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("cache Get() = nil, want stored params")
	}
	if got.Strategy != "naive_seasonal" || got.Values["period"] != 12 {
		t.Errorf("cached params = %+v", got)
	}
}

func TestModelsListing(t *testing.T) {
	eng := testEngine(Config{})
	models := eng.Models()
	if len(models) != len(api.ModelNames()) {
		t.Fatalf("models = %d, want %d", len(models), len(api.ModelNames()))
	}
	byName := make(map[string]api.ModelInfo, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	for _, name := range api.ModelNames() {
		if _, ok := byName[string(name)]; !ok {
			t.Errorf("model %s missing from listing", name)
		}
	}
	if byName["ensemble"].Kind != "composite" {
		t.Errorf("ensemble kind = %s, want composite", byName["ensemble"].Kind)
	}
	if byName["naive_seasonal"].MinHistory != 3 {
		t.Errorf("naive min history = %d, want 3", byName["naive_seasonal"].MinHistory)
	}
	if !strings.Contains(byName["ensemble"].Description, "additive_decomp") {
		t.Errorf("ensemble description = %q", byName["ensemble"].Description)
	}
}
