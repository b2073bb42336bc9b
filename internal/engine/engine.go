package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/demandcast/demandcast/internal/aggregate"
	"github.com/demandcast/demandcast/internal/api"
	"github.com/demandcast/demandcast/internal/dataset"
	"github.com/demandcast/demandcast/internal/ensemble"
	"github.com/demandcast/demandcast/internal/forecast"
	"github.com/demandcast/demandcast/internal/metrics"
	"github.com/demandcast/demandcast/internal/paramcache"
	"github.com/demandcast/demandcast/internal/segment"
	"github.com/demandcast/demandcast/internal/survival"
	obs "github.com/demandcast/demandcast/pkg/otel"
)

const (
	defaultEntityTimeout = 2 * time.Second
	maxWorkers           = 8
)

// Config tunes one engine instance. Zero values select defaults.
type Config struct {
	// Workers bounds the per-entity fitting pool
	Workers int
	// EntityTimeout budgets a single fit/predict call; overruns become refusals
	EntityTimeout time.Duration
	// SurvivalDecay is the per-period continuity decay rate
	SurvivalDecay float64
	// CacheTTL bounds fitted-parameter retention
	CacheTTL time.Duration
	// Ensemble configures the component models and weights
	Ensemble ensemble.Spec
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	n := runtime.GOMAXPROCS(0)
	if n > maxWorkers {
		n = maxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (c Config) entityTimeout() time.Duration {
	if c.EntityTimeout > 0 {
		return c.EntityTimeout
	}
	return defaultEntityTimeout
}

// Engine orchestrates one forecast request end to end: extraction,
// segmentation, per-entity fitting over a bounded pool, lifecycle
// classification, optional survival adjustment and aggregation.
// Engines are stateless across requests apart from the advisory
// parameter cache and are safe for concurrent use.
type Engine struct {
	cfg     Config
	reg     *forecast.Registry
	cache   paramcache.Store
	metrics *metrics.Metrics
}

// New builds an engine. The cache may be nil to disable parameter
// persistence; a nil metrics set registers on a private registry.
func New(cfg Config, reg *forecast.Registry, cache paramcache.Store, m *metrics.Metrics) *Engine {
	if reg == nil {
		reg = forecast.NewRegistry()
	}
	if m == nil {
		m = metrics.NewWith(prometheus.NewRegistry())
	}
	if len(cfg.Ensemble.Components) == 0 {
		cfg.Ensemble = ensemble.DefaultSpec()
	}
	return &Engine{cfg: cfg, reg: reg, cache: cache, metrics: m}
}

// Predict runs the full pipeline for one request. Validation and data
// shape problems return typed errors; per-entity model trouble degrades
// to fallbacks and warnings instead of failing the request.
func (e *Engine) Predict(ctx context.Context, req *api.ForecastRequest) (*api.ForecastResponse, error) {
	start := time.Now()
	e.metrics.PredictRequests.Inc()
	defer func() {
		e.metrics.PredictDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, span := obs.StartSpan(ctx, "demandcast-engine", "engine.predict")
	defer span.End()

	if err := req.Validate(); err != nil {
		e.metrics.PredictFailures.WithLabelValues("validation").Inc()
		return nil, err
	}
	model, err := api.ParseModelName(req.ModelSelector)
	if err != nil {
		e.metrics.PredictFailures.WithLabelValues("validation").Inc()
		return nil, err
	}
	opts := req.Options.Resolve()
	span.SetAttributes(obs.AttrModel.String(string(model)), obs.AttrHorizon.Int(req.Horizon))

	ds, err := dataset.FromRequest(req)
	if err != nil {
		e.metrics.PredictFailures.WithLabelValues("data_shape").Inc()
		return nil, err
	}
	w, err := dataset.Extract(ds, req.CutoffMonth)
	if err != nil {
		e.metrics.PredictFailures.WithLabelValues("data_shape").Inc()
		return nil, err
	}
	obs.AddEvent(span, "window extracted",
		obs.AttrCustomerCount.Int(len(ds.Customers)),
		obs.AttrMonthCount.Int(len(w.Months)))

	var warnings []string

	var clusters segment.Assignment
	var clustersUsed *int
	if opts.ClusterCount > 0 {
		var segWarnings []string
		clusters, segWarnings = segment.Assign(ds, w, opts.ClusterCount)
		warnings = append(warnings, segWarnings...)
		used := opts.ClusterCount
		if len(ds.Customers) < opts.ClusterCount {
			used = 1
		}
		clustersUsed = &used
	}

	entities := ds.Entities()
	modelUsed := model
	var results []api.EntityResult
	var modelParams map[string]float64
	var scoring forecast.Strategy

	if model == api.ModelEnsemble {
		run := func(ctx context.Context, name api.ModelName) ([]api.EntityResult, error) {
			return e.runComponent(ctx, name, entities, req.Horizon, w, opts, clusters)
		}
		combined, weights, combWarnings, err := ensemble.Combine(ctx, e.cfg.Ensemble, run)
		if err != nil {
			obs.RecordError(span, err, "ensemble combination failed")
			if ctx.Err() != nil {
				e.metrics.PredictFailures.WithLabelValues(failureReason(ctx.Err())).Inc()
				return nil, ctx.Err()
			}
			e.metrics.PredictFailures.WithLabelValues("ensemble_exhausted").Inc()
			return nil, err
		}
		for _, comp := range e.cfg.Ensemble.Components {
			if _, ok := weights[comp.Name]; !ok {
				e.metrics.ComponentsDropped.WithLabelValues(string(comp.Name)).Inc()
			}
		}
		warnings = append(warnings, combWarnings...)
		results = combined
		modelParams = make(map[string]float64, len(weights))
		for name, wgt := range weights {
			modelParams["weight_"+string(name)] = wgt
		}
		if len(weights) == 1 {
			for name := range weights {
				modelUsed = name
			}
		}
		scoring = e.scoringStrategy(weights)
	} else {
		s, ok := e.reg.Lookup(string(model))
		if !ok {
			e.metrics.PredictFailures.WithLabelValues("validation").Inc()
			return nil, &api.ValidationError{Field: "modelSelector", Reason: fmt.Sprintf("model %q not registered", model)}
		}
		pool, err := e.runPool(ctx, s, entities, req.Horizon, w, opts, clusters, true)
		if err != nil {
			obs.RecordError(span, err, "fitting pool failed")
			e.metrics.PredictFailures.WithLabelValues(failureReason(err)).Inc()
			return nil, err
		}
		results = pool.results
		modelParams = pool.params
		scoring = s
	}
	obs.AddEvent(span, "fitting complete", obs.AttrEntityCount.Int(len(results)))

	survivalApplied := false
	if opts.EnableSurvival {
		profile := survival.BuildProfile(ds, w, req.Horizon, e.cfg.SurvivalDecay)
		survival.Apply(results, profile)
		survivalApplied = true
		warnings = append(warnings, "survival adjustment applied")
	}

	agg := aggregate.Build(ds, w, req.Horizon, results)

	var holdout api.HoldoutScores
	if scoring != nil {
		holdout = e.holdoutScores(ctx, scoring, entities, w, opts, clusters)
	}

	return &api.ForecastResponse{
		ModelRequested:  string(model),
		ModelUsed:       string(modelUsed),
		Summary:         agg.Summary,
		HistoricalChart: agg.HistoricalChart,
		ForecastChart:   agg.ForecastChart,
		TopEntities:     agg.TopEntities,
		TopCustomers:    agg.TopCustomers,
		FullDetail:      agg.FullDetail,
		Diagnostics: api.Diagnostics{
			ElapsedSeconds:  time.Since(start).Seconds(),
			HoldoutScores:   holdout,
			ModelParams:     modelParams,
			ClustersUsed:    clustersUsed,
			SurvivalApplied: survivalApplied,
		},
		Warnings: warnings,
	}, nil
}

// Models lists every selectable model, the ensemble included.
func (e *Engine) Models() []api.ModelInfo {
	infos := e.reg.Describe()
	out := make([]api.ModelInfo, 0, len(infos)+1)
	for _, info := range infos {
		out = append(out, api.ModelInfo{
			Name:        info.Name,
			Description: info.Description,
			Kind:        info.Kind,
			MinHistory:  info.MinNonzero,
			Seasonal:    info.Seasonal,
		})
	}
	names := make([]string, 0, len(e.cfg.Ensemble.Components))
	for _, comp := range e.cfg.Ensemble.Components {
		names = append(names, string(comp.Name))
	}
	out = append(out, api.ModelInfo{
		Name:        string(api.ModelEnsemble),
		Description: "weighted blend of " + strings.Join(names, ", "),
		Kind:        "composite",
		MinHistory:  3,
		Seasonal:    true,
	})
	return out
}

type poolOutcome struct {
	results []api.EntityResult
	params  map[string]float64
}

// runComponent runs the complete per-entity pipeline for one ensemble
// component model.
func (e *Engine) runComponent(ctx context.Context, name api.ModelName, entities []*dataset.Entity, horizon int, w *dataset.Window, opts api.ResolvedOptions, clusters segment.Assignment) ([]api.EntityResult, error) {
	s, ok := e.reg.Lookup(string(name))
	if !ok {
		return nil, fmt.Errorf("component %s not registered", name)
	}
	pool, err := e.runPool(ctx, s, entities, horizon, w, opts, clusters, false)
	if err != nil {
		return nil, err
	}
	return pool.results, nil
}

// runPool fits every entity over the bounded worker pool. Each worker
// owns its entity's inputs exclusively and writes into a dedicated
// result slot; the returned params come from the first entity index
// with a successful fit so repeated requests report the same set.
func (e *Engine) runPool(ctx context.Context, s forecast.Strategy, entities []*dataset.Entity, horizon int, w *dataset.Window, opts api.ResolvedOptions, clusters segment.Assignment, cacheParams bool) (*poolOutcome, error) {
	results := make([]api.EntityResult, len(entities))
	entityParams := make([]map[string]float64, len(entities))

	e.parallel(ctx, len(entities), func(i int) {
		results[i], entityParams[i] = e.runEntity(ctx, s, entities[i], horizon, w, opts, clusters, cacheParams)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var params map[string]float64
	for _, p := range entityParams {
		if p != nil {
			params = p
			break
		}
	}
	return &poolOutcome{results: results, params: params}, nil
}

// runEntity is the per-entity pipeline: fit within the budget, fall
// back on refusal, estimate accuracy, classify lifecycle. A closed
// classification forces the forecast to zeros regardless of model
// output.
func (e *Engine) runEntity(ctx context.Context, s forecast.Strategy, ent *dataset.Entity, horizon int, w *dataset.Window, opts api.ResolvedOptions, clusters segment.Assignment, cacheParams bool) (api.EntityResult, map[string]float64) {
	series := ent.Truncated(w)
	cfg := forecast.Config{
		SeasonalPeriod: opts.SeasonalPeriod,
		Cluster:        clusters.Cluster(ent.CustomerID),
	}

	e.metrics.StrategyRuns.WithLabelValues(s.Name()).Inc()
	out := e.fitWithTimeout(ctx, s, series, horizon, cfg)

	var seq []float64
	var params map[string]float64
	mape := forecast.MAPEUndefined
	if out.Refused {
		e.metrics.StrategyRefusals.WithLabelValues(s.Name()).Inc()
		e.metrics.Fallbacks.WithLabelValues(s.Name()).Inc()
		seq = forecast.Fallback(series, horizon)
	} else {
		seq = out.Forecast
		params = out.Params
		mape = forecast.EstimateMAPE(s, series, opts.HoldoutFolds, cfg)
		if cacheParams && e.cache != nil {
			p := paramcache.Params{
				EntityID: ent.ID,
				Strategy: s.Name(),
				Values:   out.Params,
				FittedAt: time.Now().UTC(),
			}
			if err := e.cache.Set(ctx, ent.ID, p, e.cfg.CacheTTL); err != nil {
				e.metrics.ParamCacheErrors.Inc()
			} else {
				e.metrics.ParamCacheWrites.Inc()
			}
		}
	}

	status := forecast.Classify(series)
	if status != forecast.StatusActive {
		mape = forecast.MAPEUndefined
	}
	if status == forecast.StatusClosed {
		seq = make([]float64, horizon)
	}

	r := api.EntityResult{
		EntityID:   ent.ID,
		CustomerID: ent.CustomerID,
		Forecast:   seq,
		Status:     string(status),
	}
	if len(series) > 0 {
		r.LastActual = series[len(series)-1]
	}
	if len(seq) > 0 {
		r.FirstForecast = seq[0]
	}
	if forecast.Defined(mape) {
		m := mape
		r.MAPE = &m
	}
	return r, params
}

// fitWithTimeout runs one fit/predict call with the per-entity budget.
// Overruns and cancellation become refusals; the fitter goroutine
// drains into a buffered channel so it never leaks.
func (e *Engine) fitWithTimeout(ctx context.Context, s forecast.Strategy, series []float64, horizon int, cfg forecast.Config) forecast.Outcome {
	done := make(chan forecast.Outcome, 1)
	go func() {
		done <- forecast.Run(s, series, horizon, cfg)
	}()

	timer := time.NewTimer(e.cfg.entityTimeout())
	defer timer.Stop()
	select {
	case out := <-done:
		return out
	case <-timer.C:
		return forecast.Refuse(fmt.Sprintf("%s: exceeded entity budget %s", s.Name(), e.cfg.entityTimeout()))
	case <-ctx.Done():
		return forecast.Refuse(fmt.Sprintf("%s: canceled: %v", s.Name(), ctx.Err()))
	}
}

// holdoutScores sweeps portfolio holdout accuracy at horizons 1, 3 and
// 6 with the scoring strategy, averaging defined per-entity estimates.
func (e *Engine) holdoutScores(ctx context.Context, s forecast.Strategy, entities []*dataset.Entity, w *dataset.Window, opts api.ResolvedOptions, clusters segment.Assignment) api.HoldoutScores {
	horizons := [3]int{1, 3, 6}
	scores := make([][3]float64, len(entities))
	for i := range scores {
		scores[i] = [3]float64{forecast.MAPEUndefined, forecast.MAPEUndefined, forecast.MAPEUndefined}
	}
	e.parallel(ctx, len(entities), func(i int) {
		series := entities[i].Truncated(w)
		cfg := forecast.Config{
			SeasonalPeriod: opts.SeasonalPeriod,
			Cluster:        clusters.Cluster(entities[i].CustomerID),
		}
		for j, folds := range horizons {
			scores[i][j] = forecast.EstimateMAPE(s, series, folds, cfg)
		}
	})

	var means [3]*float64
	for j := range horizons {
		sum, count := 0.0, 0
		for i := range scores {
			if forecast.Defined(scores[i][j]) {
				sum += scores[i][j]
				count++
			}
		}
		if count > 0 {
			v := sum / float64(count)
			means[j] = &v
		}
	}
	return api.HoldoutScores{H1: means[0], H3: means[1], H6: means[2]}
}

// scoringStrategy picks the heaviest surviving component for the
// holdout sweep, breaking ties by configured order.
func (e *Engine) scoringStrategy(weights map[api.ModelName]float64) forecast.Strategy {
	best := -1.0
	var chosen forecast.Strategy
	for _, comp := range e.cfg.Ensemble.Components {
		wgt, ok := weights[comp.Name]
		if !ok || wgt <= best {
			continue
		}
		if s, found := e.reg.Lookup(string(comp.Name)); found {
			best = wgt
			chosen = s
		}
	}
	return chosen
}

func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal"
}

// parallel fans n jobs out over the worker pool and waits for all of
// them. Feeding stops when ctx is done; in-flight jobs still finish.
func (e *Engine) parallel(ctx context.Context, n int, fn func(i int)) {
	workers := e.cfg.workers()
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				fn(j)
			}
		}()
	}
feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}
