package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the engine
type Metrics struct {
	PredictRequests prometheus.Counter
	PredictFailures *prometheus.CounterVec

	StrategyRuns     *prometheus.CounterVec
	StrategyRefusals *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec

	ComponentsDropped *prometheus.CounterVec

	ParamCacheWrites prometheus.Counter
	ParamCacheErrors prometheus.Counter

	PredictDuration prometheus.Histogram
}

// New creates and registers all metrics on the default registerer
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates and registers all metrics on the given registerer
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PredictRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "fcst_predict_requests_total",
			Help: "Total number of forecast requests received",
		}),
		PredictFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fcst_predict_failures_total",
			Help: "Forecast requests that failed, by reason",
		}, []string{"reason"}),
		StrategyRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fcst_strategy_runs_total",
			Help: "Per-entity strategy executions, by strategy",
		}, []string{"strategy"}),
		StrategyRefusals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fcst_strategy_refusals_total",
			Help: "Strategy runs that refused to forecast, by strategy",
		}, []string{"strategy"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fcst_fallbacks_total",
			Help: "Entities forecast by the fallback policy, by refusing strategy",
		}, []string{"strategy"}),
		ComponentsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fcst_ensemble_components_dropped_total",
			Help: "Ensemble component models dropped after failure",
		}, []string{"component"}),
		ParamCacheWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "fcst_param_cache_writes_total",
			Help: "Fitted parameter sets written to the cache",
		}),
		ParamCacheErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fcst_param_cache_errors_total",
			Help: "Parameter cache operations that failed",
		}),
		PredictDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fcst_predict_duration_seconds",
			Help:    "End-to-end forecast request duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}
