package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/demandcast/demandcast/internal/api"
	"github.com/demandcast/demandcast/internal/dataset"
	"github.com/demandcast/demandcast/internal/engine"
	"github.com/demandcast/demandcast/internal/paramcache"
	obs "github.com/demandcast/demandcast/pkg/otel"
)

const (
	serviceName    = "demandcast-engine"
	maxRequestBody = 16 << 20
)

// Config carries the transport-level settings
type Config struct {
	Version        string
	RateLimit      int
	RequestTimeout time.Duration
	MetricsUser    string
	MetricsPass    string
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return 60 * time.Second
}

// Server exposes the engine over HTTP
type Server struct {
	engine  *engine.Engine
	cache   paramcache.Store
	log     zerolog.Logger
	cfg     Config
	limiter *rate.Limiter
	started time.Time
}

// New creates a server around an engine. The cache may be nil, which
// disables the parameter inspection endpoint.
func New(eng *engine.Engine, cache paramcache.Store, log zerolog.Logger, cfg Config) *Server {
	tokenRate := cfg.RateLimit
	if tokenRate <= 0 {
		tokenRate = 100
	}
	return &Server{
		engine:  eng,
		cache:   cache,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2),
		started: time.Now(),
	}
}

// Routes builds the HTTP mux
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/predict", s.handlePredict)
	mux.HandleFunc("/api/v1/models", s.handleModels)
	mux.HandleFunc("/api/v1/params", s.handleParams)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body", requestID)
		return
	}
	var req api.ForecastRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.requestTimeout())
	defer cancel()

	entities := 0
	for _, c := range req.Dataset.Customers {
		entities += len(c.Entities)
	}
	ctx, span := obs.StartSpan(ctx, serviceName, "predict",
		obs.RequestAttributes(requestID, req.ModelSelector, req.Horizon, len(req.Dataset.Customers), entities)...)
	defer span.End()

	start := time.Now()
	resp, err := s.engine.Predict(ctx, &req)
	if err != nil {
		status := statusFor(err)
		obs.RecordError(span, err, "predict failed")
		s.log.Warn().
			Str("request_id", requestID).
			Str("model", req.ModelSelector).
			Int("status", status).
			Err(err).
			Msg("predict failed")
		s.writeError(w, status, err.Error(), requestID)
		return
	}

	clustersUsed := 0
	if resp.Diagnostics.ClustersUsed != nil {
		clustersUsed = *resp.Diagnostics.ClustersUsed
	}
	span.SetAttributes(obs.ResultAttributes(resp.ModelUsed, len(resp.Warnings), clustersUsed, resp.Diagnostics.SurvivalApplied)...)

	s.log.Info().
		Str("request_id", requestID).
		Str("model", resp.ModelUsed).
		Int("entities", len(resp.FullDetail.AllEntityResults)).
		Int("customers", resp.Summary.TotalCustomers).
		Int("warnings", len(resp.Warnings)).
		Dur("elapsed", time.Since(start)).
		Msg("predict ok")

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ModelsResponse{Models: s.engine.Models()})
}

// handleParams serves cached fitted parameters for one entity, for
// inspection only.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entityID := r.URL.Query().Get("entity")
	if entityID == "" {
		s.writeError(w, http.StatusBadRequest, "missing entity query parameter", "")
		return
	}
	if s.cache == nil {
		s.writeError(w, http.StatusNotFound, "parameter cache disabled", "")
		return
	}
	p, err := s.cache.Get(r.Context(), entityID)
	if err != nil {
		s.log.Warn().Str("entity", entityID).Err(err).Msg("param cache read failed")
		s.writeError(w, http.StatusInternalServerError, "parameter cache error", "")
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "no cached parameters for entity", "")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:        "healthy",
		Service:       serviceName,
		Version:       s.cfg.Version,
		UptimeSeconds: time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ServiceInfo{
		Service: serviceName,
		Version: s.cfg.Version,
		Endpoints: []string{
			"POST /api/v1/predict",
			"GET /api/v1/models",
			"GET /api/v1/params",
			"GET /health",
			"GET /metrics",
		},
	})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()
	if s.cfg.MetricsUser == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.MetricsUser || pass != s.cfg.MetricsPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// statusFor maps engine errors onto transport statuses: request
// problems are 400s, timeouts 504, everything else 500.
func statusFor(err error) int {
	var verr *api.ValidationError
	var serr *dataset.DataShapeError
	switch {
	case errors.As(err, &verr), errors.As(err, &serr):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg, requestID string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: msg, RequestID: requestID})
}
