package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/demandcast/demandcast/internal/engine"
	"github.com/demandcast/demandcast/internal/metrics"
	"github.com/demandcast/demandcast/internal/paramcache"
	"github.com/demandcast/demandcast/internal/server"
	"github.com/demandcast/demandcast/pkg/otel"
)

// version is stamped by the build via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// .env is optional, real env always wins
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "demandcast-engine").Logger()
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// Setup parameter cache
	cacheBackend := getEnv("PARAM_CACHE_BACKEND", "memory")
	var cache paramcache.Store
	var err error

	switch cacheBackend {
	case "memory":
		cache, err = paramcache.NewMemoryStore(getEnvInt("PARAM_CACHE_SIZE", 10000))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create memory cache")
		}
	case "redis":
		redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
		cache, err = paramcache.NewRedisStore(redisAddr, getEnv("REDIS_PASSWORD", ""), getEnvInt("REDIS_DB", 0))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create Redis cache")
		}
	case "postgres":
		connStr := getEnv("DATABASE_URL", "")
		cache, err = paramcache.NewPostgresStore(connStr)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create Postgres cache")
		}
	case "off":
		cache = nil
	default:
		logger.Fatal().Str("backend", cacheBackend).Msg("unknown PARAM_CACHE_BACKEND")
	}

	// Setup tracing
	var tracerProvider *sdktrace.TracerProvider
	if getEnvBool("OTEL_ENABLED", false) {
		otelCfg := otel.DefaultConfig("demandcast-engine")
		otelCfg.ServiceVersion = version
		otelCfg.Environment = getEnv("ENVIRONMENT", "production")
		otelCfg.CollectorEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", otelCfg.CollectorEndpoint)
		otelCfg.SamplingRate = getEnvFloat("OTEL_SAMPLING_RATE", otelCfg.SamplingRate)
		tracerProvider, err = otel.InitTracer(context.Background(), otelCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init tracer")
		}
	}

	// Setup metrics
	m := metrics.New()

	eng := engine.New(engine.Config{
		Workers:       getEnvInt("WORKERS", 0),
		EntityTimeout: time.Duration(getEnvInt("ENTITY_TIMEOUT_MS", 0)) * time.Millisecond,
		SurvivalDecay: getEnvFloat("SURVIVAL_DECAY", 0),
		CacheTTL:      time.Duration(getEnvInt("PARAM_CACHE_TTL_MIN", 0)) * time.Minute,
	}, nil, cache, m)

	srv := server.New(eng, cache, logger, server.Config{
		Version:        version,
		RateLimit:      getEnvInt("RATE_LIMIT_PER_SEC", 100),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 60)) * time.Second,
		MetricsUser:    getEnv("METRICS_USER", ""),
		MetricsPass:    getEnv("METRICS_PASS", ""),
	})

	// HTTP server
	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info().Str("port", port).Str("version", version).Str("param_cache", cacheBackend).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdown
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	// Close resources
	if cache != nil {
		if err := cache.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing parameter cache")
		}
	}
	if err := otel.Shutdown(ctx, tracerProvider); err != nil {
		logger.Error().Err(err).Msg("error shutting down tracer")
	}

	logger.Info().Msg("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
