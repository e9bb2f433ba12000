// Package app wires an apitool.Executor from service configuration.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	apitool "github.com/JohnPlummer/jp-go-apitool"
	"github.com/JohnPlummer/jp-go-apitool/internal/config"
)

// App bundles the executor with what the outer layers need to expose it.
type App struct {
	Executor *apitool.Executor
	Metrics  *apitool.Metrics
	Logger   *slog.Logger
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New builds an App. Metrics are registered with reg when enabled; reg may be nil otherwise.
func New(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*App, error) {
	httpClient, err := apitool.NewHTTPClient(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	var metrics *apitool.Metrics
	if cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metrics = apitool.NewMetrics(reg)
	}

	var classifier apitool.ErrorClassifier = apitool.RetryAllClassifier{}
	if cfg.Retry.Classifier == config.ClassifierHTTPStatus {
		classifier = apitool.NewHTTPStatusClassifier()
	}

	opts := []apitool.ExecutorOption{
		apitool.WithFactory(apitool.NewFactory(httpClient, apitool.WithMaxResponseBytes(cfg.Transport.MaxResponseBytes))),
		apitool.WithRetryDriver(apitool.NewRetryDriver(
			apitool.WithRetryLogger(logger),
			apitool.WithErrorClassifier(classifier),
			apitool.WithRetryMetrics(metrics),
		)),
		apitool.WithExecutorLogger(logger),
		apitool.WithExecutorMetrics(metrics),
	}

	if cfg.CircuitBreaker.Enabled {
		opts = append(opts, apitool.WithCircuitBreakers(apitool.NewBreakerSet(
			apitool.WithMaxRequests(cfg.CircuitBreaker.MaxRequests),
			apitool.WithInterval(cfg.CircuitBreaker.Interval),
			apitool.WithOpenTimeout(cfg.CircuitBreaker.Timeout),
			apitool.WithCircuitBreakerLogger(logger),
			apitool.WithCircuitBreakerMetrics(metrics),
		)))
	}

	return &App{
		Executor: apitool.NewExecutor(opts...),
		Metrics:  metrics,
		Logger:   logger,
	}, nil
}
