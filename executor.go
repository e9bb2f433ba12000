package apitool

import (
	"context"
	"log/slog"
	"time"
)

// Executor is the entry point for running calls: it resolves the protocol client through its
// Factory, optionally guards it with per-host circuit breakers and hands it to the RetryDriver.
type Executor struct {
	factory  *Factory
	driver   *RetryDriver
	breakers *BreakerSet
	logger   *slog.Logger
	metrics  *Metrics
}

// NewExecutor creates an Executor. Without options it uses a REST-only Factory on a pooled
// HTTP client, a default RetryDriver and no circuit breakers.
//
// Example:
//
//	metrics := apitool.NewMetrics(prometheus.DefaultRegisterer)
//	executor := apitool.NewExecutor(
//	    apitool.WithRetryDriver(apitool.NewRetryDriver(apitool.WithRetryMetrics(metrics))),
//	    apitool.WithExecutorMetrics(metrics),
//	)
//	result, err := executor.Execute(ctx, cfg)
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.factory == nil {
		// Only HTTP/2 setup can fail, and the default transport doesn't enable it
		httpClient, _ := NewHTTPClient(DefaultTransportConfig())
		e.factory = NewFactory(httpClient)
	}

	if e.driver == nil {
		e.driver = NewRetryDriver(WithRetryLogger(e.logger), WithRetryMetrics(e.metrics))
	}

	return e
}

// Execute runs one call and returns its Result.
//
// Remote failures, including exhausted retries, are reported in the Result and never as an
// error. The returned error is limited to a *ValidationError, an *UnsupportedProtocolError
// (in both cases no attempt is made) or the context's error when ctx is done mid-call.
func (e *Executor) Execute(ctx context.Context, cfg CallConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := e.factory.New(cfg)
	if err != nil {
		e.logger.Debug("no client for protocol",
			"protocol", cfg.Protocol,
			"error", err)
		return nil, err
	}

	if e.breakers != nil {
		client = e.breakers.Wrap(cfg, client)
	}

	e.metrics.callStarted()
	defer e.metrics.callFinished()

	start := time.Now()
	result, err := e.driver.Run(ctx, cfg, client)
	if err != nil {
		return nil, err
	}

	e.logger.Info("call finished",
		"protocol", cfg.Protocol,
		"method", cfg.EffectiveMethod(),
		"target", cfg.Target,
		"status", result.Status,
		"status_code", result.Metadata.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds())

	return result, nil
}

// Factory returns the executor's Factory.
func (e *Executor) Factory() *Factory {
	return e.factory
}

// Driver returns the executor's RetryDriver.
func (e *Executor) Driver() *RetryDriver {
	return e.driver
}
