package apitool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryDriver runs a Client until an attempt succeeds or the call's retry policy is spent,
// then turns what happened into a Result. The delay between attempts is fixed: the same
// RetryPolicy.DelayMS is awaited before every retry, with no growth and no jitter.
//
// A RetryDriver holds no per-call state and may be shared by concurrent calls; each call's
// delay only suspends the goroutine running it.
type RetryDriver struct {
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	metrics    *Metrics
	stats      *retryStats
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalDelays     int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryDriver creates a new retry driver.
//
// Example:
//
//	driver := apitool.NewRetryDriver(
//	    apitool.WithRetryLogger(logger),
//	    apitool.WithErrorClassifier(apitool.NewHTTPStatusClassifier()),
//	)
func NewRetryDriver(opts ...RetryOption) *RetryDriver {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier()
	}

	return &RetryDriver{
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		metrics:    config.Metrics,
		stats:      &retryStats{},
	}
}

// Run drives client for the call described by cfg.
//
// Failed attempts (transport or protocol failures) are retried after cfg's fixed delay while
// attempts remain. The returned Result is built from the successful attempt, or else from the
// last attempt that completed with a response. Only when no attempt ever produced a response
// does the Result fall back to status code 500, timing -1 and {"error": <last failure>}.
//
// The only errors returned are an invalid retry policy and cancellation of ctx; on
// cancellation the current attempt is aborted, no further attempt is made and any partial
// result is discarded.
func (d *RetryDriver) Run(ctx context.Context, cfg CallConfig, client Client) (*Result, error) {
	policy := cfg.Policy()
	if policy.MaxAttempts < 1 {
		return nil, &ValidationError{Field: "retry.max_attempts", Reason: "must be greater than or equal to 1"}
	}
	if policy.DelayMS < 0 {
		return nil, &ValidationError{Field: "retry.delay", Reason: "must be greater than or equal to 0"}
	}

	// Check if parent context is already done before attempting any requests
	select {
	case <-ctx.Done():
		d.logger.Warn("context already done before call (expected condition)",
			"error", ctx.Err())
		return nil, ctx.Err()
	default:
	}

	var (
		attempts      int
		lastCompleted *Outcome
		lastErr       error
	)

	err := retry.Do(ctx, d.backoff(cfg.Protocol, policy), func(ctx context.Context) error {
		attempts++

		d.stats.mu.Lock()
		d.stats.totalAttempts++
		if attempts > 1 {
			d.stats.totalRetries++
		}
		d.stats.lastAttemptTime = time.Now()
		d.stats.mu.Unlock()

		outcome, err := client.Execute(ctx, attempts)
		if outcome == nil && err == nil {
			err = &TransportFailure{Op: string(cfg.Protocol), Err: errors.New("client returned no outcome")}
		}
		d.recordAttempt(cfg.Protocol, outcome, err)

		if outcome != nil {
			lastCompleted = outcome
		}
		if err == nil {
			if attempts > 1 {
				d.logger.Info("call succeeded after retry",
					"target", cfg.Target,
					"attempts", attempts)
			}
			return nil
		}
		lastErr = err

		// The caller gave up; don't spend any more of the budget.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !d.classifier.IsRetryable(err) {
			d.logger.Debug("non-retryable failure, giving up",
				"target", cfg.Target,
				"error", err,
				"attempts", attempts)
			return err
		}

		if attempts < policy.MaxAttempts {
			d.logger.Debug("retrying call after delay",
				"target", cfg.Target,
				"attempt", attempts,
				"delay_ms", policy.DelayMS,
				"error", err)
		}

		return retry.RetryableError(err)
	})

	if err != nil && ctx.Err() != nil {
		d.logger.Warn("call abandoned, context done (expected condition)",
			"target", cfg.Target,
			"attempts", attempts,
			"error", ctx.Err())
		d.recordFailure(ctx.Err())
		return nil, ctx.Err()
	}

	if err == nil {
		d.stats.mu.Lock()
		d.stats.totalSuccesses++
		d.stats.mu.Unlock()

		result := newAttemptResult(lastCompleted, true)
		d.metrics.observeCall(cfg.Protocol, result.Status)
		return result, nil
	}

	d.logger.Warn("call failed after retries",
		"target", cfg.Target,
		"attempts", attempts,
		"error", lastErr)
	d.recordFailure(lastErr)

	var result *Result
	if lastCompleted != nil {
		result = newAttemptResult(lastCompleted, false)
	} else {
		result = newFailureResult(lastErr)
	}
	d.metrics.observeCall(cfg.Protocol, result.Status)
	return result, nil
}

// backoff returns a constant-delay backoff that allows MaxAttempts-1 retries.
// retry.Do counts the initial attempt itself, so the limit passed on is one lower.
func (d *RetryDriver) backoff(protocol Protocol, policy RetryPolicy) retry.Backoff {
	delay := policy.Delay()
	maxRetries := policy.MaxAttempts - 1

	return retry.WithMaxRetries(
		uint64(maxRetries), // #nosec G115 - MaxAttempts validated to be >= 1
		retry.BackoffFunc(func() (time.Duration, bool) {
			d.stats.mu.Lock()
			d.stats.totalDelays++
			d.stats.mu.Unlock()
			d.metrics.observeRetry(protocol)
			return delay, false
		}),
	)
}

func (d *RetryDriver) recordAttempt(protocol Protocol, outcome *Outcome, err error) {
	switch {
	case err == nil:
		d.metrics.observeAttempt(protocol, attemptSuccess, outcome.Duration.Seconds())
	case outcome != nil:
		d.metrics.observeAttempt(protocol, attemptProtocolFailure, outcome.Duration.Seconds())
	default:
		elapsed := -1.0
		var tf *TransportFailure
		if errors.As(err, &tf) {
			elapsed = tf.Elapsed.Seconds()
		}
		d.metrics.observeAttempt(protocol, attemptTransportFailure, elapsed)
	}
}

func (d *RetryDriver) recordFailure(err error) {
	d.stats.mu.Lock()
	d.stats.totalFailures++
	d.stats.lastError = err
	d.stats.mu.Unlock()
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalDelays is the number of inter-attempt delays that were scheduled
	TotalDelays int64

	// TotalSuccesses is the number of calls that ended with a successful attempt
	TotalSuccesses int64

	// TotalFailures is the number of calls that ended without one
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error encountered (if any)
	LastError error
}

// GetRetryStats returns statistics about retry operations.
// This method is thread-safe and returns a snapshot of the current statistics.
func (d *RetryDriver) GetRetryStats() RetryStats {
	d.stats.mu.RLock()
	defer d.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   d.stats.totalAttempts,
		TotalRetries:    d.stats.totalRetries,
		TotalDelays:     d.stats.totalDelays,
		TotalSuccesses:  d.stats.totalSuccesses,
		TotalFailures:   d.stats.totalFailures,
		LastAttemptTime: d.stats.lastAttemptTime,
		LastError:       d.stats.lastError,
	}
}
