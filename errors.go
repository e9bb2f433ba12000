package apitool

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

var (
	// ErrInvalidConfig is matched by every ValidationError.
	ErrInvalidConfig = errors.New("invalid call configuration")

	// ErrUnsupportedProtocol is matched by every UnsupportedProtocolError.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrResponseTooLarge is wrapped by the TransportFailure of a body over the read limit.
	ErrResponseTooLarge = errors.New("response body too large")
)

// ValidationError reports a malformed call configuration. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// UnsupportedProtocolError is returned by the Factory when no client is registered for a protocol.
type UnsupportedProtocolError struct {
	Protocol Protocol
}

// Error implements the error interface.
func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol: %s", e.Protocol)
}

// Is makes errors.Is(err, ErrUnsupportedProtocol) true.
func (e *UnsupportedProtocolError) Is(target error) bool {
	return target == ErrUnsupportedProtocol
}

// TransportFailure is an attempt that never produced a response: dial or DNS errors,
// deadline expiry, unreadable bodies, open circuit breakers.
type TransportFailure struct {
	// Op names the attempted operation, e.g. "GET https://api.example.com/test".
	Op string

	// Err is the underlying cause.
	Err error

	// Elapsed is how long the attempt ran before failing.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TransportFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// ProtocolFailure is a completed response that the protocol classifies as a failure,
// e.g. an HTTP 4xx or 5xx. The Outcome travels with it so the last one can still be reported.
type ProtocolFailure struct {
	Outcome *Outcome
}

// Error implements the error interface.
func (e *ProtocolFailure) Error() string {
	return fmt.Sprintf("request failed with status %d", e.Outcome.StatusCode)
}

// StatusCode returns the response status code.
// This implements the HTTPError interface.
func (e *ProtocolFailure) StatusCode() int {
	return e.Outcome.StatusCode
}

// HTTPError represents an error with an associated HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// newTimeoutFailure wraps a per-attempt deadline expiry so that pkgerrors.IsTimeout matches
// and the message always names the timeout.
func newTimeoutFailure(op string, timeout, elapsed time.Duration, cause error) *TransportFailure {
	return &TransportFailure{
		Op:      op,
		Elapsed: elapsed,
		Err: fmt.Errorf("timeout after %dms: %w", timeout.Milliseconds(),
			errors.Join(pkgerrors.NewTimeoutError("request timeout", op, timeout), cause)),
	}
}

// ErrorClassifier determines whether a failed attempt should consume another attempt.
// Implement this interface to customize retry behavior for your specific error types.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a failure that should be retried.
	IsRetryable(err error) bool
}

// RetryAllClassifier retries every attempt failure. Cancellation of the caller's context is
// the only thing that stops the loop early, and that is handled by the driver itself.
type RetryAllClassifier struct{}

// IsRetryable implements ErrorClassifier.
func (RetryAllClassifier) IsRetryable(err error) bool {
	return err != nil
}

// CircuitBreakerErrorClassifier determines whether an error should trip the circuit breaker.
// Implement this interface to customize circuit breaker behavior for your specific error types.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error represents a failure serious enough
	// to open the circuit breaker and stop requests temporarily.
	ShouldTripCircuit(err error) bool
}

// HTTPStatusClassifier provides HTTP status code-based error classification.
// As a retry classifier it is stricter than the default: only selected status codes,
// timeouts, rate limits and failures without a status code are retried.
type HTTPStatusClassifier struct {
	// RetryableStatuses lists HTTP status codes that should trigger retries.
	// Defaults to 429, 500, 502, 503, 504 if nil.
	RetryableStatuses []int

	// CircuitTripStatuses lists HTTP status codes that should trip the circuit breaker.
	// Defaults to 401, 403, 500, 502, 503, 504 if nil.
	CircuitTripStatuses []int
}

// NewHTTPStatusClassifier creates a new HTTPStatusClassifier with default status code mappings.
// Retryable: 429 (rate limit), 500, 502, 503, 504 (server errors)
// Circuit trip: 401, 403 (auth errors), 500, 502, 503, 504 (server errors)
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		RetryableStatuses:   []int{429, 500, 502, 503, 504},
		CircuitTripStatuses: []int{401, 403, 500, 502, 503, 504},
	}
}

// IsRetryable implements ErrorClassifier for HTTP status codes.
func (c *HTTPStatusClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Parent context errors never recover within the same call. Check these
	// before timeouts, since a deadline can look like a timeout to other checks.
	var tf *TransportFailure
	if !errors.As(err, &tf) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return false
	}

	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return true
	}
	if pkgerrors.IsTimeout(err) {
		return true
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		// Network failures carry no status and are worth another try
		return true
	}

	return containsStatus(c.getRetryableStatuses(), statusCode)
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier for HTTP status codes.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	// Rate limits, timeouts and cancellations are transient and don't trip the circuit
	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return false
	}
	if pkgerrors.IsTimeout(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		// Unreachable hosts trip the circuit
		return true
	}

	return containsStatus(c.getCircuitTripStatuses(), statusCode)
}

func (c *HTTPStatusClassifier) getRetryableStatuses() []int {
	if c.RetryableStatuses != nil {
		return c.RetryableStatuses
	}
	return []int{429, 500, 502, 503, 504}
}

func (c *HTTPStatusClassifier) getCircuitTripStatuses() []int {
	if c.CircuitTripStatuses != nil {
		return c.CircuitTripStatuses
	}
	return []int{401, 403, 500, 502, 503, 504}
}

// extractStatusCode attempts to extract an HTTP status code from various error types.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultErrorClassifier retries every failed attempt.
func DefaultErrorClassifier() ErrorClassifier {
	return RetryAllClassifier{}
}

// DefaultCircuitBreakerErrorClassifier trips on authentication errors (401, 403),
// server errors (5xx) and unreachable hosts, but not on rate limits or timeouts.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return NewHTTPStatusClassifier()
}
