// Package apitool executes declarative outbound API calls. A CallConfig names the protocol,
// target, payload, per-attempt timeout and retry policy; the Executor resolves a protocol
// Client through the Factory, drives it with fixed-delay retries and normalizes whatever
// happened into a Result envelope.
package apitool

import (
	"context"
	"time"
)

// Client executes exactly one attempt of the call it was built for.
// Implementations exist per protocol and are created through a Factory.
//
// A completed response is always returned as an Outcome. When the protocol classifies
// that response as a failure the Outcome is returned together with a *ProtocolFailure.
// Attempts that never produce a response return a nil Outcome and a *TransportFailure.
//
// Example:
//
//	type echoClient struct{ cfg apitool.CallConfig }
//
//	func (c *echoClient) Execute(ctx context.Context, attempt int) (*apitool.Outcome, error) {
//	    return &apitool.Outcome{StatusCode: 200, Body: map[string]any{"attempt": attempt}}, nil
//	}
type Client interface {
	// Execute performs attempt number attempt (1-based).
	// The context should be used to control timeouts and cancellation.
	Execute(ctx context.Context, attempt int) (*Outcome, error)
}

// Outcome is the raw result of one completed attempt.
type Outcome struct {
	// StatusCode is the transport status code of the response.
	StatusCode int

	// Headers holds response headers keyed by lower-case name.
	Headers map[string]string

	// Body is the decoded response body, or {"text": raw} when it wasn't structured data.
	Body any

	// Duration is the wall-clock time of the attempt.
	Duration time.Duration
}

// Success reports whether the status code is in the HTTP informational, success or redirect range.
// The classification depends only on the status code, never on the attempt number.
// It is the REST client's rule; the envelope status follows the error a Client returns,
// so other protocols are free to classify their own codes.
func (o *Outcome) Success() bool {
	return IsSuccessStatus(o.StatusCode)
}

// TimingMS returns Duration in whole milliseconds.
func (o *Outcome) TimingMS() int64 {
	return o.Duration.Milliseconds()
}

// IsSuccessStatus classifies an HTTP status code: 1xx, 2xx and 3xx succeed, everything else fails.
func IsSuccessStatus(code int) bool {
	return code >= 100 && code < 400
}
