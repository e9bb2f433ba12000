package apitool

import "maps"

// Status is the tag of a Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// NoResponseStatusCode is reported when no attempt ever obtained a response.
const NoResponseStatusCode = 500

// NoTimingMS is reported when no attempt ever completed a timed request.
const NoTimingMS int64 = -1

// Result is the normalized outcome of one call, uniform across protocols.
// Remote failures are represented here rather than returned as errors.
type Result struct {
	Status   Status         `json:"status"`
	Data     map[string]any `json:"data"`
	Metadata Metadata       `json:"metadata"`
}

// Metadata describes the attempt a Result was built from.
type Metadata struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	TimingMS   int64             `json:"timing"`
}

// IsSuccess reports whether the call succeeded.
func (r *Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// newAttemptResult builds an envelope from a completed attempt. succeeded is the protocol
// client's own verdict on the attempt (a nil error), never re-derived from the status code.
func newAttemptResult(o *Outcome, succeeded bool) *Result {
	status := StatusError
	if succeeded {
		status = StatusSuccess
	}

	headers := maps.Clone(o.Headers)
	if headers == nil {
		headers = map[string]string{}
	}

	return &Result{
		Status: status,
		Data:   map[string]any{"result": o.Body},
		Metadata: Metadata{
			StatusCode: o.StatusCode,
			Headers:    headers,
			TimingMS:   o.TimingMS(),
		},
	}
}

// newFailureResult builds the envelope for a call where every attempt failed without a response.
func newFailureResult(err error) *Result {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	return &Result{
		Status: StatusError,
		Data:   map[string]any{"error": msg},
		Metadata: Metadata{
			StatusCode: NoResponseStatusCode,
			Headers:    map[string]string{},
			TimingMS:   NoTimingMS,
		},
	}
}
