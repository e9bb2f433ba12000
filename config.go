package apitool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol selects the dispatch strategy for a call.
type Protocol string

const (
	// ProtocolREST issues a single HTTP request per attempt.
	ProtocolREST Protocol = "rest"

	// ProtocolGraphQL is reserved; no client is registered for it by default.
	ProtocolGraphQL Protocol = "graphql"

	// ProtocolGRPC is reserved; no client is registered for it by default.
	ProtocolGRPC Protocol = "grpc"
)

// Valid reports whether p is one of the known protocol tags.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolREST, ProtocolGraphQL, ProtocolGRPC:
		return true
	default:
		return false
	}
}

// Method is an HTTP verb. Only meaningful for REST calls.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// Valid reports whether m is a supported verb. The empty method is valid and means GET.
func (m Method) Valid() bool {
	switch m {
	case "", MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch:
		return true
	default:
		return false
	}
}

const (
	// DefaultTimeoutMS bounds a single attempt when no timeout is supplied.
	DefaultTimeoutMS = 5000

	// DefaultMaxAttempts is the total number of attempts, including the first one.
	DefaultMaxAttempts = 3

	// DefaultDelayMS is the fixed wait between attempts.
	DefaultDelayMS = 1000
)

// RetryPolicy controls how many attempts a call gets and how long to wait between them.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (including the initial request).
	// Must be at least 1. Default: 3
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// DelayMS is the fixed delay between attempts in milliseconds.
	// The same delay is used for every retry. Default: 1000
	DelayMS int `json:"delay" yaml:"delay"`
}

// Delay returns the inter-attempt delay as a duration.
func (r RetryPolicy) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// CallConfig describes one outbound call. Build it with NewCallConfig or ParseCallConfig;
// the zero value is not valid.
//
// TimeoutMS is the per-attempt deadline in milliseconds. A timeout of 0 runs each attempt with
// no deadline at all; it does not time the attempt out immediately.
type CallConfig struct {
	Protocol  Protocol          `json:"protocol" yaml:"protocol"`
	Method    Method            `json:"method,omitempty" yaml:"method,omitempty"`
	Target    string            `json:"url" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Payload   map[string]any    `json:"payload,omitempty" yaml:"payload,omitempty"`
	TimeoutMS *int              `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry     *RetryPolicy      `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// NewCallConfig applies field defaults to raw, validates it and returns an independent copy.
// The returned config shares no maps with raw.
//
// Example:
//
//	cfg, err := apitool.NewCallConfig(apitool.CallConfig{
//	    Protocol: apitool.ProtocolREST,
//	    Method:   apitool.MethodPost,
//	    Target:   "https://api.example.com/orders",
//	    Payload:  map[string]any{"sku": "abc"},
//	})
func NewCallConfig(raw CallConfig) (CallConfig, error) {
	cfg := CallConfig{
		Protocol: raw.Protocol,
		Method:   raw.Method,
		Target:   raw.Target,
		Headers:  maps.Clone(raw.Headers),
		Payload:  cloneValue(raw.Payload).(map[string]any),
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	if cfg.Payload == nil {
		cfg.Payload = map[string]any{}
	}

	timeout := DefaultTimeoutMS
	if raw.TimeoutMS != nil {
		timeout = *raw.TimeoutMS
	}
	cfg.TimeoutMS = &timeout

	retry := RetryPolicy{MaxAttempts: DefaultMaxAttempts, DelayMS: DefaultDelayMS}
	if raw.Retry != nil {
		retry = *raw.Retry
	}
	cfg.Retry = &retry

	if err := cfg.Validate(); err != nil {
		return CallConfig{}, err
	}
	return cfg, nil
}

// ParseCallConfig decodes a call configuration from JSON or YAML and passes it through NewCallConfig.
// Omitted retry fields take their defaults individually.
func ParseCallConfig(data []byte) (CallConfig, error) {
	raw := CallConfig{Retry: &RetryPolicy{MaxAttempts: DefaultMaxAttempts, DelayMS: DefaultDelayMS}}

	trimmed := bytes.TrimSpace(data)
	var err error
	if len(trimmed) > 0 && trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &raw)
	} else {
		err = yaml.Unmarshal(trimmed, &raw)
	}
	if err != nil {
		return CallConfig{}, &ValidationError{Field: "body", Reason: err.Error()}
	}

	return NewCallConfig(raw)
}

// Validate checks the configuration without touching the network.
func (c CallConfig) Validate() error {
	if !c.Protocol.Valid() {
		return &ValidationError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %q", c.Protocol)}
	}
	if !c.Method.Valid() {
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("unknown method %q", c.Method)}
	}
	if err := validateTarget(c.Target); err != nil {
		return err
	}
	if c.TimeoutMS != nil && *c.TimeoutMS < 0 {
		return &ValidationError{Field: "timeout", Reason: "must be greater than or equal to 0"}
	}
	if c.Retry != nil {
		if c.Retry.MaxAttempts < 1 {
			return &ValidationError{Field: "retry.max_attempts", Reason: "must be greater than or equal to 1"}
		}
		if c.Retry.DelayMS < 0 {
			return &ValidationError{Field: "retry.delay", Reason: "must be greater than or equal to 0"}
		}
	}
	return nil
}

func validateTarget(target string) error {
	if target == "" {
		return &ValidationError{Field: "url", Reason: "is required"}
	}
	u, err := url.Parse(target)
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Reason: "host is required"}
	}
	return nil
}

// EffectiveMethod returns the configured verb, or GET when none was given.
func (c CallConfig) EffectiveMethod() Method {
	if c.Method == "" {
		return MethodGet
	}
	return c.Method
}

// Timeout returns the per-attempt deadline. Zero means no deadline.
func (c CallConfig) Timeout() time.Duration {
	if c.TimeoutMS == nil {
		return DefaultTimeoutMS * time.Millisecond
	}
	return time.Duration(*c.TimeoutMS) * time.Millisecond
}

// Policy returns the retry policy, falling back to the defaults.
func (c CallConfig) Policy() RetryPolicy {
	if c.Retry == nil {
		return RetryPolicy{MaxAttempts: DefaultMaxAttempts, DelayMS: DefaultDelayMS}
	}
	return *c.Retry
}

// cloneValue deep-copies JSON-like values so callers can't mutate a built config.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
