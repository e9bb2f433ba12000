package apitool

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// TransportConfig configures the HTTP connection pool shared by REST clients.
type TransportConfig struct {
	// MaxIdleConns caps idle connections, in total and per host.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// IdleConnTimeout is how long an idle connection stays in the pool.
	// Default: 90 seconds
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`

	// TLSInsecure skips certificate verification. Only meant for testing.
	TLSInsecure bool `yaml:"tls_insecure"`

	// HTTP2 negotiates HTTP/2 over TLS through golang.org/x/net/http2.
	HTTP2 bool `yaml:"http2"`

	// MaxResponseBytes caps how much of a response body is read. Larger bodies fail the attempt.
	// Default: 10 MiB
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// DefaultMaxResponseBytes is the response body cap used when none is configured.
const DefaultMaxResponseBytes int64 = 10 << 20

// DefaultTransportConfig returns transport settings with sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:     100,
		IdleConnTimeout:  90 * time.Second,
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

// NewHTTPClient builds the pooled *http.Client used by REST clients.
// Redirects are never followed so 3xx responses reach the caller as-is.
func NewHTTPClient(cfg TransportConfig) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecure, // #nosec G402 - opt-in for test environments
		},
	}

	if cfg.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configure http2 transport: %w", err)
		}
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// RESTClient executes one HTTP request per attempt for the CallConfig it is bound to.
type RESTClient struct {
	cfg      CallConfig
	client   *http.Client
	maxBytes int64
}

// RESTOption is a functional option for configuring REST clients.
type RESTOption func(*RESTClient)

// WithMaxResponseBytes caps the response body size. Values <= 0 keep DefaultMaxResponseBytes.
func WithMaxResponseBytes(n int64) RESTOption {
	return func(c *RESTClient) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// NewRESTClient binds cfg to the given *http.Client.
func NewRESTClient(cfg CallConfig, client *http.Client, opts ...RESTOption) *RESTClient {
	c := &RESTClient{cfg: cfg, client: client, maxBytes: DefaultMaxResponseBytes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute implements Client.
// GET calls carry the payload as query parameters; every other verb sends it as a JSON body.
func (c *RESTClient) Execute(ctx context.Context, attempt int) (*Outcome, error) {
	start := time.Now()
	method := c.cfg.EffectiveMethod()
	op := fmt.Sprintf("%s %s", method, c.cfg.Target)

	attemptCtx := ctx
	timeout := c.cfg.Timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := c.newRequest(attemptCtx, method)
	if err != nil {
		return nil, &TransportFailure{Op: op, Err: err, Elapsed: time.Since(start)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(ctx, attemptCtx, op, timeout, time.Since(start), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, c.classifyTransportError(ctx, attemptCtx, op, timeout, time.Since(start),
			fmt.Errorf("read response body: %w", err))
	}
	if int64(len(raw)) > c.maxBytes {
		return nil, &TransportFailure{
			Op:      op,
			Err:     fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, c.maxBytes),
			Elapsed: time.Since(start),
		}
	}

	outcome := &Outcome{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       decodeBody(raw),
		Duration:   time.Since(start),
	}

	if !outcome.Success() {
		return outcome, &ProtocolFailure{Outcome: outcome}
	}
	return outcome, nil
}

func (c *RESTClient) newRequest(ctx context.Context, method Method) (*http.Request, error) {
	u, err := url.Parse(c.cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	var body io.Reader
	if method == MethodGet {
		if len(c.cfg.Payload) > 0 {
			q := u.Query()
			encodeQuery(q, c.cfg.Payload)
			u.RawQuery = q.Encode()
		}
	} else {
		payload := c.cfg.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, string(method), u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	// Header names are sent exactly as supplied, without canonicalization.
	for k, v := range c.cfg.Headers {
		req.Header[k] = []string{v}
	}
	if body != nil && !hasHeader(c.cfg.Headers, "Content-Type") {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// classifyTransportError turns a failed round trip into a TransportFailure, marking expiry of
// the per-attempt deadline as a timeout. Cancellation of the parent context is left as-is.
func (c *RESTClient) classifyTransportError(
	parent, attemptCtx context.Context,
	op string,
	timeout, elapsed time.Duration,
	err error,
) *TransportFailure {
	if parent.Err() == nil {
		var netErr net.Error
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			return newTimeoutFailure(op, timeout, elapsed, err)
		}
	}
	return &TransportFailure{Op: op, Err: err, Elapsed: elapsed}
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// flattenHeaders lower-cases names and joins repeated values with ", ".
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		key := strings.ToLower(k)
		if prev, ok := out[key]; ok {
			out[key] = prev + ", " + strings.Join(vals, ", ")
			continue
		}
		out[key] = strings.Join(vals, ", ")
	}
	return out
}

// decodeBody parses JSON, falling back to {"text": raw} for anything else.
func decodeBody(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"text": string(raw)}
	}
	return v
}

// encodeQuery adds payload entries to q. Arrays become repeated keys and nested objects are
// sent as JSON text.
func encodeQuery(q url.Values, payload map[string]any) {
	for k, v := range payload {
		if items, ok := v.([]any); ok {
			for _, item := range items {
				q.Add(k, queryValue(item))
			}
			continue
		}
		q.Add(k, queryValue(v))
	}
}

func queryValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return fmt.Sprint(t)
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(encoded)
	}
}
