package apitool

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// BreakerSet keeps one circuit breaker per target host. Attempts against a host whose breaker
// is open fail fast with a TransportFailure, which the RetryDriver treats like any other
// failed attempt.
type BreakerSet struct {
	config     *CircuitBreakerConfig
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Outcome]
}

// NewBreakerSet creates an empty set; breakers are created lazily per host.
//
// Example:
//
//	breakers := apitool.NewBreakerSet(
//	    apitool.WithMaxRequests(5),
//	    apitool.WithOpenTimeout(60*time.Second),
//	)
func NewBreakerSet(opts ...CircuitBreakerOption) *BreakerSet {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}

	return &BreakerSet{
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*Outcome]),
	}
}

// Wrap guards client with the breaker for cfg's target host.
func (s *BreakerSet) Wrap(cfg CallConfig, client Client) Client {
	host := hostOf(cfg.Target)
	return &BreakerClient{
		client:     client,
		host:       host,
		cb:         s.breaker(host),
		logger:     s.logger,
		classifier: s.classifier,
	}
}

func (s *BreakerSet) breaker(host string) *gobreaker.CircuitBreaker[*Outcome] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[host]; ok {
		return cb
	}

	config := s.config
	classifier := s.classifier

	settings := gobreaker.Settings{
		Name:        host,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(convertGobreakerCounts(counts))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"host", name,
				"from", from.String(),
				"to", to.String())

			toState := convertGobreakerState(to)
			config.Metrics.setBreakerState(name, toState)

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), toState)
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}

			// Don't count errors that shouldn't trip the circuit as failures
			return !classifier.ShouldTripCircuit(err)
		},
	}

	cb := gobreaker.NewCircuitBreaker[*Outcome](settings)
	s.breakers[host] = cb
	config.Metrics.setBreakerState(host, StateClosed)
	return cb
}

// Health returns the health of every known host's breaker, sorted by host.
func (s *BreakerSet) Health() []HealthStatus {
	s.mu.Lock()
	hosts := make([]string, 0, len(s.breakers))
	for host := range s.breakers {
		hosts = append(hosts, host)
	}
	s.mu.Unlock()
	sort.Strings(hosts)

	out := make([]HealthStatus, 0, len(hosts))
	for _, host := range hosts {
		out = append(out, healthOf(host, s.breaker(host)))
	}
	return out
}

// State returns the breaker state for host. Unknown hosts are closed.
func (s *BreakerSet) State(host string) CircuitBreakerState {
	s.mu.Lock()
	cb, ok := s.breakers[host]
	s.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return convertGobreakerState(cb.State())
}

// BreakerClient runs each attempt of the wrapped Client through a host's circuit breaker.
type BreakerClient struct {
	client     Client
	host       string
	cb         *gobreaker.CircuitBreaker[*Outcome]
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
}

// Execute implements Client.
// Rejections are returned as a *TransportFailure wrapping a jperrors circuit breaker error:
//   - gobreaker.ErrOpenState is reported with state "open"
//   - gobreaker.ErrTooManyRequests is reported with state "half-open"
func (w *BreakerClient) Execute(ctx context.Context, attempt int) (*Outcome, error) {
	outcome, err := w.cb.Execute(func() (*Outcome, error) {
		return w.client.Execute(ctx, attempt)
	})
	if err == nil {
		return outcome, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		counts := w.cb.Counts()
		w.logger.Warn("circuit breaker is open, attempt rejected",
			"host", w.host,
			"attempt", attempt,
			"counts", counts)
		return nil, &TransportFailure{
			Op: "circuit breaker " + w.host,
			Err: jperrors.NewCircuitBreakerError(
				"attempt rejected",
				"execute",
				"open",
				jperrors.WithCause(err),
				jperrors.WithCounts(toCircuitCounts(counts)),
			),
		}
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		counts := w.cb.Counts()
		w.logger.Debug("circuit breaker in half-open state, too many requests",
			"host", w.host,
			"attempt", attempt)
		return nil, &TransportFailure{
			Op: "circuit breaker " + w.host,
			Err: jperrors.NewCircuitBreakerError(
				"too many requests in half-open state",
				"execute",
				"half-open",
				jperrors.WithCause(err),
				jperrors.WithCounts(toCircuitCounts(counts)),
			),
		}
	default:
		w.logger.Debug("attempt failed through circuit breaker",
			"host", w.host,
			"error", err,
			"should_trip", w.classifier.ShouldTripCircuit(err))
	}

	// Protocol failures keep their response even if the breaker dropped the value.
	var pf *ProtocolFailure
	if outcome == nil && errors.As(err, &pf) {
		outcome = pf.Outcome
	}
	return outcome, err
}

// State returns the current state of the host's circuit breaker.
func (w *BreakerClient) State() CircuitBreakerState {
	return convertGobreakerState(w.cb.State())
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host
}

func healthOf(host string, cb *gobreaker.CircuitBreaker[*Outcome]) HealthStatus {
	state := convertGobreakerState(cb.State())
	counts := convertGobreakerCounts(cb.Counts())

	return HealthStatus{
		Host: host,
		// Half-open is degraded but operational
		Healthy:              state != StateOpen,
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

func toCircuitCounts(counts gobreaker.Counts) jperrors.CircuitCounts {
	return jperrors.CircuitCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func convertGobreakerCounts(counts gobreaker.Counts) CircuitBreakerCounts {
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// convertGobreakerState converts gobreaker.State to our CircuitBreakerState.
func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
