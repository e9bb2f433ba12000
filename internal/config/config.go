package config

import (
	"time"

	apitool "github.com/JohnPlummer/jp-go-apitool"
)

// Config is the root configuration structure for the apitool service.
type Config struct {
	Server         Server                  `yaml:"server"`
	Transport      apitool.TransportConfig `yaml:"transport"`
	Retry          Retry                   `yaml:"retry"`
	CircuitBreaker CircuitBreaker          `yaml:"circuit_breaker"`
	Metrics        Metrics                 `yaml:"metrics"`
	Log            Log                     `yaml:"log"`
}

// Server configures the HTTP boundary.
type Server struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Classifier names a retry classification strategy.
type Classifier string

const (
	// ClassifierAll retries every failed attempt.
	ClassifierAll Classifier = "all"

	// ClassifierHTTPStatus only retries 429, 5xx and failures without a response.
	ClassifierHTTPStatus Classifier = "http_status"
)

// Retry configures the retry driver. Attempt counts and delays are per call.
type Retry struct {
	Classifier Classifier `yaml:"classifier"`
}

// CircuitBreaker configures the optional per-host circuit breakers.
type CircuitBreaker struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Metrics configures Prometheus metrics.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Transport: apitool.DefaultTransportConfig(),
		Retry: Retry{
			Classifier: ClassifierAll,
		},
		CircuitBreaker: CircuitBreaker{
			Enabled:     false,
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}
