package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML configuration file on top of DefaultConfig.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	if cfg.Transport.MaxIdleConns < 0 {
		return fmt.Errorf("transport.max_idle_conns must not be negative")
	}
	if cfg.Transport.MaxResponseBytes <= 0 {
		return fmt.Errorf("transport.max_response_bytes must be positive")
	}

	switch cfg.Retry.Classifier {
	case "":
		cfg.Retry.Classifier = ClassifierAll
	case ClassifierAll, ClassifierHTTPStatus:
	default:
		return fmt.Errorf("retry.classifier must be %q or %q", ClassifierAll, ClassifierHTTPStatus)
	}

	if cfg.CircuitBreaker.Enabled {
		if cfg.CircuitBreaker.MaxRequests == 0 {
			return fmt.Errorf("circuit_breaker.max_requests must be positive")
		}
		if cfg.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker.timeout must be positive")
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}

	return nil
}
