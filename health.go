package apitool

// HealthStatus reports one host's circuit breaker.
type HealthStatus struct {
	// Host is the target host the breaker guards.
	Host string `json:"host"`

	// Healthy is true for closed and half-open breakers, false for open ones.
	Healthy bool `json:"healthy"`

	// State is "closed", "half-open", "open" or "unknown".
	State string `json:"state"`

	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// ServiceHealth is the body of the service health endpoint.
type ServiceHealth struct {
	Status   string         `json:"status"`
	Breakers []HealthStatus `json:"breakers,omitempty"`
}

// Health summarizes the executor. The service stays "healthy" while any breaker is open,
// since calls to other hosts are unaffected; open breakers are listed for the operator.
func (e *Executor) Health() ServiceHealth {
	report := ServiceHealth{Status: "healthy"}
	if e.breakers == nil {
		return report
	}
	report.Breakers = e.breakers.Health()
	return report
}
