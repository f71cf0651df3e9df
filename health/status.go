// Package health provides health monitoring for pipeline components, served
// by the gateway's /healthz endpoint.
package health

import (
	"time"
)

// Status represents the health state of a component or the whole system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// NewHealthy creates a healthy status for a component
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status for a component
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status for a component
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate combines component statuses into a system status. The system is
// healthy only when every component is healthy; any unhealthy component makes
// it unhealthy; otherwise it is degraded.
func Aggregate(systemName string, statuses []Status) Status {
	if len(statuses) == 0 {
		return NewHealthy(systemName, "no components registered")
	}

	unhealthy := 0
	degraded := 0
	for _, s := range statuses {
		if s.IsUnhealthy() {
			unhealthy++
		} else if s.IsDegraded() {
			degraded++
		}
	}

	var result Status
	switch {
	case unhealthy > 0:
		result = NewUnhealthy(systemName, "one or more components unhealthy")
	case degraded > 0:
		result = NewDegraded(systemName, "one or more components degraded")
	default:
		result = NewHealthy(systemName, "all components healthy")
	}

	result.SubStatuses = statuses
	return result
}
