package services

import "time"

// Per-service statuses.
const (
	StatusInitializing = "initializing"
	StatusHealthy      = "healthy"
	StatusUnhealthy    = "unhealthy"
	StatusError        = "error"
	StatusDisabled     = "disabled"
)

// Overall statuses.
const (
	OverallHealthy   = "healthy"
	OverallDegraded  = "degraded"
	OverallUnhealthy = "unhealthy"
)

// Health trend labels derived from recent history.
const (
	TrendStableHealthy   = "stable_healthy"
	TrendImproving       = "improving"
	TrendDeclining       = "declining"
	TrendStableUnhealthy = "stable_unhealthy"
)

// ServiceInfo is the per-service health record.
type ServiceInfo struct {
	Name        string                 `json:"name"`
	Status      string                 `json:"status"`
	LastCheck   time.Time              `json:"last_check"`
	ErrorCount  int                    `json:"error_count"`
	InitSeconds float64                `json:"initialization_seconds,omitempty"`
	HealthData  map[string]interface{} `json:"health_data,omitempty"`
}

// HealthSnapshot is the outcome of one health check round.
type HealthSnapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Overall   string                 `json:"overall"`
	Services  map[string]ServiceInfo `json:"services"`
}

const (
	historyLimit = 1000
	// Minimum history length before a trend is derived.
	trendMinSamples = 4
)

// trend compares the healthy ratio of the older and newer halves of the
// history window.
func trend(history []HealthSnapshot) string {
	if len(history) < trendMinSamples {
		return TrendStableHealthy
	}

	mid := len(history) / 2
	older := healthyRatio(history[:mid])
	newer := healthyRatio(history[mid:])

	switch {
	case newer > older+0.1:
		return TrendImproving
	case older > newer+0.1:
		return TrendDeclining
	case newer >= 0.5:
		return TrendStableHealthy
	default:
		return TrendStableUnhealthy
	}
}

func healthyRatio(history []HealthSnapshot) float64 {
	if len(history) == 0 {
		return 0
	}
	healthy := 0
	for _, snapshot := range history {
		if snapshot.Overall == OverallHealthy {
			healthy++
		}
	}
	return float64(healthy) / float64(len(history))
}
