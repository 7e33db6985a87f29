package services

import (
	"log/slog"
	"sync"
	"time"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one health event published on the in-process bus.
type Alert struct {
	Service   string    `json:"service"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	alertHistoryLimit = 100
	alertRetention    = 24 * time.Hour
)

// alertBus fans alerts out to subscribers on the health-check goroutine.
// A panicking subscriber is logged and does not affect monitoring or other
// subscribers.
type alertBus struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers []func(Alert)
	history     []Alert
}

func newAlertBus(logger *slog.Logger) *alertBus {
	return &alertBus{logger: logger}
}

func (b *alertBus) Subscribe(fn func(Alert)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

func (b *alertBus) Publish(alert Alert) {
	b.mu.Lock()
	b.history = append(b.history, alert)
	if len(b.history) > alertHistoryLimit {
		b.history = b.history[len(b.history)-alertHistoryLimit:]
	}
	subscribers := make([]func(Alert), len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.Unlock()

	for _, fn := range subscribers {
		b.deliver(fn, alert)
	}
}

func (b *alertBus) deliver(fn func(Alert), alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("alert subscriber panicked", "panic", r)
		}
	}()
	fn(alert)
}

// History returns retained alerts, dropping entries older than 24 hours.
func (b *alertBus) History() []Alert {
	cutoff := time.Now().Add(-alertRetention)

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, 0, len(b.history))
	for _, alert := range b.history {
		if alert.Timestamp.After(cutoff) {
			out = append(out, alert)
		}
	}
	return out
}
