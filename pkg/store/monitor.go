package store

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/zerorag/zerorag/pkg/config"
)

const (
	memSampleInterval = 30 * time.Second
	maxMemSamples     = 100
	maxOpSamples      = 1000

	// Error rates are not meaningful on a handful of calls.
	minOpsForErrorRate = 10
)

// Alert types emitted by the store monitor.
const (
	AlertQueueFull     = "queue_full"
	AlertSlowOperation = "slow_operation"
	AlertHighErrorRate = "high_error_rate"
	AlertMemoryUsage   = "memory_usage"
)

// Alert is one threshold violation observed by the monitor.
type Alert struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// OpPercentiles summarizes one operation's latency distribution.
type OpPercentiles struct {
	Count int           `json:"count"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// MonitorStats is a point-in-time view of store health metrics.
type MonitorStats struct {
	Operations  map[string]OpPercentiles `json:"operations"`
	ErrorRates  map[string]float64       `json:"error_rates"`
	MemoryBytes uint64                   `json:"memory_bytes"`
	QueueDepth  int                      `json:"queue_depth"`
}

// Monitor tracks per-op latencies, error counters and memory samples, and
// publishes alerts to subscribers.
type Monitor struct {
	slowOp      time.Duration
	memHigh     uint64
	queueHigh   int
	errRateHigh float64

	mu          sync.Mutex
	durations   map[string][]time.Duration
	totals      map[string]int
	errors      map[string]int
	memSamples  []uint64
	subscribers []chan Alert

	// Invoked outside the lock when memory crosses the threshold.
	onMemoryHigh func()
}

func NewMonitor(cfg *config.Config) *Monitor {
	return &Monitor{
		slowOp:      time.Duration(cfg.Store.SlowOpMs) * time.Millisecond,
		memHigh:     uint64(cfg.Store.MemHighMB) * 1024 * 1024,
		queueHigh:   cfg.Store.QueueHighN,
		errRateHigh: cfg.Store.ErrRateHigh,
		durations:   make(map[string][]time.Duration),
		totals:      make(map[string]int),
		errors:      make(map[string]int),
	}
}

// SetMemoryHighHook registers the callback fired when resident memory
// exceeds the threshold. Used to auto-enqueue a cleanup operation.
func (m *Monitor) SetMemoryHighHook(fn func()) {
	m.mu.Lock()
	m.onMemoryHigh = fn
	m.mu.Unlock()
}

// Subscribe returns a channel receiving future alerts. Delivery is
// best-effort: a slow subscriber drops alerts rather than blocking the
// store.
func (m *Monitor) Subscribe() <-chan Alert {
	ch := make(chan Alert, 16)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) publish(a Alert) {
	a.Timestamp = time.Now()
	m.mu.Lock()
	subs := make([]chan Alert, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- a:
		default:
		}
	}
}

// RecordOp stores one operation timing and fires slow-op and error-rate
// alerts when thresholds are crossed.
func (m *Monitor) RecordOp(op string, d time.Duration, err error) {
	m.mu.Lock()
	samples := append(m.durations[op], d)
	if len(samples) > maxOpSamples {
		samples = samples[len(samples)-maxOpSamples:]
	}
	m.durations[op] = samples
	m.totals[op]++
	if err != nil {
		m.errors[op]++
	}
	total := m.totals[op]
	errs := m.errors[op]
	m.mu.Unlock()

	if m.slowOp > 0 && d > m.slowOp {
		m.publish(Alert{
			Type:      AlertSlowOperation,
			Message:   fmt.Sprintf("%s took %s", op, d),
			Value:     float64(d.Milliseconds()),
			Threshold: float64(m.slowOp.Milliseconds()),
		})
	}

	if total >= minOpsForErrorRate {
		rate := float64(errs) / float64(total)
		if rate > m.errRateHigh {
			m.publish(Alert{
				Type:      AlertHighErrorRate,
				Message:   fmt.Sprintf("%s error rate %.1f%%", op, rate*100),
				Value:     rate,
				Threshold: m.errRateHigh,
			})
		}
	}
}

// RecordQueueDepth fires backpressure alerts as the queue fills.
func (m *Monitor) RecordQueueDepth(depth int) {
	if m.queueHigh > 0 && depth > m.queueHigh {
		m.publish(Alert{
			Type:      AlertQueueFull,
			Message:   fmt.Sprintf("operation queue depth %d", depth),
			Value:     float64(depth),
			Threshold: float64(m.queueHigh),
		})
	}
}

// RecordQueueRejection fires when an enqueue was refused outright.
func (m *Monitor) RecordQueueRejection(depth int) {
	m.publish(Alert{
		Type:      AlertQueueFull,
		Message:   fmt.Sprintf("operation rejected, queue at capacity (%d)", depth),
		Value:     float64(depth),
		Threshold: float64(depth),
	})
}

// Run samples memory on an interval until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(memSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleMemory()
		}
	}
}

// SampleMemory records one resident-memory sample and fires the memory
// alert and cleanup hook when above threshold.
func (m *Monitor) SampleMemory() uint64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.Lock()
	m.memSamples = append(m.memSamples, mem.Alloc)
	if len(m.memSamples) > maxMemSamples {
		m.memSamples = m.memSamples[len(m.memSamples)-maxMemSamples:]
	}
	hook := m.onMemoryHigh
	m.mu.Unlock()

	if m.memHigh > 0 && mem.Alloc > m.memHigh {
		m.publish(Alert{
			Type:      AlertMemoryUsage,
			Message:   fmt.Sprintf("resident memory %d MB", mem.Alloc/(1024*1024)),
			Value:     float64(mem.Alloc),
			Threshold: float64(m.memHigh),
		})
		if hook != nil {
			hook()
		}
	}
	return mem.Alloc
}

// Percentiles computes latency percentiles for one operation.
func (m *Monitor) Percentiles(op string) OpPercentiles {
	m.mu.Lock()
	samples := make([]time.Duration, len(m.durations[op]))
	copy(samples, m.durations[op])
	m.mu.Unlock()

	if len(samples) == 0 {
		return OpPercentiles{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	pick := func(p float64) time.Duration {
		idx := int(p * float64(len(samples)-1))
		return samples[idx]
	}
	return OpPercentiles{
		Count: len(samples),
		P50:   pick(0.50),
		P90:   pick(0.90),
		P95:   pick(0.95),
		P99:   pick(0.99),
	}
}

// Stats snapshots all monitored operations.
func (m *Monitor) Stats(queueDepth int) MonitorStats {
	m.mu.Lock()
	ops := make([]string, 0, len(m.durations))
	for op := range m.durations {
		ops = append(ops, op)
	}
	rates := make(map[string]float64, len(m.totals))
	for op, total := range m.totals {
		if total > 0 {
			rates[op] = float64(m.errors[op]) / float64(total)
		}
	}
	var lastMem uint64
	if len(m.memSamples) > 0 {
		lastMem = m.memSamples[len(m.memSamples)-1]
	}
	m.mu.Unlock()

	stats := MonitorStats{
		Operations:  make(map[string]OpPercentiles, len(ops)),
		ErrorRates:  rates,
		MemoryBytes: lastMem,
		QueueDepth:  queueDepth,
	}
	for _, op := range ops {
		stats.Operations[op] = m.Percentiles(op)
	}
	return stats
}
