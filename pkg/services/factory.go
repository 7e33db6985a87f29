package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zerorag/zerorag/pkg/chunker"
	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/embedder"
	"github.com/zerorag/zerorag/pkg/ingest"
	"github.com/zerorag/zerorag/pkg/llm"
	"github.com/zerorag/zerorag/pkg/log"
	"github.com/zerorag/zerorag/pkg/processor"
	"github.com/zerorag/zerorag/pkg/prompt"
	"github.com/zerorag/zerorag/pkg/rag"
	"github.com/zerorag/zerorag/pkg/store"
	"github.com/zerorag/zerorag/pkg/stream"
)

// Service names as reported in health output.
const (
	ServiceEmbedding = "embedding"
	ServiceLLM       = "llm"
	ServiceProcessor = "document_processor"
	ServiceStore     = "vector_store"
	ServiceRAG       = "rag_pipeline"
	ServiceIngest    = "ingestion"
	ServiceStream    = "streaming"
)

var initOrder = []string{
	ServiceEmbedding,
	ServiceLLM,
	ServiceProcessor,
	ServiceStore,
	ServiceRAG,
	ServiceIngest,
	ServiceStream,
}

// Factory owns the singleton services for the process lifetime and runs the
// periodic health monitor. A failed service init is isolated: the service
// is marked as errored and startup continues.
type Factory struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *Metrics
	bus     *alertBus
	started time.Time

	mu        sync.Mutex
	embedSvc  *embedder.Service
	llmSvc    *llm.Service
	procSvc   *processor.Service
	storeSvc  *store.Service
	promptSvc *prompt.Service
	ragSvc    *rag.Service
	ingestSvc *ingest.Service
	streams   *stream.Registry

	info     map[string]*ServiceInfo
	failures map[string]int
	history  []HealthSnapshot
}

// NewFactory initializes all services in dependency order.
func NewFactory(cfg *config.Config) *Factory {
	logger := log.WithModule("services")
	f := &Factory{
		cfg:      cfg,
		logger:   logger,
		metrics:  NewMetrics(),
		bus:      newAlertBus(logger),
		started:  time.Now(),
		info:     make(map[string]*ServiceInfo),
		failures: make(map[string]int),
	}

	for _, name := range initOrder {
		f.initService(name)
	}
	return f
}

// initService times one service's construction and records the outcome.
func (f *Factory) initService(name string) {
	f.mu.Lock()
	f.info[name] = &ServiceInfo{Name: name, Status: StatusInitializing, LastCheck: time.Now()}
	f.mu.Unlock()

	start := time.Now()
	err := f.construct(name)
	elapsed := time.Since(start).Seconds()

	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.info[name]
	record.InitSeconds = elapsed
	record.LastCheck = time.Now()
	if err != nil {
		record.Status = StatusError
		record.ErrorCount++
		record.HealthData = map[string]interface{}{"init_error": err.Error()}
		f.logger.Error("service initialization failed", "service", name, "error", err)
		return
	}
	record.Status = StatusHealthy
	f.logger.Info("service initialized", "service", name, "seconds", elapsed)
}

// construct builds one service. Dependencies missing because their own init
// failed surface as errors here.
func (f *Factory) construct(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch name {
	case ServiceEmbedding:
		f.embedSvc = embedder.NewService(f.cfg)
	case ServiceLLM:
		svc, err := llm.NewService(f.cfg)
		if err != nil {
			return err
		}
		f.llmSvc = svc
	case ServiceProcessor:
		f.procSvc = processor.NewService(f.cfg, chunker.New(f.cfg))
	case ServiceStore:
		f.storeSvc = store.NewService(f.cfg)
	case ServiceRAG:
		if f.embedSvc == nil || f.storeSvc == nil || f.llmSvc == nil {
			return errors.New("rag pipeline dependencies unavailable")
		}
		prompts, err := prompt.NewService(f.cfg)
		if err != nil {
			return err
		}
		f.promptSvc = prompts
		f.ragSvc = rag.NewService(f.cfg, f.embedSvc, f.storeSvc, f.llmSvc, prompts)
	case ServiceIngest:
		if f.procSvc == nil || f.embedSvc == nil || f.storeSvc == nil {
			return errors.New("ingestion dependencies unavailable")
		}
		f.ingestSvc = ingest.NewService(f.cfg, f.procSvc, f.embedSvc, f.storeSvc)
	case ServiceStream:
		f.streams = stream.NewRegistry(f.cfg)
	default:
		return fmt.Errorf("unknown service %q", name)
	}
	return nil
}

// Accessors. Pointers may be replaced by auto-recovery, so reads go through
// the factory lock.

func (f *Factory) Embedder() *embedder.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedSvc
}

func (f *Factory) LLM() *llm.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.llmSvc
}

func (f *Factory) Processor() *processor.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procSvc
}

func (f *Factory) Store() *store.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeSvc
}

func (f *Factory) Prompts() *prompt.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promptSvc
}

func (f *Factory) RAG() *rag.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ragSvc
}

func (f *Factory) Ingest() *ingest.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ingestSvc
}

func (f *Factory) Streams() *stream.Registry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

func (f *Factory) Metrics() *Metrics        { return f.metrics }
func (f *Factory) Subscribe(fn func(Alert)) { f.bus.Subscribe(fn) }
func (f *Factory) Alerts() []Alert          { return f.bus.History() }
func (f *Factory) Uptime() time.Duration    { return time.Since(f.started) }

// Run executes health check rounds until the context is cancelled.
func (f *Factory) Run(ctx context.Context) {
	interval := time.Duration(f.cfg.Monitoring.HealthIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.CheckHealth(ctx)
		}
	}
}

// CheckHealth probes every service once, applies auto-recovery, and appends
// a snapshot to the health history.
func (f *Factory) CheckHealth(ctx context.Context) HealthSnapshot {
	for _, name := range initOrder {
		err := f.probe(ctx, name)
		f.applyProbeResult(name, err)
	}

	snapshot := f.Snapshot()

	f.mu.Lock()
	f.history = append(f.history, snapshot)
	if len(f.history) > historyLimit {
		f.history = f.history[len(f.history)-historyLimit:]
	}
	f.mu.Unlock()

	return snapshot
}

func (f *Factory) probe(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	f.mu.Lock()
	embedSvc, llmSvc, procSvc, storeSvc, ragSvc, ingestSvc, streams :=
		f.embedSvc, f.llmSvc, f.procSvc, f.storeSvc, f.ragSvc, f.ingestSvc, f.streams
	f.mu.Unlock()

	switch name {
	case ServiceEmbedding:
		if embedSvc == nil {
			return errors.New("not initialized")
		}
		return embedSvc.Health(ctx)
	case ServiceLLM:
		if llmSvc == nil {
			return errors.New("not initialized")
		}
		return llmSvc.Health(ctx)
	case ServiceProcessor:
		if procSvc == nil {
			return errors.New("not initialized")
		}
		return nil
	case ServiceStore:
		if storeSvc == nil {
			return errors.New("not initialized")
		}
		return storeSvc.Health(ctx)
	case ServiceRAG:
		// Readiness only: the pipeline is healthy when its dependencies
		// exist. Probing through it would duplicate their checks.
		if ragSvc == nil {
			return errors.New("not initialized")
		}
		return nil
	case ServiceIngest:
		if ingestSvc == nil {
			return errors.New("not initialized")
		}
		return nil
	case ServiceStream:
		if streams == nil {
			return errors.New("not initialized")
		}
		return nil
	}
	return fmt.Errorf("unknown service %q", name)
}

func (f *Factory) applyProbeResult(name string, err error) {
	var (
		restart  bool
		failures int
	)

	f.mu.Lock()
	record := f.info[name]
	record.LastCheck = time.Now()
	if err == nil {
		record.Status = StatusHealthy
		record.HealthData = nil
		f.failures[name] = 0
		f.metrics.ServiceHealthy.WithLabelValues(name).Set(1)
		f.mu.Unlock()
		return
	}

	record.ErrorCount++
	record.HealthData = map[string]interface{}{"error": err.Error()}
	if record.Status != StatusError {
		record.Status = StatusUnhealthy
	}
	f.failures[name]++
	failures = f.failures[name]
	f.metrics.ServiceHealthy.WithLabelValues(name).Set(0)

	threshold := f.cfg.Monitoring.AlertThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if failures >= threshold {
		restart = f.cfg.Monitoring.AutoRecovery
		f.failures[name] = 0
	}
	f.mu.Unlock()

	f.logger.Warn("service health check failed", "service", name, "error", err, "consecutive", failures)

	if failures >= threshold {
		f.bus.Publish(Alert{
			Service:   name,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("%s failed %d consecutive health checks: %v", name, failures, err),
			Timestamp: time.Now(),
		})
	}
	if restart {
		f.restart(name)
	}
}

// restart disposes and re-initializes one service. Dependents holding the
// old instance are rebuilt so they pick up the replacement.
func (f *Factory) restart(name string) {
	f.logger.Info("restarting service", "service", name)

	switch name {
	case ServiceStore:
		// The store recovers in place by reconnecting its primary backend.
		if err := f.Store().Reconnect(); err != nil {
			f.logger.Error("store reconnect failed", "error", err)
			return
		}
		f.markHealthy(name)
		return
	case ServiceEmbedding, ServiceLLM, ServiceProcessor:
		f.initService(name)
		f.rebuildDependents()
	case ServiceRAG, ServiceIngest, ServiceStream:
		f.initService(name)
	}
}

// rebuildDependents reconstructs the pipeline services that capture direct
// references to lower-level services.
func (f *Factory) rebuildDependents() {
	f.initService(ServiceRAG)
	f.initService(ServiceIngest)
}

func (f *Factory) markHealthy(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.info[name]
	record.Status = StatusHealthy
	record.HealthData = nil
	record.LastCheck = time.Now()
}

// Snapshot returns the current overall status and per-service records.
func (f *Factory) Snapshot() HealthSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	services := make(map[string]ServiceInfo, len(f.info))
	allHealthy := true
	anyUnhealthy := false
	for name, record := range f.info {
		services[name] = *record
		switch record.Status {
		case StatusHealthy:
		case StatusUnhealthy:
			allHealthy = false
			anyUnhealthy = true
		default:
			allHealthy = false
		}
	}

	overall := OverallHealthy
	if !allHealthy {
		if anyUnhealthy {
			overall = OverallDegraded
		} else {
			overall = OverallUnhealthy
		}
	}

	return HealthSnapshot{Timestamp: time.Now(), Overall: overall, Services: services}
}

// Trend classifies the recent health history.
func (f *Factory) Trend() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return trend(f.history)
}

// Close shuts the owned services down in reverse dependency order.
func (f *Factory) Close() error {
	f.mu.Lock()
	streams, ingestSvc, storeSvc, llmSvc := f.streams, f.ingestSvc, f.storeSvc, f.llmSvc
	f.mu.Unlock()

	if streams != nil {
		streams.Shutdown()
	}
	if ingestSvc != nil {
		_ = ingestSvc.Close()
	}
	if storeSvc != nil {
		_ = storeSvc.Close()
	}
	if llmSvc != nil {
		_ = llmSvc.Close()
	}
	return nil
}
