package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/llm/providers"
	"github.com/zerorag/zerorag/pkg/log"
)

const tokenEncoding = "cl100k_base"

// ProviderMetrics counts per-provider call outcomes.
type ProviderMetrics struct {
	Calls       int           `json:"calls"`
	Failures    int           `json:"failures"`
	LastLatency time.Duration `json:"last_latency"`
	LastError   string        `json:"last_error,omitempty"`
}

// Service routes generation calls to the configured providers. One provider
// is current; a failing call is retried on the other provider exactly once.
type Service struct {
	cfg       *config.Config
	providers map[string]providers.Provider
	logger    *slog.Logger

	mu      sync.Mutex
	current string
	metrics map[string]*ProviderMetrics

	tokOnce   sync.Once
	tokenizer *tiktoken.Tiktoken
}

// NewService builds the provider set and probes the configured primary.
// A failed probe selects the secondary when one exists; the service still
// starts when both are down so calls can recover later.
func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{
		cfg:       cfg,
		providers: make(map[string]providers.Provider),
		metrics:   make(map[string]*ProviderMetrics),
		logger:    log.WithModule("llm"),
	}

	s.providers["ollama"] = providers.NewOllamaProvider(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel, cfg.LLM.Timeout)
	s.metrics["ollama"] = &ProviderMetrics{}

	if cfg.LLM.OpenAIAPIKey != "" {
		openaiProvider, err := providers.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIModel, cfg.LLM.Timeout)
		if err != nil {
			return nil, err
		}
		s.providers["openai"] = openaiProvider
		s.metrics["openai"] = &ProviderMetrics{}
	}

	primary := cfg.LLM.Primary
	if _, ok := s.providers[primary]; !ok {
		return nil, fmt.Errorf("%w: primary provider %q is not configured", domain.ErrInvalidInput, primary)
	}
	s.current = primary

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.providers[primary].Health(ctx); err != nil {
		s.logger.Warn("primary llm provider unavailable at startup", "provider", primary, "error", err)
		if secondary := s.other(primary); secondary != "" {
			if err := s.providers[secondary].Health(ctx); err == nil {
				s.current = secondary
				s.logger.Info("selected secondary llm provider", "provider", secondary)
			}
		}
	}

	return s, nil
}

// CurrentProvider returns the provider receiving new calls.
func (s *Service) CurrentProvider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SwitchProvider selects a provider by name. Takes effect for subsequent
// calls only.
func (s *Service) SwitchProvider(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[name]; !ok {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, name)
	}
	s.current = name
	return nil
}

// Metrics returns a copy of per-provider call counters.
func (s *Service) Metrics() map[string]ProviderMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ProviderMetrics, len(s.metrics))
	for name, m := range s.metrics {
		out[name] = *m
	}
	return out
}

// Health probes the current provider.
func (s *Service) Health(ctx context.Context) error {
	return s.providers[s.CurrentProvider()].Health(ctx)
}

func (s *Service) Close() error {
	for _, p := range s.providers {
		_ = p.Close()
	}
	return nil
}

// other returns the name of the alternate provider, or "" if only one is
// configured.
func (s *Service) other(name string) string {
	for candidate := range s.providers {
		if candidate != name {
			return candidate
		}
	}
	return ""
}

func (s *Service) record(name string, latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics[name]
	m.Calls++
	m.LastLatency = latency
	if err != nil {
		m.Failures++
		m.LastError = err.Error()
	}
}

func (s *Service) applyDefaults(opts *domain.GenerationOptions) *domain.GenerationOptions {
	merged := domain.GenerationOptions{}
	if opts != nil {
		merged = *opts
	}
	if merged.Temperature == 0 {
		merged.Temperature = s.cfg.LLM.Temperature
	}
	if merged.MaxTokens == 0 {
		merged.MaxTokens = s.cfg.LLM.MaxTokens
	}
	if merged.Timeout == 0 {
		merged.Timeout = s.cfg.LLM.Timeout
	}
	return &merged
}

// Generate produces a unary completion, failing over to the alternate
// provider once.
func (s *Service) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (*domain.LLMResponse, error) {
	opts = s.applyDefaults(opts)
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	name := s.CurrentProvider()
	start := time.Now()
	resp, err := s.providers[name].Generate(ctx, prompt, opts)
	s.record(name, time.Since(start), err)
	if err == nil {
		s.finishResponse(resp)
		return resp, nil
	}

	alternate := s.other(name)
	if alternate == "" {
		return nil, err
	}

	s.logger.Warn("provider failed, trying alternate", "provider", name, "alternate", alternate, "error", err)
	start = time.Now()
	resp, altErr := s.providers[alternate].Generate(ctx, prompt, opts)
	s.record(alternate, time.Since(start), altErr)
	if altErr != nil {
		return nil, fmt.Errorf("%w: both providers failed: %v; %v", domain.ErrGenerationFailed, err, altErr)
	}
	s.finishResponse(resp)
	return resp, nil
}

// Stream produces chunks through callback. Failover happens only when the
// current provider fails before emitting any chunk; a mid-stream failure
// propagates so the caller does not receive duplicated output.
func (s *Service) Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error {
	opts = s.applyDefaults(opts)
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	emitted := false
	wrapped := func(chunk string) {
		emitted = true
		callback(chunk)
	}

	name := s.CurrentProvider()
	start := time.Now()
	err := s.providers[name].Stream(ctx, prompt, opts, wrapped)
	s.record(name, time.Since(start), err)
	if err == nil {
		return nil
	}
	if emitted {
		return err
	}

	alternate := s.other(name)
	if alternate == "" {
		return err
	}

	s.logger.Warn("provider stream failed, trying alternate", "provider", name, "alternate", alternate, "error", err)
	start = time.Now()
	altErr := s.providers[alternate].Stream(ctx, prompt, opts, wrapped)
	s.record(alternate, time.Since(start), altErr)
	if altErr != nil {
		return fmt.Errorf("%w: both providers failed: %v; %v", domain.ErrGenerationFailed, err, altErr)
	}
	return nil
}

// finishResponse fills in a token estimate when the provider did not report
// usage.
func (s *Service) finishResponse(resp *domain.LLMResponse) {
	if resp.TokensUsed == 0 {
		resp.TokensUsed = s.EstimateTokens(resp.Text)
	}
}

// EstimateTokens counts tokens with the cl100k_base encoding, falling back
// to a chars/4 heuristic when the encoding is not loadable.
func (s *Service) EstimateTokens(text string) int {
	s.tokOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			s.logger.Warn("token encoding unavailable, using heuristic", "error", err)
			return
		}
		s.tokenizer = enc
	})

	if s.tokenizer != nil {
		return len(s.tokenizer.Encode(text, nil, nil))
	}
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
