package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zerorag/zerorag/pkg/domain"
)

// OllamaProvider generates text through an Ollama HTTP endpoint.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// Streaming responses outlive any fixed body timeout; the caller
		// bounds each call through the context instead.
		client: &http.Client{Timeout: 0},
	}
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.model }
func (p *OllamaProvider) Close() error  { return nil }

func (p *OllamaProvider) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama unreachable: %v", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama returned %d", domain.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (*domain.LLMResponse, error) {
	start := time.Now()

	resp, err := p.send(ctx, prompt, opts, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("%w: malformed ollama response: %v", domain.ErrGenerationFailed, err)
	}

	return &domain.LLMResponse{
		Text:         or.Response,
		Provider:     p.Name(),
		ModelName:    or.Model,
		TokensUsed:   or.EvalCount,
		ResponseTime: time.Since(start),
	}, nil
}

// Stream invokes callback once per generated token chunk. The callback is
// not called again after the context is cancelled.
func (p *OllamaProvider) Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error {
	resp, err := p.send(ctx, prompt, opts, true)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: stream cancelled: %v", domain.ErrTimeout, err)
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var or ollamaResponse
		if err := json.Unmarshal(line, &or); err != nil {
			return fmt.Errorf("%w: malformed stream line: %v", domain.ErrGenerationFailed, err)
		}
		if or.Response != "" {
			callback(or.Response)
		}
		if or.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: stream cancelled: %v", domain.ErrTimeout, ctx.Err())
		}
		return fmt.Errorf("%w: reading stream: %v", domain.ErrGenerationFailed, err)
	}
	return nil
}

func (p *OllamaProvider) send(ctx context.Context, prompt string, opts *domain.GenerationOptions, stream bool) (*http.Response, error) {
	options := map[string]any{}
	if opts != nil {
		if opts.Temperature > 0 {
			options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			options["num_predict"] = opts.MaxTokens
		}
	}

	body, err := json.Marshal(ollamaRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  stream,
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: ollama call: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: ollama call failed: %v", domain.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama returned %d: %s",
			domain.ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}
