package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/zerorag/zerorag/pkg/domain"
)

// OpenAIProvider generates text through an OpenAI-compatible chat API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, baseURL, model string, timeout time.Duration) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", domain.ErrInvalidInput)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }
func (p *OpenAIProvider) Close() error  { return nil }

func (p *OpenAIProvider) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%w: openai api not reachable: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func (p *OpenAIProvider) params(prompt string, opts *domain.GenerationOptions) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	if opts != nil {
		if opts.Temperature > 0 {
			params.Temperature = param.NewOpt(opts.Temperature)
		}
		if opts.MaxTokens > 0 {
			params.MaxTokens = param.NewOpt(int64(opts.MaxTokens))
		}
	}
	return params
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (*domain.LLMResponse, error) {
	start := time.Now()

	completion, err := p.client.Chat.Completions.New(ctx, p.params(prompt, opts))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: openai call: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: openai generation failed: %v", domain.ErrGenerationFailed, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in openai response", domain.ErrGenerationFailed)
	}

	return &domain.LLMResponse{
		Text:         completion.Choices[0].Message.Content,
		Provider:     p.Name(),
		ModelName:    completion.Model,
		TokensUsed:   int(completion.Usage.CompletionTokens),
		ResponseTime: time.Since(start),
		Metadata: map[string]interface{}{
			"id":      completion.ID,
			"created": completion.Created,
		},
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(prompt, opts))
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: stream cancelled: %v", domain.ErrTimeout, err)
		}

		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			callback(delta)
		}
		if chunk.Choices[0].FinishReason != "" {
			break
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: stream cancelled: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: openai stream failed: %v", domain.ErrGenerationFailed, err)
	}
	return nil
}
