package providers

import (
	"context"

	"github.com/zerorag/zerorag/pkg/domain"
)

// Provider is one text-generation backend.
type Provider interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (*domain.LLMResponse, error)
	Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error
	Health(ctx context.Context) error
	Close() error
}
