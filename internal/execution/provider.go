// Package execution talks to language-model providers.
package execution

import (
	"context"
	"time"

	"github.com/promptlint/promptlint/internal/models"
)

//go:generate mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks

// Provider executes one prompt against one model. Implementations own their
// retries and never stream.
type Provider interface {
	// Name is the provider name from the suite.
	Name() string

	// Identity distinguishes endpoints that share a name. It is part of the cache key.
	Identity() string

	// Call sends a single request. Errors are *ProviderError.
	Call(ctx context.Context, req CallRequest) (*CallResponse, error)
}

// CallRequest is one chat completion.
type CallRequest struct {
	Model    string
	Prompt   string
	Sampling models.SamplingConfig
	// Timeout bounds the whole call including retries. Zero means the caller's deadline.
	Timeout time.Duration
}

// CallResponse is the provider's answer.
type CallResponse struct {
	Text  string
	Usage models.Usage
	// Attempts counts requests sent, including retries.
	Attempts int
}

// Embedder turns texts into vectors.
type Embedder interface {
	Model() string
	BatchSize() int

	// Embed returns one vector per input, index-aligned. A failure covers the
	// whole batch.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}
