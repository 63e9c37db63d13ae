package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrEmbeddingFailed indicates the underlying model failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider turns text into a vector. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type: "fastembed" (default) or "openai".
	Provider string
	// Model is the embedding model name.
	Model string
	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string
	// BaseURL is the API base URL (OpenAI-compatible providers only).
	// Works for both api.openai.com and local TEI servers.
	BaseURL string
	// APIKey authenticates OpenAI requests. Optional for TEI.
	APIKey string
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: fastembed, openai)", ErrInvalidConfig, cfg.Provider)
	}
}
