// Package embedding turns message text into unit-length vectors through a
// remote embedding service. It owns chunking of long inputs, batching,
// retries, validation and a two-tier vector cache.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
)

// Provider generates vector embeddings for text.
type Provider interface {
	Name() string
	Model() string
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Pinger is implemented by providers that can report service health.
type Pinger interface {
	// Ping returns nil when the service is reachable and the model is available.
	Ping(ctx context.Context) error
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Client:  client,
		}), nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Client:     client,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
