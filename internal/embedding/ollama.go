package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	// BaseURL of the Ollama server, e.g. "http://localhost:11434".
	BaseURL string

	// Model name, e.g. "nomic-embed-text".
	Model string

	Client *http.Client
}

// OllamaProvider calls a local Ollama server. It prefers the batched
// /api/embed endpoint and falls back to the one-prompt /api/embeddings
// endpoint on servers that predate it.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
	legacy  atomic.Bool
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
	}
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.model }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaLegacyRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaLegacyResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if !p.legacy.Load() {
		var resp ollamaEmbedResponse
		err := p.post(ctx, "/api/embed", ollamaEmbedRequest{Model: p.model, Input: texts}, &resp)
		var apiErr *APIError
		switch {
		case err == nil:
			if len(resp.Embeddings) != len(texts) {
				return nil, fmt.Errorf("%w: ollama returned %d embeddings for %d inputs", ErrInvalidVector, len(resp.Embeddings), len(texts))
			}
			return resp.Embeddings, nil
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound && !strings.Contains(strings.ToLower(apiErr.Message), "model"):
			p.legacy.Store(true)
		default:
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		var resp ollamaLegacyResponse
		if err := p.post(ctx, "/api/embeddings", ollamaLegacyRequest{Model: p.model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		out[i] = resp.Embedding
	}
	return out, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping lists the installed models and checks the configured one is present.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	var tags ollamaTagsResponse
	if err := p.do(req, &tags); err != nil {
		return err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name == p.model || strings.HasPrefix(m.Name, p.model+":") {
			return nil
		}
		names = append(names, m.Name)
	}
	return fmt.Errorf("%w: model %q not installed (available: %s)", ErrUnavailable, p.model, strings.Join(names, ", "))
}

func (p *OllamaProvider) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ollama: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

func (p *OllamaProvider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: ollama: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    ollamaErrorMessage(msg),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: decode: %w", err)
	}
	return nil
}

// ollamaErrorMessage extracts {"error": "..."} bodies, else returns the raw text.
func ollamaErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
