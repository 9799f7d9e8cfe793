// Package search runs filtered similarity and keyword queries over the
// conversation store and ranks results deterministically.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/metrics"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

var tracer = otel.Tracer("github.com/bwads001/claude-conversation-analyzer/internal/search")

// Model policies applied when the corpus was embedded by another model.
const (
	PolicyReject = "reject"
	PolicyWarn   = "warn"
)

// QueryEmbedder embeds query text with the ingestion model.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Engine answers search and expand requests. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	store    store.SearchStore
	embedder QueryEmbedder
	cfg      config.SearchConfig
	bands    Bands
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEngine builds an engine. embedder may be nil, in which case semantic
// queries fail with ErrUnavailable.
func NewEngine(st store.SearchStore, embedder QueryEmbedder, cfg config.SearchConfig, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	def := config.Default().Search
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 1
	}
	if cfg.ModelPolicy == "" {
		cfg.ModelPolicy = PolicyReject
	}
	if cfg.Bands == (config.BandsConfig{}) {
		cfg.Bands = def.Bands
	}
	return &Engine{
		store:    st,
		embedder: embedder,
		cfg:      cfg,
		bands:    bandsFromConfig(cfg.Bands),
		metrics:  m,
		logger:   logger.With().Str("component", "search").Logger(),
	}
}

// Bands returns the labels attached to semantic results.
func (e *Engine) Bands() Bands { return e.bands }

// Search validates q, applies filters before ranking and returns at most
// q.Limit results. No matches is a successful empty response.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.query")
	defer span.End()

	resp, err := e.search(ctx, q)
	mode := string(ModeSemantic)
	if q.Mode == ModeKeyword {
		mode = string(ModeKeyword)
	}
	e.metrics.ObserveSearch(mode, searchStatus(err), time.Since(start))
	span.SetAttributes(attribute.String("mode", mode), attribute.String("status", searchStatus(err)))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(resp.Results)))
	resp.TookMS = time.Since(start).Milliseconds()
	return resp, nil
}

func (e *Engine) search(ctx context.Context, q Query) (*Response, error) {
	q, filter, err := e.normalize(q)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		Query:       q.Text,
		Mode:        q.Mode,
		MaxDistance: *q.MaxDistance,
		Limit:       q.Limit,
		Results:     []Result{},
	}
	filter.Limit = min(q.Limit*e.cfg.CandidateMultiplier, store.MaxSearchLimit)

	var hits []store.SearchHit
	switch q.Mode {
	case ModeKeyword:
		hits, err = e.store.SearchKeyword(ctx, q.Text, filter)
	default:
		hits, err = e.semantic(ctx, q.Text, filter, resp)
	}
	if err != nil {
		return nil, err
	}

	candidates := len(hits)
	store.SortHits(hits, q.Project)
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	for _, h := range hits {
		r := Result{
			SearchHit:    h,
			Similarity:   1 - h.Distance,
			ProjectMatch: store.MatchProject(h.ProjectName, q.Project),
		}
		if q.Mode == ModeSemantic {
			r.Band = e.bands.Label(h.Distance)
		}
		resp.Results = append(resp.Results, r)
	}
	e.logger.Debug().
		Str("mode", string(q.Mode)).
		Str("project", q.Project).
		Int("candidates", candidates).
		Int("results", len(resp.Results)).
		Msg("search complete")
	return resp, nil
}

func (e *Engine) semantic(ctx context.Context, text string, filter store.SearchFilter, resp *Response) ([]store.SearchHit, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrUnavailable)
	}
	model := e.embedder.Model()
	resp.Model = model
	filter.Model = model

	warning, err := e.checkModel(ctx, model)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		resp.Warnings = append(resp.Warnings, warning)
	}

	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn().Err(err).Str("model", model).Msg("query embedding failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e.store.SearchSimilar(ctx, vec, filter)
}

// checkModel compares the query model with the models recorded in the store.
// An empty corpus is never a mismatch.
func (e *Engine) checkModel(ctx context.Context, model string) (string, error) {
	models, err := e.store.EmbeddingModels(ctx)
	if err != nil {
		return "", err
	}
	embedded := 0
	var others []string
	for _, m := range models {
		if m.Model == model && m.Messages > 0 {
			return "", nil
		}
		if m.Messages > 0 {
			embedded += m.Messages
			others = append(others, m.Model)
		}
	}
	if embedded == 0 {
		return "", nil
	}
	msg := fmt.Sprintf("query model %q has no vectors; corpus is embedded with %s", model, strings.Join(others, ", "))
	if e.cfg.ModelPolicy == PolicyWarn {
		e.logger.Warn().Str("model", model).Strs("corpus_models", others).Msg("embedding model mismatch")
		return msg + "; run: cca backfill", nil
	}
	return "", fmt.Errorf("%w: %s", ErrModelMismatch, msg)
}

func searchStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, store.ErrInvalidFilter):
		return "invalid"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrModelMismatch):
		return "mismatch"
	}
	return "error"
}

// Projects lists projects with conversation and message counts.
func (e *Engine) Projects(ctx context.Context) ([]store.ProjectInfo, error) {
	return e.store.ListProjects(ctx)
}

// Stats returns corpus counters.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.Stats(ctx)
}
