package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/metrics"
)

var tracer = otel.Tracer("github.com/bwads001/claude-conversation-analyzer/internal/embedding")

// Options tunes a Generator.
type Options struct {
	Dimensions        int // expected vector size; 0 = fixed by the first vector
	BatchSize         int
	Concurrency       int
	MaxInputChars     int // texts longer than this many runes are chunked
	RequestsPerSecond float64
	Retry             RetryPolicy
	Cache             *Cache
	Metrics           *metrics.Metrics
}

// Result is parallel to the input slice: for each index exactly one of
// Vectors[i] and Failed[i] is set.
type Result struct {
	Vectors [][]float32
	Failed  []error
}

// Succeeded counts items with a vector.
func (r *Result) Succeeded() int {
	n := 0
	for _, v := range r.Vectors {
		if v != nil {
			n++
		}
	}
	return n
}

// Generator embeds texts through a Provider.
type Generator struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	dims     atomic.Int64
	logger   zerolog.Logger
}

// NewGenerator wraps provider with batching, retry, validation and caching.
func NewGenerator(provider Provider, opts Options, logger zerolog.Logger) *Generator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	g := &Generator{
		provider: provider,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, max(1, opts.Concurrency)),
		logger: logger.With().
			Str("component", "embedding").
			Str("provider", provider.Name()).
			Str("model", provider.Model()).
			Logger(),
	}
	g.dims.Store(int64(opts.Dimensions))
	return g
}

// NewGeneratorFromConfig builds the provider and cache described by cfg.
func NewGeneratorFromConfig(cfg config.EmbeddingConfig, m *metrics.Metrics, logger zerolog.Logger) (*Generator, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache, err = NewCache(cfg.CacheSize, cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
	}
	return NewGenerator(provider, Options{
		Dimensions:        cfg.Dimensions,
		BatchSize:         cfg.BatchSize,
		Concurrency:       cfg.Concurrency,
		MaxInputChars:     cfg.MaxInputChars,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry: RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay.Duration,
			MaxDelay:   cfg.Retry.MaxDelay.Duration,
		},
		Cache:   cache,
		Metrics: m,
	}, logger), nil
}

func (g *Generator) Model() string        { return g.provider.Model() }
func (g *Generator) ProviderName() string { return g.provider.Name() }

// Dimensions returns the configured size, or the size of the first vector
// seen when none was configured.
func (g *Generator) Dimensions() int { return int(g.dims.Load()) }

// Ping checks service reachability when the provider supports it.
func (g *Generator) Ping(ctx context.Context) error {
	if p, ok := g.provider.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (g *Generator) Close() error { return g.opts.Cache.Close() }

type unit struct {
	item  int
	chunk int
	text  string
}

// Embed computes one vector per text. Per-item failures are reported in
// Result.Failed; the returned error is non-nil only when ctx ends.
func (g *Generator) Embed(ctx context.Context, texts []string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Result{
		Vectors: make([][]float32, len(texts)),
		Failed:  make([]error, len(texts)),
	}
	model := g.provider.Model()

	keys := make([]string, len(texts))
	chunkVecs := make([][][]float32, len(texts))
	var units []unit
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			res.Failed[i] = ErrEmptyInput
			continue
		}
		keys[i] = CacheKey(model, g.opts.MaxInputChars, text)
		if v, ok := g.opts.Cache.Get(keys[i]); ok {
			g.opts.Metrics.RecordCache("hit")
			res.Vectors[i] = v
			continue
		}
		if g.opts.Cache != nil {
			g.opts.Metrics.RecordCache("miss")
		}
		chunks := Chunk(text, g.opts.MaxInputChars)
		chunkVecs[i] = make([][]float32, len(chunks))
		for c, chunk := range chunks {
			units = append(units, unit{item: i, chunk: c, text: chunk})
		}
	}

	var (
		mu      sync.Mutex
		itemErr = make(map[int]error)
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)
	for b, start := 0, 0; start < len(units); b, start = b+1, start+g.opts.BatchSize {
		batch := units[start:min(start+g.opts.BatchSize, len(units))]
		batchNo := b
		eg.Go(func() error {
			vecs, err := g.embedBatch(egctx, batchNo, batch)
			if err != nil {
				if ctxErr := egctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				for _, u := range batch {
					if _, seen := itemErr[u.item]; !seen {
						itemErr[u.item] = err
					}
				}
				mu.Unlock()
				return nil
			}
			for k, u := range batch {
				chunkVecs[u.item][u.chunk] = vecs[k]
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i := range texts {
		if res.Vectors[i] != nil || res.Failed[i] != nil {
			continue
		}
		if err, failed := itemErr[i]; failed {
			res.Failed[i] = err
			continue
		}
		v, err := Mean(chunkVecs[i])
		if err != nil {
			res.Failed[i] = err
			continue
		}
		res.Vectors[i] = v
		if err := g.opts.Cache.Put(keys[i], model, v); err != nil {
			g.logger.Warn().Err(err).Msg("embedding cache write failed")
		}
	}

	ok := res.Succeeded()
	g.opts.Metrics.RecordEmbeddingItems("success", ok)
	g.opts.Metrics.RecordEmbeddingItems("failed", len(texts)-ok)
	return res, nil
}

// embedBatch calls the provider with retries and validates every vector.
func (g *Generator) embedBatch(ctx context.Context, batchNo int, batch []unit) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "embedding.batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch", batchNo),
		attribute.Int("size", len(batch)),
		attribute.String("model", g.provider.Model()),
	)

	texts := make([]string, len(batch))
	for i, u := range batch {
		texts[i] = u.text
	}

	start := time.Now()
	var out [][]float32
	attempts, err := Retry(ctx, g.opts.Retry, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		vecs, err := g.provider.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d inputs", ErrInvalidVector, len(vecs), len(texts))
		}
		validated := make([][]float32, len(vecs))
		for i, v := range vecs {
			if validated[i], err = g.validate(v); err != nil {
				return err
			}
		}
		out = validated
		return nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil {
		g.opts.Metrics.RecordEmbeddingBatch("error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn().
			Err(err).
			Int("batch", batchNo).
			Int("size", len(batch)).
			Int("attempts", attempts).
			Msg("embedding batch failed")
		return nil, &BatchError{Batch: batchNo, Size: len(batch), Attempts: attempts, Err: err}
	}
	g.opts.Metrics.RecordEmbeddingBatch("ok", time.Since(start))
	g.logger.Debug().Int("batch", batchNo).Int("size", len(batch)).Int("attempts", attempts).Dur("took", time.Since(start)).Msg("embedding batch done")
	return out, nil
}

func (g *Generator) validate(v []float32) ([]float32, error) {
	dims := int(g.dims.Load())
	if dims == 0 && len(v) > 0 {
		g.dims.CompareAndSwap(0, int64(len(v)))
		dims = int(g.dims.Load())
	}
	return Validate(v, dims)
}

// EmbedQuery embeds a single search query. Any failure is reported as
// ErrUnavailable wrapping the cause.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if cause := res.Failed[0]; cause != nil {
		if errors.Is(cause, ErrUnavailable) {
			return nil, cause
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, cause)
	}
	return res.Vectors[0], nil
}
