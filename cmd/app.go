package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/embedding"
	"github.com/bwads001/claude-conversation-analyzer/internal/ingest"
	"github.com/bwads001/claude-conversation-analyzer/internal/metrics"
	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
	"github.com/bwads001/claude-conversation-analyzer/internal/store/pg"
	"github.com/bwads001/claude-conversation-analyzer/internal/store/sqlitestore"
	"github.com/bwads001/claude-conversation-analyzer/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

// app holds the components a command works with.
type app struct {
	cfg     *config.Config
	store   store.Store
	gen     *embedding.Generator
	metrics *metrics.Metrics
}

// openApp loads the config and opens the store and, when withEmbedder is
// set, the embedding generator.
func openApp(ctx context.Context, withEmbedder bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, metrics: metrics.New()}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if withEmbedder {
		a.gen, err = embedding.NewGeneratorFromConfig(cfg.Embedding, a.metrics, log.Logger)
		if err != nil {
			a.store.Close()
			return nil, err
		}
	}
	return a, nil
}

// startTracing installs the OTLP exporter when tracing.endpoint is set.
// The returned func flushes pending spans.
func (a *app) startTracing(ctx context.Context) (func(), error) {
	shutdown, err := tracing.Setup(ctx, a.cfg.Tracing, Version)
	if err != nil {
		return nil, err
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}, nil
}

func (a *app) Close() {
	if a.gen != nil {
		if err := a.gen.Close(); err != nil {
			log.Warn().Err(err).Msg("close embedding cache")
		}
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close store")
	}
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.ResolvedBackend() {
	case config.BackendPostgres:
		s, err := pg.New(ctx, cfg.Database, cfg.Embedding.Dimensions, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := sqlitestore.New(ctx, cfg.Database.Path, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return s, nil
	}
}

func (a *app) pipeline(dryRun bool, concurrency int) *ingest.Pipeline {
	if concurrency <= 0 {
		concurrency = a.cfg.Ingest.Concurrency
	}
	var gen ingest.Embedder
	if a.gen != nil {
		gen = a.gen
	}
	return ingest.NewPipeline(a.store, gen, ingest.Options{
		Concurrency:       concurrency,
		MinChars:          a.cfg.Embedding.MinChars,
		LargeMessageChars: a.cfg.Embedding.MaxInputChars,
		DryRun:            dryRun,
	}, a.metrics, log.Logger)
}

func (a *app) engine() *search.Engine {
	var qe search.QueryEmbedder
	if a.gen != nil {
		qe = a.gen
	}
	return search.NewEngine(a.store, qe, a.cfg.Search, a.metrics, log.Logger)
}
