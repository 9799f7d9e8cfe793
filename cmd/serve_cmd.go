package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	httpapi "github.com/bwads001/claude-conversation-analyzer/internal/http"
	"github.com/bwads001/claude-conversation-analyzer/internal/ingest"
)

func serveCmd() *cobra.Command {
	var (
		listen string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, plus the log watcher and ingest schedule when enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listen, watch)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "ingest session logs as they change")
	return cmd
}

func runServe(ctx context.Context, listen string, watch bool) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	stopTracing, err := a.startTracing(ctx)
	if err != nil {
		return err
	}
	defer stopTracing()

	srv := httpapi.NewServer(a.cfg.Server, httpapi.Deps{
		Searcher: a.engine(),
		Store:    a.store,
		Embedder: a.gen,
		Metrics:  a.metrics,
	}, log.Logger)

	p := a.pipeline(false, 0)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Listen(listen)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if watch {
		w := ingest.NewWatcher(a.cfg.Ingest.ProjectsDir, p, ingest.WatchOptions{
			Debounce: a.cfg.Ingest.Debounce.Duration,
		}, log.Logger)
		g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
	}

	if a.cfg.Ingest.Schedule != "" {
		sched, err := ingest.NewScheduler(a.cfg.Ingest.Schedule, scheduledIngest(a.cfg, p), log.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	if cw := watchConfig(); cw != nil {
		defer cw.Stop()
	}

	return g.Wait()
}

// scheduledIngest ingests everything changed since the last clean run, then
// backfills missing embeddings. A run with failed files keeps the cursor,
// so those files are retried next time.
func scheduledIngest(cfg *config.Config, p *ingest.Pipeline) ingest.Job {
	var last time.Time
	return func(ctx context.Context) error {
		started := time.Now()
		files, err := ingest.Discover(cfg.Ingest.ProjectsDir, ingest.DiscoverOptions{Since: last})
		if err != nil {
			return err
		}
		sum, err := p.Run(ctx, files)
		if err != nil {
			return err
		}
		if sum.Failed == 0 {
			last = started
		}
		if _, err := p.Backfill(ctx, 0); err != nil {
			return err
		}
		if sum.Failed > 0 {
			return fmt.Errorf("%d of %d files failed", sum.Failed, sum.Files)
		}
		return nil
	}
}

// watchConfig reloads the config file on change and applies the new log
// level. Other settings need a restart.
func watchConfig() *config.Watcher {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	cw, err := config.NewWatcher(path)
	if err != nil {
		log.Warn().Err(err).Msg("config watcher disabled")
		return nil
	}
	cw.OnChange(func(cfg *config.Config) {
		if logLevel != "" {
			return
		}
		level, err := parseLevel(cfg.Log.Level)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring reloaded log level")
			return
		}
		if level != zerolog.GlobalLevel() {
			zerolog.SetGlobalLevel(level)
			log.Info().Str("level", level.String()).Msg("log level changed")
		}
	})
	if err := cw.Start(); err != nil {
		log.Warn().Err(err).Msg("config watcher disabled")
		cw.Stop()
		return nil
	}
	return cw
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
