package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/embedding"
	"github.com/bwads001/claude-conversation-analyzer/internal/metrics"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
	"github.com/bwads001/claude-conversation-analyzer/internal/store/pg"
)

const doctorTimeout = 10 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database and embedding service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if problems := runDoctor(contextOrBackground(cmd.Context())); problems > 0 {
				return fmt.Errorf("doctor found %d problem(s)", problems)
			}
			return nil
		},
	}
}

// runDoctor prints a report and returns the number of failed checks.
func runDoctor(ctx context.Context) int {
	problems := 0
	fmt.Println("cca doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return 1
	}

	fmt.Println()
	fmt.Println("  Logs:")
	fmt.Printf("    %-12s %s", "Projects:", cfg.Ingest.ProjectsDir)
	if _, err := os.Stat(cfg.Ingest.ProjectsDir); err != nil {
		fmt.Println(" (NOT FOUND)")
		problems++
	} else {
		fmt.Println(" (OK)")
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	fmt.Println()
	fmt.Println("  Database:")
	st, dbProblems := checkDatabase(ctx, cfg)
	problems += dbProblems
	if st != nil {
		defer st.Close()
	}

	fmt.Println()
	fmt.Println("  Embedding:")
	problems += checkEmbedding(ctx, cfg)

	if st != nil {
		fmt.Println()
		fmt.Println("  Models:")
		problems += checkModels(ctx, cfg, st)
	}

	fmt.Println()
	if problems == 0 {
		fmt.Println("Doctor check complete.")
	} else {
		fmt.Printf("Doctor check complete: %d problem(s).\n", problems)
	}
	return problems
}

func checkDatabase(ctx context.Context, cfg *config.Config) (store.Store, int) {
	backend := cfg.ResolvedBackend()
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	if backend == config.BackendSQLite {
		fmt.Printf("    %-12s %s\n", "Path:", cfg.Database.Path)
	} else {
		fmt.Printf("    %-12s %s\n", "DSN:", maskDSN(cfg.Database.DSN))
	}

	if backend == config.BackendPostgres {
		db, err := pg.OpenDB(ctx, cfg.Database)
		if err != nil {
			report("Connect:", err)
			return nil, 1
		}
		s := pg.NewWithDB(db, cfg.Database.BulkBatchSize, zerolog.Nop())
		problems := 0
		version, err := s.HasPgvector(ctx)
		switch {
		case err != nil:
			report("pgvector:", err)
			problems++
		case version == "":
			fmt.Printf("    %-12s NOT INSTALLED (run: cca migrate up)\n", "pgvector:")
			problems++
		default:
			fmt.Printf("    %-12s %s\n", "pgvector:", version)
		}
		if err := s.CheckDimensions(ctx, cfg.Embedding.Dimensions); err != nil {
			report("Dimensions:", err)
			problems++
		} else {
			fmt.Printf("    %-12s %d\n", "Dimensions:", cfg.Embedding.Dimensions)
		}
		return s, problems
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		report("Open:", err)
		return nil, 1
	}
	if err := s.Ping(ctx); err != nil {
		report("Ping:", err)
		return s, 1
	}
	fmt.Printf("    %-12s OK\n", "Ping:")
	return s, 0
}

func checkEmbedding(ctx context.Context, cfg *config.Config) int {
	fmt.Printf("    %-12s %s\n", "Provider:", cfg.Embedding.Provider)
	fmt.Printf("    %-12s %s\n", "URL:", cfg.Embedding.BaseURL)
	fmt.Printf("    %-12s %s (%d dims)\n", "Model:", cfg.Embedding.Model, cfg.Embedding.Dimensions)
	if cfg.Embedding.APIKey != "" {
		fmt.Printf("    %-12s %s\n", "API key:", maskSecret(cfg.Embedding.APIKey))
	}

	ecfg := cfg.Embedding
	ecfg.CacheSize = 0
	gen, err := embedding.NewGeneratorFromConfig(ecfg, metrics.New(), zerolog.Nop())
	if err != nil {
		report("Setup:", err)
		return 1
	}
	defer gen.Close()
	if err := gen.Ping(ctx); err != nil {
		report("Reachable:", err)
		return 1
	}
	fmt.Printf("    %-12s OK\n", "Reachable:")
	return 0
}

// checkModels flags vectors written by a model other than the configured
// one: such rows are invisible to semantic search until backfilled.
func checkModels(ctx context.Context, cfg *config.Config, st store.Store) int {
	models, err := st.EmbeddingModels(ctx)
	if err != nil {
		report("List:", err)
		return 1
	}
	if len(models) == 0 {
		fmt.Println("    (no embeddings stored yet)")
		return 0
	}
	problems := 0
	for _, m := range models {
		status := "OK"
		switch {
		case m.Model != cfg.Embedding.Model:
			status = "differs from embedding.model; run: cca backfill"
			if m.Messages > 0 {
				problems++
			}
		case m.Dimensions != cfg.Embedding.Dimensions:
			status = fmt.Sprintf("stored with %d dims, config says %d", m.Dimensions, cfg.Embedding.Dimensions)
			problems++
		}
		fmt.Printf("    %-28s %d messages  %s\n", m.Model, m.Messages, status)
	}
	return problems
}

func report(label string, err error) {
	fmt.Printf("    %-12s FAILED: %s\n", label, err)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// maskDSN hides the password in a postgres URL.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dsn
	}
	return dsn[:scheme+3] + user + ":****" + dsn[at:]
}
