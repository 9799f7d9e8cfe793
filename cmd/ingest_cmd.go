package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bwads001/claude-conversation-analyzer/internal/ingest"
	"github.com/bwads001/claude-conversation-analyzer/internal/search"
)

type ingestFlags struct {
	all         bool
	project     string
	files       []string
	since       string
	dryRun      bool
	concurrency int
	watch       bool
	json        bool
}

func ingestCmd() *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest session logs from the projects directory",
		Long: `Parse session logs, embed new or changed messages and store them.
Re-running over unchanged files writes nothing. Files that fail are
reported and the exit code is non-zero, but never stop other files.`,
		Example: `  cca ingest --all
  cca ingest --project api --since 24h
  cca ingest --file ~/.claude/projects/-home-me-api/0b1c.jsonl --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVar(&f.all, "all", false, "ingest every project")
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "only projects whose name contains this (case-insensitive)")
	cmd.Flags().StringSliceVarP(&f.files, "file", "f", nil, "ingest these files only")
	cmd.Flags().StringVar(&f.since, "since", "", "only files modified within this duration (24h) or since this date")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "parse and embed but do not write")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "files processed in parallel (default from config)")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "keep running and ingest files as they change")
	cmd.Flags().BoolVar(&f.json, "json", false, "output the summary as JSON")
	return cmd
}

func runIngest(ctx context.Context, f ingestFlags) error {
	if !f.all && f.project == "" && len(f.files) == 0 && !f.watch {
		return errors.New("nothing to ingest: pass --all, --project or --file")
	}
	since, err := parseSince(f.since, time.Now())
	if err != nil {
		return err
	}

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

	root := a.cfg.Ingest.ProjectsDir
	files, err := ingest.Discover(root, ingest.DiscoverOptions{
		Project: f.project,
		Files:   expandFiles(f.files),
		Since:   since,
	})
	if err != nil {
		return err
	}

	p := a.pipeline(f.dryRun, f.concurrency)
	sum, err := p.Run(ctx, files)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if f.json {
		if err := printJSON(os.Stdout, sum); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, sum)
	}

	if f.watch && ctx.Err() == nil {
		w := ingest.NewWatcher(root, p, ingest.WatchOptions{
			Debounce: a.cfg.Ingest.Debounce.Duration,
			Project:  f.project,
			OnResult: func(r ingest.FileResult) { printResultLine(os.Stdout, r) },
		}, log.Logger)
		fmt.Fprintf(os.Stderr, "Watching %s for changes (Ctrl+C to stop)\n", root)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", sum.Failed, sum.Files)
	}
	return nil
}

// parseSince accepts a duration back from now or an absolute date.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since must be positive, got %s", s)
		}
		return now.Add(-d), nil
	}
	t, err := search.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since: want a duration like 24h or a date like 2026-01-31, got %q", s)
	}
	return *t, nil
}

func expandFiles(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = expandPath(f)
		if abs, err := filepath.Abs(f); err == nil {
			f = abs
		}
		out = append(out, f)
	}
	return out
}

func printSummary(w io.Writer, sum *ingest.Summary) {
	if sum.Files == 0 {
		fmt.Fprintln(w, "No session logs found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "STATUS\tPROJECT\tSESSION\tMESSAGES\tNEW\tUPDATED\tEMBEDDED\tSKIPPED\tERROR\n")
	for _, r := range sum.Results {
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 60)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Status,
			truncate(r.Project, 30),
			truncate(sessionOf(r), 12),
			r.Messages,
			r.Inserted,
			r.Updated,
			r.Embedded,
			r.SkippedLines,
			errText,
		)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d files: %d ingested, %d unchanged, %d failed", sum.Files, sum.Ingested, sum.Unchanged, sum.Failed)
	if sum.DryRun > 0 {
		fmt.Fprintf(w, ", %d dry run", sum.DryRun)
	}
	fmt.Fprintf(w, "\n%d messages: %d new, %d updated, %d embedded", sum.Messages, sum.Inserted, sum.Updated, sum.Embedded)
	if sum.EmbedFailed > 0 {
		fmt.Fprintf(w, ", %d without embedding (run: cca backfill)", sum.EmbedFailed)
	}
	if sum.SkippedLines > 0 {
		fmt.Fprintf(w, ", %d malformed lines skipped", sum.SkippedLines)
	}
	fmt.Fprintln(w)
}

func printResultLine(w io.Writer, r ingest.FileResult) {
	line := fmt.Sprintf("%s %s %s: %d messages, %d new, %d updated, %d embedded",
		time.Now().Format(time.TimeOnly), r.Status, filepath.Base(r.Path), r.Messages, r.Inserted, r.Updated, r.Embedded)
	if r.Err != nil {
		line += " (" + r.Err.Error() + ")"
	}
	fmt.Fprintln(w, line)
}

func sessionOf(r ingest.FileResult) string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return filepath.Base(r.Path)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
