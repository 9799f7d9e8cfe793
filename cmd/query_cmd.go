package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

type searchFlags struct {
	project   string
	role      string
	after     string
	before    string
	threshold float64
	limit     int
	keyword   bool
	json      bool
}

func searchCmd() *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search ingested messages by meaning (or keywords)",
		Example: `  cca search "why did the migration fail"
  cca search connection pool --project api --role assistant --threshold 0.5
  cca search pgvector --keyword --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := search.Query{
				Text:    strings.Join(args, " "),
				Project: f.project,
				Role:    f.role,
				Limit:   f.limit,
				Mode:    search.ModeSemantic,
			}
			if f.keyword {
				q.Mode = search.ModeKeyword
			}
			var err error
			if q.After, err = search.ParseTime(f.after); err != nil {
				return err
			}
			if q.Before, err = search.ParseTime(f.before); err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				q.MaxDistance = &f.threshold
			}
			return runSearch(cmd.Context(), q, f.json)
		},
	}
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "project name contains (case-insensitive)")
	cmd.Flags().StringVarP(&f.role, "role", "r", "", "only this role: "+strings.Join(store.Roles, ", "))
	cmd.Flags().StringVar(&f.after, "after", "", "only messages at or after this time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.before, "before", "", "only messages before this time")
	cmd.Flags().Float64VarP(&f.threshold, "threshold", "t", 0, "maximum cosine distance (default from config)")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "maximum results (default from config)")
	cmd.Flags().BoolVarP(&f.keyword, "keyword", "k", false, "full-text search; works without the embedding service")
	cmd.Flags().BoolVar(&f.json, "json", false, "output as JSON")
	return cmd
}

func runSearch(ctx context.Context, q search.Query, asJSON bool) error {
	ctx = contextOrBackground(ctx)
	a, err := openApp(ctx, q.Mode != search.ModeKeyword)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine().Search(ctx, q)
	if err != nil {
		return searchError(err)
	}
	if asJSON {
		return printJSON(os.Stdout, resp)
	}
	printSearchResponse(os.Stdout, resp)
	return nil
}

// searchError rewords failures the user can act on.
func searchError(err error) error {
	switch {
	case errors.Is(err, search.ErrUnavailable):
		return fmt.Errorf("search unavailable: the embedding service could not be reached (%w); retry later or use --keyword", err)
	case errors.Is(err, search.ErrModelMismatch):
		return fmt.Errorf("%w; run: cca backfill", err)
	default:
		return err
	}
}

func expandCmd() *cobra.Command {
	var (
		messageID string
		window    int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "expand CONVERSATION_ID",
		Short: "Show a conversation, or the messages around one of its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}
			ctx := contextOrBackground(cmd.Context())
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			exp, err := a.engine().Expand(ctx, search.ExpandRequest{
				ConversationID:  id,
				AnchorMessageID: messageID,
				Window:          window,
			})
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("conversation %s (message %q) not found", id, messageID)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, exp)
			}
			printExpansion(os.Stdout, exp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&messageID, "message", "m", "", "anchor message uuid; omit for the whole conversation")
	cmd.Flags().IntVarP(&window, "window", "w", 0, "messages on each side of the anchor (default 10, max 200)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func projectsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List ingested projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOrBackground(cmd.Context())
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := a.engine().Projects(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, projects)
			}
			printProjects(os.Stdout, projects)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printProjects(w io.Writer, projects []store.ProjectInfo) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects ingested yet. Run: cca ingest --all")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PROJECT\tCONVERSATIONS\tMESSAGES\tLAST ACTIVITY\n")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", truncate(p.Name, 50), p.Conversations, p.Messages, formatTime(p.LastActivity))
	}
	tw.Flush()
}

func statsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOrBackground(cmd.Context())
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.engine().Stats(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, stats)
			}
			printStats(os.Stdout, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printStats(w io.Writer, s *store.Stats) {
	fmt.Fprintf(w, "Conversations: %d\n", s.Conversations)
	fmt.Fprintf(w, "Projects:      %d\n", s.Projects)
	fmt.Fprintf(w, "Messages:      %d (%d embedded)\n", s.Messages, s.Embedded)
	fmt.Fprintf(w, "Events:        %d\n", s.Events)
	fmt.Fprintf(w, "Time span:     %s to %s\n", formatTime(s.FirstMessage), formatTime(s.LastMessage))

	printCounts(w, "By role", s.MessagesByRole)
	printCounts(w, "By event type", s.EventsByType)

	if len(s.Models) > 0 {
		fmt.Fprintln(w, "\nEmbedding models:")
		for _, m := range s.Models {
			fmt.Fprintf(w, "  %-28s %4d dims  %d messages  last seen %s\n", m.Model, m.Dimensions, m.Messages, m.LastSeen.Local().Format("2006-01-02"))
		}
	}
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
	}
}
