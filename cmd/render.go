package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

const snippetWidth = 240

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	projectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	roleStyles   = map[string]lipgloss.Style{
		store.RoleUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		store.RoleAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141")),
	}
	bandStyles = map[string]lipgloss.Style{
		search.BandVerySimilar:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		search.BandRelevant:        lipgloss.NewStyle().Foreground(lipgloss.Color("118")),
		search.BandSomewhatRelated: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		search.BandWeak:            lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// truncate cuts s to at most width terminal cells.
func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

// snippet flattens whitespace so a message fits on a few lines.
func snippet(s string, width int) string {
	return truncate(strings.Join(strings.Fields(s), " "), width)
}

func roleLabel(role string) string {
	if st, ok := roleStyles[role]; ok {
		return st.Render(role)
	}
	return dimStyle.Render(role)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printSearchResponse(w io.Writer, resp *search.Response) {
	for _, warn := range resp.Warnings {
		fmt.Fprintln(w, warnStyle.Render("warning: "+warn))
	}
	if len(resp.Results) == 0 {
		fmt.Fprintf(w, "No results for %q (mode %s, threshold %.2f).\n", resp.Query, resp.Mode, resp.MaxDistance)
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d results for %q", len(resp.Results), resp.Query)))
	for i, r := range resp.Results {
		score := fmt.Sprintf("distance %.3f", r.Distance)
		if r.Band != "" {
			st, ok := bandStyles[r.Band]
			if !ok {
				st = dimStyle
			}
			score += " " + st.Render(r.Band)
		}
		fmt.Fprintf(w, "\n%s %s  %s  %s  %s\n",
			headerStyle.Render(fmt.Sprintf("%2d.", i+1)),
			projectStyle.Render(r.ProjectName),
			roleLabel(r.Role),
			dimStyle.Render(formatTime(r.Timestamp)),
			score,
		)
		fmt.Fprintf(w, "    %s\n", snippet(r.Content, snippetWidth))
		fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("cca expand %s --message %s", r.ConversationID, r.MessageUUID)))
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("\n%s search, %d ms", resp.Mode, resp.TookMS)))
}

func printExpansion(w io.Writer, exp *search.Expansion) {
	c := exp.Conversation
	fmt.Fprintln(w, headerStyle.Render(c.ProjectName)+" "+dimStyle.Render(c.SessionID))
	if c.GitBranch != "" {
		fmt.Fprintln(w, dimStyle.Render("branch "+c.GitBranch))
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%s to %s, %d messages", formatTime(c.StartedAt), formatTime(c.EndedAt), c.MessageCount)))
	for _, m := range exp.Messages {
		marker := "  "
		if exp.Anchor != "" && (m.MessageUUID == exp.Anchor || m.ID.String() == exp.Anchor) {
			marker = warnStyle.Render("> ")
		}
		fmt.Fprintf(w, "\n%s%s %s %s\n", marker, dimStyle.Render(fmt.Sprintf("#%d", m.Seq)), roleLabel(m.Role), dimStyle.Render(formatTime(m.Timestamp)))
		fmt.Fprintln(w, indent(m.Content, "    "))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func expandPath(p string) string { return config.ExpandHome(p) }
