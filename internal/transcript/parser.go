package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultMaxLineBytes = 16 << 20
	maxExcerptRunes     = 200
)

// rawRecord is one JSON line as written by Claude Code.
type rawRecord struct {
	Type          string          `json:"type"`
	UUID          string          `json:"uuid"`
	ParentUUID    *string         `json:"parentUuid"`
	LeafUUID      string          `json:"leafUuid"`
	Summary       string          `json:"summary"`
	Timestamp     string          `json:"timestamp"`
	CWD           string          `json:"cwd"`
	GitBranch     string          `json:"gitBranch"`
	Version       string          `json:"version"`
	IsSidechain   bool            `json:"isSidechain"`
	Message       *rawMessage     `json:"message"`
	Content       json.RawMessage `json:"content"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

type rawMessage struct {
	Role    string  `json:"role"`
	Model   string  `json:"model"`
	Content Content `json:"content"`
}

// ParseFile parses the log file at path. The file's modification time is
// the fallback timestamp for messages that have none.
func ParseFile(path string, opts Options) (*Transcript, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	return Parse(f, Source{Path: abs, ModTime: info.ModTime()}, opts)
}

// Parse normalizes a transcript read from r. Malformed lines are counted
// and skipped; only read errors are returned.
func Parse(r io.Reader, src Source, opts Options) (*Transcript, error) {
	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}

	t := &Transcript{}
	t.Header.FilePath = src.Path
	t.Header.SessionID = strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))

	seen := make(map[string]struct{})
	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0

	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			t.consume(line, lineNo, maxLine, opts, seen)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read line %d: %w", lineNo+1, readErr)
		}
	}

	fillTimestamps(t.Messages, src.ModTime)
	t.finishHeader(src)
	t.Events = ExtractEvents(t.Messages)
	t.Stats.Parsed = len(t.Messages)
	return t, nil
}

func (t *Transcript) consume(line []byte, lineNo, maxLine int, opts Options, seen map[string]struct{}) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	t.Stats.Lines++
	if len(line) > maxLine {
		t.Stats.Skipped++
		return
	}

	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		t.Stats.Skipped++
		return
	}

	if t.Header.WorkingDirectory == "" && rec.CWD != "" {
		t.Header.WorkingDirectory = rec.CWD
	}
	if t.Header.GitBranch == "" && rec.GitBranch != "" {
		t.Header.GitBranch = rec.GitBranch
	}
	if rec.Version != "" && !slices.Contains(t.Header.Versions, rec.Version) {
		t.Header.Versions = append(t.Header.Versions, rec.Version)
	}

	msg, ok := normalizeRecord(rec, lineNo)
	if !ok {
		t.Stats.Ignored++
		return
	}
	if _, dup := seen[msg.UUID]; dup {
		t.Stats.Duplicates++
		return
	}
	seen[msg.UUID] = struct{}{}

	if msg.Model != "" && !slices.Contains(t.Header.Models, msg.Model) {
		t.Header.Models = append(t.Header.Models, msg.Model)
	}
	if opts.LargeMessageChars > 0 && utf8.RuneCountInString(msg.Content) > opts.LargeMessageChars {
		msg.Oversized = true
		t.Stats.Oversized++
	}
	msg.Seq = len(t.Messages)
	t.Messages = append(t.Messages, msg)
}

func (t *Transcript) finishHeader(src Source) {
	h := &t.Header
	h.MessageCount = len(t.Messages)
	h.Project = ResolveProject(filepath.Base(filepath.Dir(src.Path)), h.WorkingDirectory)

	for i := range t.Messages {
		ts := t.Messages[i].Timestamp
		if ts.IsZero() {
			continue
		}
		if h.StartedAt == nil || ts.Before(*h.StartedAt) {
			v := ts
			h.StartedAt = &v
		}
		if h.EndedAt == nil || ts.After(*h.EndedAt) {
			v := ts
			h.EndedAt = &v
		}
	}
}

// normalizeRecord maps a raw record to a Message. It returns false for
// record types that are not conversation turns.
func normalizeRecord(rec rawRecord, line int) (Message, bool) {
	m := Message{
		Line:         line,
		OriginalType: rec.Type,
		CWD:          rec.CWD,
		GitBranch:    rec.GitBranch,
		Sidechain:    rec.IsSidechain,
	}
	if rec.ParentUUID != nil {
		m.ParentUUID = *rec.ParentUUID
	}
	if ts, ok := parseTimestamp(rec.Timestamp); ok {
		m.Timestamp = ts
	}

	switch rec.Type {
	case "summary":
		m.Role = RoleSummary
		m.Content = rec.Summary
		switch {
		case rec.LeafUUID != "":
			m.UUID = "summary:" + rec.LeafUUID
		case rec.UUID != "":
			m.UUID = "summary:" + rec.UUID
		default:
			m.UUID = syntheticID(line)
		}
		return m, true
	case "user", "assistant", "system":
	default:
		return m, false
	}

	role := rec.Type
	var content Content
	if rec.Message == nil && hasPayload(rec.Content) {
		// system records carry their text at the top level
		if err := json.Unmarshal(rec.Content, &content); err != nil {
			content = Content{}
		}
	}
	if rec.Message != nil {
		if rec.Message.Role != "" {
			role = rec.Message.Role
		}
		content = rec.Message.Content
		m.Model = rec.Message.Model
	}

	m.Role = Role(role)
	if m.Role == RoleUser && (content.HasBlock("tool_result") || hasPayload(rec.ToolUseResult)) {
		m.Role = RoleTool
	}
	if !m.Role.Valid() {
		return m, false
	}

	m.Content = content.Text()
	m.ToolUse = toolUseOf(content, rec.ToolUseResult)
	m.UUID = rec.UUID
	if m.UUID == "" {
		m.UUID = syntheticID(line)
	}
	return m, true
}

func toolUseOf(c Content, result json.RawMessage) *ToolUse {
	tu := &ToolUse{}
	for _, b := range c.Blocks() {
		switch b.Type {
		case "tool_use":
			tu.Calls = append(tu.Calls, ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			var excerpt string
			if b.Content != nil {
				excerpt = truncateRunes(b.Content.Text(), maxExcerptRunes)
			}
			tu.Results = append(tu.Results, ToolResult{ToolUseID: b.ToolUseID, IsError: b.IsError, Excerpt: excerpt})
		}
	}
	if hasPayload(result) {
		tu.Result = result
	}
	if len(tu.Calls) == 0 && len(tu.Results) == 0 && tu.Result == nil {
		return nil
	}
	return tu
}

func hasPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// syntheticID names records that carry no uuid by their line number, so
// re-ingesting the same file yields the same identifier.
func syntheticID(line int) string {
	return fmt.Sprintf("line-%d", line)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// fillTimestamps assigns every message without a timestamp the timestamp
// of the next message in file order that has one. Messages after the last
// timestamped message get fallback (the file's modification time).
func fillTimestamps(msgs []Message, fallback time.Time) {
	var next time.Time
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Timestamp.IsZero() {
			next = msgs[i].Timestamp
			continue
		}
		msgs[i].TimestampInferred = true
		if !next.IsZero() {
			msgs[i].Timestamp = next
		} else if !fallback.IsZero() {
			msgs[i].Timestamp = fallback.UTC()
		}
	}
}
