// Package transcript normalizes Claude conversation logs (JSON Lines, one
// file per session) into a conversation header, ordered messages and the
// technical events derived from their tool calls.
package transcript

import (
	"encoding/json"
	"time"
)

// Role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleSummary   Role = "summary"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleSummary:
		return true
	}
	return false
}

// Options tune parsing.
type Options struct {
	// LargeMessageChars flags messages longer than this (in runes) as
	// oversized. Zero disables flagging.
	LargeMessageChars int
	// MaxLineBytes caps a single JSON line (default 16 MiB).
	MaxLineBytes int
}

// Source describes where a transcript came from.
type Source struct {
	Path    string
	ModTime time.Time
}

// Header is the per-file conversation record.
type Header struct {
	SessionID        string
	FilePath         string
	Project          Project
	GitBranch        string
	WorkingDirectory string
	StartedAt        *time.Time
	EndedAt          *time.Time
	MessageCount     int
	Versions         []string
	Models           []string
}

// Message is one normalized conversation turn.
type Message struct {
	UUID       string
	ParentUUID string
	// Seq is the position among kept messages, starting at 0.
	Seq  int
	Line int
	Role Role
	// Content is the flattened text. It is never chunked.
	Content   string
	Timestamp time.Time
	// TimestampInferred is set when Timestamp was filled by the missing
	// timestamp policy rather than read from the record.
	TimestampInferred bool
	ToolUse           *ToolUse
	OriginalType      string
	Model             string
	CWD               string
	GitBranch         string
	Oversized         bool
	Sidechain         bool
}

// ToolUse is the structured tool payload of a message.
type ToolUse struct {
	Calls   []ToolCall      `json:"calls,omitempty"`
	Results []ToolResult    `json:"results,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// HasError reports whether any tool result in the payload failed.
func (t *ToolUse) HasError() bool {
	if t == nil {
		return false
	}
	for _, r := range t.Results {
		if r.IsError {
			return true
		}
	}
	return false
}

// ToolCall is a tool invocation issued by the assistant.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool call reported back to the assistant.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
}

// Event is a technical event derived from tool payloads.
type Event struct {
	MessageUUID string
	Type        string
	FilePath    string
	Details     map[string]any
	Timestamp   time.Time
}

// ParseStats counts what happened to each line of a file.
type ParseStats struct {
	Lines      int `json:"lines"`
	Parsed     int `json:"parsed"`
	Skipped    int `json:"skipped"`
	Ignored    int `json:"ignored"`
	Duplicates int `json:"duplicates"`
	Oversized  int `json:"oversized"`
}

// Transcript is the normalized form of one log file.
type Transcript struct {
	Header   Header
	Messages []Message
	Events   []Event
	Stats    ParseStats
}
