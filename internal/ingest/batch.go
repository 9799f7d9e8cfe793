package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
	"github.com/bwads001/claude-conversation-analyzer/internal/transcript"
)

type conversationMeta struct {
	Versions   []string              `json:"versions,omitempty"`
	Models     []string              `json:"models,omitempty"`
	ParseStats transcript.ParseStats `json:"parse_stats"`
}

type messageMeta struct {
	Line              int    `json:"line"`
	ParentUUID        string `json:"parent_uuid,omitempty"`
	OriginalType      string `json:"original_type,omitempty"`
	Model             string `json:"model,omitempty"`
	CWD               string `json:"cwd,omitempty"`
	GitBranch         string `json:"git_branch,omitempty"`
	TimestampInferred bool   `json:"timestamp_inferred,omitempty"`
	Oversized         bool   `json:"oversized,omitempty"`
	Sidechain         bool   `json:"sidechain,omitempty"`
}

// buildBatch maps a normalized transcript onto store rows. The output is a
// pure function of the transcript, so an unchanged file yields identical rows.
func buildBatch(tr *transcript.Transcript) (*store.IngestBatch, error) {
	h := tr.Header
	meta, err := json.Marshal(conversationMeta{Versions: h.Versions, Models: h.Models, ParseStats: tr.Stats})
	if err != nil {
		return nil, fmt.Errorf("encode conversation metadata: %w", err)
	}
	batch := &store.IngestBatch{
		Conversation: store.Conversation{
			ProjectName:      h.Project.Label,
			ProjectPath:      h.Project.Path,
			ProjectDir:       h.Project.Dir,
			SessionID:        h.SessionID,
			FilePath:         h.FilePath,
			GitBranch:        h.GitBranch,
			WorkingDirectory: h.WorkingDirectory,
			StartedAt:        h.StartedAt,
			EndedAt:          h.EndedAt,
			MessageCount:     h.MessageCount,
			Metadata:         meta,
		},
		Messages: make([]store.Message, 0, len(tr.Messages)),
		Events:   make([]store.TechnicalEvent, 0, len(tr.Events)),
	}

	for _, m := range tr.Messages {
		msg, err := toStoreMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.UUID, err)
		}
		batch.Messages = append(batch.Messages, msg)
	}
	for _, e := range tr.Events {
		ev := store.TechnicalEvent{
			MessageUUID: e.MessageUUID,
			EventType:   e.Type,
			FilePath:    e.FilePath,
			Timestamp:   timePtr(e.Timestamp),
		}
		if len(e.Details) > 0 {
			if ev.Details, err = json.Marshal(e.Details); err != nil {
				return nil, fmt.Errorf("encode event details: %w", err)
			}
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, nil
}

func toStoreMessage(m transcript.Message) (store.Message, error) {
	out := store.Message{
		MessageUUID: m.UUID,
		Seq:         m.Seq,
		Role:        string(m.Role),
		Content:     m.Content,
		ContentHash: store.ContentHash(m.Content),
		Timestamp:   timePtr(m.Timestamp),
	}
	var err error
	if m.ToolUse != nil {
		if out.ToolUses, err = json.Marshal(m.ToolUse); err != nil {
			return out, fmt.Errorf("encode tool use: %w", err)
		}
	}
	out.Metadata, err = json.Marshal(messageMeta{
		Line:              m.Line,
		ParentUUID:        m.ParentUUID,
		OriginalType:      m.OriginalType,
		Model:             m.Model,
		CWD:               m.CWD,
		GitBranch:         m.GitBranch,
		TimestampInferred: m.TimestampInferred,
		Oversized:         m.Oversized,
		Sidechain:         m.Sidechain,
	})
	if err != nil {
		return out, fmt.Errorf("encode metadata: %w", err)
	}
	return out, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
