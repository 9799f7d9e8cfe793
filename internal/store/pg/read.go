package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

type conversationRow struct {
	ID               uuid.UUID  `db:"id"`
	ProjectName      string     `db:"project_name"`
	ProjectPath      *string    `db:"project_path"`
	ProjectDir       *string    `db:"project_dir"`
	SessionID        string     `db:"session_id"`
	FilePath         string     `db:"file_path"`
	GitBranch        *string    `db:"git_branch"`
	WorkingDirectory *string    `db:"working_directory"`
	StartedAt        *time.Time `db:"started_at"`
	EndedAt          *time.Time `db:"ended_at"`
	MessageCount     int        `db:"message_count"`
	Metadata         []byte     `db:"metadata"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r conversationRow) conversation() *store.Conversation {
	return &store.Conversation{
		ID:               r.ID,
		ProjectName:      r.ProjectName,
		ProjectPath:      derefStr(r.ProjectPath),
		ProjectDir:       derefStr(r.ProjectDir),
		SessionID:        r.SessionID,
		FilePath:         r.FilePath,
		GitBranch:        derefStr(r.GitBranch),
		WorkingDirectory: derefStr(r.WorkingDirectory),
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		MessageCount:     r.MessageCount,
		Metadata:         rawOrNil(r.Metadata),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type messageRow struct {
	ID             uuid.UUID  `db:"id"`
	ConversationID uuid.UUID  `db:"conversation_id"`
	MessageUUID    string     `db:"message_uuid"`
	Seq            int        `db:"seq"`
	Role           string     `db:"role"`
	Content        string     `db:"content"`
	ContentHash    string     `db:"content_hash"`
	EmbeddingModel *string    `db:"embedding_model"`
	Timestamp      *time.Time `db:"timestamp"`
	ToolUses       []byte     `db:"tool_uses"`
	Metadata       []byte     `db:"metadata"`
}

func (r messageRow) message() store.Message {
	return store.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		MessageUUID:    r.MessageUUID,
		Seq:            r.Seq,
		Role:           r.Role,
		Content:        r.Content,
		ContentHash:    r.ContentHash,
		EmbeddingModel: derefStr(r.EmbeddingModel),
		Timestamp:      r.Timestamp,
		ToolUses:       rawOrNil(r.ToolUses),
		Metadata:       rawOrNil(r.Metadata),
	}
}

const messageColumns = `id, conversation_id, message_uuid, seq, role, content, content_hash,
	embedding_model, "timestamp", tool_uses, metadata`

func (s *PGStore) GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	var row conversationRow
	err := s.x.GetContext(ctx, &row, `SELECT id, project_name, project_path, project_dir, session_id, file_path,
		git_branch, working_directory, started_at, ended_at, message_count, metadata, created_at, updated_at
		FROM conversations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return row.conversation(), nil
}

func (s *PGStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error) {
	var rows []messageRow
	if err := s.x.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY seq, id`,
		conversationID); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return toMessages(rows), nil
}

func (s *PGStore) MessageWindow(ctx context.Context, conversationID uuid.UUID, anchor string, window int) ([]store.Message, error) {
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE conversation_id = $1 AND (message_uuid = $2 OR id::text = $2)`,
		conversationID, anchor).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find anchor: %w", err)
	}

	var rows []messageRow
	if err := s.x.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND seq BETWEEN $2 AND $3
		ORDER BY seq, id`,
		conversationID, seq-window, seq+window); err != nil {
		return nil, fmt.Errorf("message window: %w", err)
	}
	return toMessages(rows), nil
}

func toMessages(rows []messageRow) []store.Message {
	out := make([]store.Message, len(rows))
	for i, r := range rows {
		out[i] = r.message()
	}
	return out
}

type eventRow struct {
	ID             uuid.UUID  `db:"id"`
	ConversationID uuid.UUID  `db:"conversation_id"`
	MessageID      uuid.UUID  `db:"message_id"`
	MessageUUID    string     `db:"message_uuid"`
	EventType      string     `db:"event_type"`
	FilePath       *string    `db:"file_path"`
	Details        []byte     `db:"details"`
	Timestamp      *time.Time `db:"timestamp"`
}

func (s *PGStore) ListEvents(ctx context.Context, conversationID uuid.UUID) ([]store.TechnicalEvent, error) {
	var rows []eventRow
	if err := s.x.SelectContext(ctx, &rows,
		`SELECT e.id, e.conversation_id, e.message_id, m.message_uuid, e.event_type, e.file_path, e.details, e."timestamp"
		FROM technical_events e
		JOIN messages m ON m.id = e.message_id
		WHERE e.conversation_id = $1
		ORDER BY m.seq, e.id`, conversationID); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]store.TechnicalEvent, len(rows))
	for i, r := range rows {
		out[i] = store.TechnicalEvent{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			MessageID:      r.MessageID,
			MessageUUID:    r.MessageUUID,
			EventType:      r.EventType,
			FilePath:       derefStr(r.FilePath),
			Details:        rawOrNil(r.Details),
			Timestamp:      r.Timestamp,
		}
	}
	return out, nil
}

func (s *PGStore) ListProjects(ctx context.Context) ([]store.ProjectInfo, error) {
	var rows []struct {
		Name          string     `db:"name"`
		Path          string     `db:"path"`
		Conversations int        `db:"conversations"`
		Messages      int        `db:"messages"`
		LastActivity  *time.Time `db:"last_activity"`
	}
	if err := s.x.SelectContext(ctx, &rows,
		`SELECT project_name AS name, COALESCE(MAX(project_path), '') AS path,
			COUNT(*) AS conversations, COALESCE(SUM(message_count), 0) AS messages,
			MAX(COALESCE(ended_at, started_at)) AS last_activity
		FROM conversations
		GROUP BY project_name
		ORDER BY last_activity DESC NULLS LAST, project_name`); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]store.ProjectInfo, len(rows))
	for i, r := range rows {
		out[i] = store.ProjectInfo{
			Name:          r.Name,
			Path:          r.Path,
			Conversations: r.Conversations,
			Messages:      r.Messages,
			LastActivity:  r.LastActivity,
		}
	}
	return out, nil
}

func (s *PGStore) EmbeddingModels(ctx context.Context) ([]store.EmbeddingModelInfo, error) {
	var rows []struct {
		Model      string    `db:"model"`
		Dimensions int       `db:"dimensions"`
		FirstSeen  time.Time `db:"first_seen"`
		LastSeen   time.Time `db:"last_seen"`
		Messages   int       `db:"messages"`
	}
	if err := s.x.SelectContext(ctx, &rows,
		`SELECT em.model, em.dimensions, em.first_seen, em.last_seen,
			(SELECT COUNT(*) FROM messages m WHERE m.embedding_model = em.model) AS messages
		FROM embedding_models em
		ORDER BY em.last_seen DESC`); err != nil {
		return nil, fmt.Errorf("embedding models: %w", err)
	}
	out := make([]store.EmbeddingModelInfo, len(rows))
	for i, r := range rows {
		out[i] = store.EmbeddingModelInfo{
			Model:      r.Model,
			Dimensions: r.Dimensions,
			FirstSeen:  r.FirstSeen,
			LastSeen:   r.LastSeen,
			Messages:   r.Messages,
		}
	}
	return out, nil
}

func (s *PGStore) Stats(ctx context.Context) (*store.Stats, error) {
	st := &store.Stats{
		MessagesByRole: map[string]int{},
		EventsByType:   map[string]int{},
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(DISTINCT project_name) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM technical_events),
			(SELECT MIN("timestamp") FROM messages),
			(SELECT MAX("timestamp") FROM messages)`,
	).Scan(&st.Conversations, &st.Projects, &st.Messages, &st.Embedded, &st.Events, &st.FirstMessage, &st.LastMessage)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	if err := s.countInto(ctx, `SELECT role, COUNT(*) FROM messages GROUP BY role`, st.MessagesByRole); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, `SELECT event_type, COUNT(*) FROM technical_events GROUP BY event_type`, st.EventsByType); err != nil {
		return nil, err
	}
	if st.Models, err = s.EmbeddingModels(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PGStore) countInto(ctx context.Context, query string, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		dst[k] = n
	}
	return rows.Err()
}
