package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

var tracer = otel.Tracer("github.com/bwads001/claude-conversation-analyzer/internal/store/sqlitestore")

func (s *SQLiteStore) MessageDigests(ctx context.Context, sessionID, filePath string) (map[string]store.MessageDigest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_uuid, m.content_hash, m.embedding IS NOT NULL, COALESCE(m.embedding_model, '')
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.session_id = ? AND c.file_path = ?`,
		sessionID, filePath)
	if err != nil {
		return nil, fmt.Errorf("message digests: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.MessageDigest)
	for rows.Next() {
		var id string
		var d store.MessageDigest
		if err := rows.Scan(&id, &d.ContentHash, &d.HasEmbedding, &d.EmbeddingModel); err != nil {
			return nil, err
		}
		out[id] = d
	}
	return out, rows.Err()
}

// storedMessage is the current row state compared against an incoming message.
type storedMessage struct {
	id        string
	seq       int
	role      string
	hash      string
	timestamp sql.NullString
	toolUses  sql.NullString
	metadata  string
	embedding sql.NullString
	model     sql.NullString
}

// IngestConversation writes one conversation in a single transaction. Rows
// that already match the incoming message are left untouched.
func (s *SQLiteStore) IngestConversation(ctx context.Context, batch *store.IngestBatch) (*store.IngestOutcome, error) {
	ctx, span := tracer.Start(ctx, "store.ingest_conversation")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", batch.Conversation.SessionID),
		attribute.Int("messages", len(batch.Messages)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	out := &store.IngestOutcome{}
	convID, created, err := upsertConversation(ctx, tx, &batch.Conversation)
	if err != nil {
		return nil, err
	}
	out.ConversationID, out.Created = convID, created

	existing, err := loadStored(ctx, tx, convID)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(batch.Messages))
	for uid, st := range existing {
		ids[uid] = st.id
	}
	hasVectors := false
	now := nowText()
	for i := range batch.Messages {
		m := &batch.Messages[i]
		if len(m.Embedding) > 0 {
			hasVectors = true
		}
		id, result, err := writeMessage(ctx, tx, convID, m, existing[m.MessageUUID], now)
		if err != nil {
			return nil, err
		}
		ids[m.MessageUUID] = id
		switch result {
		case writeInserted:
			out.Inserted++
		case writeUpdated:
			out.Updated++
		default:
			out.Unchanged++
		}
	}

	// Messages no longer in the file are removed; their events cascade.
	seen := make(map[string]bool, len(batch.Messages))
	for _, m := range batch.Messages {
		seen[m.MessageUUID] = true
	}
	for uid, st := range existing {
		if seen[uid] {
			continue
		}
		if err := removeMessage(ctx, tx, st.id); err != nil {
			return nil, err
		}
		delete(ids, uid)
		out.Removed++
	}

	if out.Changed() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM technical_events WHERE conversation_id = ?`, convID.String()); err != nil {
			return nil, fmt.Errorf("clear events: %w", err)
		}
		for _, e := range batch.Events {
			msgID, ok := ids[e.MessageUUID]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO technical_events (id, conversation_id, message_id, event_type, file_path, details, "timestamp")
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				store.GenNewID().String(), convID.String(), msgID, e.EventType, nilStr(e.FilePath),
				jsonOrEmpty(e.Details), timeValue(e.Timestamp),
			); err != nil {
				return nil, fmt.Errorf("insert event: %w", err)
			}
			out.Events++
		}
	}

	if hasVectors && batch.Model != "" {
		if err := touchModel(ctx, tx, batch.Model, batch.Dimensions); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	span.SetAttributes(
		attribute.Int("inserted", out.Inserted),
		attribute.Int("updated", out.Updated),
		attribute.Int("removed", out.Removed),
	)
	return out, nil
}

func upsertConversation(ctx context.Context, tx *sql.Tx, c *store.Conversation) (uuid.UUID, bool, error) {
	var idText string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE session_id = ? AND file_path = ?`,
		c.SessionID, c.FilePath).Scan(&idText)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return uuid.Nil, false, fmt.Errorf("find conversation: %w", err)
	}

	now := nowText()
	if created {
		id := store.GenNewID()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (id, project_name, project_path, project_dir, session_id, file_path,
				git_branch, working_directory, started_at, ended_at, message_count, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), c.ProjectName, nilStr(c.ProjectPath), nilStr(c.ProjectDir), c.SessionID, c.FilePath,
			nilStr(c.GitBranch), nilStr(c.WorkingDirectory), timeValue(c.StartedAt), timeValue(c.EndedAt),
			c.MessageCount, jsonOrEmpty(c.Metadata), now, now)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("insert conversation: %w", err)
		}
		return id, true, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET project_name = ?, project_path = ?, project_dir = ?, git_branch = ?,
			working_directory = ?, started_at = ?, ended_at = ?, message_count = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		c.ProjectName, nilStr(c.ProjectPath), nilStr(c.ProjectDir), nilStr(c.GitBranch),
		nilStr(c.WorkingDirectory), timeValue(c.StartedAt), timeValue(c.EndedAt), c.MessageCount,
		jsonOrEmpty(c.Metadata), now, idText)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("update conversation: %w", err)
	}
	id, err := uuid.Parse(idText)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("conversation id: %w", err)
	}
	return id, false, nil
}

func loadStored(ctx context.Context, tx *sql.Tx, convID uuid.UUID) (map[string]*storedMessage, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, message_uuid, seq, role, content_hash, "timestamp", tool_uses, metadata, embedding, embedding_model
		FROM messages WHERE conversation_id = ?`, convID.String())
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*storedMessage)
	for rows.Next() {
		var uid string
		st := &storedMessage{}
		if err := rows.Scan(&st.id, &uid, &st.seq, &st.role, &st.hash, &st.timestamp,
			&st.toolUses, &st.metadata, &st.embedding, &st.model); err != nil {
			return nil, err
		}
		out[uid] = st
	}
	return out, rows.Err()
}

type writeResult int

const (
	writeUnchanged writeResult = iota
	writeInserted
	writeUpdated
)

// writeMessage inserts or updates one message and keeps messages_fts in
// step. A changed content_hash drops the old vector unless a new one is
// supplied.
func writeMessage(ctx context.Context, tx *sql.Tx, convID uuid.UUID, m *store.Message, st *storedMessage, now string) (string, writeResult, error) {
	hash := m.ContentHash
	if hash == "" {
		hash = store.ContentHash(m.Content)
	}
	vec, err := encodeVector(m.Embedding)
	if err != nil {
		return "", 0, err
	}
	var model any
	if vec != nil {
		model = nilStr(m.EmbeddingModel)
	}
	ts := timeValue(m.Timestamp)
	tools := jsonOrNil(m.ToolUses)
	meta := jsonOrEmpty(m.Metadata)

	if st == nil {
		id := store.GenNewID().String()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, message_uuid, seq, role, content, content_hash,
				embedding, embedding_model, "timestamp", tool_uses, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, convID.String(), m.MessageUUID, m.Seq, m.Role, m.Content, hash,
			vec, model, ts, tools, meta, now, now); err != nil {
			return "", 0, fmt.Errorf("insert message: %w", err)
		}
		if err := indexContent(ctx, tx, id, m.Content, false); err != nil {
			return "", 0, err
		}
		return id, writeInserted, nil
	}

	contentChanged := st.hash != hash
	changed := contentChanged ||
		st.seq != m.Seq ||
		st.role != m.Role ||
		!sameNullable(st.timestamp, ts) ||
		!sameNullable(st.toolUses, tools) ||
		st.metadata != meta
	if vec != nil && (!st.embedding.Valid || !sameNullable(st.model, model) || st.embedding.String != vec.(string)) {
		changed = true
	}
	if !changed {
		return st.id, writeUnchanged, nil
	}

	switch {
	case vec != nil:
	case !contentChanged && st.embedding.Valid:
		vec, model = st.embedding.String, st.model.String
	default:
		vec, model = nil, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET seq = ?, role = ?, content = ?, content_hash = ?, embedding = ?, embedding_model = ?,
			"timestamp" = ?, tool_uses = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		m.Seq, m.Role, m.Content, hash, vec, model, ts, tools, meta, now, st.id); err != nil {
		return "", 0, fmt.Errorf("update message: %w", err)
	}
	if contentChanged {
		if err := indexContent(ctx, tx, st.id, m.Content, true); err != nil {
			return "", 0, err
		}
	}
	return st.id, writeUpdated, nil
}

func sameNullable(stored sql.NullString, v any) bool {
	if v == nil {
		return !stored.Valid
	}
	s, ok := v.(string)
	return ok && stored.Valid && stored.String == s
}

func removeMessage(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts WHERE message_id = ?`, id); err != nil {
		return fmt.Errorf("clear fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove message: %w", err)
	}
	return nil
}

func indexContent(ctx context.Context, tx *sql.Tx, id, content string, replace bool) error {
	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts WHERE message_id = ?`, id); err != nil {
			return fmt.Errorf("clear fts: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO messages_fts (content, message_id) VALUES (?, ?)`, content, id); err != nil {
		return fmt.Errorf("insert fts: %w", err)
	}
	return nil
}

func touchModel(ctx context.Context, tx *sql.Tx, model string, dims int) error {
	now := nowText()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO embedding_models (model, dimensions, first_seen, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (model) DO UPDATE SET last_seen = excluded.last_seen,
			dimensions = CASE WHEN excluded.dimensions > 0 THEN excluded.dimensions ELSE embedding_models.dimensions END`,
		model, dims, now, now)
	if err != nil {
		return fmt.Errorf("record embedding model: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MessagesMissingEmbeddings(ctx context.Context, model string, minChars int, after uuid.UUID, limit int) ([]store.PendingEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, content_hash FROM messages
		WHERE (embedding IS NULL OR embedding_model IS NOT ?)
			AND length(content) >= ?
			AND id > ?
		ORDER BY id
		LIMIT ?`,
		model, minChars, after.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("missing embeddings: %w", err)
	}
	defer rows.Close()

	var out []store.PendingEmbedding
	for rows.Next() {
		var p store.PendingEmbedding
		if err := rows.Scan(&p.MessageID, &p.Content, &p.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetEmbeddings writes backfilled vectors. The content_hash guard keeps a
// vector computed from old text off a row whose text has since changed.
func (s *SQLiteStore) SetEmbeddings(ctx context.Context, model string, dims int, updates []store.EmbeddingUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE messages SET embedding = ?, embedding_model = ?, updated_at = ?
		WHERE id = ? AND content_hash = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	total := 0
	now := nowText()
	for _, u := range updates {
		vec, err := encodeVector(u.Embedding)
		if err != nil {
			return 0, err
		}
		if vec == nil {
			continue
		}
		res, err := stmt.ExecContext(ctx, vec, model, now, u.MessageID.String(), u.ContentHash)
		if err != nil {
			return 0, fmt.Errorf("set embedding: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}

	if total > 0 {
		if err := touchModel(ctx, tx, model, dims); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// DeleteConversation removes a conversation. Messages and events cascade;
// FTS rows are removed explicitly.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages_fts WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`,
		id.String()); err != nil {
		return fmt.Errorf("clear fts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}
