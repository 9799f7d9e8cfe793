package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

var tracer = otel.Tracer("github.com/bwads001/claude-conversation-analyzer/internal/store/pg")

func (s *PGStore) MessageDigests(ctx context.Context, sessionID, filePath string) (map[string]store.MessageDigest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_uuid, m.content_hash, m.embedding IS NOT NULL, COALESCE(m.embedding_model, '')
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.session_id = $1 AND c.file_path = $2`,
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

// IngestConversation writes one conversation in a single transaction. The
// conversation upsert takes the row lock first, so concurrent ingestion of
// the same file serializes here.
func (s *PGStore) IngestConversation(ctx context.Context, batch *store.IngestBatch) (*store.IngestOutcome, error) {
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
	c := batch.Conversation
	err = tx.QueryRowContext(ctx,
		`INSERT INTO conversations (id, project_name, project_path, project_dir, session_id, file_path,
			git_branch, working_directory, started_at, ended_at, message_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, file_path) DO UPDATE SET
			project_name = EXCLUDED.project_name,
			project_path = EXCLUDED.project_path,
			project_dir = EXCLUDED.project_dir,
			git_branch = EXCLUDED.git_branch,
			working_directory = EXCLUDED.working_directory,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			message_count = EXCLUDED.message_count,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING id, (xmax = 0)`,
		store.GenNewID(), c.ProjectName, nilStr(c.ProjectPath), nilStr(c.ProjectDir), c.SessionID, c.FilePath,
		nilStr(c.GitBranch), nilStr(c.WorkingDirectory), nilTime(c.StartedAt), nilTime(c.EndedAt),
		c.MessageCount, jsonOrEmpty(c.Metadata),
	).Scan(&out.ConversationID, &out.Created)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	hasVectors := false
	for start := 0; start < len(batch.Messages); start += s.bulkSize {
		chunk := batch.Messages[start:min(start+s.bulkSize, len(batch.Messages))]
		ins, upd, err := s.upsertMessages(ctx, tx, out.ConversationID, chunk)
		if err != nil {
			return nil, err
		}
		out.Inserted += ins
		out.Updated += upd
		for _, m := range chunk {
			if len(m.Embedding) > 0 {
				hasVectors = true
			}
		}
	}
	out.Unchanged = len(batch.Messages) - out.Inserted - out.Updated

	// Messages no longer in the file are removed; their events cascade.
	keep := make([]string, len(batch.Messages))
	for i, m := range batch.Messages {
		keep[i] = m.MessageUUID
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = $1 AND message_uuid <> ALL($2::text[])`,
		out.ConversationID, pq.Array(keep))
	if err != nil {
		return nil, fmt.Errorf("remove stale messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("remove stale messages: %w", err)
	}
	out.Removed = int(removed)

	if out.Changed() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM technical_events WHERE conversation_id = $1`, out.ConversationID); err != nil {
			return nil, fmt.Errorf("clear events: %w", err)
		}
		for start := 0; start < len(batch.Events); start += s.bulkSize {
			chunk := batch.Events[start:min(start+s.bulkSize, len(batch.Events))]
			n, err := s.insertEvents(ctx, tx, out.ConversationID, chunk)
			if err != nil {
				return nil, err
			}
			out.Events += n
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

// upsertMessages bulk-upserts one slice of messages. Rows whose stored
// columns already match are skipped by the WHERE clause and not returned.
// A changed content_hash drops the old vector unless a new one is supplied.
func (s *PGStore) upsertMessages(ctx context.Context, tx *sql.Tx, convID uuid.UUID, msgs []store.Message) (inserted, updated int, err error) {
	n := len(msgs)
	ids := make([]string, n)
	uuids := make([]string, n)
	seqs := make([]int64, n)
	roles := make([]string, n)
	contents := make([]string, n)
	hashes := make([]string, n)
	vectors := make([]sql.NullString, n)
	models := make([]sql.NullString, n)
	stamps := make([]sql.NullString, n)
	tools := make([]sql.NullString, n)
	metas := make([]string, n)
	for i, m := range msgs {
		ids[i] = store.GenNewID().String()
		uuids[i] = m.MessageUUID
		seqs[i] = int64(m.Seq)
		roles[i] = m.Role
		contents[i] = m.Content
		hashes[i] = m.ContentHash
		if hashes[i] == "" {
			hashes[i] = store.ContentHash(m.Content)
		}
		vectors[i] = nullVector(m.Embedding)
		if vectors[i].Valid {
			models[i] = nullText(m.EmbeddingModel)
		}
		stamps[i] = nullTimeText(m.Timestamp)
		tools[i] = nullJSON(m.ToolUses)
		metas[i] = string(jsonOrEmpty(m.Metadata))
	}

	rows, err := tx.QueryContext(ctx,
		`INSERT INTO messages AS m (id, conversation_id, message_uuid, seq, role, content, content_hash,
			embedding, embedding_model, "timestamp", tool_uses, metadata)
		SELECT u.id, $1, u.message_uuid, u.seq, u.role, u.content, u.content_hash,
			u.embedding::vector, u.embedding_model, u.ts::timestamptz, u.tool_uses::jsonb, u.metadata::jsonb
		FROM unnest($2::uuid[], $3::text[], $4::int8[], $5::text[], $6::text[], $7::text[],
			$8::text[], $9::text[], $10::text[], $11::text[], $12::text[])
			AS u(id, message_uuid, seq, role, content, content_hash, embedding, embedding_model, ts, tool_uses, metadata)
		ON CONFLICT (conversation_id, message_uuid) DO UPDATE SET
			seq = EXCLUDED.seq,
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			"timestamp" = EXCLUDED."timestamp",
			tool_uses = EXCLUDED.tool_uses,
			metadata = EXCLUDED.metadata,
			embedding = CASE
				WHEN EXCLUDED.embedding IS NOT NULL THEN EXCLUDED.embedding
				WHEN m.content_hash = EXCLUDED.content_hash THEN m.embedding
				ELSE NULL END,
			embedding_model = CASE
				WHEN EXCLUDED.embedding IS NOT NULL THEN EXCLUDED.embedding_model
				WHEN m.content_hash = EXCLUDED.content_hash THEN m.embedding_model
				ELSE NULL END,
			updated_at = now()
		WHERE m.content_hash IS DISTINCT FROM EXCLUDED.content_hash
			OR m.seq IS DISTINCT FROM EXCLUDED.seq
			OR m.role IS DISTINCT FROM EXCLUDED.role
			OR m."timestamp" IS DISTINCT FROM EXCLUDED."timestamp"
			OR m.tool_uses IS DISTINCT FROM EXCLUDED.tool_uses
			OR m.metadata IS DISTINCT FROM EXCLUDED.metadata
			OR (EXCLUDED.embedding IS NOT NULL AND (
				m.embedding IS NULL
				OR m.embedding_model IS DISTINCT FROM EXCLUDED.embedding_model
				OR m.embedding IS DISTINCT FROM EXCLUDED.embedding))
		RETURNING (xmax = 0)`,
		convID, pq.Array(ids), pq.Array(uuids), pq.Array(seqs), pq.Array(roles), pq.Array(contents), pq.Array(hashes),
		pq.Array(vectors), pq.Array(models), pq.Array(stamps), pq.Array(tools), pq.Array(metas),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var isInsert bool
		if err := rows.Scan(&isInsert); err != nil {
			return 0, 0, err
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("upsert messages: %w", err)
	}
	return inserted, updated, nil
}

func (s *PGStore) insertEvents(ctx context.Context, tx *sql.Tx, convID uuid.UUID, events []store.TechnicalEvent) (int, error) {
	n := len(events)
	ids := make([]string, n)
	msgUUIDs := make([]string, n)
	types := make([]string, n)
	paths := make([]sql.NullString, n)
	details := make([]string, n)
	stamps := make([]sql.NullString, n)
	for i, e := range events {
		ids[i] = store.GenNewID().String()
		msgUUIDs[i] = e.MessageUUID
		types[i] = e.EventType
		paths[i] = nullText(e.FilePath)
		details[i] = string(jsonOrEmpty(e.Details))
		stamps[i] = nullTimeText(e.Timestamp)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO technical_events (id, conversation_id, message_id, event_type, file_path, details, "timestamp")
		SELECT u.id, $1, msg.id, u.event_type, u.file_path, u.details::jsonb, u.ts::timestamptz
		FROM unnest($2::uuid[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[])
			AS u(id, message_uuid, event_type, file_path, details, ts)
		JOIN messages msg ON msg.conversation_id = $1 AND msg.message_uuid = u.message_uuid`,
		convID, pq.Array(ids), pq.Array(msgUUIDs), pq.Array(types), pq.Array(paths), pq.Array(details), pq.Array(stamps),
	)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func touchModel(ctx context.Context, tx *sql.Tx, model string, dims int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO embedding_models (model, dimensions) VALUES ($1, $2)
		ON CONFLICT (model) DO UPDATE SET last_seen = now(),
			dimensions = CASE WHEN EXCLUDED.dimensions > 0 THEN EXCLUDED.dimensions ELSE embedding_models.dimensions END`,
		model, dims)
	if err != nil {
		return fmt.Errorf("record embedding model: %w", err)
	}
	return nil
}

func (s *PGStore) MessagesMissingEmbeddings(ctx context.Context, model string, minChars int, after uuid.UUID, limit int) ([]store.PendingEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, content_hash FROM messages
		WHERE (embedding IS NULL OR embedding_model IS DISTINCT FROM $1)
			AND char_length(content) >= $2
			AND id > $3
		ORDER BY id
		LIMIT $4`,
		model, minChars, after, limit)
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
func (s *PGStore) SetEmbeddings(ctx context.Context, model string, dims int, updates []store.EmbeddingUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	total := 0
	for start := 0; start < len(updates); start += s.bulkSize {
		chunk := updates[start:min(start+s.bulkSize, len(updates))]
		hashes := make([]string, len(chunk))
		vectors := make([]sql.NullString, len(chunk))
		for i, u := range chunk {
			hashes[i] = u.ContentHash
			vectors[i] = nullVector(u.Embedding)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE messages AS m SET embedding = u.embedding::vector, embedding_model = $1, updated_at = now()
			FROM unnest($2::uuid[], $3::text[], $4::text[]) AS u(id, content_hash, embedding)
			WHERE m.id = u.id AND m.content_hash = u.content_hash AND u.embedding IS NOT NULL`,
			model,
			uuidArray(chunk, func(u store.EmbeddingUpdate) string { return u.MessageID.String() }),
			pq.Array(hashes), pq.Array(vectors),
		)
		if err != nil {
			return 0, fmt.Errorf("set embeddings: %w", err)
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

func (s *PGStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
