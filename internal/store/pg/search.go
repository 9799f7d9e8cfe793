package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

const hitColumns = `m.id, m.message_uuid, m.seq, m.role, m.content, m."timestamp",
	c.id AS conversation_id, c.session_id, c.project_name,
	COALESCE(c.project_path, '') AS project_path, COALESCE(c.git_branch, '') AS git_branch, c.file_path`

type hitRow struct {
	MessageID      uuid.UUID  `db:"id"`
	MessageUUID    string     `db:"message_uuid"`
	Seq            int        `db:"seq"`
	Role           string     `db:"role"`
	Content        string     `db:"content"`
	Timestamp      *time.Time `db:"timestamp"`
	ConversationID uuid.UUID  `db:"conversation_id"`
	SessionID      string     `db:"session_id"`
	ProjectName    string     `db:"project_name"`
	ProjectPath    string     `db:"project_path"`
	GitBranch      string     `db:"git_branch"`
	FilePath       string     `db:"file_path"`
	Distance       float64    `db:"distance"`
}

func (r hitRow) hit() store.SearchHit {
	return store.SearchHit{
		MessageID:      r.MessageID,
		MessageUUID:    r.MessageUUID,
		Seq:            r.Seq,
		Role:           r.Role,
		Content:        r.Content,
		Timestamp:      r.Timestamp,
		Distance:       r.Distance,
		ConversationID: r.ConversationID,
		SessionID:      r.SessionID,
		ProjectName:    r.ProjectName,
		ProjectPath:    r.ProjectPath,
		GitBranch:      r.GitBranch,
		FilePath:       r.FilePath,
	}
}

// SearchSimilar returns the nearest messages by cosine distance. Only vectors
// written by f.Model are compared. Filters and the distance threshold are
// applied in SQL before ordering.
func (s *PGStore) SearchSimilar(ctx context.Context, vec []float32, f store.SearchFilter) ([]store.SearchHit, error) {
	if err := store.ValidateFilter(f); err != nil {
		return nil, err
	}
	query, args := similarityQuery(vec, f)
	var rows []hitRow
	if err := s.x.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return toHits(rows), nil
}

// similarityQuery orders by distance alone so the HNSW index serves the
// scan; ties are broken by the caller with store.SortHits.
func similarityQuery(vec []float32, f store.SearchFilter) (string, []any) {
	var b filterBuilder
	q := b.arg(pgvector.NewVector(vec))
	b.add("m.embedding IS NOT NULL")
	if f.Model != "" {
		b.add("m.embedding_model = " + b.arg(f.Model))
	}
	b.apply(f)
	b.add(fmt.Sprintf("(m.embedding <=> %s::vector) <= %s", q, b.arg(f.MaxDistance)))
	limit := b.arg(f.Limit)

	query := fmt.Sprintf(`SELECT %s, (m.embedding <=> %s::vector) AS distance
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		%s
		ORDER BY m.embedding <=> %s::vector
		LIMIT %s`, hitColumns, q, b.where(), q, limit)
	return query, b.args
}

// SearchKeyword runs a full-text query over the generated tsvector column.
// Distance is 1 - normalized rank, so it sorts like semantic results.
func (s *PGStore) SearchKeyword(ctx context.Context, query string, f store.SearchFilter) ([]store.SearchHit, error) {
	f.MaxDistance = 0
	if err := store.ValidateFilter(f); err != nil {
		return nil, err
	}
	var b filterBuilder
	tsq := b.arg(query)
	b.add(fmt.Sprintf("m.tsv @@ plainto_tsquery('english', %s)", tsq))
	b.apply(f)
	limit := b.arg(f.Limit)

	sqlText := fmt.Sprintf(`SELECT %s, 1 - ts_rank_cd(m.tsv, plainto_tsquery('english', %s), 32) AS distance
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		%s
		ORDER BY distance, m."timestamp" DESC NULLS LAST, m.id
		LIMIT %s`, hitColumns, tsq, b.where(), limit)

	var rows []hitRow
	if err := s.x.SelectContext(ctx, &rows, sqlText, b.args...); err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return toHits(rows), nil
}

func toHits(rows []hitRow) []store.SearchHit {
	hits := make([]store.SearchHit, len(rows))
	for i, r := range rows {
		hits[i] = r.hit()
	}
	return hits
}
