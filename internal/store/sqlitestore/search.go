package sqlitestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bwads001/claude-conversation-analyzer/internal/embedding"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

const hitColumns = `m.id, m.message_uuid, m.seq, m.role, m.content, m."timestamp",
	c.id AS conversation_id, c.session_id, c.project_name,
	COALESCE(c.project_path, '') AS project_path, COALESCE(c.git_branch, '') AS git_branch, c.file_path`

type hitRow struct {
	MessageID      uuid.UUID `db:"id"`
	MessageUUID    string    `db:"message_uuid"`
	Seq            int       `db:"seq"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	Timestamp      nullTime  `db:"timestamp"`
	ConversationID uuid.UUID `db:"conversation_id"`
	SessionID      string    `db:"session_id"`
	ProjectName    string    `db:"project_name"`
	ProjectPath    string    `db:"project_path"`
	GitBranch      string    `db:"git_branch"`
	FilePath       string    `db:"file_path"`
	Distance       float64   `db:"distance"`
	Embedding      string    `db:"embedding"`
}

func (r hitRow) hit() store.SearchHit {
	return store.SearchHit{
		MessageID:      r.MessageID,
		MessageUUID:    r.MessageUUID,
		Seq:            r.Seq,
		Role:           r.Role,
		Content:        r.Content,
		Timestamp:      r.Timestamp.Time,
		Distance:       r.Distance,
		ConversationID: r.ConversationID,
		SessionID:      r.SessionID,
		ProjectName:    r.ProjectName,
		ProjectPath:    r.ProjectPath,
		GitBranch:      r.GitBranch,
		FilePath:       r.FilePath,
	}
}

// SearchSimilar scans filtered rows and ranks them by cosine distance in
// process. Only vectors written by f.Model are compared.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, vec []float32, f store.SearchFilter) ([]store.SearchHit, error) {
	if err := store.ValidateFilter(f); err != nil {
		return nil, err
	}
	var b filterBuilder
	b.add("m.embedding IS NOT NULL")
	if f.Model != "" {
		b.add("m.embedding_model = ?", f.Model)
	}
	b.apply(f)

	query := fmt.Sprintf(`SELECT %s, 0.0 AS distance, m.embedding
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		%s`, hitColumns, b.where())

	rows, err := s.x.QueryxContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []store.SearchHit
	for rows.Next() {
		var r hitRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
		v, err := decodeVector(r.Embedding)
		if err != nil {
			s.logger.Warn().Err(err).Str("message_id", r.MessageID.String()).Msg("skipping unreadable embedding")
			continue
		}
		if len(v) != len(vec) {
			continue
		}
		r.Distance = 1 - embedding.CosineSimilarity(vec, v)
		if r.Distance > f.MaxDistance {
			continue
		}
		hits = append(hits, r.hit())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	store.SortHits(hits, f.Project)
	if len(hits) > f.Limit {
		hits = hits[:f.Limit]
	}
	return hits, nil
}

// SearchKeyword queries messages_fts. Distance is 1 - 1/(1+|bm25|), so
// stronger matches sort first like semantic results.
func (s *SQLiteStore) SearchKeyword(ctx context.Context, query string, f store.SearchFilter) ([]store.SearchHit, error) {
	f.MaxDistance = 0
	if err := store.ValidateFilter(f); err != nil {
		return nil, err
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	var b filterBuilder
	b.add("messages_fts MATCH ?", match)
	b.apply(f)
	args := append(b.args, f.Limit)

	sqlText := fmt.Sprintf(`SELECT %s, 1.0 - 1.0 / (1.0 + abs(bm25(messages_fts))) AS distance, '' AS embedding
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.message_id
		JOIN conversations c ON c.id = m.conversation_id
		%s
		ORDER BY distance, m."timestamp" IS NULL, m."timestamp" DESC, m.id
		LIMIT ?`, hitColumns, b.where())

	var rows []hitRow
	if err := s.x.SelectContext(ctx, &rows, sqlText, args...); err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]store.SearchHit, len(rows))
	for i, r := range rows {
		hits[i] = r.hit()
	}
	return hits, nil
}

// ftsQuery quotes each term so user input cannot inject FTS5 syntax.
// Terms are combined with implicit AND.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}
