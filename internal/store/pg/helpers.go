package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

// --- Nullable helpers ---

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// --- JSON helpers ---

func jsonOrEmpty(data []byte) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}

func rawOrNil(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

// --- UNNEST array helpers ---
//
// Bulk statements pass one text[] per column and cast inside SQL, so NULL
// elements survive as sql.NullString.

func nullText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(data []byte) sql.NullString {
	if len(data) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func nullTimeText(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullVector(v []float32) sql.NullString {
	if len(v) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: pgvector.NewVector(v).String(), Valid: true}
}

func uuidArray[T any](items []T, id func(T) string) any {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return pq.Array(out)
}

// --- Filter builder ---

// filterBuilder appends positional WHERE clauses for a SearchFilter.
type filterBuilder struct {
	clauses []string
	args    []any
}

func (b *filterBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *filterBuilder) add(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *filterBuilder) apply(f store.SearchFilter) {
	if f.Project != "" {
		b.add(fmt.Sprintf(`c.project_name ILIKE '%%' || %s || '%%' ESCAPE '\'`, b.arg(store.EscapeLike(f.Project))))
	}
	if f.Role != "" {
		b.add("m.role = " + b.arg(f.Role))
	}
	if f.After != nil {
		b.add(`m."timestamp" >= ` + b.arg(f.After.UTC()))
	}
	if f.Before != nil {
		b.add(`m."timestamp" < ` + b.arg(f.Before.UTC()))
	}
}

func (b *filterBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.clauses, " AND ")
}
