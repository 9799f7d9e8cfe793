package sqlitestore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

// timeLayout is fixed width so text comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nowText() string { return formatTime(time.Now()) }

// timeValue stores nil or zero times as NULL.
func timeValue(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

// nullTime scans a TEXT timestamp column.
type nullTime struct {
	Time *time.Time
}

func (n *nullTime) Scan(v any) error {
	var s string
	switch x := v.(type) {
	case nil:
		n.Time = nil
		return nil
	case string:
		s = x
	case []byte:
		s = string(x)
	case time.Time:
		t := x.UTC()
		n.Time = &t
		return nil
	default:
		return fmt.Errorf("scan time: unsupported type %T", v)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("scan time %q: %w", s, err)
	}
	t = t.UTC()
	n.Time = &t
	return nil
}

func (n nullTime) Value() (driver.Value, error) {
	if n.Time == nil {
		return nil, nil
	}
	return formatTime(*n.Time), nil
}

func (n nullTime) value() time.Time {
	if n.Time == nil {
		return time.Time{}
	}
	return *n.Time
}

// --- Nullable helpers ---

func nilStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func jsonOrEmpty(data []byte) string {
	if len(data) == 0 {
		return "{}"
	}
	return string(data)
}

func jsonOrNil(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func rawOrNil(s *string) json.RawMessage {
	if s == nil || *s == "" {
		return nil
	}
	return json.RawMessage(*s)
}

// --- Vector helpers ---

func encodeVector(v []float32) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	return string(b), nil
}

func decodeVector(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}

// --- Filter builder ---

// filterBuilder appends WHERE clauses for a SearchFilter with ? placeholders.
type filterBuilder struct {
	clauses []string
	args    []any
}

func (b *filterBuilder) add(clause string, args ...any) {
	b.clauses = append(b.clauses, clause)
	b.args = append(b.args, args...)
}

func (b *filterBuilder) apply(f store.SearchFilter) {
	if f.Project != "" {
		b.add(`lower(c.project_name) LIKE '%' || lower(?) || '%' ESCAPE '\'`, store.EscapeLike(f.Project))
	}
	if f.Role != "" {
		b.add("m.role = ?", f.Role)
	}
	if f.After != nil {
		b.add(`m."timestamp" >= ?`, formatTime(*f.After))
	}
	if f.Before != nil {
		b.add(`m."timestamp" < ?`, formatTime(*f.Before))
	}
}

func (b *filterBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.clauses, " AND ")
}
