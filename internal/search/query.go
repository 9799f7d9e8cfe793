package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

// Mode selects how a query is matched.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
)

// Query is one search request.
type Query struct {
	Text        string     `json:"query"`
	Project     string     `json:"project,omitempty"`
	Role        string     `json:"role,omitempty"`
	After       *time.Time `json:"after,omitempty"`
	Before      *time.Time `json:"before,omitempty"`
	MaxDistance *float64   `json:"threshold,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Mode        Mode       `json:"mode,omitempty"`
}

// Result is a ranked hit with its score and band.
type Result struct {
	store.SearchHit
	Similarity   float64 `json:"similarity"`
	Band         string  `json:"band,omitempty"`
	ProjectMatch int     `json:"project_match"`
}

// Response is the ranked result list for a query.
type Response struct {
	Query       string   `json:"query"`
	Mode        Mode     `json:"mode"`
	Model       string   `json:"model,omitempty"`
	MaxDistance float64  `json:"threshold"`
	Limit       int      `json:"limit"`
	Results     []Result `json:"results"`
	Warnings    []string `json:"warnings,omitempty"`
	TookMS      int64    `json:"took_ms"`
}

// normalize validates q and fills defaults. The returned filter has no Model
// and no Limit; the engine sets both.
func (e *Engine) normalize(q Query) (Query, store.SearchFilter, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, store.SearchFilter{}, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	switch q.Mode {
	case "":
		q.Mode = ModeSemantic
	case ModeSemantic, ModeKeyword:
	default:
		return q, store.SearchFilter{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
	}
	q.Project = strings.TrimSpace(q.Project)
	if len(q.Project) > store.MaxProjectFilterLength {
		return q, store.SearchFilter{}, fmt.Errorf("%w: project filter longer than %d chars", ErrInvalidQuery, store.MaxProjectFilterLength)
	}
	if q.Role != "" && !store.ValidRole(q.Role) {
		return q, store.SearchFilter{}, fmt.Errorf("%w: role must be one of %s", ErrInvalidQuery, strings.Join(store.Roles, ", "))
	}
	if q.After != nil && q.Before != nil && q.After.After(*q.Before) {
		return q, store.SearchFilter{}, fmt.Errorf("%w: after is later than before", ErrInvalidQuery)
	}

	maxDist := e.cfg.DefaultMaxDistance
	if q.MaxDistance != nil {
		maxDist = *q.MaxDistance
	}
	if maxDist < 0 || maxDist > 2 {
		return q, store.SearchFilter{}, fmt.Errorf("%w: threshold %.3f outside [0, 2]", ErrInvalidQuery, maxDist)
	}
	q.MaxDistance = &maxDist

	switch {
	case q.Limit <= 0:
		q.Limit = e.cfg.DefaultLimit
	case q.Limit > e.cfg.MaxLimit:
		q.Limit = e.cfg.MaxLimit
	}

	return q, store.SearchFilter{
		Project:     q.Project,
		Role:        q.Role,
		After:       q.After,
		Before:      q.Before,
		MaxDistance: maxDist,
	}, nil
}
