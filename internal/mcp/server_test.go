package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

type fakeSearcher struct {
	err     error
	query   search.Query
	request search.ExpandRequest
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) (*search.Response, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return &search.Response{Query: q.Text, Results: []search.Result{{
		SearchHit:  store.SearchHit{MessageUUID: "m1", Content: "use a connection pool", Distance: 0.2},
		Similarity: 0.8,
		Band:       search.BandVerySimilar,
	}}}, nil
}

func (f *fakeSearcher) Expand(_ context.Context, req search.ExpandRequest) (*search.Expansion, error) {
	f.request = req
	if f.err != nil {
		return nil, f.err
	}
	return &search.Expansion{Conversation: &store.Conversation{ID: req.ConversationID}}, nil
}

func (f *fakeSearcher) Projects(context.Context) ([]store.ProjectInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []store.ProjectInfo{{Name: "work/api", Conversations: 3}}, nil
}

func call(name string, args map[string]any) mcpgo.CallToolRequest {
	var req mcpgo.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// resultText concatenates all text content of a tool result.
func resultText(result *mcpgo.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}

func TestTools_Registered(t *testing.T) {
	s := NewServer(&fakeSearcher{}, "test", zerolog.Nop())
	tools := s.srv.ListTools()
	for _, name := range []string{ToolSearch, ToolExpand, ToolProjects} {
		assert.Contains(t, tools, name)
	}
}

func TestSearchTool(t *testing.T) {
	fs := &fakeSearcher{}
	s := NewServer(fs, "test", zerolog.Nop())

	res, err := s.handleSearch(context.Background(), call(ToolSearch, map[string]any{
		"query":     "connection pool",
		"project":   "api",
		"role":      "assistant",
		"after":     "2026-03-01",
		"threshold": 0.4,
		"limit":     float64(3),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	assert.Equal(t, "connection pool", fs.query.Text)
	assert.Equal(t, "api", fs.query.Project)
	assert.Equal(t, "assistant", fs.query.Role)
	assert.Equal(t, 3, fs.query.Limit)
	require.NotNil(t, fs.query.MaxDistance)
	assert.InDelta(t, 0.4, *fs.query.MaxDistance, 1e-9)
	require.NotNil(t, fs.query.After)

	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "m1", resp.Results[0].MessageUUID)
}

func TestSearchTool_NoThresholdUsesDefault(t *testing.T) {
	fs := &fakeSearcher{}
	s := NewServer(fs, "test", zerolog.Nop())
	_, err := s.handleSearch(context.Background(), call(ToolSearch, map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.Nil(t, fs.query.MaxDistance)
}

func TestSearchTool_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		args map[string]any
		want string
	}{
		{"missing query", nil, map[string]any{}, "query"},
		{"bad date", nil, map[string]any{"query": "x", "before": "soon"}, "cannot parse time"},
		{"unavailable", fmt.Errorf("%w: connection refused", search.ErrUnavailable), map[string]any{"query": "x"}, "search unavailable"},
		{"mismatch", fmt.Errorf("%w: corpus uses other-model", search.ErrModelMismatch), map[string]any{"query": "x"}, "cca backfill"},
		{"invalid", fmt.Errorf("%w: role must be one of", search.ErrInvalidQuery), map[string]any{"query": "x"}, "role must be"},
		{"internal", fmt.Errorf("pq: relation does not exist"), map[string]any{"query": "x"}, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(&fakeSearcher{err: tc.err}, "test", zerolog.Nop())
			res, err := s.handleSearch(context.Background(), call(ToolSearch, tc.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(res), tc.want)
		})
	}
}

func TestExpandTool(t *testing.T) {
	fs := &fakeSearcher{}
	s := NewServer(fs, "test", zerolog.Nop())
	id := uuid.New()

	res, err := s.handleExpand(context.Background(), call(ToolExpand, map[string]any{
		"conversation_id": id.String(),
		"message_id":      "m7",
		"window":          float64(4),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	assert.Equal(t, id, fs.request.ConversationID)
	assert.Equal(t, "m7", fs.request.AnchorMessageID)
	assert.Equal(t, 4, fs.request.Window)

	res, err = s.handleExpand(context.Background(), call(ToolExpand, map[string]any{"conversation_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	s = NewServer(&fakeSearcher{err: store.ErrNotFound}, "test", zerolog.Nop())
	res, err = s.handleExpand(context.Background(), call(ToolExpand, map[string]any{"conversation_id": id.String()}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "not found", resultText(res))
}

func TestProjectsTool(t *testing.T) {
	s := NewServer(&fakeSearcher{}, "test", zerolog.Nop())
	res, err := s.handleProjects(context.Background(), call(ToolProjects, nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(res), "work/api")
}

func TestServeStdio_StopsOnEOF(t *testing.T) {
	s := NewServer(&fakeSearcher{}, "test", zerolog.Nop())
	var out strings.Builder
	err := s.ServeStdio(context.Background(), strings.NewReader(""), &out)
	assert.NoError(t, err)
}
