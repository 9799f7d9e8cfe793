// Package mcp exposes search, expand and project listing as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

// Tool names.
const (
	ToolSearch   = "search_conversations"
	ToolExpand   = "expand_conversation"
	ToolProjects = "list_projects"
)

// Searcher is the query side exposed as tools.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
	Expand(ctx context.Context, req search.ExpandRequest) (*search.Expansion, error)
	Projects(ctx context.Context) ([]store.ProjectInfo, error)
}

// Server is an MCP tool server.
type Server struct {
	srv      *mcpserver.MCPServer
	searcher Searcher
	logger   zerolog.Logger
}

// NewServer registers the tools.
func NewServer(searcher Searcher, version string, logger zerolog.Logger) *Server {
	s := &Server{
		srv: mcpserver.NewMCPServer("cca", version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
			mcpserver.WithInstructions("Search and read past Claude conversations. Use search_conversations first, then expand_conversation with a hit's conversation_id and message_uuid for surrounding context."),
		),
		searcher: searcher,
		logger:   logger.With().Str("component", "mcp").Logger(),
	}
	s.srv.AddTool(searchTool(), s.handleSearch)
	s.srv.AddTool(expandTool(), s.handleExpand)
	s.srv.AddTool(projectsTool(), s.handleProjects)
	return s
}

// ServeStdio serves JSON-RPC on in/out until ctx ends or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.srv)
	stdio.SetErrorLogger(log.New(s.logger, "", 0))
	s.logger.Info().Msg("mcp server listening on stdio")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func searchTool() mcpgo.Tool {
	return mcpgo.NewTool(ToolSearch,
		mcpgo.WithDescription("Semantic search over ingested conversation messages. Results are ranked by cosine distance, then recency."),
		mcpgo.WithReadOnlyHintAnnotation(true),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("What to look for, in natural language.")),
		mcpgo.WithString("project", mcpgo.Description("Case-insensitive substring of the project name.")),
		mcpgo.WithString("role", mcpgo.Description("Only messages with this role."), mcpgo.Enum(store.Roles...)),
		mcpgo.WithString("after", mcpgo.Description("Only messages at or after this time (RFC 3339 or YYYY-MM-DD).")),
		mcpgo.WithString("before", mcpgo.Description("Only messages before this time (RFC 3339 or YYYY-MM-DD).")),
		mcpgo.WithNumber("threshold", mcpgo.Description("Maximum cosine distance, 0 to 2. Lower is stricter."), mcpgo.Min(0), mcpgo.Max(2)),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum number of results."), mcpgo.Min(1)),
		mcpgo.WithString("mode", mcpgo.Description("semantic (default) or keyword."), mcpgo.Enum(string(search.ModeSemantic), string(search.ModeKeyword))),
	)
}

func expandTool() mcpgo.Tool {
	return mcpgo.NewTool(ToolExpand,
		mcpgo.WithDescription("Return a conversation, or the messages around one message of it."),
		mcpgo.WithReadOnlyHintAnnotation(true),
		mcpgo.WithString("conversation_id", mcpgo.Required(), mcpgo.Description("Conversation id from a search hit.")),
		mcpgo.WithString("message_id", mcpgo.Description("Anchor message uuid. Omit for the whole conversation.")),
		mcpgo.WithNumber("window", mcpgo.Description("Messages on each side of the anchor (default 10, max 200)."), mcpgo.Min(0)),
	)
}

func projectsTool() mcpgo.Tool {
	return mcpgo.NewTool(ToolProjects,
		mcpgo.WithDescription("List projects with conversation and message counts."),
		mcpgo.WithReadOnlyHintAnnotation(true),
	)
}

func (s *Server) handleSearch(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	text, err := req.RequireString("query")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	q := search.Query{
		Text:    text,
		Project: req.GetString("project", ""),
		Role:    req.GetString("role", ""),
		Limit:   req.GetInt("limit", 0),
		Mode:    search.Mode(req.GetString("mode", "")),
	}
	if q.After, err = search.ParseTime(req.GetString("after", "")); err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if q.Before, err = search.ParseTime(req.GetString("before", "")); err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if _, ok := req.GetArguments()["threshold"]; ok {
		t, err := req.RequireFloat("threshold")
		if err != nil {
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		q.MaxDistance = &t
	}

	resp, err := s.searcher.Search(ctx, q)
	if err != nil {
		return s.toolError(ToolSearch, err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleExpand(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	raw, err := req.RequireString("conversation_id")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return mcpgo.NewToolResultError("conversation_id is not a valid id"), nil
	}
	exp, err := s.searcher.Expand(ctx, search.ExpandRequest{
		ConversationID:  id,
		AnchorMessageID: req.GetString("message_id", ""),
		Window:          req.GetInt("window", 0),
	})
	if err != nil {
		return s.toolError(ToolExpand, err), nil
	}
	return jsonResult(exp)
}

func (s *Server) handleProjects(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	projects, err := s.searcher.Projects(ctx)
	if err != nil {
		return s.toolError(ToolProjects, err), nil
	}
	return jsonResult(map[string]any{"projects": projects})
}

// toolError turns a failure into an error result. Unavailability gets its
// own wording so the caller can tell it apart from an empty result.
func (s *Server) toolError(tool string, err error) *mcpgo.CallToolResult {
	switch {
	case errors.Is(err, search.ErrUnavailable):
		return mcpgo.NewToolResultError("search unavailable: the embedding service could not be reached; try mode=keyword or retry later")
	case errors.Is(err, search.ErrModelMismatch):
		return mcpgo.NewToolResultError(fmt.Sprintf("%v; run `cca backfill` to re-embed the corpus", err))
	case errors.Is(err, search.ErrInvalidQuery), errors.Is(err, store.ErrInvalidFilter):
		return mcpgo.NewToolResultError(err.Error())
	case errors.Is(err, store.ErrNotFound):
		return mcpgo.NewToolResultError("not found")
	default:
		s.logger.Error().Err(err).Str("tool", tool).Msg("tool call failed")
		return mcpgo.NewToolResultError("internal error")
	}
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcpgo.NewToolResultText(string(data)), nil
}
