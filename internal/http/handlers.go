package http

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/pkg/protocol"
)

const healthTimeout = 5 * time.Second

// fail writes err in wire form; handlers return its result.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	shape := toErrorShape(err)
	if shape.Code == protocol.ErrInternal {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return writeError(c, shape)
}

// GET /api/search?q=&project=&role=&dateAfter=&dateBefore=&threshold=&limit=&mode=
func (s *Server) handleSearch(c *fiber.Ctx) error {
	q := search.Query{
		Text:    c.Query("q"),
		Project: c.Query("project"),
		Role:    c.Query("role"),
		Mode:    search.Mode(c.Query("mode")),
	}
	var err error
	if q.After, err = search.ParseTime(c.Query("dateAfter")); err != nil {
		return s.fail(c, err)
	}
	if q.Before, err = search.ParseTime(c.Query("dateBefore")); err != nil {
		return s.fail(c, err)
	}
	if v := c.Query("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return badRequest(c, "threshold must be a number")
		}
		q.MaxDistance = &f
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		q.Limit = n
	}

	resp, err := s.deps.Searcher.Search(c.UserContext(), q)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(resp)
}

// GET /api/conversations/:id
func (s *Server) handleConversation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid conversation id")
	}
	exp, err := s.deps.Searcher.Expand(c.UserContext(), search.ExpandRequest{ConversationID: id})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(exp)
}

// GET /api/conversations/:id/context?messageId=&contextSize=
func (s *Server) handleContext(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid conversation id")
	}
	anchor := c.Query("messageId")
	if anchor == "" {
		return badRequest(c, "messageId is required")
	}
	window := 0
	if v := c.Query("contextSize"); v != "" {
		if window, err = strconv.Atoi(v); err != nil {
			return badRequest(c, "contextSize must be an integer")
		}
	}
	exp, err := s.deps.Searcher.Expand(c.UserContext(), search.ExpandRequest{
		ConversationID:  id,
		AnchorMessageID: anchor,
		Window:          window,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(exp)
}

// GET /api/projects
func (s *Server) handleProjects(c *fiber.Ctx) error {
	projects, err := s.deps.Searcher.Projects(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"projects": projects})
}

// GET /api/stats
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.deps.Searcher.Stats(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(stats)
}

// healthReport is the body of GET /api/health.
type healthReport struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Embedding string `json:"embedding"`
}

// GET /api/health answers 503 only when the database is down. An unreachable
// embedding service degrades semantic search but keyword search still works.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	rep := healthReport{Status: "ok", Database: "ok", Embedding: "disabled"}
	if err := s.deps.Store.Ping(ctx); err != nil {
		rep.Status = "down"
		rep.Database = err.Error()
	}
	if s.deps.Embedder != nil {
		rep.Embedding = "ok"
		if err := s.deps.Embedder.Ping(ctx); err != nil {
			rep.Embedding = err.Error()
			if rep.Status == "ok" {
				rep.Status = "degraded"
			}
		}
	}
	status := fiber.StatusOK
	if rep.Status == "down" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(rep)
}
