package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/bwads001/claude-conversation-analyzer/internal/embedding"
	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
	"github.com/bwads001/claude-conversation-analyzer/pkg/protocol"
)

// toErrorShape maps a domain error to its wire form. Internal errors never
// leak their text.
func toErrorShape(err error) *protocol.ErrorShape {
	var shape *protocol.ErrorShape
	switch {
	case errors.As(err, &shape):
		return shape
	case errors.Is(err, search.ErrInvalidQuery), errors.Is(err, store.ErrInvalidFilter):
		return protocol.NewError(protocol.ErrInvalidRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return protocol.NewError(protocol.ErrNotFound, err.Error())
	case errors.Is(err, search.ErrModelMismatch):
		return protocol.NewError(protocol.ErrFailedPrecondition, err.Error())
	case errors.Is(err, search.ErrUnavailable), errors.Is(err, embedding.ErrUnavailable):
		return protocol.NewError(protocol.ErrUnavailable, err.Error())
	default:
		return protocol.NewError(protocol.ErrInternal, "internal error")
	}
}

func writeError(c *fiber.Ctx, shape *protocol.ErrorShape) error {
	out := *shape
	if id, ok := c.Locals(requestIDKey).(string); ok {
		out.RequestID = id
	}
	return c.Status(protocol.HTTPStatus(out.Code)).JSON(out)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return writeError(c, protocol.NewError(protocol.ErrInvalidRequest, msg))
}

// errorHandler is the fiber fallback for errors returned by handlers.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := protocol.ErrInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			code = protocol.ErrNotFound
		case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed:
			code = protocol.ErrInvalidRequest
		}
		return writeError(c, protocol.NewError(code, fe.Message))
	}

	shape := toErrorShape(err)
	if shape.Code == protocol.ErrInternal {
		s.logger.Error().
			Err(err).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")
	}
	return writeError(c, shape)
}
