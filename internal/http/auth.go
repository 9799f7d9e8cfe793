package http

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/bwads001/claude-conversation-analyzer/pkg/protocol"
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// tokenMatch performs a constant-time comparison of a provided token against the expected token.
// Returns true if expected is empty (no auth configured) or if tokens match.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// newAuthMiddleware rejects requests without the configured bearer token.
// Probe endpoints stay open.
func newAuthMiddleware(token string, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" || isProbe(c.Path()) {
			return c.Next()
		}
		if !tokenMatch(extractBearerToken(c), token) {
			logger.Warn().
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("unauthorized request")
			return writeError(c, protocol.NewError(protocol.ErrUnauthorized, "missing or invalid bearer token"))
		}
		return c.Next()
	}
}

func isProbe(path string) bool {
	return path == "/api/health" || path == "/metrics"
}
