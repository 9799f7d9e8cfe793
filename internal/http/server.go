// Package http serves the search API over fiber.
package http

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/metrics"
	"github.com/bwads001/claude-conversation-analyzer/internal/search"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

const requestIDKey = "requestid"

var tracer = otel.Tracer("github.com/bwads001/claude-conversation-analyzer/internal/http")

// Searcher is the query side the API serves.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
	Expand(ctx context.Context, req search.ExpandRequest) (*search.Expansion, error)
	Projects(ctx context.Context) ([]store.ProjectInfo, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components behind the API.
type Deps struct {
	Searcher Searcher
	Store    Pinger
	// Embedder is optional; nil reports embedding as disabled.
	Embedder Pinger
	Metrics  *metrics.Metrics
}

// Server is the REST API.
type Server struct {
	app     *fiber.App
	deps    Deps
	cfg     config.ServerConfig
	limiter *RateLimiter
	logger  zerolog.Logger
}

// NewServer wires middleware and routes.
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "http").Logger(),
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
	})
	s.limiter = NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst, s.logger)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.New(requestid.Config{ContextKey: requestIDKey}))
	s.app.Use(s.accessLog)

	if len(s.cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(s.cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, OPTIONS",
		}))
	}
	if s.limiter.Enabled() {
		s.app.Use(s.limiter.Middleware())
	}
	s.app.Use(newAuthMiddleware(s.cfg.Token, s.logger))
}

func (s *Server) setupRoutes() {
	s.app.Get("/api/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	api := s.app.Group("/api")
	api.Get("/search", s.handleSearch)
	api.Get("/conversations/:id", s.handleConversation)
	api.Get("/conversations/:id/context", s.handleContext)
	api.Get("/projects", s.handleProjects)
	api.Get("/stats", s.handleStats)
}

// accessLog logs each request and wraps it in a server span so search and
// embedding spans share one trace.
func (s *Server) accessLog(c *fiber.Ctx) error {
	if isProbe(c.Path()) {
		return c.Next()
	}
	start := time.Now()
	id, _ := c.Locals(requestIDKey).(string)
	ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("request_id", id)),
	)
	defer span.End()
	c.SetUserContext(ctx)

	err := c.Next()
	span.SetAttributes(attribute.Int("status", c.Response().StatusCode()))
	s.logger.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Str("ip", c.IP()).
		Str("request_id", id).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("api request")
	return err
}

// Listen blocks serving on addr.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = s.cfg.Listen
	}
	s.logger.Info().Str("addr", addr).Msg("http api listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http api shutting down")
	s.limiter.Close()
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }
