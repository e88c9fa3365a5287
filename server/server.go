// Package server provides the HTTP surface of the ragserve service: the
// chat endpoint that runs one query through the RAG orchestrator, and a
// liveness probe. The server is stateless; every request is a single
// linear pass with no shared mutable state between concurrent requests.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

// Server is the HTTP front of the query orchestrator.
type Server struct {
	config       ServerConfig
	orchestrator *rag.Orchestrator
	logger       *zap.Logger
	limiter      *rate.Limiter
	app          *fiber.App
}

// New creates a Server and registers its routes. The orchestrator is
// injected so tests can back it with fake providers.
func New(config ServerConfig, orchestrator *rag.Orchestrator, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	// The chat widget is served from another origin.
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))

	s := &Server{
		config:       config,
		orchestrator: orchestrator,
		logger:       logger,
		app:          app,
	}

	if config.RateLimitRPS > 0 {
		burst := config.RateLimitBurst
		if burst <= 0 {
			burst = int(config.RateLimitRPS) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst)
	}

	// The hosting router fronts the service under /api; both spellings
	// are served so local clients need no rewrite rules.
	app.Post("/chat", s.handleChat)
	app.Post("/api/chat", s.handleChat)
	app.Get("/health", s.handleHealth)
	app.Get("/api/health", s.handleHealth)

	return s
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting server", zap.String("listen", s.config.ListenAddr))
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// handleHealth reports liveness without touching any dependency.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(map[string]string{
		"status":  "ok",
		"message": "ragserve backend is active",
		"version": Version,
	})
}

// handleChat runs one chat query: embed, retrieve, generate, respond.
func (s *Server) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()
	log := s.logger.With(zap.String("request_id", uuid.NewString()))

	if s.limiter != nil && !s.limiter.Allow() {
		return c.Status(fiber.StatusTooManyRequests).JSON(rag.ErrorResponse{Error: "too many requests"})
	}

	var req rag.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		log.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(rag.ErrorResponse{Error: "invalid request body"})
	}

	log.Debug("received chat request",
		zap.Int("message_len", len(req.Message)),
		zap.Int("history_len", len(req.History)),
		zap.Bool("stream", req.Stream != nil && *req.Stream),
	)

	if req.Stream != nil && *req.Stream {
		return s.handleStreamingChat(c, &req, log, startTime)
	}

	resp, err := s.orchestrator.Answer(c.Context(), &req)
	if err != nil {
		return s.writeError(c, log, err)
	}

	log.Info("chat request served",
		zap.Int("sources", len(resp.Sources)),
		zap.Duration("duration", time.Since(startTime)),
	)

	return c.JSON(resp)
}

// handleStreamingChat streams the answer as NDJSON chunks. Validation,
// embedding and retrieval failures surface as regular error responses
// before any chunk is written; the final chunk carries done plus the
// source list.
func (s *Server) handleStreamingChat(c *fiber.Ctx, req *rag.ChatRequest, log *zap.Logger, startTime time.Time) error {
	sources, tokens, err := s.orchestrator.AnswerStream(c.Context(), req)
	if err != nil {
		return s.writeError(c, log, err)
	}

	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		var answer strings.Builder
		enc := json.NewEncoder(w)

		for tok := range tokens {
			if tok.Err != nil {
				log.Error("generation stream failed", zap.Error(tok.Err))
				return
			}
			if tok.Done {
				break
			}
			answer.WriteString(tok.Content)
			if err := enc.Encode(rag.StreamChunk{Content: tok.Content}); err != nil {
				return
			}
			w.Flush()
		}

		enc.Encode(rag.StreamChunk{Done: true, Sources: sources})
		w.Flush()

		log.Info("streaming chat request served",
			zap.Int("sources", len(sources)),
			zap.Int("answer_len", answer.Len()),
			zap.Duration("duration", time.Since(startTime)),
		)
	}))

	return nil
}

// writeError maps orchestrator failures to HTTP responses. Upstream
// detail (stage, wrapped error) stays in the logs; the client sees a
// single generic message.
func (s *Server) writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var verr rag.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(rag.ErrorResponse{Error: verr.Reason})
	}

	var uerr rag.UpstreamError
	if errors.As(err, &uerr) {
		log.Error("upstream call failed",
			zap.String("stage", uerr.Stage),
			zap.Error(uerr.Err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(rag.ErrorResponse{Error: "upstream request failed"})
	}

	log.Error("chat request failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(rag.ErrorResponse{Error: "internal error"})
}
