// Package server is the captioning HTTP service: it accepts frames on
// /api/caption, asks a vision model to describe them and archives the result.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/archive"
	"github.com/teslashibe/go-caption/pkg/caption"
	"github.com/teslashibe/go-caption/pkg/metrics"
	"github.com/teslashibe/go-caption/pkg/ollama"
)

// DefaultPrompt is used when a request omits the prompt.
const DefaultPrompt = "Describe what you see."

// Describer produces a caption for a base64 image.
type Describer interface {
	Describe(ctx context.Context, prompt, imageB64 string) (string, error)
	URL() string
	Model() string
}

// Pinger is optionally implemented by backends that support health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server dependencies.
type Config struct {
	Addr    string
	Backend Describer

	// Archive, when nil, disables frame and history storage.
	Archive *archive.Archive

	// Registry, when set, is served at /metrics.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// Server handles caption requests.
type Server struct {
	app     *fiber.App
	addr    string
	backend Describer
	archive *archive.Archive
	feed    *Feed
	logger  *slog.Logger
	started time.Time
}

// New builds the fiber app and routes.
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("server: backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("server")
	}

	s := &Server{
		addr:    cfg.Addr,
		backend: cfg.Backend,
		archive: cfg.Archive,
		feed:    NewFeed(50, cfg.Logger),
		logger:  cfg.Logger,
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Caption Server",
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Post("/caption", s.handleCaption)
	api.Get("/health", s.handleHealth)
	api.Get("/history", s.handleHistory)
	if cfg.Registry != nil {
		app.Get("/metrics", metrics.Handler(cfg.Registry))
	}
	s.feed.RegisterRoutes(app)

	s.app = app
	return s, nil
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("caption server listening", "addr", s.addr, "model", s.backend.Model(), "backend", s.backend.URL())
	return s.app.Listen(s.addr)
}

// Shutdown stops the listener, waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Feed returns the live caption feed.
func (s *Server) Feed() *Feed {
	return s.feed
}

type captionRequest struct {
	ImageData string  `json:"image_data"`
	Prompt    *string `json:"prompt"`
}

func (s *Server) handleCaption(c *fiber.Ctx) error {
	if !isJSON(c.Get(fiber.HeaderContentType)) {
		s.logger.Warn("caption request is not JSON", "content_type", c.Get(fiber.HeaderContentType))
		return s.reply(c, fiber.StatusUnsupportedMediaType, caption.Response{
			Error: "Invalid request: Content-Type must be application/json",
		})
	}

	var req captionRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return s.reply(c, fiber.StatusBadRequest, caption.Response{Error: "Invalid JSON body"})
	}

	image := caption.StripDataURI(req.ImageData)
	prompt := DefaultPrompt
	if req.Prompt != nil {
		prompt = *req.Prompt
	}
	prompt = strings.TrimSpace(prompt)

	if image == "" {
		s.logger.Warn("caption request without image")
		return s.reply(c, fiber.StatusBadRequest, caption.Response{Error: "No image data provided"})
	}
	if prompt == "" {
		s.logger.Warn("caption request without prompt")
		return s.reply(c, fiber.StatusBadRequest, caption.Response{Error: "Prompt is required"})
	}

	imageName := s.saveFrame(image)

	start := time.Now()
	raw, err := s.backend.Describe(c.UserContext(), prompt, image)
	metrics.ObserveBackend(s.backend.Model(), time.Since(start))
	if err != nil {
		status, msg := s.backendError(err)
		s.logger.Error("vision backend failed", "status", status, "error", err)
		return s.reply(c, status, caption.Response{Error: msg})
	}

	text := NormalizeCaption(raw)
	if text != raw {
		s.logger.Info("caption replaced", "prompt", prompt, "raw", raw)
	}

	if s.archive != nil {
		if err := s.archive.Append(archive.Entry{Prompt: prompt, Caption: text, Image: imageName}); err != nil {
			s.logger.Error("saving caption history failed", "error", err)
		}
	}
	s.feed.Publish(CaptionEvent{Prompt: prompt, Caption: text, Image: imageName})

	s.logger.Info("caption served", "latency_ms", time.Since(start).Milliseconds())
	return s.reply(c, fiber.StatusOK, caption.Response{Caption: text})
}

// saveFrame archives the decoded frame. Failures are logged only.
func (s *Server) saveFrame(image string) string {
	if s.archive == nil {
		return ""
	}
	data, err := caption.DecodeImage(image)
	if err != nil {
		s.logger.Error("decoding frame failed", "error", err)
		return ""
	}
	name, err := s.archive.SaveFrame(data)
	if err != nil {
		s.logger.Error("saving frame failed", "error", err)
		return ""
	}
	return name
}

// backendError maps a backend failure to an HTTP status and message.
func (s *Server) backendError(err error) (int, string) {
	var apiErr *ollama.APIError
	switch {
	case ollama.IsTimeout(err):
		return fiber.StatusGatewayTimeout, "The request to the Ollama server timed out."
	case ollama.IsUnreachable(err):
		return fiber.StatusServiceUnavailable, fmt.Sprintf("Could not connect to Ollama server at %s.", s.backend.URL())
	case errors.As(err, &apiErr):
		return apiErr.StatusCode, "Ollama API error: " + apiErr.Message
	default:
		return fiber.StatusInternalServerError, "An unexpected server error occurred: " + err.Error()
	}
}

func (s *Server) reply(c *fiber.Ctx, status int, resp caption.Response) error {
	metrics.RecordServerRequest(status)
	return c.Status(status).JSON(resp)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":  "ok",
		"model":   s.backend.Model(),
		"backend": s.backend.URL(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"feed":    s.feed.Stats(),
	}
	if p, ok := s.backend.(Pinger); ok {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
		}
	}
	return c.JSON(resp)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"captions": s.feed.Recent()})
}

// isJSON accepts application/json and any +json media type.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
