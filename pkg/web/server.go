// Package web serves the live captioning dashboard.
package web

import (
	"context"
	_ "embed"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/capture"
	"github.com/teslashibe/go-caption/pkg/hub"
	"github.com/teslashibe/go-caption/pkg/metrics"
)

//go:embed static/index.html
var indexHTML []byte

// State is what the dashboard shows.
type State struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Caption string `json:"caption"`
	Toggle  string `json:"toggle"`
	Active  bool   `json:"active"`
	Updated string `json:"updated"`
}

// Controller drives the capture session from the dashboard.
type Controller interface {
	Toggle(ctx context.Context) error
	SetPeriod(raw string) error
	SetInstruction(text string)
	Snapshot() capture.Snapshot
}

// Server is the dashboard. It implements capture.Surface and
// capture.FrameViewer so a session can report straight into it.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	state   State
	stateMu sync.RWMutex

	statusHub *hub.Hub
	cameraHub *hub.Hub

	ctrlMu     sync.RWMutex
	controller Controller
}

// NewServer creates a dashboard listening on addr. A non-nil registry is
// served at /metrics.
func NewServer(addr string, registry *prometheus.Registry) *Server {
	s := &Server{
		addr:      addr,
		logger:    log.Component("web"),
		state:     State{Status: capture.StatusIdle, Toggle: capture.LabelStart},
		statusHub: hub.New("status"),
		cameraHub: hub.New("camera"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Caption Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/", s.handleIndex)
	if registry != nil {
		app.Get("/metrics", metrics.Handler(registry))
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/session/toggle", s.handleToggle)
	api.Put("/session/period", s.handleSetPeriod)
	api.Put("/session/instruction", s.handleSetInstruction)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// SetController attaches the session the control API acts on.
func (s *Server) SetController(c Controller) {
	s.ctrlMu.Lock()
	s.controller = c
	s.ctrlMu.Unlock()
}

func (s *Server) ctrl() Controller {
	s.ctrlMu.RLock()
	defer s.ctrlMu.RUnlock()
	return s.controller
}

// Start runs the hubs and serves until Shutdown.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.cameraHub.Run()

	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown stops the hubs and the listener.
func (s *Server) Shutdown() error {
	s.statusHub.Stop()
	s.cameraHub.Stop()
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// State returns a copy of the displayed state.
func (s *Server) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Server) update(fn func(*State)) {
	s.stateMu.Lock()
	fn(&s.state)
	s.state.Updated = time.Now().Format("15:04:05")
	state := s.state
	s.stateMu.Unlock()

	s.statusHub.BroadcastJSON(state)
}

// SetStatus implements capture.Surface.
func (s *Server) SetStatus(text string) {
	s.update(func(st *State) { st.Status = text })
}

// ShowError implements capture.Surface.
func (s *Server) ShowError(msg string) {
	s.update(func(st *State) { st.Error = msg })
}

// ClearError implements capture.Surface.
func (s *Server) ClearError() {
	s.update(func(st *State) { st.Error = "" })
}

// SetCaption implements capture.Surface.
func (s *Server) SetCaption(text string) {
	s.update(func(st *State) { st.Caption = text })
}

// SetToggle implements capture.Surface.
func (s *Server) SetToggle(label string, active bool) {
	s.update(func(st *State) {
		st.Toggle = label
		st.Active = active
	})
}

// ShowFrame implements capture.FrameViewer.
func (s *Server) ShowFrame(jpeg []byte) {
	s.cameraHub.BroadcastBinary(jpeg)
}
