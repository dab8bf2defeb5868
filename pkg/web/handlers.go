package web

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-caption/pkg/capture"
	"github.com/teslashibe/go-caption/pkg/hub"
	"github.com/teslashibe/go-caption/pkg/media"
)

// StatusResponse is returned by GET /api/status and the control routes.
type StatusResponse struct {
	State   State             `json:"state"`
	Session *capture.Snapshot `json:"session,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type periodRequest struct {
	PeriodMs json.RawMessage `json:"period_ms"`
}

type instructionRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Type("html")
	return c.Send(indexHTML)
}

func (s *Server) status(err error) StatusResponse {
	resp := StatusResponse{State: s.State()}
	if ctrl := s.ctrl(); ctrl != nil {
		snap := ctrl.Snapshot()
		resp.Session = &snap
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status(nil))
}

func (s *Server) handleToggle(c *fiber.Ctx) error {
	ctrl := s.ctrl()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no capture session"})
	}
	if err := ctrl.Toggle(c.UserContext()); err != nil {
		return c.Status(statusFor(err)).JSON(s.status(err))
	}
	return c.JSON(s.status(nil))
}

func (s *Server) handleSetPeriod(c *fiber.Ctx) error {
	ctrl := s.ctrl()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no capture session"})
	}
	var req periodRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	// Accept both 2000 and "2000"; anything else is left for validation.
	raw := strings.Trim(strings.TrimSpace(string(req.PeriodMs)), `"`)
	if err := ctrl.SetPeriod(raw); err != nil {
		return c.Status(statusFor(err)).JSON(s.status(err))
	}
	return c.JSON(s.status(nil))
}

func (s *Server) handleSetInstruction(c *fiber.Ctx) error {
	ctrl := s.ctrl()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no capture session"})
	}
	var req instructionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	ctrl.SetInstruction(req.Instruction)
	return c.JSON(s.status(nil))
}

// statusFor maps session errors to HTTP codes.
func statusFor(err error) int {
	var cfgErr *capture.ConfigurationError
	var acqErr *media.AcquisitionError
	switch {
	case errors.As(err, &cfgErr):
		return fiber.StatusBadRequest
	case errors.As(err, &acqErr):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, capture.ErrAlreadyStarted), errors.Is(err, capture.ErrStartCancelled):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// handleStatusWS sends the current state, then every update.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if err := c.WriteJSON(s.State()); err != nil {
		return
	}
	hub.NewClient(s.statusHub, c).Run()
}

// handleCameraWS streams JPEG previews of transmitted frames.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.NewClient(s.cameraHub, c).Run()
}
