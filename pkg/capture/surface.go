package capture

import (
	"log/slog"
	"strconv"
)

// User-facing status and caption texts.
const (
	StatusIdle         = "Idle. Click Start."
	StatusInitializing = "Initializing webcam..."
	StatusStarted      = "Webcam active. Capturing..."
	StatusSending      = "Sending frame..."
	StatusPromptMiss   = "Prompt missing!"
	StatusCaptionError = "Captioning error!"
	StatusResponse     = "Response issue."
	StatusWebcamError  = "Webcam error!"
	StatusError        = "Error!"

	CaptionMissing = "No caption received or error in response."

	LabelStart = "Start"
	LabelStop  = "Stop"
)

// StatusCapturing is the steady-state status for a period.
func StatusCapturing(periodMs int) string {
	return "Capturing every " + strconv.FormatFloat(float64(periodMs)/1000, 'f', -1, 64) + "s..."
}

// Surface is the one-way UI sink the capture loop reports to.
type Surface interface {
	SetStatus(text string)
	ShowError(msg string)
	ClearError()
	SetCaption(text string)
	SetToggle(label string, active bool)
}

// FrameViewer is implemented by surfaces that preview transmitted frames.
type FrameViewer interface {
	ShowFrame(jpeg []byte)
}

// MultiSurface fans every update out to several surfaces.
type MultiSurface []Surface

func (m MultiSurface) SetStatus(text string) {
	for _, s := range m {
		s.SetStatus(text)
	}
}

func (m MultiSurface) ShowError(msg string) {
	for _, s := range m {
		s.ShowError(msg)
	}
}

func (m MultiSurface) ClearError() {
	for _, s := range m {
		s.ClearError()
	}
}

func (m MultiSurface) SetCaption(text string) {
	for _, s := range m {
		s.SetCaption(text)
	}
}

func (m MultiSurface) SetToggle(label string, active bool) {
	for _, s := range m {
		s.SetToggle(label, active)
	}
}

// ShowFrame forwards to members that implement FrameViewer.
func (m MultiSurface) ShowFrame(jpeg []byte) {
	for _, s := range m {
		if v, ok := s.(FrameViewer); ok {
			v.ShowFrame(jpeg)
		}
	}
}

// LogSurface writes surface updates to a structured logger, for headless runs.
type LogSurface struct {
	Logger *slog.Logger
}

func (l LogSurface) SetStatus(text string) { l.Logger.Info("status", "text", text) }
func (l LogSurface) ShowError(msg string)  { l.Logger.Error("error shown", "message", msg) }
func (l LogSurface) ClearError()           { l.Logger.Debug("error cleared") }
func (l LogSurface) SetCaption(text string) {
	if text != "" {
		l.Logger.Info("caption", "text", text)
	}
}
func (l LogSurface) SetToggle(label string, active bool) {
	l.Logger.Debug("toggle", "label", label, "active", active)
}
