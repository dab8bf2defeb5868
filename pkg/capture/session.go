// Package capture runs the periodic webcam captioning loop: it owns the camera
// stream, fires a timer at the selected period and ships each frame to the
// captioning service.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/media"
	"github.com/teslashibe/go-caption/pkg/metrics"
)

// Status is the session lifecycle state.
type Status int

const (
	Idle Status = iota
	Initializing
	Active
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Config holds session dependencies.
type Config struct {
	Provider    media.Provider
	Constraints media.Constraints
	Client      Captioner
	Encoder     Encoder
	Surface     Surface
	Clock       Clock

	// PeriodMs is the initial period text, e.g. "2000".
	PeriodMs string

	// Instruction is the initial prompt.
	Instruction string

	Logger *slog.Logger
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID          string `json:"id,omitempty"`
	Status      string `json:"status"`
	StreamID    string `json:"stream_id,omitempty"`
	Period      string `json:"period_ms"`
	Instruction string `json:"instruction"`
	Exchanges   int    `json:"exchanges"`
	LastCaption string `json:"last_caption,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Session owns the camera stream and drives the scheduler.
type Session struct {
	provider    media.Provider
	constraints media.Constraints
	surface     Surface
	transmitter *Transmitter
	scheduler   *Scheduler
	logger      *slog.Logger

	mu          sync.Mutex
	id          string
	status      Status
	stream      media.Stream
	period      string
	instruction string
	gen         uint64
	cancelInit  context.CancelFunc
	exchanges   int
	last        *Exchange
	lastErr     error

	// Exchanges outlive Stop; ctx is only cancelled by Close.
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewSession creates an idle session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Provider == nil {
		return nil, errors.New("capture: provider is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("capture: caption client is required")
	}
	if cfg.Surface == nil {
		cfg.Surface = LogSurface{Logger: log.Component("capture.surface")}
	}
	if cfg.Constraints == (media.Constraints{}) {
		cfg.Constraints = media.DefaultConstraints()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("capture.session")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		provider:    cfg.Provider,
		constraints: cfg.Constraints,
		surface:     cfg.Surface,
		logger:      cfg.Logger,
		period:      cfg.PeriodMs,
		instruction: cfg.Instruction,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.transmitter = NewTransmitter(cfg.Client, cfg.Encoder, cfg.Surface)
	s.scheduler = NewScheduler(cfg.Clock, cfg.Surface, s.tick, s.onInvalidPeriod)

	s.surface.SetToggle(LabelStart, false)
	s.surface.SetStatus(StatusIdle)
	metrics.SetSessionState(int(Idle))
	return s, nil
}

// Start acquires the camera and begins capturing. It blocks while the
// provider asks for access.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == Initializing || s.status == Active {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.gen++
	gen := s.gen
	acquireCtx, cancel := context.WithCancel(ctx)
	s.cancelInit = cancel
	s.setStatusLocked(Initializing)
	s.mu.Unlock()
	defer cancel()

	s.surface.ClearError()
	s.surface.SetCaption("")
	s.surface.SetStatus(StatusInitializing)
	s.logger.Info("requesting camera", "width", s.constraints.IdealWidth, "height", s.constraints.IdealHeight)

	stream, err := s.provider.Acquire(acquireCtx, s.constraints)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		s.logger.Debug("acquisition finished after stop, released")
		return ErrStartCancelled
	}
	s.cancelInit = nil

	if err != nil {
		acqErr := asAcquisitionError(err)
		s.lastErr = acqErr
		s.setStatusLocked(Failed)
		s.mu.Unlock()

		s.logger.Error("camera unavailable", "kind", acqErr.Kind.String(), "error", err)
		s.surface.ShowError(acqErr.Message())
		s.surface.SetStatus(StatusWebcamError)
		s.surface.SetToggle(LabelStart, false)
		return acqErr
	}

	s.stream = stream
	s.id = uuid.NewString()
	s.lastErr = nil
	s.setStatusLocked(Active)
	period := s.period
	s.mu.Unlock()

	s.logger.Info("camera active", "session", s.id, "stream", stream.ID())
	s.surface.SetToggle(LabelStop, true)
	s.surface.SetStatus(StatusStarted)

	if err := s.scheduler.StartWithPeriod(ParsePeriod(period)); err != nil {
		return err
	}

	// A Stop that raced the first tick may have run before the timer was armed.
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		s.scheduler.Stop()
	}
	return nil
}

// Stop cancels the timer, releases the camera and returns to Idle. It is safe
// to call in any state.
func (s *Session) Stop() {
	s.mu.Lock()
	s.gen++
	if s.cancelInit != nil {
		s.cancelInit()
		s.cancelInit = nil
	}
	s.scheduler.Stop()
	stream := s.stream
	s.stream = nil
	if stream != nil {
		stream.Stop()
	}
	prev := s.status
	s.setStatusLocked(Idle)
	s.mu.Unlock()

	if prev != Idle {
		s.logger.Info("capture stopped", "from", prev.String())
	}
	s.surface.ClearError()
	s.surface.SetToggle(LabelStart, false)
	s.surface.SetStatus(StatusIdle)
}

// Toggle stops a running session or starts an idle one.
func (s *Session) Toggle(ctx context.Context) error {
	switch s.Status() {
	case Initializing, Active:
		s.Stop()
		return nil
	default:
		return s.Start(ctx)
	}
}

// SetPeriod stores the period text and restarts the timer if capturing.
func (s *Session) SetPeriod(raw string) error {
	s.mu.Lock()
	s.period = raw
	active := s.status == Active
	s.mu.Unlock()

	if !active {
		return nil
	}
	s.logger.Info("capture period changed", "period_ms", raw)
	err := s.scheduler.Reconfigure(ParsePeriod(raw))
	if errors.Is(err, ErrNotActive) {
		return nil
	}
	if err == nil && !s.Active() {
		s.scheduler.Stop()
	}
	return err
}

// SetInstruction stores the prompt read by every tick.
func (s *Session) SetInstruction(text string) {
	s.mu.Lock()
	s.instruction = text
	s.mu.Unlock()
}

// Close stops the session and waits for in-flight exchanges. ctx bounds the
// wait; when it expires outstanding requests are cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every in-flight exchange has finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.id,
		Status:      s.status.String(),
		Period:      s.period,
		Instruction: s.instruction,
		Exchanges:   s.exchanges,
	}
	if s.stream != nil {
		snap.StreamID = s.stream.ID()
	}
	if s.last != nil {
		snap.LastCaption = s.last.Caption
		if s.last.Err != nil {
			snap.LastError = s.last.Err.Error()
		}
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Active implements Source.
func (s *Session) Active() bool {
	return s.Status() == Active
}

// Stream implements Source. It is nil unless Active.
func (s *Session) Stream() media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Instruction implements Source.
func (s *Session) Instruction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instruction
}

// PeriodMs implements Source with the scheduler's running period.
func (s *Session) PeriodMs() int {
	return s.scheduler.PeriodMs()
}

// tick runs on the scheduler and starts one exchange without waiting for it.
func (s *Session) tick() {
	s.mu.Lock()
	ready := s.status == Active && s.stream != nil && s.stream.Ready()
	if ready {
		s.inflight.Add(1)
	}
	s.mu.Unlock()
	if !ready {
		return
	}

	go func() {
		defer s.inflight.Done()
		ex := s.transmitter.CaptureAndSend(s.ctx, s)
		if ex == nil {
			return
		}
		s.mu.Lock()
		s.exchanges++
		s.last = ex
		s.mu.Unlock()
	}()
}

func (s *Session) onInvalidPeriod(err error) {
	s.logger.Warn("stopping capture", "error", err)
	s.Stop()
}

func (s *Session) setStatusLocked(st Status) {
	s.status = st
	metrics.SetSessionState(int(st))
}

// ParsePeriod converts period text to milliseconds. Text that is not a number
// yields NaN, which ValidatePeriod rejects.
func ParsePeriod(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func asAcquisitionError(err error) *media.AcquisitionError {
	var acqErr *media.AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr
	}
	return &media.AcquisitionError{Kind: media.Unsupported, Err: err}
}
