package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/metrics"
)

// Scheduler owns the repeating capture timer. At most one timer is armed at a
// time and every start performs one immediate tick.
type Scheduler struct {
	clock     Clock
	surface   Surface
	tick      func()
	onInvalid func(error)
	logger    *slog.Logger

	mu       sync.Mutex
	active   bool
	periodMs int
	cancel   Cancel
	gen      uint64
}

// NewScheduler creates a stopped scheduler. tick runs on each firing;
// onInvalid runs when a start is rejected, before the error is surfaced.
func NewScheduler(clock Clock, surface Surface, tick func(), onInvalid func(error)) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		clock:     clock,
		surface:   surface,
		tick:      tick,
		onInvalid: onInvalid,
		logger:    log.Component("capture.scheduler"),
	}
}

// StartWithPeriod cancels any armed timer, ticks once, then arms a timer for
// periodMs. An invalid period leaves no timer armed and returns a
// *ConfigurationError.
func (s *Scheduler) StartWithPeriod(periodMs float64) error {
	ms, err := ValidatePeriod(periodMs)
	if err != nil {
		s.Stop()
		s.logger.Warn("rejected capture period", "period_ms", periodMs)
		if s.onInvalid != nil {
			s.onInvalid(err)
		}
		s.surface.ShowError(err.(*ConfigurationError).Message())
		s.surface.SetStatus(StatusError)
		return err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	gen := s.gen
	s.active = true
	s.periodMs = ms
	s.mu.Unlock()

	s.surface.SetStatus(StatusCapturing(ms))
	s.fire(gen)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.gen == gen {
		s.cancel = s.clock.Every(time.Duration(ms)*time.Millisecond, func() { s.fire(gen) })
		s.logger.Debug("capture timer armed", "period_ms", ms)
	}
	return nil
}

// Reconfigure restarts a running timer with a new period.
func (s *Scheduler) Reconfigure(periodMs float64) error {
	if !s.Active() {
		return ErrNotActive
	}
	metrics.RecordSchedulerRestart()
	return s.StartWithPeriod(periodMs)
}

// Stop cancels the armed timer. Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.active = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.logger.Debug("capture timer cancelled")
	}
}

// Active reports whether a timer is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PeriodMs returns the period of the current or last timer.
func (s *Scheduler) PeriodMs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodMs
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	live := s.active && s.gen == gen
	s.mu.Unlock()
	if live {
		s.tick()
	}
}
