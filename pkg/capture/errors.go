package capture

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for session control.
var (
	// ErrAlreadyStarted is returned by Start while Initializing or Active.
	ErrAlreadyStarted = errors.New("capture: session already started")

	// ErrNotActive is returned by Reconfigure when the scheduler is stopped.
	ErrNotActive = errors.New("capture: scheduler not active")

	// ErrStartCancelled is returned by Start when Stop interrupted acquisition.
	ErrStartCancelled = errors.New("capture: start cancelled")
)

// Capture period bounds in milliseconds.
const (
	MinPeriodMs = 500
	MaxPeriodMs = 24 * 60 * 60 * 1000 // One day
)

// ConfigurationError is raised when the scheduler is given a bad period.
// It is fatal to the session.
type ConfigurationError struct {
	// PeriodMs is the rejected value. NaN means it was not numeric.
	PeriodMs float64
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if math.IsNaN(e.PeriodMs) {
		return "capture: invalid period: not a number"
	}
	return fmt.Sprintf("capture: invalid period %vms (allowed %d-%dms)", e.PeriodMs, MinPeriodMs, MaxPeriodMs)
}

// Message is the user-facing explanation.
func (e *ConfigurationError) Message() string {
	if e.PeriodMs > MaxPeriodMs {
		return fmt.Sprintf("Invalid refresh rate selected. Maximum is %dms.", MaxPeriodMs)
	}
	return fmt.Sprintf("Invalid refresh rate selected. Minimum is %dms.", MinPeriodMs)
}

// ErrEmptyInstruction is the only ValidationError.
var ErrEmptyInstruction = &ValidationError{Field: "instruction"}

// ValidationError is raised per tick when input is unusable. It aborts only
// that tick.
type ValidationError struct {
	Field string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("capture: %s is empty", e.Field)
}

// Message is the user-facing explanation.
func (e *ValidationError) Message() string {
	return "Instruction (Prompt) cannot be empty."
}

// ValidatePeriod checks that periodMs is an integer between MinPeriodMs and
// MaxPeriodMs and returns it as an int.
func ValidatePeriod(periodMs float64) (int, error) {
	if math.IsNaN(periodMs) || math.IsInf(periodMs, 0) ||
		periodMs != math.Trunc(periodMs) ||
		periodMs < MinPeriodMs || periodMs > MaxPeriodMs {
		return 0, &ConfigurationError{PeriodMs: periodMs}
	}
	return int(periodMs), nil
}
