// Package media defines the live camera resource consumed by the capture loop.
//
// A Provider grants exclusive access to a video source and hands back a
// Stream. The Stream is owned by whoever acquired it: only the owner calls
// Stop, everyone else only reads frames through DrawFrame.
package media

import (
	"context"
	"fmt"
	"image/draw"
)

// Facing is the preferred camera orientation.
type Facing string

const (
	FacingUser        Facing = "user"        // Front camera
	FacingEnvironment Facing = "environment" // Rear camera
)

// Constraints are acquisition hints. Providers may deliver a different
// resolution than requested; Stream.Size reports what was actually granted.
type Constraints struct {
	IdealWidth  int
	IdealHeight int
	Facing      Facing
}

// DefaultConstraints requests a 640x480 front-facing stream.
func DefaultConstraints() Constraints {
	return Constraints{
		IdealWidth:  640,
		IdealHeight: 480,
		Facing:      FacingUser,
	}
}

// Validate checks the constraint values.
func (c Constraints) Validate() error {
	if c.IdealWidth < 1 || c.IdealHeight < 1 {
		return fmt.Errorf("media: ideal resolution must be positive, got %dx%d", c.IdealWidth, c.IdealHeight)
	}
	switch c.Facing {
	case "", FacingUser, FacingEnvironment:
		return nil
	}
	return fmt.Errorf("media: facing must be user or environment, got %q", c.Facing)
}

// Preset names for common resolutions.
const (
	PresetVGA   = "vga"
	Preset720p  = "720p"
	Preset1080p = "1080p"
)

// Preset returns constraints for a named resolution, or false if unknown.
func Preset(name string) (Constraints, bool) {
	c := DefaultConstraints()
	switch name {
	case PresetVGA, "":
	case Preset720p:
		c.IdealWidth, c.IdealHeight = 1280, 720
	case Preset1080p:
		c.IdealWidth, c.IdealHeight = 1920, 1080
	default:
		return Constraints{}, false
	}
	return c, true
}

// Provider requests exclusive access to a video source.
type Provider interface {
	// Acquire blocks until the source is granted or refused. Refusals are
	// reported as *AcquisitionError.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live video resource.
type Stream interface {
	// ID identifies the stream in logs.
	ID() string

	// Ready reports whether a current frame can be read: the stream is not
	// paused or ended and has buffered at least one frame.
	Ready() bool

	// Size returns the native frame dimensions.
	Size() (width, height int)

	// DrawFrame renders the current frame into dst, scaling to dst's bounds.
	DrawFrame(dst draw.Image) error

	// Stop ends every underlying track. It is idempotent.
	Stop()
}
