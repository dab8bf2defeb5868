package media

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PatternProvider is a software camera that renders a moving test pattern.
// It stands in for real hardware in headless runs and tests.
type PatternProvider struct {
	// Fail, when set, is returned by every Acquire call.
	Fail *AcquisitionError

	// Delay simulates the permission prompt.
	Delay time.Duration

	mu       sync.Mutex
	acquired int
	streams  []*PatternStream
}

// NewPatternProvider creates a provider that always grants access.
func NewPatternProvider() *PatternProvider {
	return &PatternProvider{}
}

// Acquire returns a new PatternStream sized to the ideal constraints.
func (p *PatternProvider) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Fail != nil {
		return nil, p.Fail
	}
	if err := c.Validate(); err != nil {
		return nil, &AcquisitionError{Kind: Unsupported, Name: "OverconstrainedError", Err: err}
	}

	s := NewPatternStream(c.IdealWidth, c.IdealHeight)

	p.mu.Lock()
	p.acquired++
	p.streams = append(p.streams, s)
	p.mu.Unlock()

	return s, nil
}

// Acquired returns how many streams have been granted.
func (p *PatternProvider) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// Streams returns every stream granted so far.
func (p *PatternProvider) Streams() []*PatternStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PatternStream, len(p.streams))
	copy(out, p.streams)
	return out
}

// PatternStream renders color bars that shift on every frame.
type PatternStream struct {
	id     string
	width  int
	height int

	mu      sync.Mutex
	frame   int
	paused  bool
	stopped bool
	stops   int
}

// NewPatternStream creates a ready stream of the given size.
func NewPatternStream(width, height int) *PatternStream {
	return &PatternStream{
		id:     uuid.NewString(),
		width:  width,
		height: height,
	}
}

// ID identifies the stream.
func (s *PatternStream) ID() string { return s.id }

// Size returns the frame dimensions.
func (s *PatternStream) Size() (int, int) { return s.width, s.height }

// Ready reports whether a frame can be read.
func (s *PatternStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.paused && !s.stopped
}

// Pause makes the stream temporarily unreadable.
func (s *PatternStream) Pause(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (s *PatternStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StopCount returns how many times Stop released tracks. It never exceeds one.
func (s *PatternStream) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Stop ends the stream.
func (s *PatternStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.stops++
}

// DrawFrame renders the next pattern frame into dst.
func (s *PatternStream) DrawFrame(dst draw.Image) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStreamStopped
	}
	s.frame++
	offset := s.frame
	s.mu.Unlock()

	src := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	bars := []color.RGBA{
		{255, 255, 255, 255},
		{255, 255, 0, 255},
		{0, 255, 255, 255},
		{0, 255, 0, 255},
		{255, 0, 255, 255},
		{255, 0, 0, 255},
		{0, 0, 255, 255},
	}
	barWidth := max(s.width/len(bars), 1)
	for x := 0; x < s.width; x++ {
		c := bars[((x+offset*4)/barWidth)%len(bars)]
		for y := 0; y < s.height; y++ {
			src.SetRGBA(x, y, c)
		}
	}

	DrawScaled(dst, src)
	return nil
}
