// Package gocvcam provides an OpenCV-backed camera for the capture loop.
package gocvcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/media"
)

// firstFrameTimeout bounds how long Acquire waits for the device to deliver.
const firstFrameTimeout = 5 * time.Second

// Provider opens a local video device through OpenCV.
type Provider struct {
	Device int
	Logger *slog.Logger
}

// NewProvider creates a provider for the given device index.
func NewProvider(device int) *Provider {
	return &Provider{Device: device, Logger: log.Component("gocvcam")}
}

// Acquire opens the device, applies the ideal resolution and waits for the
// first frame.
func (p *Provider) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, &media.AcquisitionError{Kind: media.Unsupported, Name: "OverconstrainedError", Err: err}
	}

	vc, err := gocv.OpenVideoCapture(p.Device)
	if err != nil {
		return nil, media.NewAcquisitionError("NotFoundError", fmt.Errorf("open device %d: %w", p.Device, err))
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, media.NewAcquisitionError("NotFoundError", fmt.Errorf("device %d not opened", p.Device))
	}

	// Facing has no meaning for a single local device.
	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.IdealWidth))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.IdealHeight))

	logger := p.Logger
	if logger == nil {
		logger = log.Component("gocvcam")
	}

	s := &Stream{
		id:     uuid.NewString(),
		vc:     vc,
		latest: gocv.NewMat(),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		primed: make(chan struct{}),
		logger: logger,
	}
	go s.readLoop()

	timer := time.NewTimer(firstFrameTimeout)
	defer timer.Stop()

	select {
	case <-s.primed:
		w, h := s.Size()
		s.logger.Info("camera acquired", "device", p.Device, "stream", s.id, "width", w, "height", h)
		return s, nil
	case <-s.exited:
		s.Stop()
		return nil, media.NewAcquisitionError("NotReadableError", errors.New("device delivered no frames"))
	case <-timer.C:
		s.Stop()
		return nil, media.NewAcquisitionError("TrackStartError", errors.New("timed out waiting for first frame"))
	case <-ctx.Done():
		s.Stop()
		return nil, ctx.Err()
	}
}

// Stream is a live OpenCV capture.
type Stream struct {
	id     string
	vc     *gocv.VideoCapture
	logger *slog.Logger

	mu      sync.RWMutex
	latest  gocv.Mat
	frames  uint64
	readErr error
	closed  bool

	primeOnce sync.Once
	primed    chan struct{}
	done      chan struct{}
	exited    chan struct{}
	stopOnce  sync.Once
}

// readLoop keeps the latest frame buffered until Stop.
func (s *Stream) readLoop() {
	defer close(s.exited)

	scratch := gocv.NewMat()
	defer scratch.Close()

	misses := 0
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if ok := s.vc.Read(&scratch); !ok || scratch.Empty() {
			misses++
			if misses > 30 {
				s.mu.Lock()
				s.readErr = media.ErrNoFrame
				s.mu.Unlock()
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0

		s.mu.Lock()
		scratch.CopyTo(&s.latest)
		s.frames++
		s.mu.Unlock()

		s.primeOnce.Do(func() { close(s.primed) })
	}
}

// ID identifies the stream.
func (s *Stream) ID() string { return s.id }

// Ready reports whether a frame is buffered and the device is still delivering.
func (s *Stream) Ready() bool {
	select {
	case <-s.done:
		return false
	case <-s.exited:
		return false
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.frames > 0 && !s.latest.Empty()
}

// Size returns the native dimensions of the buffered frame.
func (s *Stream) Size() (int, int) {
	select {
	case <-s.done:
		return 0, 0
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.latest.Empty() {
		return 0, 0
	}
	return s.latest.Cols(), s.latest.Rows()
}

// DrawFrame converts the buffered BGR frame and draws it into dst.
func (s *Stream) DrawFrame(dst draw.Image) error {
	select {
	case <-s.done:
		return media.ErrStreamStopped
	default:
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return media.ErrStreamStopped
	}
	if s.readErr != nil {
		s.mu.RUnlock()
		return s.readErr
	}
	if s.latest.Empty() {
		s.mu.RUnlock()
		return media.ErrNoFrame
	}
	img, err := s.latest.ToImage()
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}

	media.DrawScaled(dst, img)
	return nil
}

// Stop halts the read loop and releases the device.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.exited

		s.mu.Lock()
		s.closed = true
		s.latest.Close()
		s.mu.Unlock()

		s.vc.Close()
		s.logger.Info("camera released", "stream", s.id, "frames", s.frames)
	})
}

// Encoder encodes rasters with OpenCV's JPEG codec.
type Encoder struct{}

// Encode encodes img as JPEG at the given quality (1-100).
func (Encoder) Encode(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > media.MaxQuality {
		quality = media.MaxQuality
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
