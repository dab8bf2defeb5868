package capture

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/caption"
	"github.com/teslashibe/go-caption/pkg/media"
	"github.com/teslashibe/go-caption/pkg/metrics"
)

// Captioner sends one frame and instruction to a captioning service.
type Captioner interface {
	Caption(ctx context.Context, req *caption.Request) (*caption.Response, error)
}

// Encoder turns a still image into JPEG bytes.
type Encoder interface {
	Encode(img image.Image, quality int) ([]byte, error)
}

// Source is the state a tick reads at the moment it runs.
type Source interface {
	Active() bool
	Stream() media.Stream
	Instruction() string
	PeriodMs() int
}

// OutcomeKind classifies how an exchange ended. A Success may carry an empty
// Caption when the service answered without one.
type OutcomeKind int

const (
	Pending OutcomeKind = iota
	Success
	Failure
)

// Exchange is one frame/instruction submission and its result.
type Exchange struct {
	ID          string
	Frame       []byte
	Instruction string
	Started     time.Time

	Outcome OutcomeKind
	Caption string
	Err     error
}

// Transmitter snapshots a frame, posts it and reports the result.
type Transmitter struct {
	client  Captioner
	encoder Encoder
	surface Surface
	logger  *slog.Logger
}

// NewTransmitter creates a transmitter. A nil encoder uses media.JPEGEncoder.
func NewTransmitter(client Captioner, encoder Encoder, surface Surface) *Transmitter {
	if encoder == nil {
		encoder = media.JPEGEncoder{}
	}
	return &Transmitter{
		client:  client,
		encoder: encoder,
		surface: surface,
		logger:  log.Component("capture.transmitter"),
	}
}

// CaptureAndSend runs one tick against src. It returns nil when the tick was
// skipped before an exchange began (inactive session, stream not ready, or
// no frame data).
func (t *Transmitter) CaptureAndSend(ctx context.Context, src Source) *Exchange {
	if !src.Active() {
		return nil
	}
	stream := src.Stream()
	if stream == nil || !stream.Ready() {
		return nil
	}

	frame, err := media.Snapshot(stream)
	if err != nil {
		t.logger.Warn("frame snapshot failed", "error", err)
		return nil
	}
	data, err := t.encoder.Encode(frame, media.MaxQuality)
	if err != nil {
		t.logger.Warn("frame encode failed", "error", err)
		return nil
	}
	payload := caption.StripDataURI(caption.EncodeImage(data))
	if payload == "" {
		t.logger.Warn("captured frame is empty, skipping")
		return nil
	}

	ex := &Exchange{
		ID:      uuid.NewString(),
		Frame:   data,
		Started: time.Now(),
	}
	if v, ok := t.surface.(FrameViewer); ok {
		v.ShowFrame(data)
	}

	t.surface.SetStatus(StatusSending)

	ex.Instruction = strings.TrimSpace(src.Instruction())
	if ex.Instruction == "" {
		ex.Outcome = Failure
		ex.Err = ErrEmptyInstruction
		t.surface.ShowError(ErrEmptyInstruction.Message())
		t.surface.SetStatus(StatusPromptMiss)
		metrics.RecordExchange(metrics.OutcomeInvalid, 0)
		return ex
	}

	t.logger.Debug("sending frame", "exchange", ex.ID, "bytes", len(data))
	resp, err := t.client.Caption(ctx, &caption.Request{ImageData: payload, Prompt: ex.Instruction})
	elapsed := time.Since(ex.Started)
	if err != nil {
		t.fail(ex, err)
		metrics.RecordExchange(metrics.OutcomeTransport, elapsed)
		return ex
	}

	if resp.Caption == "" {
		// A missing caption is neutral.
		ex.Outcome = Success
		t.surface.SetCaption(CaptionMissing)
		t.surface.SetStatus(StatusResponse)
		metrics.RecordExchange(metrics.OutcomeEmpty, elapsed)
		return ex
	}

	ex.Outcome = Success
	ex.Caption = resp.Caption
	t.surface.SetCaption(resp.Caption)
	t.surface.SetStatus(StatusCapturing(src.PeriodMs()))
	t.surface.ClearError()
	metrics.RecordExchange(metrics.OutcomeSuccess, elapsed)
	t.logger.Info("caption received", "exchange", ex.ID, "latency_ms", elapsed.Milliseconds())
	return ex
}

func (t *Transmitter) fail(ex *Exchange, err error) {
	ex.Outcome = Failure
	ex.Err = err

	msg := err.Error()
	var te *caption.TransportError
	if errors.As(err, &te) {
		msg = te.Reason()
	}
	t.logger.Warn("caption request failed", "exchange", ex.ID, "error", err)
	t.surface.ShowError("Failed to get caption: " + msg)
	t.surface.SetCaption("Error: " + msg)
	t.surface.SetStatus(StatusCaptionError)
}
