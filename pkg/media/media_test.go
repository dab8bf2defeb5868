package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"testing"
	"time"
)

func TestKindFromName(t *testing.T) {
	tests := []struct {
		name string
		want AcquisitionKind
	}{
		{"NotAllowedError", PermissionDenied},
		{"PermissionDeniedError", PermissionDenied},
		{"NotFoundError", DeviceNotFound},
		{"DevicesNotFoundError", DeviceNotFound},
		{"NotReadableError", DeviceUnavailable},
		{"TrackStartError", DeviceUnavailable},
		{"OverconstrainedError", Unsupported},
		{"", Unsupported},
	}

	for _, tc := range tests {
		if got := KindFromName(tc.name); got != tc.want {
			t.Errorf("KindFromName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAcquisitionErrorMessage(t *testing.T) {
	err := NewAcquisitionError("NotAllowedError", errors.New("denied by user"))
	if !err.IsPermissionDenied() {
		t.Error("Expected permission denied kind")
	}
	if got := err.Message(); !strings.HasPrefix(got, "Webcam permission denied.") {
		t.Errorf("Unexpected message: %q", got)
	}

	var target *AcquisitionError
	wrapped := errors.Join(errors.New("start"), err)
	if !errors.As(wrapped, &target) {
		t.Error("errors.As should find AcquisitionError")
	}
}

func TestConstraintsValidate(t *testing.T) {
	if err := DefaultConstraints().Validate(); err != nil {
		t.Errorf("Default constraints should be valid: %v", err)
	}
	if err := (Constraints{IdealWidth: 0, IdealHeight: 480}).Validate(); err == nil {
		t.Error("Expected error for zero width")
	}
	if err := (Constraints{IdealWidth: 640, IdealHeight: 480, Facing: "sideways"}).Validate(); err == nil {
		t.Error("Expected error for unknown facing")
	}
}

func TestPreset(t *testing.T) {
	c, ok := Preset(Preset720p)
	if !ok || c.IdealWidth != 1280 || c.IdealHeight != 720 {
		t.Errorf("Unexpected 720p preset: %+v ok=%v", c, ok)
	}
	if _, ok := Preset("8k"); ok {
		t.Error("Expected unknown preset to fail")
	}
}

func TestPatternProviderAcquire(t *testing.T) {
	p := NewPatternProvider()
	s, err := p.Acquire(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if w, h := s.Size(); w != 640 || h != 480 {
		t.Errorf("Expected 640x480, got %dx%d", w, h)
	}
	if !s.Ready() {
		t.Error("New stream should be ready")
	}
	if p.Acquired() != 1 {
		t.Errorf("Expected 1 acquisition, got %d", p.Acquired())
	}
}

func TestPatternProviderFail(t *testing.T) {
	p := &PatternProvider{Fail: NewAcquisitionError("NotFoundError", nil)}
	_, err := p.Acquire(context.Background(), DefaultConstraints())

	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("Expected AcquisitionError, got %v", err)
	}
	if acqErr.Kind != DeviceNotFound {
		t.Errorf("Expected DeviceNotFound, got %v", acqErr.Kind)
	}
}

func TestPatternProviderCancelled(t *testing.T) {
	p := &PatternProvider{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Acquire(ctx, DefaultConstraints()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPatternStreamStopIdempotent(t *testing.T) {
	s := NewPatternStream(64, 48)
	s.Stop()
	s.Stop()

	if s.StopCount() != 1 {
		t.Errorf("Expected one release, got %d", s.StopCount())
	}
	if s.Ready() {
		t.Error("Stopped stream should not be ready")
	}
	if err := s.DrawFrame(image.NewRGBA(image.Rect(0, 0, 64, 48))); !errors.Is(err, ErrStreamStopped) {
		t.Errorf("Expected ErrStreamStopped, got %v", err)
	}
}

func TestPatternStreamPause(t *testing.T) {
	s := NewPatternStream(64, 48)
	s.Pause(true)
	if s.Ready() {
		t.Error("Paused stream should not be ready")
	}
	s.Pause(false)
	if !s.Ready() {
		t.Error("Resumed stream should be ready")
	}
}

func TestSnapshotAndEncode(t *testing.T) {
	s := NewPatternStream(320, 240)

	img, err := Snapshot(s)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("Expected native 320x240 raster, got %v", b)
	}

	data, err := JPEGEncoder{}.Encode(img, MaxQuality)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Output is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 320 {
		t.Errorf("Decoded width = %d", decoded.Bounds().Dx())
	}
}

func TestDrawScaled(t *testing.T) {
	src := NewPatternStream(100, 50)
	dst := image.NewRGBA(image.Rect(0, 0, 50, 25))
	if err := src.DrawFrame(dst); err != nil {
		t.Fatalf("DrawFrame failed: %v", err)
	}
	if dst.RGBAAt(0, 0).A != 255 {
		t.Error("Expected scaled frame to be opaque")
	}
}
