package media

import (
	"errors"
	"fmt"
)

// Sentinel errors for stream reads.
var (
	// ErrStreamStopped is returned when reading from a stopped stream.
	ErrStreamStopped = errors.New("media: stream stopped")

	// ErrNoFrame is returned when no frame has been buffered yet.
	ErrNoFrame = errors.New("media: no frame available")
)

// AcquisitionKind classifies why a source could not be acquired.
type AcquisitionKind int

const (
	Unsupported AcquisitionKind = iota
	PermissionDenied
	DeviceNotFound
	DeviceUnavailable
)

// String returns the kind name.
func (k AcquisitionKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceNotFound:
		return "device_not_found"
	case DeviceUnavailable:
		return "device_unavailable"
	default:
		return "unsupported"
	}
}

// KindFromName maps a platform failure name onto an AcquisitionKind.
func KindFromName(name string) AcquisitionKind {
	switch name {
	case "NotAllowedError", "PermissionDeniedError":
		return PermissionDenied
	case "NotFoundError", "DevicesNotFoundError":
		return DeviceNotFound
	case "NotReadableError", "TrackStartError":
		return DeviceUnavailable
	default:
		return Unsupported
	}
}

// AcquisitionError is returned by Provider.Acquire.
type AcquisitionError struct {
	Kind AcquisitionKind

	// Name is the platform-specific failure name, if any.
	Name string

	// Err is the underlying cause.
	Err error
}

// NewAcquisitionError classifies a named platform failure.
func NewAcquisitionError(name string, err error) *AcquisitionError {
	return &AcquisitionError{Kind: KindFromName(name), Name: name, Err: err}
}

// Error implements the error interface.
func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media: acquire (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("media: acquire (%s)", e.Kind)
}

// Unwrap returns the underlying cause.
func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Message is the user-facing explanation.
func (e *AcquisitionError) Message() string {
	switch e.Kind {
	case PermissionDenied:
		return "Webcam permission denied. Please allow camera access in your browser and system settings, then try again."
	case DeviceNotFound:
		return "No webcam found. Ensure a webcam is connected and enabled."
	case DeviceUnavailable:
		return "Webcam is already in use or encountered a hardware error."
	default:
		return "Could not access the webcam."
	}
}

// IsPermissionDenied returns true if the user refused access.
func (e *AcquisitionError) IsPermissionDenied() bool {
	return e.Kind == PermissionDenied
}
