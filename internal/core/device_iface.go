package core

import (
	"context"

	"github.com/dkeye/PetCam/internal/domain"
)

// FrameSource is the camera collaborator.
type FrameSource interface {
	// LatestFrame returns the most recent encoded video frame without
	// blocking; ok is false while no frame is available.
	LatestFrame() (frame Frame, ok bool)
	Settings() domain.CameraSettings
	ApplySettings(ctx context.Context, s domain.CameraSettings) error
	// OnSettingsChanged registers a callback invoked after settings were
	// applied.
	OnSettingsChanged(fn func())
}

// AudioCapture is a microphone producing S16LE PCM.
type AudioCapture interface {
	Start(ctx context.Context) error
	Read(p []byte) (int, error)
	Close() error
}

// AudioPlayback is a speaker consuming S16LE PCM.
type AudioPlayback interface {
	Start(ctx context.Context) error
	Write(p []byte) (int, error)
	Close() error
}
