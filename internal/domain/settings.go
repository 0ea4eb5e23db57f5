// Package domain holds the client, settings and error vocabulary shared by
// every layer, including settings validation.
package domain

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

var (
	ValidResolutions = []Resolution{{640, 480}, {1280, 720}, {1920, 1080}}
	ValidFPS         = []int{5, 10, 15, 30}
)

// CameraSettings is the capture configuration of the single camera.
type CameraSettings struct {
	Resolution Resolution `json:"resolution"`
	FPS        int        `json:"fps"`
	Brightness int        `json:"brightness"`
	Contrast   int        `json:"contrast"`
}

func DefaultCameraSettings() CameraSettings {
	return CameraSettings{
		Resolution: Resolution{1280, 720},
		FPS:        15,
		Brightness: 50,
		Contrast:   50,
	}
}

// SettingsPatch is a partial update. Unknown keys are collected by the
// decoder so they can be rejected with UNKNOWN_PARAMETER.
type SettingsPatch struct {
	Resolution *Resolution `json:"resolution,omitempty"`
	FPS        *int        `json:"fps,omitempty"`
	Brightness *int        `json:"brightness,omitempty"`
	Contrast   *int        `json:"contrast,omitempty"`

	Unknown []string `json:"-"`
}

// Apply validates p against s and returns the merged settings. s is not
// modified; on error nothing is applied.
func (s CameraSettings) Apply(p SettingsPatch) (CameraSettings, error) {
	if len(p.Unknown) > 0 {
		names := slices.Clone(p.Unknown)
		sort.Strings(names)
		return s, fmt.Errorf("%s: %w", strings.Join(names, ", "), ErrUnknownParameter)
	}
	out := s
	if p.Resolution != nil {
		if !slices.Contains(ValidResolutions, *p.Resolution) {
			valid := make([]string, 0, len(ValidResolutions))
			for _, r := range ValidResolutions {
				valid = append(valid, r.String())
			}
			return s, fmt.Errorf("resolution must be one of %s: %w", strings.Join(valid, ", "), ErrInvalidParameter)
		}
		out.Resolution = *p.Resolution
	}
	if p.FPS != nil {
		if !slices.Contains(ValidFPS, *p.FPS) {
			return s, fmt.Errorf("fps must be one of %v: %w", ValidFPS, ErrInvalidParameter)
		}
		out.FPS = *p.FPS
	}
	if p.Brightness != nil {
		if *p.Brightness < 0 || *p.Brightness > 100 {
			return s, fmt.Errorf("brightness must be between 0 and 100: %w", ErrInvalidParameter)
		}
		out.Brightness = *p.Brightness
	}
	if p.Contrast != nil {
		if *p.Contrast < 0 || *p.Contrast > 100 {
			return s, fmt.Errorf("contrast must be between 0 and 100: %w", ErrInvalidParameter)
		}
		out.Contrast = *p.Contrast
	}
	return out, nil
}
