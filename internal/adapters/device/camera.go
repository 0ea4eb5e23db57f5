package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// Camera encodes a V4L2 device to VP8 with ffmpeg and keeps the latest frame.
// Every frame is a keyframe so the pacer may repeat frames safely.
type Camera struct {
	Binary string
	Device string

	mu       sync.RWMutex
	settings domain.CameraSettings
	latest   core.Frame
	running  bool

	procMu sync.Mutex
	proc   *process
	wg     sync.WaitGroup
	ctx    context.Context

	hooksMu sync.Mutex
	hooks   []func()

	logger zerolog.Logger
}

func NewCamera(binary, device string, settings domain.CameraSettings) *Camera {
	return &Camera{
		Binary:   binary,
		Device:   device,
		settings: settings,
		logger:   log.With().Str("module", "device").Str("camera", device).Logger(),
	}
}

// ffmpegArgs maps settings to an ffmpeg invocation writing IVF to stdout.
// Brightness and contrast (0..100, 50 neutral) go through the eq filter.
func ffmpegArgs(device string, s domain.CameraSettings) []string {
	brightness := float64(s.Brightness-50) / 50
	contrast := float64(s.Contrast) / 50
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", s.Resolution.String(),
		"-framerate", strconv.Itoa(s.FPS),
		"-i", device,
		"-vf", fmt.Sprintf("eq=brightness=%.2f:contrast=%.2f", brightness, contrast),
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-g", "1",
		"-b:v", "1M",
		"-f", "ivf",
		"-",
	}
}

// Start launches the encoder with the current settings.
func (c *Camera) Start(ctx context.Context) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	c.ctx = ctx
	return c.startLocked()
}

func (c *Camera) startLocked() error {
	s := c.Settings()
	pctx, cancel := context.WithCancel(c.ctx)
	cmd := exec.CommandContext(pctx, c.Binary, ffmpegArgs(c.Device, s)...)
	p := &process{cmd: cmd, cancel: cancel}
	cmd.Stderr = &p.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	c.proc = p

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := readIVF(stdout, c.store)
		c.mu.Lock()
		c.running = false
		c.latest = nil
		c.mu.Unlock()
		if err != nil && pctx.Err() == nil {
			c.logger.Error().Err(err).Str("stderr", p.stderr.String()).Msg("camera stream ended")
		}
	}()
	c.logger.Info().Str("resolution", s.Resolution.String()).Int("fps", s.FPS).Msg("camera started")
	return nil
}

func (c *Camera) stopLocked() {
	if c.proc == nil {
		return
	}
	if err := c.proc.stop(); err != nil {
		c.logger.Warn().Err(err).Msg("ffmpeg exit")
	}
	c.proc = nil
	c.wg.Wait()
}

// readIVF stores every frame of an IVF stream until it ends.
func readIVF(r io.Reader, store func(core.Frame)) error {
	reader, _, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("ivf header: %w", err)
	}
	for {
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ivf frame: %w", err)
		}
		store(frame)
	}
}

func (c *Camera) store(f core.Frame) {
	c.mu.Lock()
	c.latest = f
	c.mu.Unlock()
}

func (c *Camera) LatestFrame() (core.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running || c.latest == nil {
		return nil, false
	}
	return c.latest, true
}

func (c *Camera) Settings() domain.CameraSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// ApplySettings stores s and restarts a running encoder with it.
func (c *Camera) ApplySettings(ctx context.Context, s domain.CameraSettings) error {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()

	c.procMu.Lock()
	var err error
	if c.proc != nil {
		c.stopLocked()
		err = c.startLocked()
	}
	c.procMu.Unlock()
	if err != nil {
		return fmt.Errorf("restart camera: %w: %w", domain.ErrDeviceInactive, err)
	}

	c.logger.Info().Str("resolution", s.Resolution.String()).Int("fps", s.FPS).
		Int("brightness", s.Brightness).Int("contrast", s.Contrast).Msg("settings applied")

	c.hooksMu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (c *Camera) OnSettingsChanged(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Camera) Close() {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	c.stopLocked()
}
