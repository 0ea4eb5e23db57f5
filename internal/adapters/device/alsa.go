// Package device drives the microphone, speaker and camera through external
// ALSA and ffmpeg processes.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

var errNotStarted = errors.New("device not started")

// pcmArgs are the raw S16LE arguments shared by arecord and aplay.
func pcmArgs(device string, rate, channels int) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(rate),
		"-c", strconv.Itoa(channels),
		"-t", "raw",
		"-q",
	}
}

type process struct {
	cmd    *exec.Cmd
	stderr bytes.Buffer
	cancel context.CancelFunc
}

func (p *process) stop() error {
	p.cancel()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ALSACapture reads PCM from arecord's stdout.
type ALSACapture struct {
	Binary   string
	Device   string
	Rate     int
	Channels int

	mu     sync.Mutex
	proc   *process
	stdout io.ReadCloser
}

func NewALSACapture(device string, rate, channels int) *ALSACapture {
	return &ALSACapture{Binary: "arecord", Device: device, Rate: rate, Channels: channels}
}

func (c *ALSACapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != nil {
		_ = c.proc.stop()
		c.proc = nil
	}

	pctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pctx, c.Binary, pcmArgs(c.Device, c.Rate, c.Channels)...)
	p := &process{cmd: cmd, cancel: cancel}
	cmd.Stderr = &p.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("arecord stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start arecord: %w", err)
	}
	c.proc = p
	c.stdout = stdout
	log.Info().Str("module", "device").Str("device", c.Device).Int("rate", c.Rate).Msg("microphone opened")
	return nil
}

func (c *ALSACapture) Read(b []byte) (int, error) {
	c.mu.Lock()
	r := c.stdout
	c.mu.Unlock()
	if r == nil {
		return 0, errNotStarted
	}
	return r.Read(b)
}

func (c *ALSACapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return nil
	}
	err := c.proc.stop()
	c.proc = nil
	c.stdout = nil
	return err
}

// ALSAPlayback writes PCM to aplay's stdin.
type ALSAPlayback struct {
	Binary   string
	Device   string
	Rate     int
	Channels int

	mu    sync.Mutex
	proc  *process
	stdin io.WriteCloser
}

func NewALSAPlayback(device string, rate, channels int) *ALSAPlayback {
	return &ALSAPlayback{Binary: "aplay", Device: device, Rate: rate, Channels: channels}
}

func (p *ALSAPlayback) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc != nil {
		return nil
	}

	pctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pctx, p.Binary, pcmArgs(p.Device, p.Rate, p.Channels)...)
	proc := &process{cmd: cmd, cancel: cancel}
	cmd.Stderr = &proc.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("aplay stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start aplay: %w", err)
	}
	p.proc = proc
	p.stdin = stdin
	log.Info().Str("module", "device").Str("device", p.Device).Int("rate", p.Rate).Msg("speaker opened")
	return nil
}

func (p *ALSAPlayback) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return 0, errNotStarted
	}
	return p.stdin.Write(b)
}

func (p *ALSAPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return nil
	}
	_ = p.stdin.Close()
	err := p.proc.stop()
	p.proc = nil
	p.stdin = nil
	return err
}
