// Package audio fans the microphone out to listener queues and forwards the
// single talker's PCM to the speaker.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

type Config struct {
	ChunkBytes    int
	QueueCapacity int
}

type Status struct {
	MicrophoneActive bool `json:"microphone_active"`
	SpeakerActive    bool `json:"speaker_active"`
	ListeningClients int  `json:"listening_clients"`
	Talking          bool `json:"talking"`
}

type talkSlot struct {
	conn     domain.ConnID
	identity domain.ClientIdentity
}

type Engine struct {
	cfg      Config
	capture  core.AudioCapture
	playback core.AudioPlayback

	mu        sync.RWMutex
	listeners map[domain.ConnID]*Listener
	talker    *talkSlot

	capMu     sync.Mutex
	capActive bool
	capCancel context.CancelFunc

	playMu     sync.Mutex
	playActive bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

func NewEngine(ctx context.Context, cfg Config, capture core.AudioCapture, playback core.AudioPlayback) *Engine {
	ctx, cancel := context.WithCancel(ctx)
	return &Engine{
		cfg:       cfg,
		capture:   capture,
		playback:  playback,
		listeners: make(map[domain.ConnID]*Listener),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With().Str("module", "audio").Logger(),
	}
}

// AddListener registers a queue for conn. Adding twice returns the existing
// listener with added false. The microphone is started on first use.
func (e *Engine) AddListener(conn domain.ConnID, identity domain.ClientIdentity) (l *Listener, added bool) {
	e.mu.Lock()
	l, ok := e.listeners[conn]
	if !ok {
		l = newListener(conn, identity, e.cfg.QueueCapacity)
		e.listeners[conn] = l
	}
	total := len(e.listeners)
	e.mu.Unlock()

	if !ok {
		e.logger.Info().Str("conn", string(conn)).Int("total", total).Msg("listener added")
	}
	e.startCapture()
	return l, !ok
}

// RemoveListener unregisters conn's queue and stops its pump.
func (e *Engine) RemoveListener(conn domain.ConnID) bool {
	e.mu.Lock()
	l, ok := e.listeners[conn]
	delete(e.listeners, conn)
	total := len(e.listeners)
	e.mu.Unlock()

	if !ok {
		return false
	}
	l.close()
	e.logger.Info().Str("conn", string(conn)).Int("total", total).Msg("listener removed")
	return true
}

func (e *Engine) HasListener(conn domain.ConnID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.listeners[conn]
	return ok
}

// ListeningFor reports whether any connection of identity is listening.
func (e *Engine) ListeningFor(identity domain.ClientIdentity) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, l := range e.listeners {
		if l.Identity == identity {
			return true
		}
	}
	return false
}

func (e *Engine) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Publish pushes chunk to every listener without blocking.
func (e *Engine) Publish(chunk core.Frame) core.PublishResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := core.PublishResult{}
	for _, l := range e.listeners {
		if l.offer(chunk) {
			res.SendTo++
			continue
		}
		l.dropped.Add(1)
	}
	return res
}

// AcquireTalkSlot gives conn the single talk slot. The holder may re-acquire.
func (e *Engine) AcquireTalkSlot(conn domain.ConnID, identity domain.ClientIdentity) error {
	e.mu.Lock()
	if e.talker != nil && e.talker.conn != conn {
		holder := e.talker.conn
		e.mu.Unlock()
		e.logger.Debug().Str("conn", string(conn)).Str("holder", string(holder)).Msg("talk slot busy")
		return fmt.Errorf("talk start: %w", domain.ErrTalkBusy)
	}
	e.talker = &talkSlot{conn: conn, identity: identity}
	e.mu.Unlock()

	e.logger.Info().Str("conn", string(conn)).Msg("talk slot acquired")
	e.startPlayback()
	return nil
}

// ReleaseTalkSlot is idempotent and only releases conn's own slot.
func (e *Engine) ReleaseTalkSlot(conn domain.ConnID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.talker == nil || e.talker.conn != conn {
		return false
	}
	e.talker = nil
	e.logger.Info().Str("conn", string(conn)).Msg("talk slot released")
	return true
}

func (e *Engine) TalkHolder() (domain.ConnID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.talker == nil {
		return "", false
	}
	return e.talker.conn, true
}

// TalkingFor reports whether identity holds the talk slot.
func (e *Engine) TalkingFor(identity domain.ClientIdentity) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.talker != nil && e.talker.identity == identity
}

// Talk forwards pcm to the speaker when conn holds the slot. Everything else
// is ignored.
func (e *Engine) Talk(conn domain.ConnID, pcm core.Frame) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return
	}
	e.mu.RLock()
	holds := e.talker != nil && e.talker.conn == conn
	e.mu.RUnlock()
	if !holds {
		return
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()
	if !e.playActive {
		return
	}
	if _, err := e.playback.Write(pcm); err != nil {
		e.logger.Error().Err(err).Msg("playback error")
	}
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{ListeningClients: len(e.listeners), Talking: e.talker != nil}
	e.mu.RUnlock()

	e.capMu.Lock()
	st.MicrophoneActive = e.capActive
	e.capMu.Unlock()

	e.playMu.Lock()
	st.SpeakerActive = e.playActive
	e.playMu.Unlock()
	return st
}

func (e *Engine) startCapture() {
	if e.capture == nil {
		return
	}
	e.capMu.Lock()
	defer e.capMu.Unlock()
	if e.capActive {
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	if err := e.capture.Start(ctx); err != nil {
		cancel()
		e.logger.Error().Err(err).Msg("failed to start microphone")
		return
	}
	e.capActive = true
	e.capCancel = cancel
	e.wg.Add(1)
	go e.captureLoop(ctx)
	e.logger.Info().Int("chunk_bytes", e.cfg.ChunkBytes).Msg("microphone started")
}

func (e *Engine) captureLoop(ctx context.Context) {
	defer e.wg.Done()
	defer func() {
		e.capMu.Lock()
		e.capActive = false
		e.capMu.Unlock()
	}()

	buf := make([]byte, e.cfg.ChunkBytes)
	for {
		if _, err := io.ReadFull(e.capture, buf); err != nil {
			if ctx.Err() == nil {
				e.logger.Error().Err(err).Msg("microphone read failed, capture inactive")
			}
			return
		}
		chunk := make(core.Frame, len(buf))
		copy(chunk, buf)
		e.Publish(chunk)
	}
}

func (e *Engine) startPlayback() {
	if e.playback == nil {
		return
	}
	e.playMu.Lock()
	defer e.playMu.Unlock()
	if e.playActive {
		return
	}
	if err := e.playback.Start(e.ctx); err != nil {
		e.logger.Error().Err(err).Msg("failed to start speaker")
		return
	}
	e.playActive = true
	e.logger.Info().Msg("speaker started")
}

// Close stops both devices and releases every listener.
func (e *Engine) Close() {
	e.cancel()

	e.mu.Lock()
	for conn, l := range e.listeners {
		l.close()
		delete(e.listeners, conn)
	}
	e.talker = nil
	e.mu.Unlock()

	e.capMu.Lock()
	if e.capCancel != nil {
		e.capCancel()
	}
	e.capMu.Unlock()
	if e.capture != nil {
		if err := e.capture.Close(); err != nil {
			e.logger.Error().Err(err).Msg("microphone close")
		}
	}
	e.wg.Wait()

	e.playMu.Lock()
	if e.playActive {
		if err := e.playback.Close(); err != nil {
			e.logger.Error().Err(err).Msg("speaker close")
		}
		e.playActive = false
	}
	e.playMu.Unlock()
	e.logger.Info().Msg("stopped")
}
