// Package peer owns every WebRTC peer connection. All records live on one
// reactor goroutine; transport callbacks and public calls are marshalled
// onto it.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

type Config struct {
	MaxPeers          int
	DisconnectTimeout time.Duration
}

type Answer struct {
	PeerID string `json:"pc_id"`
	SDP    string `json:"sdp"`
	Type   string `json:"type"`
}

type record struct {
	id        string
	owner     core.SessionID
	transport core.PeerTransport
	state     State
	timer     *time.Timer
	gen       uint64
	created   time.Time
}

type Manager struct {
	cfg     Config
	reactor *Reactor
	factory core.PeerFactory
	source  TrackSource

	// reactor-owned
	peers map[string]*record

	closers sync.WaitGroup
	logger  zerolog.Logger
}

func NewManager(cfg Config, reactor *Reactor, factory core.PeerFactory, source TrackSource) *Manager {
	return &Manager{
		cfg:     cfg,
		reactor: reactor,
		factory: factory,
		source:  source,
		peers:   make(map[string]*record),
		logger:  log.With().Str("module", "peer").Logger(),
	}
}

// HandleOffer admits a new peer for owner and negotiates it. Admission and
// registration happen in one reactor step.
func (m *Manager) HandleOffer(ctx context.Context, owner core.SessionID, offerSDP string) (Answer, error) {
	// admitted is reactor-owned; it is read back in a later reactor step.
	var admitted string
	rec, err := Call(ctx, m.reactor, func() (*record, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := m.admit(owner)
		if err == nil {
			admitted = r.id
		}
		return r, err
	})
	if err != nil {
		if ctx.Err() != nil {
			// The admit step may still have run after the caller gave up.
			m.reactor.Post(func() { m.abandon(admitted) })
		}
		return Answer{}, err
	}

	answer, negErr := rec.transport.ApplyOffer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	})
	if negErr != nil {
		m.reactor.Post(func() { m.fail(rec.id, negErr) })
		return Answer{}, fmt.Errorf("negotiate %s: %w", rec.id, negErr)
	}

	m.logger.Info().Str("pc_id", rec.id).Str("sid", string(owner)).Msg("answer created")
	return Answer{PeerID: rec.id, SDP: answer.SDP, Type: answer.Type.String()}, nil
}

func (m *Manager) admit(owner core.SessionID) (*record, error) {
	if len(m.peers) >= m.cfg.MaxPeers {
		m.logger.Warn().Str("sid", string(owner)).Int("live", len(m.peers)).Msg("peer rejected")
		return nil, fmt.Errorf("offer: %w", domain.ErrTooManyPeers)
	}

	transport, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("create peer: %w", err)
	}
	track, err := m.source.Track()
	if err == nil {
		err = transport.AttachTrack(track)
	}
	if err != nil {
		m.closeTransport("", transport)
		return nil, fmt.Errorf("attach track: %w", err)
	}

	rec := &record{
		id:        uuid.NewString(),
		owner:     owner,
		transport: transport,
		state:     StateNegotiating,
		created:   time.Now(),
	}
	id := rec.id
	transport.OnStateChange(func(s webrtc.PeerConnectionState) {
		m.reactor.Post(func() { m.onTransportState(id, s) })
	})
	m.peers[id] = rec
	m.logger.Info().Str("pc_id", id).Str("sid", string(owner)).Int("live", len(m.peers)).Msg("peer created")
	return rec, nil
}

// ClosePeer tears down id on behalf of requester. Unknown ids are already
// closed.
func (m *Manager) ClosePeer(ctx context.Context, id string, requester core.SessionID) error {
	_, err := Call(ctx, m.reactor, func() (struct{}, error) {
		rec, ok := m.peers[id]
		if !ok {
			return struct{}{}, nil
		}
		if rec.owner != requester {
			m.logger.Warn().Str("pc_id", id).Str("sid", string(requester)).Msg("close by non-owner rejected")
			return struct{}{}, fmt.Errorf("close %s: %w", id, domain.ErrNotOwner)
		}
		m.finish(rec, StateClosed, "closed by owner")
		return struct{}{}, nil
	})
	return err
}

// ResetSource swaps a fresh shared track into every live peer.
func (m *Manager) ResetSource(ctx context.Context) error {
	_, err := Call(ctx, m.reactor, func() (struct{}, error) {
		track, err := m.source.Reset()
		if err != nil {
			return struct{}{}, fmt.Errorf("reset source: %w", err)
		}
		for id, rec := range m.peers {
			if err := rec.transport.ReplaceTrack(track); err != nil {
				m.logger.Error().Err(err).Str("pc_id", id).Msg("replace track")
			}
		}
		m.logger.Info().Int("live", len(m.peers)).Msg("shared source replaced")
		return struct{}{}, nil
	})
	return err
}

func (m *Manager) PeerCount(ctx context.Context) (int, error) {
	return Call(ctx, m.reactor, func() (int, error) {
		return len(m.peers), nil
	})
}

// PeerState reports the current state of id.
func (m *Manager) PeerState(ctx context.Context, id string) (State, bool) {
	st, err := Call(ctx, m.reactor, func() (State, error) {
		rec, ok := m.peers[id]
		if !ok {
			return StateClosed, errNoPeer
		}
		return rec.state, nil
	})
	return st, err == nil
}

var errNoPeer = errors.New("no such peer")

// Close tears down every peer and stops the reactor.
func (m *Manager) Close(ctx context.Context) {
	_, err := Call(ctx, m.reactor, func() (struct{}, error) {
		for _, rec := range m.peers {
			m.finish(rec, StateClosed, "shutdown")
		}
		return struct{}{}, nil
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("close")
	}
	m.reactor.Stop()

	done := make(chan struct{})
	go func() {
		m.closers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) onTransportState(id string, s webrtc.PeerConnectionState) {
	rec, ok := m.peers[id]
	if !ok {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if m.transition(rec, StateConnected) {
			m.cancelTimer(rec)
		}
	case webrtc.PeerConnectionStateDisconnected:
		if m.transition(rec, StateDisconnected) {
			m.armTimer(rec)
		}
	case webrtc.PeerConnectionStateFailed:
		m.finish(rec, StateFailed, "transport failed")
	case webrtc.PeerConnectionStateClosed:
		m.finish(rec, StateClosed, "transport closed")
	}
}

func (m *Manager) fail(id string, cause error) {
	rec, ok := m.peers[id]
	if !ok {
		return
	}
	m.logger.Error().Err(cause).Str("pc_id", id).Msg("negotiation failed")
	m.finish(rec, StateFailed, "negotiation failed")
}

// abandon drops a record whose answer never reached the caller.
func (m *Manager) abandon(id string) {
	if id == "" {
		return
	}
	if rec, ok := m.peers[id]; ok {
		m.finish(rec, StateClosed, "offer abandoned")
	}
}

func (m *Manager) transition(rec *record, to State) bool {
	if rec.state == to {
		return false
	}
	if !rec.state.canTransition(to) {
		m.logger.Warn().Str("pc_id", rec.id).Stringer("from", rec.state).Stringer("to", to).Msg("illegal transition ignored")
		return false
	}
	m.logger.Info().Str("pc_id", rec.id).Stringer("from", rec.state).Stringer("to", to).Msg("state")
	rec.state = to
	return true
}

func (m *Manager) armTimer(rec *record) {
	m.cancelTimer(rec)
	gen := rec.gen
	id := rec.id
	rec.timer = time.AfterFunc(m.cfg.DisconnectTimeout, func() {
		m.reactor.Post(func() { m.onDisconnectTimeout(id, gen) })
	})
}

// cancelTimer also invalidates a fire that is already queued on the reactor.
func (m *Manager) cancelTimer(rec *record) {
	rec.gen++
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
}

func (m *Manager) onDisconnectTimeout(id string, gen uint64) {
	rec, ok := m.peers[id]
	if !ok || rec.gen != gen || rec.state != StateDisconnected {
		return
	}
	m.finish(rec, StateClosed, "disconnect timeout")
}

// finish moves rec to a terminal state and drops it. Failed records pass
// through closed.
func (m *Manager) finish(rec *record, to State, reason string) {
	if _, ok := m.peers[rec.id]; !ok {
		return
	}
	m.cancelTimer(rec)
	if to == StateFailed {
		m.transition(rec, StateFailed)
	}
	m.transition(rec, StateClosed)
	delete(m.peers, rec.id)
	m.logger.Info().Str("pc_id", rec.id).Str("reason", reason).Dur("age", time.Since(rec.created)).Int("live", len(m.peers)).Msg("peer removed")
	m.closeTransport(rec.id, rec.transport)
}

// closeTransport runs off the reactor since transports may call back into it
// while closing.
func (m *Manager) closeTransport(id string, t core.PeerTransport) {
	m.closers.Add(1)
	go func() {
		defer m.closers.Done()
		if err := t.Close(); err != nil {
			m.logger.Error().Err(err).Str("pc_id", id).Msg("close transport")
		}
	}()
}
