// Package video relays encoded frames from the single active sender to every
// display connection.
package video

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// Claimer is the part of the exclusive arbiter the relay needs.
type Claimer interface {
	Acquire(identity domain.ClientIdentity, activate func() error) error
	MaybeRelease()
}

type Config struct {
	FrameMaxBytes int
	MaxFPS        int
	// Now overrides the limiter clock in tests.
	Now func() time.Time
}

type Status struct {
	Sending        bool `json:"sending"`
	DisplayClients int  `json:"display_clients"`
}

type member struct {
	role     domain.VideoRole
	identity domain.ClientIdentity
	conn     core.SignalConnection
}

type Relay struct {
	cfg     Config
	claimer Claimer
	limiter *FrameRateLimiter

	mu       sync.RWMutex
	members  map[domain.ConnID]*member
	displays map[domain.ConnID]core.SignalConnection
	sender   domain.ConnID

	onStatus func(Status)
	logger   zerolog.Logger
}

func NewRelay(cfg Config, claimer Claimer) *Relay {
	return &Relay{
		cfg:      cfg,
		claimer:  claimer,
		limiter:  NewFrameRateLimiter(cfg.MaxFPS, cfg.Now),
		members:  make(map[domain.ConnID]*member),
		displays: make(map[domain.ConnID]core.SignalConnection),
		logger:   log.With().Str("module", "video").Logger(),
	}
}

// OnStatus sets the hook called after every sender or display change.
func (r *Relay) OnStatus(fn func(Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatus = fn
}

// Join fixes conn's role. Displays start receiving frames immediately.
func (r *Relay) Join(id domain.ConnID, role domain.VideoRole, identity domain.ClientIdentity, conn core.SignalConnection) error {
	r.mu.Lock()
	if m, ok := r.members[id]; ok {
		r.mu.Unlock()
		if m.role != role {
			return fmt.Errorf("rejoin as %s: %w", role, domain.ErrInvalidRole)
		}
		return nil
	}
	r.members[id] = &member{role: role, identity: identity, conn: conn}
	if role == domain.RoleDisplay {
		r.displays[id] = conn
	}
	r.mu.Unlock()

	r.logger.Info().Str("conn", string(id)).Str("role", string(role)).Str("ip", string(identity)).Msg("joined")
	r.notify()
	return nil
}

// StartSend makes id the active sender.
func (r *Relay) StartSend(id domain.ConnID) error {
	r.mu.RLock()
	m, ok := r.members[id]
	r.mu.RUnlock()
	if !ok || m.role != domain.RoleSender {
		return fmt.Errorf("video send start: %w", domain.ErrInvalidRole)
	}

	changed := false
	err := r.claimer.Acquire(m.identity, func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.sender != "" && r.sender != id {
			return fmt.Errorf("video send start: %w", domain.ErrSenderBusy)
		}
		changed = r.sender != id
		r.sender = id
		r.limiter.Forget(id)
		return nil
	})
	if err != nil {
		r.logger.Info().Str("conn", string(id)).Err(err).Msg("send start denied")
		return err
	}
	if changed {
		r.logger.Info().Str("conn", string(id)).Msg("sender active")
		r.notify()
	}
	return nil
}

// StopSend clears the active sender if it is id.
func (r *Relay) StopSend(id domain.ConnID) bool {
	r.mu.Lock()
	if r.sender != id || id == "" {
		r.mu.Unlock()
		return false
	}
	r.sender = ""
	r.mu.Unlock()

	r.logger.Info().Str("conn", string(id)).Msg("sender stopped")
	r.notify()
	r.claimer.MaybeRelease()
	return true
}

// SubmitFrame forwards frame to every display when id is the active sender
// and the frame passes the size and rate checks. It returns the number of
// displays that accepted the frame.
func (r *Relay) SubmitFrame(id domain.ConnID, frame core.Frame) int {
	if len(frame) == 0 || len(frame) > r.cfg.FrameMaxBytes {
		return 0
	}

	r.mu.RLock()
	if r.sender != id || id == "" {
		r.mu.RUnlock()
		return 0
	}
	if !r.limiter.Allow(id) {
		r.mu.RUnlock()
		return 0
	}
	targets := make([]core.SignalConnection, 0, len(r.displays))
	for did, c := range r.displays {
		if did != id {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.TrySendBinary(frame); err != nil {
			continue
		}
		sent++
	}
	return sent
}

// Leave removes every trace of id.
func (r *Relay) Leave(id domain.ConnID) {
	r.mu.Lock()
	_, known := r.members[id]
	wasSender := r.sender == id && id != ""
	if wasSender {
		r.sender = ""
	}
	delete(r.members, id)
	delete(r.displays, id)
	r.mu.Unlock()

	r.limiter.Forget(id)
	if !known {
		return
	}
	r.logger.Info().Str("conn", string(id)).Bool("was_sender", wasSender).Msg("left")
	r.notify()
	if wasSender {
		r.claimer.MaybeRelease()
	}
}

// SendingFor reports whether identity owns the active sender.
func (r *Relay) SendingFor(identity domain.ClientIdentity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sender == "" {
		return false
	}
	m, ok := r.members[r.sender]
	return ok && m.identity == identity
}

func (r *Relay) ActiveSender() (domain.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sender, r.sender != ""
}

func (r *Relay) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{Sending: r.sender != "", DisplayClients: len(r.displays)}
}

func (r *Relay) notify() {
	r.mu.RLock()
	fn := r.onStatus
	st := Status{Sending: r.sender != "", DisplayClients: len(r.displays)}
	r.mu.RUnlock()
	if fn != nil {
		fn(st)
	}
}
