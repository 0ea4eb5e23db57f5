// Package arbiter implements the global exclusive lock that gates every
// interactive feature (listen, talk, video send).
package arbiter

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/domain"
)

// Probe reports whether identity still has the feature active.
// Probes are called with the arbiter lock held and must not call back into
// the arbiter.
type Probe func(identity domain.ClientIdentity) bool

// Arbiter holds at most one ClientIdentity at a time.
type Arbiter struct {
	mu     sync.Mutex
	holder domain.ClientIdentity
	held   bool

	probes   map[string]Probe
	onChange func()

	logger zerolog.Logger
}

func New() *Arbiter {
	return &Arbiter{
		probes: make(map[string]Probe),
		logger: log.With().Str("module", "arbiter").Logger(),
	}
}

// RegisterProbe adds a feature probe consulted by MaybeRelease.
func (a *Arbiter) RegisterProbe(feature string, p Probe) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes[feature] = p
}

// OnChange sets the hook invoked (outside the lock) after every holder change.
func (a *Arbiter) OnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// TryClaim claims the lock for identity if it is free or already held by it.
func (a *Arbiter) TryClaim(identity domain.ClientIdentity) bool {
	a.mu.Lock()
	ok, changed := a.claimLocked(identity)
	hook := a.onChange
	a.mu.Unlock()

	if changed && hook != nil {
		hook()
	}
	return ok
}

// Acquire claims the lock for identity and runs activate while still holding
// it, so MaybeRelease can never observe a claimed identity whose feature is
// only half started. A fresh claim is rolled back when activate fails.
func (a *Arbiter) Acquire(identity domain.ClientIdentity, activate func() error) error {
	a.mu.Lock()
	ok, changed := a.claimLocked(identity)
	if !ok {
		a.mu.Unlock()
		a.logger.Debug().Str("ip", string(identity)).Str("holder", string(a.holderSafe())).Msg("claim denied")
		return fmt.Errorf("claim for %s: %w", identity, domain.ErrExclusiveBlocked)
	}
	err := activate()
	if err != nil && changed {
		a.held = false
		a.holder = ""
		changed = false
		a.logger.Info().Str("ip", string(identity)).Err(err).Msg("claim rolled back")
	}
	hook := a.onChange
	a.mu.Unlock()

	if changed && hook != nil {
		hook()
	}
	return err
}

func (a *Arbiter) claimLocked(identity domain.ClientIdentity) (ok, changed bool) {
	if !a.held {
		a.held = true
		a.holder = identity
		a.logger.Info().Str("ip", string(identity)).Msg("exclusive lock claimed")
		return true, true
	}
	return a.holder == identity, false
}

// MaybeRelease clears the holder when no probe reports remaining activity.
func (a *Arbiter) MaybeRelease() {
	a.mu.Lock()
	if !a.held {
		a.mu.Unlock()
		return
	}
	for feature, p := range a.probes {
		if p(a.holder) {
			a.logger.Debug().Str("ip", string(a.holder)).Str("feature", feature).Msg("holder still active")
			a.mu.Unlock()
			return
		}
	}
	released := a.holder
	a.held = false
	a.holder = ""
	hook := a.onChange
	a.mu.Unlock()

	a.logger.Info().Str("ip", string(released)).Msg("exclusive lock released")
	if hook != nil {
		hook()
	}
}

// IsBlocked reports whether identity would be denied by TryClaim.
func (a *Arbiter) IsBlocked(identity domain.ClientIdentity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held && a.holder != identity
}

func (a *Arbiter) Holder() (domain.ClientIdentity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder, a.held
}

func (a *Arbiter) holderSafe() domain.ClientIdentity {
	h, _ := a.Holder()
	return h
}
