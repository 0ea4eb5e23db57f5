package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// ConnKind tells which WebSocket endpoint a connection came through.
type ConnKind int

const (
	KindAudio ConnKind = iota
	KindVideo
)

func (k ConnKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

type ConnEntry struct {
	Identity domain.ClientIdentity
	Session  core.SessionID
	Kind     ConnKind
	Signal   core.SignalConnection
	Cancel   context.CancelFunc
}

type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*ConnEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*ConnEntry)}
}

func (r *Registry) Bind(id domain.ConnID, entry ConnEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := entry
	r.conns[id] = &e
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("ip", string(entry.Identity)).
		Str("kind", entry.Kind.String()).Str("sid", string(entry.Session)).Msg("bound connection")
}

func (r *Registry) Get(id domain.ConnID) (ConnEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return *e, true
	}
	return ConnEntry{}, false
}

func (r *Registry) Unbind(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind connection")
}

type ConnSnap struct {
	ID    domain.ConnID
	Entry ConnEntry
}

// Snapshot returns every connection of kind, or all of them when kind is nil.
func (r *Registry) Snapshot(kind *ConnKind) []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnap, 0, len(r.conns))
	for id, e := range r.conns {
		if kind != nil && e.Kind != *kind {
			continue
		}
		out = append(out, ConnSnap{ID: id, Entry: *e})
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel asks the adapter owning id to tear the connection down.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
