package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrReactorStopped = errors.New("reactor stopped")

// Reactor runs closures one at a time on a single goroutine. State owned by
// the reactor must only be touched from closures it runs.
type Reactor struct {
	ops      chan func()
	stop     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

func NewReactor(buffer int) *Reactor {
	return &Reactor{
		ops:    make(chan func(), buffer),
		stop:   make(chan struct{}),
		logger: log.With().Str("module", "peer.reactor").Logger(),
	}
}

// Run executes posted closures until ctx ends or Stop is called.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Info().Msg("started")
	defer r.logger.Info().Msg("stopped")
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return nil
		case <-r.stop:
			return nil
		case fn := <-r.ops:
			r.exec(fn)
		}
	}
}

func (r *Reactor) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("recovered in reactor op")
		}
	}()
	fn()
}

// Post queues fn. It reports false once the reactor is stopped.
func (r *Reactor) Post(fn func()) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case <-r.stop:
		return false
	case r.ops <- fn:
		return true
	}
}

func (r *Reactor) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

type callResult[T any] struct {
	v   T
	err error
}

// Call runs fn on the reactor and waits for its result.
func Call[T any](ctx context.Context, r *Reactor, fn func() (T, error)) (T, error) {
	var zero T
	slot := make(chan callResult[T], 1)
	if !r.Post(func() {
		v, err := fn()
		slot <- callResult[T]{v, err}
	}) {
		return zero, ErrReactorStopped
	}
	select {
	case res := <-slot:
		return res.v, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.stop:
		select {
		case res := <-slot:
			return res.v, res.err
		default:
			return zero, ErrReactorStopped
		}
	}
}
