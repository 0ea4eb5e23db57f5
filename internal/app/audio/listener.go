package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// Listener is a bounded, lossy queue of PCM chunks owned by one connection.
type Listener struct {
	Conn     domain.ConnID
	Identity domain.ClientIdentity

	queue   chan core.Frame
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func newListener(conn domain.ConnID, identity domain.ClientIdentity, capacity int) *Listener {
	return &Listener{
		Conn:     conn,
		Identity: identity,
		queue:    make(chan core.Frame, capacity),
		done:     make(chan struct{}),
	}
}

// offer enqueues chunk without blocking. A full queue keeps what it has and
// drops chunk.
func (l *Listener) offer(chunk core.Frame) bool {
	select {
	case l.queue <- chunk:
		return true
	default:
		return false
	}
}

func (l *Listener) close() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once the listener has been removed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Len is the number of pending chunks.
func (l *Listener) Len() int { return len(l.queue) }

// Pump forwards queued chunks to deliver until the listener is removed, ctx
// ends, or deliver reports the transport closed. Backpressure from deliver
// drops the chunk.
func (l *Listener) Pump(ctx context.Context, deliver func(core.Frame) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case chunk := <-l.queue:
			// removal wins over pending chunks
			select {
			case <-l.done:
				return
			default:
			}
			if err := deliver(chunk); err != nil && !errors.Is(err, core.ErrBackpressure) {
				return
			}
		}
	}
}
