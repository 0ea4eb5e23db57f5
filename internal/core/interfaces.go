package core

import "errors"

// Frame is a raw binary payload (e.g., audio chunk, JPEG frame, JSON message).
type Frame []byte

// SessionID is the authenticated session token of a client.
type SessionID string

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a text (JSON) message without blocking.
	TrySend(Frame) error
	// TrySendBinary queues a binary message without blocking.
	TrySendBinary(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SignalConnection
}
