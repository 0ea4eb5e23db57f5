package signal

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dkeye/PetCam/internal/core"
)

type outbound struct {
	kind int
	data core.Frame
}

// WsConn is a WebSocket with a bounded outbound queue drained by writePump.
type WsConn struct {
	conn *websocket.Conn
	send chan outbound

	mu     sync.RWMutex
	closed bool
}

func newWsConn(ws *websocket.Conn, queue int) *WsConn {
	return &WsConn{conn: ws, send: make(chan outbound, queue)}
}

func (c *WsConn) TrySend(f core.Frame) error {
	return c.enqueue(outbound{kind: websocket.TextMessage, data: f})
}

func (c *WsConn) TrySendBinary(f core.Frame) error {
	return c.enqueue(outbound{kind: websocket.BinaryMessage, data: f})
}

func (c *WsConn) enqueue(m outbound) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- m:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
