package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/domain"
)

const writeWait = 5 * time.Second

type envelope struct {
	Type string `json:"type"`
}

type handlers struct {
	text   func(typ string, data []byte)
	binary func(data []byte)
}

func (ctl *Controller) writePump(ctx context.Context, id domain.ConnID, c *WsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case m, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(m.kind, m.data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id domain.ConnID, c *WsConn, h handlers, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(id)
		c.Close()
	}()

	pongWait := ctl.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.dispatch(id, kind, data, h)
	}
}

func (ctl *Controller) dispatch(id domain.ConnID, kind int, data []byte, h handlers) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("module", "signal").Str("conn", string(id)).Msg("recovered in dispatch")
			ctl.Orch.SendControl(id, errorMessage{Type: "error", Code: domain.CodeInternal, Message: "internal error"})
		}
	}()

	switch kind {
	case websocket.BinaryMessage:
		h.binary(data)
	case websocket.TextMessage:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json")
			return
		}
		switch env.Type {
		case "ping":
			ctl.Orch.SendControl(id, envelope{Type: "pong"})
		default:
			h.text(env.Type, data)
		}
	}
}

type errorMessage struct {
	Type    string      `json:"type"`
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}
