// Package signal hosts the audio and video WebSocket endpoints.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/app/orch"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

const sendQueue = 64

type Controller struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(o *orch.Orchestrator, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{Orch: o, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type accepted struct {
	id       domain.ConnID
	sid      core.SessionID
	identity domain.ClientIdentity
	conn     *WsConn
}

func (ctl *Controller) accept(c *gin.Context) (accepted, bool) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return accepted{}, false
	}
	a := accepted{
		id:       domain.NewConnID(),
		sid:      core.SessionID(c.GetString("client_token")),
		identity: domain.ClientIdentity(c.ClientIP()),
		conn:     newWsConn(ws, sendQueue),
	}
	log.Info().Str("module", "signal").Str("conn", string(a.id)).Str("sid", string(a.sid)).
		Str("ip", string(a.identity)).Str("path", c.FullPath()).Msg("new WS connection")
	return a, true
}

func (ctl *Controller) serve(ctx context.Context, a accepted, h handlers, cancel context.CancelFunc) {
	go ctl.writePump(ctx, a.id, a.conn)
	go ctl.readPump(ctx, a.id, a.conn, h, cancel)
}
