package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/app/orch"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// HandleVideo serves /api/ws/video?role=sender|display.
func (ctl *Controller) HandleVideo(ctx context.Context, c *gin.Context) {
	role, err := domain.ParseVideoRole(c.Query("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": domain.CodeOf(err), "message": domain.PublicMessage(err)}})
		return
	}
	a, ok := ctl.accept(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Orch.ConnectVideo(a.id, a.identity, a.sid, role, a.conn, cancel); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(a.id)).Msg("video join")
		cancel()
		a.conn.Close()
		return
	}

	ctl.serve(ctx, a, handlers{
		text: func(typ string, data []byte) {
			ctl.handleVideoCommand(a.id, typ, data)
		},
		binary: func(data []byte) {
			ctl.Orch.VideoFrame(a.id, core.Frame(data))
		},
	}, cancel)
}

func (ctl *Controller) handleVideoCommand(id domain.ConnID, typ string, data []byte) {
	switch typ {
	case "video_send_start":
		var meta orch.SendMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad send metadata")
			ctl.Orch.SendVideoError(id, fmt.Errorf("video_send_start metadata: %w", domain.ErrInvalidParameter))
			return
		}
		if err := ctl.Orch.VideoSendStart(id, meta); err != nil {
			ctl.Orch.SendVideoError(id, err)
		}
	case "video_send_stop":
		ctl.Orch.VideoSendStop(id)
	case "display_heartbeat":
		ctl.Orch.SendControl(id, envelope{Type: "display_heartbeat_ack"})
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown video command")
	}
}
