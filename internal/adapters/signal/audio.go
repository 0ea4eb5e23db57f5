package signal

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// HandleAudio serves /api/ws/audio.
func (ctl *Controller) HandleAudio(ctx context.Context, c *gin.Context) {
	a, ok := ctl.accept(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.ConnectAudio(a.id, a.identity, a.sid, a.conn, cancel)

	ctl.serve(ctx, a, handlers{
		text: func(typ string, _ []byte) {
			ctl.handleAudioCommand(ctx, a.id, typ)
		},
		binary: func(data []byte) {
			ctl.Orch.TalkData(a.id, core.Frame(data))
		},
	}, cancel)
}

func (ctl *Controller) handleAudioCommand(ctx context.Context, id domain.ConnID, typ string) {
	var err error
	switch typ {
	case "audio_listen_start":
		err = ctl.Orch.ListenStart(ctx, id)
	case "audio_listen_stop":
		ctl.Orch.ListenStop(id)
	case "audio_talk_start":
		err = ctl.Orch.TalkStart(id)
	case "audio_talk_stop":
		ctl.Orch.TalkStop(id)
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown audio command")
		return
	}
	ctl.Orch.SendAudioStatus(id, err)
}
