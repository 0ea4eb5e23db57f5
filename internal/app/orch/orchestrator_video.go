package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/app"
	"github.com/dkeye/PetCam/internal/app/video"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// SendMeta is the optional payload of video_send_start.
type SendMeta struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`
}

// ConnectVideo registers a video WebSocket with its fixed role.
func (o *Orchestrator) ConnectVideo(id domain.ConnID, identity domain.ClientIdentity, sid core.SessionID, role domain.VideoRole, sc core.SignalConnection, cancel context.CancelFunc) error {
	entry := app.ConnEntry{Identity: identity, Session: sid, Kind: app.KindVideo, Signal: sc, Cancel: cancel}
	o.Registry.Bind(id, entry)
	if err := o.Video.Join(id, role, identity, sc); err != nil {
		o.Registry.Unbind(id)
		return err
	}
	o.sendExclusive(id, entry)
	o.sendVideoStatus(id, sc, o.Video.Status())
	return nil
}

func (o *Orchestrator) VideoSendStart(id domain.ConnID, meta SendMeta) error {
	if err := o.Video.StartSend(id); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).
		Int("width", meta.Width).Int("height", meta.Height).Int("fps", meta.FPS).Msg("video send started")
	return nil
}

func (o *Orchestrator) VideoSendStop(id domain.ConnID) {
	o.Video.StopSend(id)
}

func (o *Orchestrator) VideoFrame(id domain.ConnID, frame core.Frame) {
	o.Video.SubmitFrame(id, frame)
}

// SendVideoError answers a failed video command.
func (o *Orchestrator) SendVideoError(id domain.ConnID, cause error) {
	o.SendControl(id, videoError{
		Type:    "video_error",
		Code:    domain.CodeOf(cause),
		Message: domain.PublicMessage(cause),
	})
}

func (o *Orchestrator) broadcastVideoStatus(st video.Status) {
	kind := app.KindVideo
	for _, snap := range o.Registry.Snapshot(&kind) {
		o.sendVideoStatus(snap.ID, snap.Entry.Signal, st)
	}
}

func (o *Orchestrator) sendVideoStatus(id domain.ConnID, sc core.SignalConnection, st video.Status) {
	o.sendControl(id, sc, videoStatus{
		Type:           "video_status",
		Sending:        st.Sending,
		DisplayClients: st.DisplayClients,
	})
}
