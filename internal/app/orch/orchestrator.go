package orch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/app"
	"github.com/dkeye/PetCam/internal/app/arbiter"
	"github.com/dkeye/PetCam/internal/app/audio"
	"github.com/dkeye/PetCam/internal/app/peer"
	"github.com/dkeye/PetCam/internal/app/video"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

const resetTimeout = 10 * time.Second

type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
	Arbiter  *arbiter.Arbiter
	Audio    *audio.Engine
	Video    *video.Relay
	Peers    *peer.Manager
	Camera   core.FrameSource

	started time.Time
}

// Wire installs the cross-component hooks. Call once before serving.
func (o *Orchestrator) Wire() {
	o.started = time.Now()

	o.Arbiter.RegisterProbe("listen", o.Audio.ListeningFor)
	o.Arbiter.RegisterProbe("talk", o.Audio.TalkingFor)
	o.Arbiter.RegisterProbe("video", o.Video.SendingFor)
	o.Arbiter.OnChange(o.broadcastExclusive)
	o.Video.OnStatus(o.broadcastVideoStatus)

	if o.Camera != nil && o.Peers != nil {
		o.Camera.OnSettingsChanged(func() {
			ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
			defer cancel()
			if err := o.Peers.ResetSource(ctx); err != nil {
				log.Error().Err(err).Str("module", "orch").Msg("reset shared source")
			}
		})
	}
}

// Disconnect releases everything id held and forgets it.
func (o *Orchestrator) Disconnect(id domain.ConnID) {
	entry, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	o.Registry.Unbind(id)

	switch entry.Kind {
	case app.KindAudio:
		o.Audio.RemoveListener(id)
		o.Audio.ReleaseTalkSlot(id)
		o.Arbiter.MaybeRelease()
	case app.KindVideo:
		o.Video.Leave(id)
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("ip", string(entry.Identity)).Msg("disconnected")
}

func (o *Orchestrator) broadcastExclusive() {
	for _, snap := range o.Registry.Snapshot(nil) {
		o.sendControl(snap.ID, snap.Entry.Signal, exclusiveStatus{
			Type:    "exclusive_status",
			Blocked: o.Arbiter.IsBlocked(snap.Entry.Identity),
		})
	}
}

func (o *Orchestrator) sendExclusive(id domain.ConnID, entry app.ConnEntry) {
	o.sendControl(id, entry.Signal, exclusiveStatus{
		Type:    "exclusive_status",
		Blocked: o.Arbiter.IsBlocked(entry.Identity),
	})
}

// SendControl queues a JSON message for id.
func (o *Orchestrator) SendControl(id domain.ConnID, v any) {
	entry, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	o.sendControl(id, entry.Signal, v)
}

func (o *Orchestrator) sendControl(id domain.ConnID, sc core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal control message")
		return
	}
	if err := sc.TrySend(b); err != nil {
		o.onBackpressure(app.ClassControl, id, sc, err)
	}
}

func (o *Orchestrator) onBackpressure(class app.MessageClass, id domain.ConnID, sc core.SignalConnection, err error) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(class, sc) {
	case app.KickConn:
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("slow consumer kicked")
		o.Registry.Cancel(id)
	case app.DropFrame, app.NoAction:
	}
}
