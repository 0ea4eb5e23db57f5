package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/app"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

var errUnknownConn = errors.New("unknown connection")

// ConnectAudio registers an audio WebSocket and pushes the current lock state.
func (o *Orchestrator) ConnectAudio(id domain.ConnID, identity domain.ClientIdentity, sid core.SessionID, sc core.SignalConnection, cancel context.CancelFunc) {
	entry := app.ConnEntry{Identity: identity, Session: sid, Kind: app.KindAudio, Signal: sc, Cancel: cancel}
	o.Registry.Bind(id, entry)
	o.sendExclusive(id, entry)
	o.SendAudioStatus(id, nil)
}

// ListenStart subscribes id to the microphone. The pump lives as long as ctx.
func (o *Orchestrator) ListenStart(ctx context.Context, id domain.ConnID) error {
	entry, ok := o.Registry.Get(id)
	if !ok {
		return errUnknownConn
	}

	var started bool
	err := o.Arbiter.Acquire(entry.Identity, func() error {
		l, added := o.Audio.AddListener(id, entry.Identity)
		if added {
			started = true
			go l.Pump(ctx, func(chunk core.Frame) error {
				err := entry.Signal.TrySendBinary(chunk)
				if errors.Is(err, core.ErrBackpressure) {
					o.onBackpressure(app.ClassMedia, id, entry.Signal, err)
				}
				return err
			})
		}
		return nil
	})
	if err != nil {
		log.Info().Str("module", "orch").Str("conn", string(id)).Err(err).Msg("listen denied")
		return err
	}
	if started {
		log.Info().Str("module", "orch").Str("conn", string(id)).Msg("listening")
	}
	return nil
}

func (o *Orchestrator) ListenStop(id domain.ConnID) {
	if o.Audio.RemoveListener(id) {
		log.Info().Str("module", "orch").Str("conn", string(id)).Msg("listen stopped")
	}
	o.Arbiter.MaybeRelease()
}

func (o *Orchestrator) TalkStart(id domain.ConnID) error {
	entry, ok := o.Registry.Get(id)
	if !ok {
		return errUnknownConn
	}
	err := o.Arbiter.Acquire(entry.Identity, func() error {
		return o.Audio.AcquireTalkSlot(id, entry.Identity)
	})
	if err != nil {
		log.Info().Str("module", "orch").Str("conn", string(id)).Err(err).Msg("talk denied")
	}
	return err
}

func (o *Orchestrator) TalkStop(id domain.ConnID) {
	o.Audio.ReleaseTalkSlot(id)
	o.Arbiter.MaybeRelease()
}

func (o *Orchestrator) TalkData(id domain.ConnID, pcm core.Frame) {
	o.Audio.Talk(id, pcm)
}

// SendAudioStatus reports id's audio state, with cause attached when a
// command failed.
func (o *Orchestrator) SendAudioStatus(id domain.ConnID, cause error) {
	holder, talking := o.Audio.TalkHolder()
	msg := audioStatus{
		Type:      "audio_status",
		Listening: o.Audio.HasListener(id),
		Talking:   talking && holder == id,
	}
	if talking {
		msg.TalkingClients = 1
	}
	if cause != nil {
		msg.Error = newWireError(cause)
	}
	o.SendControl(id, msg)
}
