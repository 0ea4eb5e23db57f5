package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/PetCam/internal/app/audio"
	"github.com/dkeye/PetCam/internal/app/peer"
	"github.com/dkeye/PetCam/internal/app/video"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

// Offer negotiates a new viewer PeerConnection for sid.
func (o *Orchestrator) Offer(ctx context.Context, sid core.SessionID, sdp, typ string) (peer.Answer, error) {
	if typ != "offer" || sdp == "" {
		return peer.Answer{}, fmt.Errorf("offer type %q: %w", typ, domain.ErrInvalidParameter)
	}
	return o.Peers.HandleOffer(ctx, sid, sdp)
}

func (o *Orchestrator) ClosePeer(ctx context.Context, id string, sid core.SessionID) error {
	return o.Peers.ClosePeer(ctx, id, sid)
}

func (o *Orchestrator) Settings() domain.CameraSettings {
	if o.Camera == nil {
		return domain.DefaultCameraSettings()
	}
	return o.Camera.Settings()
}

// UpdateSettings validates patch against the current settings and applies it
// to the camera. The camera's change hook resets the shared source.
func (o *Orchestrator) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.CameraSettings, error) {
	if o.Camera == nil {
		return domain.CameraSettings{}, fmt.Errorf("camera: %w", domain.ErrDeviceInactive)
	}
	next, err := o.Camera.Settings().Apply(patch)
	if err != nil {
		return domain.CameraSettings{}, err
	}
	if err := o.Camera.ApplySettings(ctx, next); err != nil {
		return domain.CameraSettings{}, fmt.Errorf("apply camera settings: %w", err)
	}
	return next, nil
}

type StatusReport struct {
	Status           string       `json:"status"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	FPS              int          `json:"fps"`
	Resolution       string       `json:"resolution"`
	ClientsConnected int          `json:"clients_connected"`
	PeerConnections  int          `json:"peer_connections"`
	Audio            audio.Status `json:"audio"`
	Video            video.Status `json:"video"`
}

func (o *Orchestrator) Status(ctx context.Context) StatusReport {
	s := o.Settings()
	rep := StatusReport{
		Status:           "running",
		UptimeSeconds:    int64(time.Since(o.started).Seconds()),
		FPS:              s.FPS,
		Resolution:       s.Resolution.String(),
		ClientsConnected: o.Registry.Count(),
		Audio:            o.Audio.Status(),
		Video:            o.Video.Status(),
	}
	if o.Peers != nil {
		if n, err := o.Peers.PeerCount(ctx); err == nil {
			rep.PeerConnections = n
		}
	}
	return rep
}
