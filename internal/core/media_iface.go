package core

import (
	"github.com/pion/webrtc/v4"
)

// PeerTransport is one negotiated WebRTC session as seen by the peer
// lifecycle manager. Implementations wrap *webrtc.PeerConnection.
type PeerTransport interface {
	// ApplyOffer sets the remote offer and returns the local answer once ICE
	// gathering has completed.
	ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// AttachTrack adds a local track before negotiation.
	AttachTrack(track webrtc.TrackLocal) error
	// ReplaceTrack swaps the track on the sender created by AttachTrack.
	ReplaceTrack(track webrtc.TrackLocal) error
	// OnStateChange is invoked from transport goroutines.
	OnStateChange(func(webrtc.PeerConnectionState))
	// Close should stop all underlying media resources.
	Close() error
}

// PeerFactory creates an unnegotiated transport.
type PeerFactory func() (PeerTransport, error)
