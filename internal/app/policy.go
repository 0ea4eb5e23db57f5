package app

import "github.com/dkeye/PetCam/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConn
)

// MessageClass separates lossy media from control messages.
type MessageClass int

const (
	ClassMedia MessageClass = iota
	ClassControl
)

type Policy interface {
	OnBackPressure(class MessageClass, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy drops media for slow consumers and disconnects clients that
// cannot even keep up with status updates.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(class MessageClass, conn core.SignalConnection) BackpressureAction {
	if class == ClassMedia {
		return DropFrame
	}
	return KickConn
}
