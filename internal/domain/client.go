package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ClientIdentity is the network address (IP, no port) of a remote client.
// Several connections may share one identity; it is only used as the key of
// the exclusive lock.
type ClientIdentity string

// ConnID identifies one live transport connection.
type ConnID string

// NewConnID is a tiny helper to avoid ad-hoc uuid calls in adapters.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// VideoRole is fixed when a video connection is established.
type VideoRole string

const (
	RoleSender  VideoRole = "sender"
	RoleDisplay VideoRole = "display"
)

func ParseVideoRole(s string) (VideoRole, error) {
	switch VideoRole(s) {
	case RoleSender:
		return RoleSender, nil
	case RoleDisplay, "":
		return RoleDisplay, nil
	}
	return "", fmt.Errorf("role %q: %w", s, ErrInvalidRole)
}
