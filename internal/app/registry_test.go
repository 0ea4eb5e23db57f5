package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/PetCam/internal/domain"
)

func TestRegistryBindSnapshotUnbind(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Bind("a", ConnEntry{Identity: "10.0.0.1", Kind: KindAudio, Cancel: func() { canceled = true }})
	r.Bind("v", ConnEntry{Identity: "10.0.0.2", Kind: KindVideo})

	video := KindVideo
	snap := r.Snapshot(&video)
	require.Len(t, snap, 1)
	require.Equal(t, domain.ConnID("v"), snap[0].ID)
	require.Len(t, r.Snapshot(nil), 2)

	e, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, domain.ClientIdentity("10.0.0.1"), e.Identity)

	require.True(t, r.Cancel("a"))
	require.True(t, canceled)
	require.False(t, r.Cancel("missing"))

	r.Unbind("a")
	r.Unbind("a")
	require.Equal(t, 1, r.Count())
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{}
	require.Equal(t, DropFrame, p.OnBackPressure(ClassMedia, nil))
	require.Equal(t, KickConn, p.OnBackPressure(ClassControl, nil))
}
