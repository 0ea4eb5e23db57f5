package video

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/PetCam/internal/app/arbiter"
	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

type recordingConn struct {
	mu     sync.Mutex
	binary []core.Frame
	text   []core.Frame
}

func (c *recordingConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = append(c.text, f)
	return nil
}

func (c *recordingConn) TrySendBinary(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binary = append(c.binary, f)
	return nil
}

func (c *recordingConn) Close() {}

func (c *recordingConn) frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.binary)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestRelay(t *testing.T, clock *fakeClock) (*Relay, *arbiter.Arbiter) {
	t.Helper()
	arb := arbiter.New()
	cfg := Config{FrameMaxBytes: 200 * 1024, MaxFPS: 15}
	if clock != nil {
		cfg.Now = clock.Now
	}
	r := NewRelay(cfg, arb)
	arb.RegisterProbe("video", r.SendingFor)
	return r, arb
}

func TestFrameRateLimiterAcceptsFloorOfWindow(t *testing.T) {
	tests := []struct {
		fps    int
		window time.Duration
	}{
		{fps: 15, window: time.Second},
		{fps: 7, window: time.Second},
		{fps: 10, window: 3 * time.Second},
		{fps: 12, window: 2 * time.Second},
		{fps: 24, window: 5 * time.Second},
		{fps: 30, window: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dfps_%s", tt.fps, tt.window), func(t *testing.T) {
			t0 := time.Unix(1_700_000_000, 0)
			clock := &fakeClock{t: t0}
			rl := NewFrameRateLimiter(tt.fps, clock.Now)

			accepted := 0
			for ms := time.Millisecond; ms <= tt.window; ms += time.Millisecond {
				clock.t = t0.Add(ms)
				if rl.Allow("s") {
					accepted++
				}
			}
			want := int(tt.window.Seconds() * float64(tt.fps))
			require.Equal(t, want, accepted)
		})
	}
}

func TestFrameRateLimiterNoBurstAfterPause(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	rl := NewFrameRateLimiter(10, clock.Now)

	require.True(t, rl.Allow("s"))
	clock.t = clock.t.Add(5 * time.Second)
	require.True(t, rl.Allow("s"))
	require.False(t, rl.Allow("s"))
	clock.t = clock.t.Add(99 * time.Millisecond)
	require.False(t, rl.Allow("s"))
	clock.t = clock.t.Add(time.Millisecond)
	require.True(t, rl.Allow("s"))
}

func TestFrameRateLimiterForget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	rl := NewFrameRateLimiter(10, clock.Now)

	require.True(t, rl.Allow("s"))
	require.False(t, rl.Allow("s"))
	require.True(t, rl.Allow("other"))
	rl.Forget("s")
	require.True(t, rl.Allow("s"))
}

func TestSubmitFrameRelaysToDisplaysOnly(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	sender, d1, d2 := &recordingConn{}, &recordingConn{}, &recordingConn{}

	require.NoError(t, r.Join("s", domain.RoleSender, "10.0.0.1", sender))
	require.NoError(t, r.Join("d1", domain.RoleDisplay, "10.0.0.2", d1))
	require.NoError(t, r.Join("d2", domain.RoleDisplay, "10.0.0.3", d2))
	require.NoError(t, r.StartSend("s"))

	n := r.SubmitFrame("s", make(core.Frame, 50_000))
	require.Equal(t, 2, n)
	require.Equal(t, 1, d1.frames())
	require.Equal(t, 1, d2.frames())
	require.Zero(t, sender.frames())
}

func TestSubmitFrameDropsOversized(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	d := &recordingConn{}
	require.NoError(t, r.Join("s", domain.RoleSender, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.Join("d", domain.RoleDisplay, "10.0.0.2", d))
	require.NoError(t, r.StartSend("s"))

	require.Zero(t, r.SubmitFrame("s", make(core.Frame, 300_000)))
	require.Zero(t, d.frames())
}

func TestSubmitFrameIgnoresInactiveSender(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	d := &recordingConn{}
	require.NoError(t, r.Join("s", domain.RoleSender, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.Join("d", domain.RoleDisplay, "10.0.0.2", d))

	require.Zero(t, r.SubmitFrame("s", core.Frame{1}))
	require.Zero(t, r.SubmitFrame("d", core.Frame{1}))
	require.Zero(t, d.frames())
}

func TestSubmitFrameRateLimited(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	r, _ := newTestRelay(t, clock)
	d := &recordingConn{}
	require.NoError(t, r.Join("s", domain.RoleSender, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.Join("d", domain.RoleDisplay, "10.0.0.2", d))
	require.NoError(t, r.StartSend("s"))

	require.Equal(t, 1, r.SubmitFrame("s", core.Frame{1}))
	clock.t = clock.t.Add(10 * time.Millisecond)
	require.Zero(t, r.SubmitFrame("s", core.Frame{2}))
	clock.t = clock.t.Add(time.Second / 15)
	require.Equal(t, 1, r.SubmitFrame("s", core.Frame{3}))
	require.Equal(t, 2, d.frames())
}

func TestStartSendSenderBusy(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	require.NoError(t, r.Join("a", domain.RoleSender, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.Join("b", domain.RoleSender, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.StartSend("a"))

	err := r.StartSend("b")
	require.ErrorIs(t, err, domain.ErrSenderBusy)
	require.Equal(t, domain.CodeSenderBusy, domain.CodeOf(err))

	active, ok := r.ActiveSender()
	require.True(t, ok)
	require.Equal(t, domain.ConnID("a"), active)
}

func TestStartSendExclusiveBlocked(t *testing.T) {
	r, arb := newTestRelay(t, nil)
	require.True(t, arb.TryClaim("10.0.0.9"))
	require.NoError(t, r.Join("s", domain.RoleSender, "10.0.0.1", &recordingConn{}))

	err := r.StartSend("s")
	require.Equal(t, domain.CodeExclusiveBlocked, domain.CodeOf(err))
	require.False(t, r.Status().Sending)
}

func TestStartSendRequiresSenderRole(t *testing.T) {
	r, arb := newTestRelay(t, nil)
	require.NoError(t, r.Join("d", domain.RoleDisplay, "10.0.0.1", &recordingConn{}))

	require.ErrorIs(t, r.StartSend("d"), domain.ErrInvalidRole)
	require.ErrorIs(t, r.StartSend("nobody"), domain.ErrInvalidRole)
	_, held := arb.Holder()
	require.False(t, held)
}

func TestRejoinWithOtherRole(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	require.NoError(t, r.Join("c", domain.RoleDisplay, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.Join("c", domain.RoleDisplay, "10.0.0.1", &recordingConn{}))
	require.ErrorIs(t, r.Join("c", domain.RoleSender, "10.0.0.1", &recordingConn{}), domain.ErrInvalidRole)
}

func TestStopSendAndLeaveReleaseArbiter(t *testing.T) {
	r, arb := newTestRelay(t, nil)
	require.NoError(t, r.Join("s", domain.RoleSender, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.StartSend("s"))
	require.True(t, arb.IsBlocked("10.0.0.2"))

	require.False(t, r.StopSend("other"))
	require.True(t, r.StopSend("s"))
	require.False(t, arb.IsBlocked("10.0.0.2"))

	require.NoError(t, r.StartSend("s"))
	r.Leave("s")
	require.False(t, r.Status().Sending)
	require.False(t, arb.IsBlocked("10.0.0.2"))
}

func TestStatusHookTracksDisplays(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	var got []Status
	r.OnStatus(func(s Status) { got = append(got, s) })

	require.NoError(t, r.Join("d", domain.RoleDisplay, "10.0.0.1", &recordingConn{}))
	require.NoError(t, r.Join("s", domain.RoleSender, "10.0.0.2", &recordingConn{}))
	require.NoError(t, r.StartSend("s"))
	r.Leave("d")

	require.Equal(t, []Status{
		{Sending: false, DisplayClients: 1},
		{Sending: false, DisplayClients: 1},
		{Sending: true, DisplayClients: 1},
		{Sending: true, DisplayClients: 0},
	}, got)
}
