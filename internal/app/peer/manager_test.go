package peer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/PetCam/internal/core"
	"github.com/dkeye/PetCam/internal/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	onState  func(webrtc.PeerConnectionState)
	offerErr error
	tracks   []webrtc.TrackLocal
	closed   atomic.Int32
}

func (f *fakeTransport) ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if f.offerErr != nil {
		return nil, f.offerErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for:" + offer.SDP}, nil
}

func (f *fakeTransport) AttachTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeTransport) ReplaceTrack(t webrtc.TrackLocal) error { return f.AttachTrack(t) }

func (f *fakeTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeTransport) emit(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

func (f *fakeTransport) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

type fakeSource struct{ resets atomic.Int32 }

func (s *fakeSource) Track() (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	if err != nil {
		return nil, err
	}
	return track, nil
}

func (s *fakeSource) Reset() (webrtc.TrackLocal, error) {
	s.resets.Add(1)
	return s.Track()
}

type harness struct {
	mgr        *Manager
	reactor    *Reactor
	onCreate   func()
	source     *fakeSource
	mu         sync.Mutex
	transports []*fakeTransport
	offerErr   error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{source: &fakeSource{}}
	reactor := NewReactor(64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = reactor.Run(ctx) }()

	factory := func() (core.PeerTransport, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		ft := &fakeTransport{offerErr: h.offerErr}
		h.transports = append(h.transports, ft)
		if h.onCreate != nil {
			h.onCreate()
		}
		return ft, nil
	}
	h.reactor = reactor
	h.mgr = NewManager(cfg, reactor, factory, h.source)
	t.Cleanup(func() {
		h.mgr.Close(context.Background())
		cancel()
	})
	return h
}

func (h *harness) transport(i int) *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[i]
}

func defaultConfig() Config {
	return Config{MaxPeers: 3, DisconnectTimeout: 30 * time.Second}
}

func TestHandleOfferReturnsAnswer(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	ans, err := h.mgr.HandleOffer(ctx, "sid-a", "v=0")
	require.NoError(t, err)
	require.NotEmpty(t, ans.PeerID)
	require.Equal(t, "answer", ans.Type)
	require.Equal(t, "answer-for:v=0", ans.SDP)
	require.Equal(t, 1, h.transport(0).trackCount())

	st, ok := h.mgr.PeerState(ctx, ans.PeerID)
	require.True(t, ok)
	require.Equal(t, StateNegotiating, st)
}

func TestAdmissionLimit(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.mgr.HandleOffer(ctx, "sid", "v=0")
		require.NoError(t, err)
	}
	_, err := h.mgr.HandleOffer(ctx, "sid", "v=0")
	require.ErrorIs(t, err, domain.ErrTooManyPeers)
	require.Equal(t, domain.CodeTooManyPeers, domain.CodeOf(err))

	n, err := h.mgr.PeerCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	h.mu.Lock()
	require.Len(t, h.transports, 3)
	h.mu.Unlock()
}

func TestTimedOutOfferDoesNotHoldSlot(t *testing.T) {
	h := newHarness(t, Config{MaxPeers: 1, DisconnectTimeout: 30 * time.Second})

	release := make(chan struct{})
	require.True(t, h.reactor.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.mgr.HandleOffer(ctx, "sid-a", "v=0")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	bg := context.Background()
	require.Eventually(t, func() bool {
		n, _ := h.mgr.PeerCount(bg)
		return n == 0
	}, time.Second, 5*time.Millisecond)

	ans, err := h.mgr.HandleOffer(bg, "sid-b", "v=0")
	require.NoError(t, err)
	require.NotEmpty(t, ans.PeerID)
}

func TestOfferCancelledDuringAdmitIsCleanedUp(t *testing.T) {
	h := newHarness(t, Config{MaxPeers: 1, DisconnectTimeout: 30 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	h.onCreate = cancel
	_, err := h.mgr.HandleOffer(ctx, "sid-a", "v=0")

	bg := context.Background()
	want := 1
	if err != nil {
		want = 0
	}
	require.Eventually(t, func() bool {
		n, _ := h.mgr.PeerCount(bg)
		return n == want
	}, time.Second, 5*time.Millisecond)
	if want == 0 {
		require.Eventually(t, func() bool { return h.transport(0).closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	}
}

func TestConcurrentOffersRespectLimit(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.mgr.HandleOffer(ctx, "sid", "v=0"); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(3), ok.Load())
}

func TestNegotiationFailureRemovesPeer(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.offerErr = errors.New("bad sdp")
	ctx := context.Background()

	_, err := h.mgr.HandleOffer(ctx, "sid", "garbage")
	require.Error(t, err)
	require.Eventually(t, func() bool {
		n, _ := h.mgr.PeerCount(ctx)
		return n == 0
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.transport(0).closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClosePeerOwnerCheck(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	ans, err := h.mgr.HandleOffer(ctx, "owner", "v=0")
	require.NoError(t, err)

	err = h.mgr.ClosePeer(ctx, ans.PeerID, "intruder")
	require.ErrorIs(t, err, domain.ErrNotOwner)
	require.Equal(t, domain.CodeForbidden, domain.CodeOf(err))
	_, ok := h.mgr.PeerState(ctx, ans.PeerID)
	require.True(t, ok)

	require.NoError(t, h.mgr.ClosePeer(ctx, ans.PeerID, "owner"))
	_, ok = h.mgr.PeerState(ctx, ans.PeerID)
	require.False(t, ok)
	require.Eventually(t, func() bool { return h.transport(0).closed.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.mgr.ClosePeer(ctx, ans.PeerID, "owner"))
	require.NoError(t, h.mgr.ClosePeer(ctx, "unknown", "anyone"))
}

func TestDisconnectTimeoutClosesOnce(t *testing.T) {
	h := newHarness(t, Config{MaxPeers: 3, DisconnectTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	ans, err := h.mgr.HandleOffer(ctx, "sid", "v=0")
	require.NoError(t, err)
	ft := h.transport(0)

	ft.emit(webrtc.PeerConnectionStateConnected)
	ft.emit(webrtc.PeerConnectionStateDisconnected)

	require.Eventually(t, func() bool {
		_, ok := h.mgr.PeerState(ctx, ans.PeerID)
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return ft.closed.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the transport reports closed after teardown; nothing happens twice
	ft.emit(webrtc.PeerConnectionStateClosed)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), ft.closed.Load())
}

func TestRecoveryCancelsDisconnectTimer(t *testing.T) {
	h := newHarness(t, Config{MaxPeers: 3, DisconnectTimeout: 80 * time.Millisecond})
	ctx := context.Background()

	ans, err := h.mgr.HandleOffer(ctx, "sid", "v=0")
	require.NoError(t, err)
	ft := h.transport(0)

	ft.emit(webrtc.PeerConnectionStateConnected)
	ft.emit(webrtc.PeerConnectionStateDisconnected)
	ft.emit(webrtc.PeerConnectionStateConnected)

	time.Sleep(200 * time.Millisecond)
	st, ok := h.mgr.PeerState(ctx, ans.PeerID)
	require.True(t, ok)
	require.Equal(t, StateConnected, st)
	require.Zero(t, ft.closed.Load())
}

func TestTransportFailureRemovesPeer(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	ans, err := h.mgr.HandleOffer(ctx, "sid", "v=0")
	require.NoError(t, err)
	h.transport(0).emit(webrtc.PeerConnectionStateFailed)

	require.Eventually(t, func() bool {
		_, ok := h.mgr.PeerState(ctx, ans.PeerID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestResetSourceReplacesTrackOnEveryPeer(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.mgr.HandleOffer(ctx, "sid", "v=0")
		require.NoError(t, err)
	}
	require.NoError(t, h.mgr.ResetSource(ctx))

	require.Equal(t, int32(1), h.source.resets.Load())
	require.Equal(t, 2, h.transport(0).trackCount())
	require.Equal(t, 2, h.transport(1).trackCount())
}

func TestStateTransitions(t *testing.T) {
	require.True(t, StateNegotiating.canTransition(StateConnected))
	require.True(t, StateDisconnected.canTransition(StateConnected))
	require.True(t, StateFailed.canTransition(StateClosed))
	require.False(t, StateClosed.canTransition(StateConnected))
	require.False(t, StateNegotiating.canTransition(StateDisconnected))
	require.Equal(t, "disconnected", StateDisconnected.String())
}

func TestCallAfterStop(t *testing.T) {
	r := NewReactor(1)
	r.Stop()
	_, err := Call(context.Background(), r, func() (int, error) { return 1, nil })
	require.ErrorIs(t, err, ErrReactorStopped)
}
