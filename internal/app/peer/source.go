package peer

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/core"
)

// TrackSource hands out the local track every peer connection shares.
type TrackSource interface {
	Track() (webrtc.TrackLocal, error)
	// Reset discards the current track and returns a fresh one.
	Reset() (webrtc.TrackLocal, error)
}

const idleBackoff = time.Second

// SharedSource paces camera frames into one sample track.
type SharedSource struct {
	frames core.FrameSource
	fps    int
	ctx    context.Context

	mu     sync.Mutex
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

func NewSharedSource(ctx context.Context, frames core.FrameSource, fps int) *SharedSource {
	if fps <= 0 {
		fps = 10
	}
	return &SharedSource{
		frames: frames,
		fps:    fps,
		ctx:    ctx,
		logger: log.With().Str("module", "peer.source").Logger(),
	}
}

func (s *SharedSource) Track() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track != nil {
		return s.track, nil
	}
	return s.startLocked()
}

func (s *SharedSource) Reset() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.logger.Info().Msg("source reset")
	return s.startLocked()
}

func (s *SharedSource) Close() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SharedSource) startLocked() (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "petcam",
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.track = track
	s.cancel = cancel
	s.wg.Add(1)
	go s.pace(ctx, track)
	return track, nil
}

func (s *SharedSource) stopLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	s.track = nil
	s.cancel = nil
}

func (s *SharedSource) pace(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	defer s.wg.Done()
	interval := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, ok := s.frames.LatestFrame()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleBackoff):
			}
			continue
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			s.logger.Debug().Err(err).Msg("write sample")
		}
	}
}
