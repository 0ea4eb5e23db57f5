package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/PetCam/internal/adapters/http"
	"github.com/dkeye/PetCam/internal/adapters/device"
	"github.com/dkeye/PetCam/internal/adapters/rtc"
	"github.com/dkeye/PetCam/internal/app"
	"github.com/dkeye/PetCam/internal/app/arbiter"
	"github.com/dkeye/PetCam/internal/app/audio"
	"github.com/dkeye/PetCam/internal/app/orch"
	"github.com/dkeye/PetCam/internal/app/peer"
	"github.com/dkeye/PetCam/internal/app/video"
	"github.com/dkeye/PetCam/internal/config"
	"github.com/dkeye/PetCam/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	camera := device.NewCamera(cfg.Camera.FFmpeg, cfg.Camera.Device, domain.DefaultCameraSettings())
	if cfg.Camera.Enabled {
		if err := camera.Start(ctx); err != nil {
			log.Error().Err(err).Str("module", "device").Msg("camera unavailable")
		}
	}
	defer camera.Close()

	arb := arbiter.New()
	engine := audio.NewEngine(ctx,
		audio.Config{ChunkBytes: cfg.Audio.ChunkBytes(), QueueCapacity: cfg.Audio.QueueCapacity},
		device.NewALSACapture(cfg.Audio.CaptureDevice, cfg.Audio.SampleRate, cfg.Audio.Channels),
		device.NewALSAPlayback(cfg.Audio.PlaybackDev, cfg.Audio.SampleRate, cfg.Audio.Channels),
	)
	defer engine.Close()

	reactor := peer.NewReactor(256)
	source := peer.NewSharedSource(ctx, camera, cfg.WebRTC.FPS)
	defer source.Close()
	peers := peer.NewManager(
		peer.Config{MaxPeers: cfg.WebRTC.MaxPeers, DisconnectTimeout: cfg.WebRTC.DisconnectTimeout},
		reactor,
		rtc.NewFactory(rtc.Config(cfg.WebRTC.STUNURLs)),
		source,
	)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Policy:   app.SimplePolicy{},
		Arbiter:  arb,
		Audio:    engine,
		Video:    video.NewRelay(video.Config{FrameMaxBytes: cfg.Video.FrameMaxBytes, MaxFPS: cfg.Video.MaxFPS}, arb),
		Peers:    peers,
		Camera:   camera,
	}
	o.Wire()

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	// peers.Close stops the reactor once every peer is torn down.
	g.Go(func() error {
		return reactor.Run(context.Background())
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("PetCam server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		peers.Close(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
