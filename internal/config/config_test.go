package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-env")
	t.Setenv("PETCAM_SECRET", "s3cret")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5555, cfg.Port)
	require.Equal(t, 3, cfg.WebRTC.MaxPeers)
	require.Equal(t, 30*time.Second, cfg.WebRTC.DisconnectTimeout)
	require.Equal(t, 200*1024, cfg.Video.FrameMaxBytes)
	require.Equal(t, 15, cfg.Video.MaxFPS)
	require.Equal(t, 50, cfg.Audio.QueueCapacity)
	require.Equal(t, 2048, cfg.Audio.ChunkBytes())
	require.Equal(t, "s3cret", cfg.Secret)
	require.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	require.Equal(t, 5, cfg.Auth.MaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.Auth.AttemptWindow)
	require.Empty(t, cfg.Auth.Token)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-env")
	chdir(t, t.TempDir())

	_, err := Load()
	require.ErrorContains(t, err, "secret must be set")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-env")
	t.Setenv("PETCAM_WEBRTC_MAX_PEERS", "5")
	t.Setenv("PETCAM_VIDEO_MAX_FPS", "30")
	t.Setenv("PETCAM_SECRET", "s3cret")
	t.Setenv("PETCAM_AUTH_TOKEN", "letmein")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.WebRTC.MaxPeers)
	require.Equal(t, 30, cfg.Video.MaxFPS)
	require.Equal(t, "letmein", cfg.Auth.Token)
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-env")
	t.Setenv("PETCAM_SECRET", "s3cret")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	bad := *cfg
	bad.Port = 0
	bad.Audio.QueueCapacity = 0
	require.Error(t, bad.Validate())

	noAuth := *cfg
	noAuth.Auth.MaxAttempts = 0
	require.Error(t, noAuth.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := "port: 8080\nsecret: from-file\nwebrtc:\n  disconnect_timeout: 5s\naudio:\n  queue_capacity: 10\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Setenv("CONFIG_ENV", "test")
	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 5*time.Second, cfg.WebRTC.DisconnectTimeout)
	require.Equal(t, 10, cfg.Audio.QueueCapacity)
	require.Equal(t, 3, cfg.WebRTC.MaxPeers)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory and restores the previous one when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
