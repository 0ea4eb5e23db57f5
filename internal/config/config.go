package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Auth   AuthConfig   `mapstructure:"auth"`
	Audio  AudioConfig  `mapstructure:"audio"`
	Video  VideoConfig  `mapstructure:"video"`
	WebRTC WebRTCConfig `mapstructure:"webrtc"`
	Camera CameraConfig `mapstructure:"camera"`
}

// AuthConfig guards the API with a shared access token.
type AuthConfig struct {
	Token         string        `mapstructure:"token"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	AttemptWindow time.Duration `mapstructure:"attempt_window"`
}

type AudioConfig struct {
	SampleRate    int    `mapstructure:"sample_rate"`
	Channels      int    `mapstructure:"channels"`
	ChunkSize     int    `mapstructure:"chunk_size"` // samples per chunk
	QueueCapacity int    `mapstructure:"queue_capacity"`
	CaptureDevice string `mapstructure:"capture_device"`
	PlaybackDev   string `mapstructure:"playback_device"`
}

// ChunkBytes is the size of one S16LE chunk.
func (a AudioConfig) ChunkBytes() int { return a.ChunkSize * a.Channels * 2 }

type VideoConfig struct {
	FrameMaxBytes int `mapstructure:"frame_max_bytes"`
	MaxFPS        int `mapstructure:"max_fps"`
}

type WebRTCConfig struct {
	MaxPeers          int           `mapstructure:"max_peers"`
	FPS               int           `mapstructure:"fps"`
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	STUNURLs          []string      `mapstructure:"stun_urls"`
}

type CameraConfig struct {
	Device  string `mapstructure:"device"`
	FFmpeg  string `mapstructure:"ffmpeg"`
	Enabled bool   `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 5555)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 512*1024)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")

	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("auth.max_attempts", 5)
	v.SetDefault("auth.attempt_window", "5m")

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_size", 1024)
	v.SetDefault("audio.queue_capacity", 50)
	v.SetDefault("audio.capture_device", "default")
	v.SetDefault("audio.playback_device", "default")

	v.SetDefault("video.frame_max_bytes", 200*1024)
	v.SetDefault("video.max_fps", 15)

	v.SetDefault("webrtc.max_peers", 3)
	v.SetDefault("webrtc.fps", 10)
	v.SetDefault("webrtc.disconnect_timeout", "30s")
	v.SetDefault("webrtc.call_timeout", "10s")
	v.SetDefault("webrtc.stun_urls", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.ffmpeg", "ffmpeg")
	v.SetDefault("camera.enabled", true)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PETCAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// no defaults for these, bind explicitly so Unmarshal sees the env
	_ = v.BindEnv("secret")
	_ = v.BindEnv("auth.token")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Auth.Token == "" {
		log.Warn().Str("module", "config").Msg("auth.token is not set, all logins will be rejected")
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Int("max_peers", cfg.WebRTC.MaxPeers).
		Int("video_max_fps", cfg.Video.MaxFPS).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("secret must be set"))
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.MaxAttempts <= 0 || c.Auth.AttemptWindow <= 0 {
		errs = append(errs, errors.New("auth limits must be positive"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.ChunkSize <= 0 {
		errs = append(errs, errors.New("audio format must be positive"))
	}
	if c.Audio.QueueCapacity <= 0 {
		errs = append(errs, errors.New("audio.queue_capacity must be positive"))
	}
	if c.Video.FrameMaxBytes <= 0 || c.Video.MaxFPS <= 0 {
		errs = append(errs, errors.New("video limits must be positive"))
	}
	if c.WebRTC.MaxPeers <= 0 || c.WebRTC.FPS <= 0 {
		errs = append(errs, errors.New("webrtc limits must be positive"))
	}
	if c.WebRTC.DisconnectTimeout <= 0 {
		errs = append(errs, errors.New("webrtc.disconnect_timeout must be positive"))
	}
	return errors.Join(errs...)
}
