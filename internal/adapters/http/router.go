// Package http wires the gin router: sessions, WebSocket endpoints and the
// JSON API.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/adapters/signal"
	"github.com/dkeye/PetCam/internal/app/orch"
	"github.com/dkeye/PetCam/internal/config"
)

const tokenKey = "ct"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable session token.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(tokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(tokenKey, token)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("PetCamSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	h := &Handlers{Orch: o, CallTimeout: cfg.WebRTC.CallTimeout}
	ctl := signal.NewController(o, cfg.ReadLimit, cfg.PingPeriod)

	auth := NewAuth(cfg.Auth)

	r.GET("/health", h.Health)

	public := r.Group("/api")
	public.POST("/auth", auth.Login)
	public.POST("/logout", auth.Logout)

	api := r.Group("/api", auth.Require())
	api.GET("/status", h.Status)
	api.GET("/settings", h.GetSettings)
	api.PATCH("/settings", h.PatchSettings)
	api.POST("/webrtc/offer", h.Offer)
	api.DELETE("/webrtc/:pc_id", h.ClosePeer)

	api.GET("/ws/audio", func(c *gin.Context) {
		ctl.HandleAudio(ctx, c)
	})
	api.GET("/ws/video", func(c *gin.Context) {
		ctl.HandleVideo(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
