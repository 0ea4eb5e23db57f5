package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/PetCam/internal/config"
	"github.com/dkeye/PetCam/internal/domain"
)

const authKey = "auth_at"

// AttemptLimiter blocks an address once it has used up its failed logins
// within a sliding window.
type AttemptLimiter struct {
	mu      sync.Mutex
	history map[domain.ClientIdentity][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewAttemptLimiter(limit int, window time.Duration, now func() time.Time) *AttemptLimiter {
	if now == nil {
		now = time.Now
	}
	return &AttemptLimiter{
		history: make(map[domain.ClientIdentity][]time.Time),
		limit:   limit,
		window:  window,
		now:     now,
	}
}

// fresh drops attempts older than the window. Caller holds mu.
func (l *AttemptLimiter) fresh(ip domain.ClientIdentity, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)
	attempts := l.history[ip]
	kept := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.history, ip)
	} else {
		l.history[ip] = kept
	}
	return kept
}

// Blocked reports whether ip is locked out and for how long.
func (l *AttemptLimiter) Blocked(ip domain.ClientIdentity) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.fresh(ip, now)
	if len(kept) < l.limit {
		return false, 0
	}
	return true, kept[len(kept)-l.limit].Add(l.window).Sub(now)
}

func (l *AttemptLimiter) Fail(ip domain.ClientIdentity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := append(l.fresh(ip, now), now)
	l.history[ip] = kept
	if len(kept) >= l.limit {
		log.Error().Str("module", "adapters.http").Str("ip", string(ip)).Int("attempts", len(kept)).Msg("auth rate limit triggered")
	} else if len(kept) >= 3 {
		log.Warn().Str("module", "adapters.http").Str("ip", string(ip)).Int("attempts", len(kept)).Msg("repeated failed logins")
	}
}

func (l *AttemptLimiter) Reset(ip domain.ClientIdentity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, ip)
}

// Auth checks the shared access token and keeps the login in the cookie
// session for TTL.
type Auth struct {
	Token   string
	TTL     time.Duration
	Limiter *AttemptLimiter
	Now     func() time.Time
}

func NewAuth(cfg config.AuthConfig) *Auth {
	return &Auth{
		Token:   cfg.Token,
		TTL:     cfg.SessionTTL,
		Limiter: NewAttemptLimiter(cfg.MaxAttempts, cfg.AttemptWindow, nil),
		Now:     time.Now,
	}
}

func (a *Auth) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// tokenOK compares digests so neither content nor length leaks through
// timing. An unset server token rejects everything.
func (a *Auth) tokenOK(token string) bool {
	if a.Token == "" || token == "" {
		return false
	}
	got := sha256.Sum256([]byte(token))
	want := sha256.Sum256([]byte(a.Token))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

type LoginRequest struct {
	Token string `json:"token"`
}

// Login serves POST /api/auth.
func (a *Auth) Login(c *gin.Context) {
	ip := domain.ClientIdentity(c.ClientIP())
	if blocked, retry := a.Limiter.Blocked(ip); blocked {
		secs := int(retry.Seconds()) + 1
		c.Header("Retry-After", strconv.Itoa(secs))
		writeError(c, fmt.Errorf("retry in %d seconds: %w", secs, domain.ErrRateLimited))
		return
	}

	var req LoginRequest
	// a missing body is just an empty token
	_ = c.ShouldBindJSON(&req)
	if !a.tokenOK(req.Token) {
		a.Limiter.Fail(ip)
		log.Warn().Str("module", "adapters.http").Str("ip", string(ip)).Msg("login rejected")
		writeError(c, fmt.Errorf("login: %w", domain.ErrAuthInvalid))
		return
	}
	a.Limiter.Reset(ip)

	session := sessions.Default(c)
	session.Set(authKey, a.now().Unix())
	if err := session.Save(); err != nil {
		writeError(c, fmt.Errorf("save session: %w", err))
		return
	}
	log.Info().Str("module", "adapters.http").Str("ip", string(ip)).Msg("login")
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

// Logout serves POST /api/logout.
func (a *Auth) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Delete(authKey)
	if err := session.Save(); err != nil {
		writeError(c, fmt.Errorf("save session: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

func (a *Auth) sessionState(c *gin.Context) (present, valid bool) {
	at, ok := sessions.Default(c).Get(authKey).(int64)
	if !ok {
		return false, false
	}
	return true, a.now().Sub(time.Unix(at, 0)) < a.TTL
}

// credential is the bearer token, or for WebSocket upgrades the token query
// parameter since browsers cannot set headers there.
func credential(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		return c.Query("token")
	}
	return ""
}

// Require rejects requests that carry neither a live login session nor the
// access token.
func (a *Auth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		present, valid := a.sessionState(c)
		if valid {
			c.Next()
			return
		}
		token := credential(c)
		if token != "" && a.tokenOK(token) {
			c.Next()
			return
		}
		if token == "" && !present {
			writeError(c, domain.ErrAuthRequired)
		} else {
			writeError(c, domain.ErrAuthInvalid)
		}
		c.Abort()
	}
}
