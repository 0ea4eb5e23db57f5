package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/PetCam/internal/domain"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func TestAttemptLimiterWindow(t *testing.T) {
	clock := &testClock{t: time.Unix(1_000, 0)}
	l := NewAttemptLimiter(3, time.Minute, clock.Now)

	for i := 0; i < 3; i++ {
		blocked, _ := l.Blocked("10.0.0.1")
		require.False(t, blocked)
		l.Fail("10.0.0.1")
		clock.t = clock.t.Add(10 * time.Second)
	}

	blocked, retry := l.Blocked("10.0.0.1")
	require.True(t, blocked)
	require.Equal(t, 30*time.Second, retry)

	blocked, _ = l.Blocked("10.0.0.2")
	require.False(t, blocked)

	clock.t = clock.t.Add(30 * time.Second)
	blocked, _ = l.Blocked("10.0.0.1")
	require.False(t, blocked)

	l.Fail("10.0.0.1")
	l.Reset("10.0.0.1")
	blocked, _ = l.Blocked("10.0.0.1")
	require.False(t, blocked)
}

func TestTokenCompare(t *testing.T) {
	a := &Auth{Token: "secret"}
	require.True(t, a.tokenOK("secret"))
	require.False(t, a.tokenOK("secret2"))
	require.False(t, a.tokenOK(""))

	unset := &Auth{}
	require.False(t, unset.tokenOK(""))
	require.False(t, unset.tokenOK("anything"))
}

func TestLoginSessionExpires(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	a := &Auth{
		Token:   "secret",
		TTL:     time.Hour,
		Limiter: NewAttemptLimiter(5, time.Minute, clock.Now),
		Now:     clock.Now,
	}

	r := gin.New()
	r.Use(sessions.Sessions("PetCamSessions", cookie.NewStore([]byte("k"))))
	r.POST("/auth", a.Login)
	r.GET("/private", a.Require(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w, _ := send(t, r, newRequest(http.MethodPost, "/auth", `{"token":"secret"}`))
	require.Equal(t, http.StatusOK, w.Code)
	c := sessionCookie(t, w)

	clock.t = clock.t.Add(59 * time.Minute)
	w, _ = send(t, r, newRequest(http.MethodGet, "/private", "", c))
	require.Equal(t, http.StatusNoContent, w.Code)

	clock.t = clock.t.Add(2 * time.Minute)
	w, body := send(t, r, newRequest(http.MethodGet, "/private", "", c))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, string(domain.CodeAuthInvalid), errorCode(body))
}
