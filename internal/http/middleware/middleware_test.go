package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpay-cashier/internal/config"
	"cloudpay-cashier/internal/service"
	"cloudpay-cashier/internal/upstream"
)

func init() { gin.SetMode(gin.TestMode) }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	handler := func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, "ok:"+string(body))
	}
	r.GET("/api", handler)
	r.POST("/api", handler)
	return r
}

func signedRuntime(key string) service.RuntimeSource {
	return service.Fixed(&service.Runtime{
		Config:   &config.Config{CommunicationKey: key},
		Verifier: upstream.NewVerifier(key),
	})
}

func TestRequestIDPropagatesOrGenerates(t *testing.T) {
	r := newRouter(RequestID(), RequestLogger(discard))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestUpstreamSignatureAcceptsSignedGet(t *testing.T) {
	r := newRouter(UpstreamSignature(signedRuntime("comm-key"), discard))
	sign := upstream.Sign("comm-key", "/api", time.Now().Add(time.Minute).Unix())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api?order_no=abc&sign="+sign, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpstreamSignatureRejects(t *testing.T) {
	r := newRouter(UpstreamSignature(signedRuntime("comm-key"), discard))
	expired := upstream.Sign("comm-key", "/api", time.Now().Add(-time.Minute).Unix())
	wrongKey := upstream.Sign("other-key", "/api", time.Now().Add(time.Minute).Unix())

	for name, target := range map[string]string{
		"missing":   "/api?order_no=abc",
		"expired":   "/api?order_no=abc&sign=" + expired,
		"wrong key": "/api?order_no=abc&sign=" + wrongKey,
		"garbage":   "/api?order_no=abc&sign=nonsense",
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"code":1,"message":"signature verification failed"}`, w.Body.String())
		})
	}
}

func TestUpstreamSignatureRestoresPostBody(t *testing.T) {
	r := newRouter(UpstreamSignature(signedRuntime("comm-key"), discard))
	body := `{"order_no":"abc","name":"Pro","amount":100}`

	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cr-Site-Id", "site-1")
	content, err := upstream.PostSignContent("/api", req.Header, []byte(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", upstream.AuthorizationPrefix+upstream.Sign("comm-key", content, time.Now().Add(time.Minute).Unix()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok:"+body, w.Body.String())

	tampered := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(strings.Replace(body, "100", "1", 1)))
	tampered.Header = req.Header.Clone()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, tampered)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpstreamSignatureDisabledWithoutKey(t *testing.T) {
	r := newRouter(UpstreamSignature(signedRuntime(""), discard))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api?order_no=abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "1.2.3.4", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, retry, err := l.Allow(ctx, "1.2.3.4", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	ok, _, err = l.Allow(ctx, "5.6.7.8", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRouter(RateLimit(NewLocalLimiter(), 2, time.Hour, discard))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	return false, 0, assert.AnError
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := newRouter(RateLimit(failingLimiter{}, 1, time.Hour, discard))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, "test")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "ip", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := l.Allow(ctx, "ip", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), retry.Seconds(), 1)

	mr.FastForward(time.Minute + time.Second)
	ok, _, err = l.Allow(ctx, "ip", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdminAuth(t *testing.T) {
	r := newRouter(AdminAuth("admin", "secret"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	disabled := newRouter(AdminAuth("admin", ""))
	req = httptest.NewRequest(http.MethodGet, "/api", nil)
	req.SetBasicAuth("admin", "")
	w = httptest.NewRecorder()
	disabled.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
