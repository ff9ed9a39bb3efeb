package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpay-cashier/internal/config"
	"cloudpay-cashier/internal/database/dbtest"
)

func lookup(values map[string]string) config.Lookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	env := lookup(map[string]string{
		"CASHIER_URL":       "http://cashier.test",
		"COMMUNICATION_KEY": "comm-key",
		"ADMIN_PASSWORD":    "pw",
	})
	cfg, err := config.LoadFrom(env)
	require.NoError(t, err)

	a, err := NewWithDB(context.Background(), cfg, env, dbtest.New(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a
}

func TestReloadAppliesStoredOverrides(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.Nil(t, a.Current().Gateway)

	require.NoError(t, a.configs.Set(ctx, map[string]string{
		"EPAY_API_URL": "https://pay.test",
		"EPAY_PID":     "1000",
		"EPAY_KEY":     "merchant-key",
		"CASHIER_NAME": "Override Shop",
	}))
	require.NoError(t, a.Reload(ctx))

	rt := a.Current()
	require.NotNil(t, rt.Gateway)
	assert.Equal(t, "Override Shop", rt.Config.CashierName)
}

func TestReloadKeepsRuntimeOnInvalidConfig(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	before := a.Current()

	require.NoError(t, a.configs.Set(ctx, map[string]string{
		"EPAY_API_URL":     "https://pay.test",
		"EPAY_PID":         "1000",
		"EPAY_SDK_VERSION": "9.9",
	}))
	require.Error(t, a.Reload(ctx))
	assert.Same(t, before, a.Current())
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t)
	w := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"up"`)
}
