package pprof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpush/pkg/logx"
)

func TestHandlerToken(t *testing.T) {
	t.Parallel()
	h := Handler("sekret")

	get := func(path, auth string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, get("/healthz", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/healthz", "Bearer nope"))
	assert.Equal(t, http.StatusOK, get("/healthz", "Bearer sekret"))
	assert.Equal(t, http.StatusOK, get("/healthz?token=sekret", ""))
	assert.Equal(t, http.StatusOK, get("/debug/pprof/cmdline", "Bearer sekret"))
}

func TestHandlerWithoutToken(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	err := Serve(context.Background(), Config{Addr: ":0"}, logx.Nop())
	require.ErrorIs(t, err, ErrInsecureBind)
}

func TestServeStopsWithContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Serve(ctx, Config{Addr: "127.0.0.1:0"}, logx.Nop()))
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:6060"))
	assert.True(t, isLoopbackAddr("[::1]:6060"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("10.0.0.1:6060"))
	assert.False(t, isLoopbackAddr("bad"))
}
