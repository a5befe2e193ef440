package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/plexus/internal/config"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func managerWithKey(t *testing.T, apiKey string) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	mgr := config.NewManager(dir)
	require.NoError(t, mgr.Save(&config.Config{APIKey: apiKey}))
	_, err := mgr.Load()
	require.NoError(t, err)
	return mgr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_AllowsHealthWithoutToken(t *testing.T) {
	mgr := managerWithKey(t, "secret")
	am := NewAuthMiddleware(mgr, silentLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	am(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_AllowsAnyRequestWhenNoAPIKeyConfigured(t *testing.T) {
	mgr := managerWithKey(t, "")
	am := NewAuthMiddleware(mgr, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rr := httptest.NewRecorder()
	am(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	mgr := managerWithKey(t, "secret")
	am := NewAuthMiddleware(mgr, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rr := httptest.NewRecorder()
	am(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthMiddleware_RejectsWrongToken(t *testing.T) {
	mgr := managerWithKey(t, "secret")
	am := NewAuthMiddleware(mgr, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	am(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthMiddleware_AcceptsBearerToken(t *testing.T) {
	mgr := managerWithKey(t, "secret")
	am := NewAuthMiddleware(mgr, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	am(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_AcceptsXAPIKeyHeader(t *testing.T) {
	mgr := managerWithKey(t, "secret")
	am := NewAuthMiddleware(mgr, silentLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	am(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLoggingMiddleware_CapturesStatusAndPassesThrough(t *testing.T) {
	called := false
	handler := NewLoggingMiddleware(silentLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestChain_AppliesMiddlewareInOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	chain := New(mark("first"), mark("second"))
	handler := chain.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestChain_ThenAppendsMiddleware(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	chain := New(mark("a")).Then(mark("b"))
	handler := chain.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestMiddlewareSet_HealthChainSkipsAuth(t *testing.T) {
	mgr := managerWithKey(t, "secret")
	ms := NewMiddlewareSet(mgr, silentLogger())

	handler := ms.HealthChain().Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddlewareSet_DefaultChainRequiresAuth(t *testing.T) {
	mgr := managerWithKey(t, "secret")
	ms := NewMiddlewareSet(mgr, silentLogger())

	handler := ms.DefaultChain().Handler(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
