package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/plexus/internal/config"
	"github.com/Davincible/plexus/internal/cooldown"
	"github.com/Davincible/plexus/internal/store"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfigManager(t *testing.T) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	mgr := config.NewManager(dir)
	cfg := &config.Config{
		DataDir: dir,
		Providers: []config.ProviderConfig{
			{Name: "fake", Type: "openai", BaseURL: "http://localhost", APIKey: "k", Enabled: true},
		},
	}
	require.NoError(t, mgr.Save(cfg))
	_, err := mgr.Load()
	require.NoError(t, err)
	return mgr
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newAdminGateway(t *testing.T) (*Gateway, *config.Manager, *cooldown.Manager, store.Store) {
	t.Helper()
	mgr := testConfigManager(t)
	cd := cooldown.New(silentLogger())
	st := testStore(t)
	g := NewGateway(mgr, nil, nil, cd, st, nil, nil, silentLogger())
	return g, mgr, cd, st
}

func TestConfig_GetReturnsYAML(t *testing.T) {
	g, _, _, _ := newAdminGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rr := httptest.NewRecorder()
	g.Config(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "fake")
}

func TestConfig_PostReplacesConfig(t *testing.T) {
	g, mgr, _, _ := newAdminGateway(t)

	newYAML, err := yamlMarshalConfig(mgr.Get())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/config", bytes.NewReader(newYAML))
	rr := httptest.NewRecorder()
	g.Config(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestConfig_PostRejectsInvalidYAML(t *testing.T) {
	g, _, _, _ := newAdminGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/config", bytes.NewReader([]byte("not: valid: yaml: :")))
	rr := httptest.NewRecorder()
	g.Config(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestState_GetReportsDebugAndCooldowns(t *testing.T) {
	g, _, cd, _ := newAdminGateway(t)
	cd.PlaceOnCooldown("fake", cooldown.ReasonTransient, 0)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rr := httptest.NewRecorder()
	g.State(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp, "cooldowns")
}

func TestState_PostClearCooldowns(t *testing.T) {
	g, _, cd, _ := newAdminGateway(t)
	cd.PlaceOnCooldown("fake", cooldown.ReasonTransient, 0)

	body := bytes.NewReader([]byte(`{"action":"clear_cooldowns"}`))
	req := httptest.NewRequest(http.MethodPost, "/state", body)
	rr := httptest.NewRecorder()
	g.State(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, cd.IsOnCooldown("fake", time.Now()))
}

func TestState_PostSetDebug(t *testing.T) {
	g, _, _, _ := newAdminGateway(t)
	g.debugEnabled.Store(true)

	body := bytes.NewReader([]byte(`{"action":"set_debug","debug":false}`))
	req := httptest.NewRequest(http.MethodPost, "/state", body)
	rr := httptest.NewRecorder()
	g.State(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, g.debugEnabled.Load())
}

func TestState_PostToggleProviderDisablesAndPersists(t *testing.T) {
	g, mgr, _, _ := newAdminGateway(t)

	body := bytes.NewReader([]byte(`{"action":"toggle_provider","provider":"fake","enabled":false}`))
	req := httptest.NewRequest(http.MethodPost, "/state", body)
	rr := httptest.NewRecorder()
	g.State(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, mgr.Get().Providers[0].Enabled)
}

func TestState_PostToggleUnknownProviderFails(t *testing.T) {
	g, _, _, _ := newAdminGateway(t)

	body := bytes.NewReader([]byte(`{"action":"toggle_provider","provider":"ghost","enabled":false}`))
	req := httptest.NewRequest(http.MethodPost, "/state", body)
	rr := httptest.NewRecorder()
	g.State(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestState_PostUnknownActionFails(t *testing.T) {
	g, _, _, _ := newAdminGateway(t)

	body := bytes.NewReader([]byte(`{"action":"do_something_weird"}`))
	req := httptest.NewRequest(http.MethodPost, "/state", body)
	rr := httptest.NewRecorder()
	g.State(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogs_ReturnsEmptyListWhenNoLogs(t *testing.T) {
	g, _, _, _ := newAdminGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	rr := httptest.NewRecorder()
	g.Logs(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestLogByID_RoundTripsThroughChiRouter(t *testing.T) {
	g, _, _, st := newAdminGateway(t)

	require.NoError(t, st.SaveDebugLog(context.Background(), store.DebugLogRecord{
		RequestID: "req-1", RawRequest: []byte(`{"a":1}`), CreatedAt: time.Now(),
	}))

	r := chi.NewRouter()
	r.Get("/logs/{id}", g.LogByID)
	r.Delete("/logs/{id}", g.LogByID)

	getReq := httptest.NewRequest(http.MethodGet, "/logs/req-1", nil)
	getRR := httptest.NewRecorder()
	r.ServeHTTP(getRR, getReq)
	assert.Equal(t, http.StatusOK, getRR.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/logs/req-1", nil)
	delRR := httptest.NewRecorder()
	r.ServeHTTP(delRR, delReq)
	assert.Equal(t, http.StatusNoContent, delRR.Code)

	missingReq := httptest.NewRequest(http.MethodGet, "/logs/req-1", nil)
	missingRR := httptest.NewRecorder()
	r.ServeHTTP(missingRR, missingReq)
	assert.Equal(t, http.StatusNotFound, missingRR.Code)
}

func TestOAuthExchange_RespondsNotImplemented(t *testing.T) {
	g, _, _, _ := newAdminGateway(t)

	r := chi.NewRouter()
	r.Post("/v0/oauth/{provider}", g.OAuthExchange)

	req := httptest.NewRequest(http.MethodPost, "/v0/oauth/anthropic", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Contains(t, rr.Body.String(), "anthropic")
}

func yamlMarshalConfig(cfg *config.Config) ([]byte, error) {
	return json.Marshal(cfg) // config.ReplaceFromYAML accepts YAML; JSON is valid YAML too
}
