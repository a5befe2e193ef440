package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/Davincible/plexus/internal/config"
	"github.com/Davincible/plexus/internal/cooldown"
	"github.com/Davincible/plexus/internal/store"
)

// Config implements GET/POST /config: fetch the active configuration, or
// replace it wholesale and hot-reload every downstream component.
func (g *Gateway) Config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := g.config.Get()
		data, err := yaml.Marshal(cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(data)

	case http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			http.Error(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
			return
		}

		cfg, err := g.config.ReplaceFromYAML(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		g.applyConfig(cfg)

		if g.store != nil {
			now := time.Now()
			_ = g.store.SaveConfigSnapshot(r.Context(), store.ConfigSnapshotRecord{
				Name: "active", Config: body, CreatedAt: now, UpdatedAt: now,
			})
		}

		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// applyConfig republishes a freshly loaded configuration to every component
// that holds a hot-reloadable snapshot, mirroring what startup wiring does.
func (g *Gateway) applyConfig(cfg *config.Config) {
	if g.router != nil {
		g.router.Publish(cfg.ToRouterSnapshot())
	}
	if g.dispatcher != nil {
		g.dispatcher.PublishProviders(cfg.ToProviderConfigs())
	}
	if g.accountant != nil {
		g.accountant.UpdatePricing(cfg.ToPricingTable())
	}
}

// State implements GET/POST /state: surface cooldown state and let an
// operator clear cooldowns, toggle a provider, or flip debug tracing.
func (g *Gateway) State(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp := map[string]any{
			"debug":     g.debugEnabled.Load(),
			"cooldowns": g.cooldownSnapshot(),
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var req struct {
			Action   string `json:"action"`
			Provider string `json:"provider"`
			Enabled  bool   `json:"enabled"`
			Debug    bool   `json:"debug"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		switch req.Action {
		case "clear_cooldowns":
			if g.cooldown != nil {
				g.cooldown.ClearAll()
			}
		case "clear_cooldown":
			if g.cooldown != nil {
				g.cooldown.Clear(req.Provider)
			}
		case "set_debug":
			g.debugEnabled.Store(req.Debug)
		case "toggle_provider":
			if err := g.toggleProvider(req.Provider, req.Enabled); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		default:
			http.Error(w, "unknown action: "+req.Action, http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// toggleProvider flips a provider's enabled flag in the persisted config and
// republishes the result, so a disabled provider stops being selected by the
// router/dispatcher without needing a full POST /config round trip.
func (g *Gateway) toggleProvider(name string, enabled bool) error {
	if g.config == nil {
		return fmt.Errorf("no config manager configured")
	}

	cfg := g.config.Get()
	found := false
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == name {
			cfg.Providers[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown provider: %s", name)
	}

	if err := g.config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	g.applyConfig(cfg)
	return nil
}

func (g *Gateway) cooldownSnapshot() []cooldown.Entry {
	if g.cooldown == nil {
		return nil
	}
	return g.cooldown.Snapshot()
}

// Logs implements GET /logs: the most recent debug traces, newest first.
func (g *Gateway) Logs(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeJSON(w, http.StatusOK, []store.DebugLogRecord{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := g.store.ListDebugLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []store.DebugLogRecord{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// LogByID implements GET/DELETE /logs/{id}.
func (g *Gateway) LogByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if g.store == nil {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := g.store.GetDebugLog(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		if err := g.store.DeleteDebugLog(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// OAuthExchange implements POST /v0/oauth/{provider}. Token-exchange
// details vary per provider and none of the configured provider types
// require it today (all authenticate via a static API key), so this is a
// documented stub rather than a dead route.
func (g *Gateway) OAuthExchange(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	writeJSON(w, http.StatusNotImplemented, map[string]any{
		"error": map[string]any{
			"message": "OAuth exchange is not implemented for provider " + provider + ": all configured provider types authenticate via a static API key",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
