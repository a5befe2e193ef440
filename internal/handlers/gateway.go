// Package handlers implements the client-facing HTTP surface of spec.md §6:
// one handler per dialect translating ingress -> dispatch -> egress, plus
// the administrative endpoints and the health check.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/Davincible/plexus/internal/accounting"
	"github.com/Davincible/plexus/internal/config"
	"github.com/Davincible/plexus/internal/cooldown"
	"github.com/Davincible/plexus/internal/dispatcher"
	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/ingress"
	"github.com/Davincible/plexus/internal/router"
	"github.com/Davincible/plexus/internal/store"
	"github.com/Davincible/plexus/internal/tracer"
	"github.com/Davincible/plexus/internal/unified"
)

const maxRequestBodyBytes = 32 << 20 // 32 MiB, generous for multi-turn tool-heavy conversations

// Gateway holds everything a dialect handler needs: the dispatcher that
// resolves and invokes upstream providers, and the tracer/accountant that
// observe every request without sitting on its critical path. The
// router/cooldown/store references are only used by the administrative
// handlers in admin.go.
type Gateway struct {
	config     *config.Manager
	router     *router.Router
	dispatcher *dispatcher.Dispatcher
	cooldown   *cooldown.Manager
	store      store.Store
	tracer     *tracer.Tracer
	accountant *accounting.Accountant
	logger     *slog.Logger

	debugEnabled atomic.Bool
}

func NewGateway(cfg *config.Manager, rt *router.Router, d *dispatcher.Dispatcher, cd *cooldown.Manager, st store.Store, tr *tracer.Tracer, acc *accounting.Accountant, logger *slog.Logger) *Gateway {
	g := &Gateway{config: cfg, router: rt, dispatcher: d, cooldown: cd, store: st, tracer: tr, accountant: acc, logger: logger}
	g.debugEnabled.Store(true)
	return g
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
}

// finishTrace hands the completed trace to the tracer's bounded queue. It
// never blocks the handler goroutine (spec.md §5). Debug tracing can be
// switched off at runtime via POST /state (set_debug), in which case traces
// are dropped before ever reaching the queue.
func (g *Gateway) finishTrace(trace *tracer.DebugTrace) {
	if g.tracer != nil && g.debugEnabled.Load() {
		g.tracer.Finish(trace)
	}
}

// recordUsage is fired in a goroutine so that accounting never adds latency
// to the response path (spec.md §4.10 "asynchronously, off the response
// path").
func (g *Gateway) recordUsage(out accounting.RequestOutcome) {
	if g.accountant == nil {
		return
	}
	go g.accountant.Record(context.Background(), out)
}

// writeError renders a gatewayerr (or any error, classified as internal) in
// the requesting dialect's error shape and status code.
func writeError(w http.ResponseWriter, dialect unified.Dialect, err error) {
	class := gatewayerr.ClassOf(err)
	status := class.HTTPStatus()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := errorBody(dialect, class, err)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(dialect unified.Dialect, class gatewayerr.Class, err error) map[string]any {
	message := err.Error()

	switch dialect {
	case unified.DialectAnthropic:
		return map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    string(class),
				"message": message,
			},
		}
	case unified.DialectGemini:
		return map[string]any{
			"error": map[string]any{
				"code":    class.HTTPStatus(),
				"message": message,
				"status":  string(class),
			},
		}
	default: // OpenAI Chat Completions, OpenAI Responses
		return map[string]any{
			"error": map[string]any{
				"message": message,
				"type":    string(class),
				"code":    string(class),
			},
		}
	}
}

// logWarnings surfaces ingress's non-fatal translation warnings without
// failing the request.
func (g *Gateway) logWarnings(requestID string, warnings []string) {
	if g.logger == nil {
		return
	}
	for _, w := range warnings {
		g.logger.Debug("ingress warning", "request_id", requestID, "warning", w)
	}
}

// ingressResult is the common shape every dialect-specific ingress function
// returns, so the dispatch/trace/account plumbing below can stay dialect
// generic.
type ingressResult = ingress.Result
