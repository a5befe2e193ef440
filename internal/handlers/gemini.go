package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Davincible/plexus/internal/accounting"
	"github.com/Davincible/plexus/internal/egress"
	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/ingress"
	"github.com/Davincible/plexus/internal/tracer"
	"github.com/Davincible/plexus/internal/unified"
)

// GenerateContent implements POST /v1beta/models/{model}:generateContent and
// its :streamGenerateContent sibling; the route captures the whole
// "{model}:action" segment since model names may contain slashes but never
// colons, making the final colon an unambiguous split point.
func (g *Gateway) GenerateContent(w http.ResponseWriter, r *http.Request) {
	modelAction := chi.URLParam(r, "modelAction")

	model, action, ok := strings.Cut(modelAction, ":")
	if !ok {
		writeError(w, unified.DialectGemini, gatewayerr.New(gatewayerr.ClassInvalidRequest, "path must be {model}:generateContent or {model}:streamGenerateContent"))
		return
	}

	streaming := action == "streamGenerateContent"
	if !streaming && action != "generateContent" {
		writeError(w, unified.DialectGemini, gatewayerr.New(gatewayerr.ClassInvalidRequest, "unknown action: "+action))
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, unified.DialectGemini, gatewayerr.Wrap(gatewayerr.ClassInvalidRequest, "failed to read request body", err))
		return
	}

	result, err := ingress.Gemini(body, model, streaming)
	if err != nil {
		writeError(w, unified.DialectGemini, err)
		return
	}

	req := result.Request
	g.logWarnings(req.RequestID, result.Warnings)

	trace := tracer.NewTrace(req.RequestID, tracer.HTTPExchange{Body: body, Headers: r.Header.Clone()})
	trace.RecordUnifiedRequest(req)

	if streaming {
		g.streamGenerateContent(w, r, req, trace)
		return
	}
	g.nonStreamGenerateContent(w, r, req, trace)
}

func (g *Gateway) nonStreamGenerateContent(w http.ResponseWriter, r *http.Request, req *unified.UnifiedRequest, trace *tracer.DebugTrace) {
	outcome, err := g.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		g.finishTrace(trace)
		writeError(w, unified.DialectGemini, err)
		return
	}

	respBody := egress.GeminiResponse(outcome.Response)
	data, _ := json.Marshal(respBody)

	trace.RecordProviderResponse(tracer.HTTPExchange{Body: data, Status: http.StatusOK})
	trace.RecordClientResponse(tracer.HTTPExchange{Body: data, Status: http.StatusOK})
	g.finishTrace(trace)

	g.recordUsage(accounting.RequestOutcome{
		RequestID: req.RequestID, RequestedAlias: req.Model,
		Provider: outcome.Provider, UpstreamModel: outcome.UpstreamModel,
		Usage:        outcome.Response.Usage,
		RequestText:  accounting.RequestText(req),
		ResponseText: accounting.ResponseText(outcome.Response.Content),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// streamGenerateContent has no dedicated Gemini streaming transducer in
// internal/egress (Gemini's SSE framing for streamGenerateContent is a
// sequence of full-candidate JSON objects, not incremental deltas), so text
// deltas are accumulated and rendered through the same non-streaming
// response shape as a single SSE data event when the stream finishes,
// errors, or aborts. No intermediate per-chunk events are written.
func (g *Gateway) streamGenerateContent(w http.ResponseWriter, r *http.Request, req *unified.UnifiedRequest, trace *tracer.DebugTrace) {
	streamOutcome, err := g.dispatcher.DispatchStream(r.Context(), req)
	if err != nil {
		g.finishTrace(trace)
		writeError(w, unified.DialectGemini, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	var textBuf strings.Builder
	var responseText strings.Builder
	var usage unified.Usage

	flush := func(finishReason unified.FinishReason, final bool) {
		resp := &unified.UnifiedResponse{
			FinishReason: finishReason,
			Content:      []unified.Part{{Kind: unified.PartText, Text: textBuf.String()}},
			Usage:        usage,
		}
		frame := egress.Frame{Data: egress.GeminiResponse(resp)}
		b, ferr := frame.Bytes()
		if ferr != nil {
			return
		}
		w.Write(b)
		trace.AppendClientChunk(b)
		if flusher != nil {
			flusher.Flush()
		}
		if final {
			textBuf.Reset()
		}
	}

	for ev := range streamOutcome.Events {
		switch ev.Kind {
		case unified.EventTextDelta:
			textBuf.WriteString(ev.Text)
			responseText.WriteString(ev.Text)
		case unified.EventFinish:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
			flush(ev.FinishReason, true)
		case unified.EventError, unified.EventAbort:
			flush(unified.FinishError, true)
		}
	}

	g.finishTrace(trace)
	g.recordUsage(accounting.RequestOutcome{
		RequestID: req.RequestID, RequestedAlias: req.Model,
		Provider: streamOutcome.Provider, UpstreamModel: streamOutcome.UpstreamModel,
		Usage:        usage,
		RequestText:  accounting.RequestText(req),
		ResponseText: responseText.String(),
	})
}
