package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Davincible/plexus/internal/accounting"
	"github.com/Davincible/plexus/internal/egress"
	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/ingress"
	"github.com/Davincible/plexus/internal/tracer"
	"github.com/Davincible/plexus/internal/unified"
)

// ChatCompletions implements POST /v1/chat/completions.
func (g *Gateway) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, unified.DialectOpenAIChat, gatewayerr.Wrap(gatewayerr.ClassInvalidRequest, "failed to read request body", err))
		return
	}

	result, err := ingress.OpenAIChat(body)
	if err != nil {
		writeError(w, unified.DialectOpenAIChat, err)
		return
	}

	req := result.Request
	g.logWarnings(req.RequestID, result.Warnings)

	trace := tracer.NewTrace(req.RequestID, tracer.HTTPExchange{Body: body, Headers: r.Header.Clone()})
	trace.RecordUnifiedRequest(req)

	if req.Stream {
		g.streamChatCompletions(w, r, req, trace)
		return
	}
	g.nonStreamChatCompletions(w, r, req, trace)
}

func (g *Gateway) nonStreamChatCompletions(w http.ResponseWriter, r *http.Request, req *unified.UnifiedRequest, trace *tracer.DebugTrace) {
	outcome, err := g.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		g.finishTrace(trace)
		writeError(w, unified.DialectOpenAIChat, err)
		return
	}

	respBody := egress.OpenAIChatResponse(outcome.Response, req.Model)
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

func (g *Gateway) streamChatCompletions(w http.ResponseWriter, r *http.Request, req *unified.UnifiedRequest, trace *tracer.DebugTrace) {
	streamOutcome, err := g.dispatcher.DispatchStream(r.Context(), req)
	if err != nil {
		g.finishTrace(trace)
		writeError(w, unified.DialectOpenAIChat, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	translator := egress.NewOpenAIChatStream(req.Model)

	var usage unified.Usage
	var responseText strings.Builder
	for ev := range streamOutcome.Events {
		if ev.Kind == unified.EventFinish && ev.Usage != nil {
			usage = *ev.Usage
		}
		if ev.Kind == unified.EventTextDelta {
			responseText.WriteString(ev.Text)
		}

		for _, frame := range translator.Translate(ev) {
			b, ferr := frame.Bytes()
			if ferr != nil {
				continue
			}
			w.Write(b)
			trace.AppendClientChunk(b)
		}

		if flusher != nil {
			flusher.Flush()
		}
	}

	w.Write(egress.DoneFrame)
	if flusher != nil {
		flusher.Flush()
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
