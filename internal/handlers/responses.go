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

// Responses implements POST /v1/responses.
func (g *Gateway) Responses(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, unified.DialectOpenAIResponses, gatewayerr.Wrap(gatewayerr.ClassInvalidRequest, "failed to read request body", err))
		return
	}

	result, err := ingress.OpenAIResponses(body)
	if err != nil {
		writeError(w, unified.DialectOpenAIResponses, err)
		return
	}

	req := result.Request
	g.logWarnings(req.RequestID, result.Warnings)

	trace := tracer.NewTrace(req.RequestID, tracer.HTTPExchange{Body: body, Headers: r.Header.Clone()})
	trace.RecordUnifiedRequest(req)

	if req.Stream {
		g.streamResponses(w, r, req, trace)
		return
	}
	g.nonStreamResponses(w, r, req, trace)
}

func (g *Gateway) nonStreamResponses(w http.ResponseWriter, r *http.Request, req *unified.UnifiedRequest, trace *tracer.DebugTrace) {
	outcome, err := g.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		g.finishTrace(trace)
		writeError(w, unified.DialectOpenAIResponses, err)
		return
	}

	respBody := egress.OpenAIResponsesResponse(outcome.Response, req.Model)
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

func (g *Gateway) streamResponses(w http.ResponseWriter, r *http.Request, req *unified.UnifiedRequest, trace *tracer.DebugTrace) {
	streamOutcome, err := g.dispatcher.DispatchStream(r.Context(), req)
	if err != nil {
		g.finishTrace(trace)
		writeError(w, unified.DialectOpenAIResponses, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	translator := egress.NewOpenAIResponsesStream(req.Model)

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

	g.finishTrace(trace)
	g.recordUsage(accounting.RequestOutcome{
		RequestID: req.RequestID, RequestedAlias: req.Model,
		Provider: streamOutcome.Provider, UpstreamModel: streamOutcome.UpstreamModel,
		Usage:        usage,
		RequestText:  accounting.RequestText(req),
		ResponseText: responseText.String(),
	})
}
