// Package providers implements the per-provider-type egress adapters of
// spec.md §4.5: each adapter renders a unified.UnifiedRequest into its
// provider's wire format, invokes it, and surfaces a provider-neutral
// response or event stream back to the dispatcher.
package providers

import (
	"context"
	"net/http"

	"github.com/Davincible/plexus/internal/unified"
)

// Config is one configured upstream provider (spec.md §3 "Providers & Models").
type Config struct {
	Name            string
	Type            string // "openai" | "anthropic" | "gemini" | "openrouter" | "nvidia" | ...
	BaseURL         string
	APIKey          string
	ExtraHeaders    map[string]string
	Enabled         bool
	StripParameters map[string][]string // upstream model -> param names to strip
}

// Adapter is the capability set one provider type registers at startup.
type Adapter interface {
	// BuildRequest renders req into the wire body, headers, and full URL to
	// invoke for this provider/model.
	BuildRequest(req *unified.UnifiedRequest, upstreamModel string, cfg Config) (body []byte, headers http.Header, url string, err error)

	// Invoke performs a non-streaming call and returns a neutral response.
	Invoke(ctx context.Context, body []byte, headers http.Header, url string) (*unified.UnifiedResponse, error)

	// InvokeStream performs a streaming call. The returned channel is closed
	// when the stream ends (including on error or cancellation, in which
	// case a final EventError/EventAbort is sent before closing).
	InvokeStream(ctx context.Context, body []byte, headers http.Header, url string) (<-chan unified.StreamEvent, error)
}

// stripParamPaths returns the provider-declared unsupported parameter paths
// for a given upstream model, per spec.md §4.5; each adapter deletes them
// from its JSON body.
func stripParamPaths(cfg Config, upstreamModel string) []string {
	return cfg.StripParameters[upstreamModel]
}
