// Package ingress implements the per-dialect translators that turn a
// client's wire-level request body into a unified.UnifiedRequest. Each
// translator is total: unknown fields are dropped with a warning, and only
// a body that is not valid JSON or lacks a required field fails with
// gatewayerr.ClassInvalidRequest.
package ingress

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/unified"
)

// Result is the outcome of a successful ingress translation.
type Result struct {
	Request  *unified.UnifiedRequest
	Warnings []string
}

// translator accumulates warnings while walking a loosely-typed JSON body.
type translator struct {
	warnings []string
}

func (t *translator) warn(format string, args ...any) {
	t.warnings = append(t.warnings, fmt.Sprintf(format, args...))
}

// newRequestID mints an opaque per-request identifier.
func newRequestID() string {
	return uuid.NewString()
}

// dataURI splits a "data:<mediatype>;base64,<data>" URI into its parts. ok is
// false for anything else (treated as an external URL reference instead).
func dataURI(raw string) (mediaType, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(raw, prefix) {
		return "", "", false
	}

	rest := raw[len(prefix):]

	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}

	header := rest[:comma]
	payload := rest[comma+1:]

	if !strings.HasSuffix(header, ";base64") {
		return "", "", false
	}

	mediaType = strings.TrimSuffix(header, ";base64")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", false
	}

	return mediaType, payload, true
}

// toolNameMap builds the id->name back-reference used to resolve tool result
// messages, per §9 "Cyclic references through tool calls": assistant
// tool-call ids are recorded with their tool names as the conversation is
// translated, so a later tool result can look its name up.
type toolNameMap map[string]string

func (m toolNameMap) record(id, name string) {
	if id != "" && name != "" {
		m[id] = name
	}
}

func (m toolNameMap) resolve(id string) string {
	return m[id]
}

// gjsonString is a small convenience wrapper so call sites read like the
// struct-field access they replace.
func gjsonString(v gjson.Result, path string) string {
	return v.Get(path).String()
}
