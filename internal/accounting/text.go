package accounting

import (
	"strings"

	"github.com/Davincible/plexus/internal/unified"
)

// RequestText concatenates the text a caller sent, for EstimateTokens to
// count against when a provider under-reports input_tokens.
func RequestText(req *unified.UnifiedRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		if m.Text != "" {
			b.WriteString(m.Text)
			b.WriteByte('\n')
		}
		for _, p := range m.Parts {
			if p.Text != "" {
				b.WriteString(p.Text)
				b.WriteByte('\n')
			}
		}
		if m.ToolResult != nil {
			b.WriteString(m.ToolResult.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ResponseText concatenates the text content of a completion, for
// EstimateTokens to count against when a provider under-reports
// output_tokens.
func ResponseText(parts []unified.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Text != "" {
			b.WriteString(p.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
