package sink

import (
	"fmt"
	"strings"

	"signchat/pkg/domain"
)

const logoBlockHeader = "--- LOGO FILES ---"

// Transcript renders the session messages as the plain-text conversation
// format shared by the tabular and CRM sinks.
func Transcript(messages []domain.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		label := "Customer"
		if m.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s", label, m.Content)
	}
	return b.String()
}

// logoBlock renders the uploaded asset list appended after a transcript.
// Empty when the session has no uploads.
func logoBlock(assets []domain.Asset) string {
	if len(assets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(logoBlockHeader)
	for _, a := range assets {
		fmt.Fprintf(&b, "\n%s: %s", a.Filename, a.URL)
	}
	return b.String()
}

// stripLogoBlock removes a previously appended asset list so delta appends
// can re-attach the current one at the end.
func stripLogoBlock(text string) string {
	if idx := strings.Index(text, "\n\n"+logoBlockHeader); idx >= 0 {
		return text[:idx]
	}
	if idx := strings.Index(text, logoBlockHeader); idx >= 0 {
		return strings.TrimRight(text[:idx], "\n")
	}
	return text
}
