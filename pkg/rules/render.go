package rules

import (
	"fmt"
	"strings"
	"time"

	"signchat/pkg/domain"
)

// RenderContext carries the per-turn state interpolated into the rendered
// instruction block.
type RenderContext struct {
	Now          time.Time
	Email        string
	PhoneNumber  string
	History      []domain.Message
	HistoryLimit int
	Passages     []string
}

// RenderSystemPrompt produces the oracle instruction block for one turn:
// static policy, the trigger contract for both markers, collected contact
// state, retrieved knowledge passages and a bounded transcript window.
func (s Set) RenderSystemPrompt(rc RenderContext) string {
	var b strings.Builder

	b.WriteString(s.Policy)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Company: %s. Policy version %d. Today's date: %s.\n\n",
		s.CompanyName, s.Version, rc.Now.Format("2006-01-02"))

	b.WriteString("QUOTE AND MOCKUP REQUESTS:\n")
	fmt.Fprintf(&b, "When the customer asks for a quote, mockup, pricing or an estimate "+
		"(for example: %s), respond with:\n%q\n",
		quoteList(s.QuoteTriggerPhrases), s.QuoteIntro+" "+s.Markers.QuoteForm)
	fmt.Fprintf(&b, "The %s marker MUST appear verbatim in that reply and in no other reply. "+
		"Also emit it when the customer wants to update or modify an existing quote.\n\n",
		s.Markers.QuoteForm)

	b.WriteString("PHONE CALL REQUESTS:\n")
	fmt.Fprintf(&b, "When the customer asks to be called or to reach a person "+
		"(for example: %s), respond with:\n%q\n",
		quoteList(s.PhoneTriggerPhrases), s.PhoneAsk+" "+s.Markers.PhoneNumber)
	fmt.Fprintf(&b, "The %s marker MUST appear verbatim in that reply and in no other reply.\n\n",
		s.Markers.PhoneNumber)

	b.WriteString("OFF-TOPIC QUESTIONS:\n")
	fmt.Fprintf(&b, "On-topic terms include: %s.\n", strings.Join(s.RelevantTerms, ", "))
	fmt.Fprintf(&b, "For clearly unrelated questions reply: %q\n\n", s.OffTopic)

	if rc.Email != "" {
		fmt.Fprintf(&b, "The customer's email is already collected: %s. Do NOT ask for it again.\n", rc.Email)
	} else {
		fmt.Fprintf(&b, "No email collected yet. On the first message, ask: %q\n", s.EmailAsk)
	}
	if rc.PhoneNumber != "" {
		fmt.Fprintf(&b, "The customer's phone number is already collected: %s.\n", rc.PhoneNumber)
	}
	b.WriteString("\n")

	if len(rc.Passages) > 0 {
		b.WriteString("RELEVANT KNOWLEDGE:\n")
		for _, p := range rc.Passages {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	history := rc.History
	if rc.HistoryLimit > 0 && len(history) > rc.HistoryLimit {
		history = history[len(history)-rc.HistoryLimit:]
	}
	if len(history) > 0 {
		b.WriteString("CONVERSATION SO FAR:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", roleLabel(m.Role), m.Content)
		}
	}

	return b.String()
}

// ParseReply strips the sentinel markers out of an oracle reply and reports
// which actions fired. Stripping is unconditional: markers never reach the
// customer even if the oracle emitted one mid-sentence.
func (s Set) ParseReply(raw string) domain.ChatResult {
	res := domain.ChatResult{Text: raw}
	if strings.Contains(res.Text, s.Markers.QuoteForm) {
		res.Triggers.QuoteForm = true
		res.Text = strings.ReplaceAll(res.Text, s.Markers.QuoteForm, "")
	}
	if strings.Contains(res.Text, s.Markers.PhoneNumber) {
		res.Triggers.PhoneNumber = true
		res.Text = strings.ReplaceAll(res.Text, s.Markers.PhoneNumber, "")
	}
	res.Text = strings.TrimSpace(res.Text)
	return res
}

func roleLabel(r domain.MessageRole) string {
	if r == domain.RoleAssistant {
		return "Assistant"
	}
	return "Customer"
}

func quoteList(phrases []string) string {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		quoted = append(quoted, fmt.Sprintf("%q", p))
	}
	return strings.Join(quoted, ", ")
}
