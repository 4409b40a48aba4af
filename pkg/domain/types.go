package domain

import (
	"regexp"
	"strings"
	"time"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type QuoteStatus string

const (
	QuoteStatusNew     QuoteStatus = "new"
	QuoteStatusUpdated QuoteStatus = "updated"
)

// Message is a single turn in a session transcript.
type Message struct {
	ID        string      `json:"id,omitempty"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

// Asset is an uploaded file reference (logo artwork) tied to a session.
type Asset struct {
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"upload_time"`
}

// Session holds the server-side conversational state for one chat stream.
// Email, once set, is the stable join key across all persistence sinks and
// is never cleared for the lifetime of the session.
type Session struct {
	ID           string    `json:"session_id"`
	Messages     []Message `json:"messages"`
	Email        string    `json:"email,omitempty"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	Assets       []Asset   `json:"logos,omitempty"`
	CRMContactID string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SetEmail records the collected email. Empty input is ignored so a later
// turn can never clear an email that was already collected.
func (s *Session) SetEmail(email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		return
	}
	s.Email = email
}

// AppendMessage adds a turn to the transcript.
func (s *Session) AppendMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// QuoteForm is the latest quote submission for a session. Submissions are
// insert-or-update keyed by session id; no history beyond updated_at.
type QuoteForm struct {
	SessionID string         `json:"session_id"`
	Email     string         `json:"email"`
	Fields    map[string]any `json:"form_data"`
	Status    QuoteStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Triggers are the structured signals parsed out of an oracle reply.
type Triggers struct {
	QuoteForm   bool `json:"quote_form"`
	PhoneNumber bool `json:"phone_number"`
}

// ChatResult is the tagged outcome of one chat turn: the visible text with
// sentinel markers stripped, plus the flags those markers carried.
type ChatResult struct {
	Text     string   `json:"text"`
	Triggers Triggers `json:"triggers"`
}

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// emailScanPattern matches an email-shaped substring inside free text.
var emailScanPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// ValidEmail reports whether the input matches the accepted email shape:
// local part, @, domain with at least one dot and a 2+ letter TLD.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// ExtractEmail returns the first email-shaped substring in text, if any.
func ExtractEmail(text string) (string, bool) {
	match := emailScanPattern.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// NormalizePhone strips common phone formatting and reports whether what
// remains is a plausible dialable number.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", false
		}
	}
	normalized := b.String()
	if !phonePattern.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}
