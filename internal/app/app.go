// Package app wires the chat pipeline together: session state, policy
// rendering, oracle calls, trigger parsing and the persistence fan-out.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"signchat/internal/util"
	"signchat/pkg/ai"
	"signchat/pkg/domain"
	"signchat/pkg/knowledge"
	"signchat/pkg/rules"
	"signchat/pkg/session"
	"signchat/pkg/sink"
	"signchat/pkg/storage"
)

const (
	defaultHistoryLimit = 20
	defaultTopK         = 4
)

// Config holds the collaborators for the core application. Integrations
// left nil are disabled; only the generator is mandatory.
type Config struct {
	Logger    *slog.Logger
	Sessions  session.Store
	Generator ai.TextGenerator
	Retriever knowledge.Retriever
	Rules     *rules.Set

	Docs     *sink.DocStore
	Sheet    *sink.SheetSink
	CRM      *sink.CRMSink
	Notifier sink.Notifier
	Uploader storage.AssetUploader

	HistoryLimit int
	TopK         int
}

// App is the application core behind the HTTP front door.
type App struct {
	log       *slog.Logger
	sessions  session.Store
	generator ai.TextGenerator
	retriever knowledge.Retriever
	rules     rules.Set

	docs     *sink.DocStore
	crm      *sink.CRMSink
	notifier sink.Notifier
	uploader storage.AssetUploader
	sinks    []sink.Sink

	historyLimit int
	topK         int
	now          func() time.Time
}

// New validates the wiring and assembles the fan-out order: tabular first,
// then document store, then CRM, matching how the sales team consumes them.
func New(cfg Config) (*App, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	ruleSet := rules.Default()
	if cfg.Rules != nil {
		if err := cfg.Rules.Validate(); err != nil {
			return nil, err
		}
		ruleSet = *cfg.Rules
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	a := &App{
		log:          log,
		sessions:     sessions,
		generator:    cfg.Generator,
		retriever:    cfg.Retriever,
		rules:        ruleSet,
		docs:         cfg.Docs,
		crm:          cfg.CRM,
		notifier:     cfg.Notifier,
		uploader:     cfg.Uploader,
		historyLimit: historyLimit,
		topK:         topK,
		now:          time.Now,
	}
	if cfg.Sheet != nil {
		a.sinks = append(a.sinks, cfg.Sheet)
	}
	if cfg.Docs != nil {
		a.sinks = append(a.sinks, cfg.Docs)
	}
	if cfg.CRM != nil {
		a.sinks = append(a.sinks, cfg.CRM)
	}
	return a, nil
}

// ChatResponse is the outcome of one chat turn.
type ChatResponse struct {
	Message              string `json:"message"`
	SessionID            string `json:"session_id"`
	MessageCount         int    `json:"message_count"`
	QuoteFormTriggered   bool   `json:"quote_form_triggered"`
	PhoneNumberTriggered bool   `json:"phone_number_triggered"`
}

// HandleChat runs one turn: record the user message, derive contact state,
// generate the reply, strip trigger markers and fan the session out to the
// persistence sinks. The optional email is one the widget already knows
// about. Oracle failures degrade to an apology reply; they never surface
// as request errors.
func (a *App) HandleChat(ctx context.Context, sessionID, message, knownEmail string) (ChatResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatResponse{}, ErrEmptyMessage
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = util.NewSessionID()
	}
	a.sessions.GetOrCreate(sessionID)

	email, emailFound := domain.ExtractEmail(message)
	if !emailFound && domain.ValidEmail(knownEmail) {
		email, emailFound = strings.TrimSpace(knownEmail), true
	}
	snapshot := a.sessions.Update(sessionID, func(s *domain.Session) {
		s.AppendMessage(domain.Message{
			ID:        util.NewID(),
			Role:      domain.RoleUser,
			Content:   message,
			CreatedAt: a.now().UTC(),
		})
		if emailFound {
			s.SetEmail(email)
		}
	})

	passages := a.retrievePassages(ctx, message)
	systemPrompt := a.rules.RenderSystemPrompt(rules.RenderContext{
		Now:          a.now(),
		Email:        snapshot.Email,
		PhoneNumber:  snapshot.PhoneNumber,
		History:      snapshot.Messages[:len(snapshot.Messages)-1],
		HistoryLimit: a.historyLimit,
		Passages:     passages,
	})

	result := domain.ChatResult{}
	raw, err := a.generator.GenerateText(ctx, systemPrompt, message)
	oracleFailed := err != nil
	if oracleFailed {
		a.log.Error("oracle call failed", "session_id", sessionID, "error", err)
		result.Text = a.rules.ApologyReply
	} else {
		result = a.rules.ParseReply(raw)
	}

	snapshot = a.sessions.Update(sessionID, func(s *domain.Session) {
		s.AppendMessage(domain.Message{
			ID:        util.NewID(),
			Role:      domain.RoleAssistant,
			Content:   result.Text,
			CreatedAt: a.now().UTC(),
		})
	})

	if !oracleFailed {
		sink.SyncAll(ctx, a.log, a.sinks, snapshot)
	}

	return ChatResponse{
		Message:              result.Text,
		SessionID:            sessionID,
		MessageCount:         len(snapshot.Messages),
		QuoteFormTriggered:   result.Triggers.QuoteForm,
		PhoneNumberTriggered: result.Triggers.PhoneNumber,
	}, nil
}

// ValidateEmail records a customer-entered email on the session, resolves
// the CRM contact and rehydrates prior history for returning customers.
func (a *App) ValidateEmail(ctx context.Context, sessionID, email string) (domain.Session, error) {
	email = strings.TrimSpace(email)
	if !domain.ValidEmail(email) {
		return domain.Session{}, ErrInvalidEmail
	}
	a.sessions.GetOrCreate(sessionID)

	var contactID string
	if a.crm != nil {
		id, err := a.crm.ResolveContact(ctx, email)
		if err != nil {
			a.log.Warn("crm contact resolution failed", "session_id", sessionID, "error", err)
		} else {
			contactID = id
		}
	}

	prior, havePrior := a.priorSessionByEmail(ctx, sessionID, email)
	snapshot := a.sessions.Update(sessionID, func(s *domain.Session) {
		s.SetEmail(email)
		if contactID != "" {
			s.CRMContactID = contactID
		}
		if havePrior && len(s.Messages) == 0 {
			s.Messages = prior.Messages
			s.Assets = prior.Assets
			if s.PhoneNumber == "" {
				s.PhoneNumber = prior.PhoneNumber
			}
		}
	})

	sink.SyncAll(ctx, a.log, a.sinks, snapshot)
	return snapshot, nil
}

func (a *App) priorSessionByEmail(ctx context.Context, sessionID, email string) (domain.Session, bool) {
	if a.docs == nil {
		return domain.Session{}, false
	}
	prior, err := a.docs.FindLatestSessionByEmail(ctx, email)
	if errors.Is(err, sink.ErrRecordNotFound) {
		return domain.Session{}, false
	}
	if err != nil {
		a.log.Warn("session rehydration lookup failed", "session_id", sessionID, "error", err)
		return domain.Session{}, false
	}
	if prior.ID == sessionID {
		return domain.Session{}, false
	}
	return prior, true
}

// SaveQuote upserts the quote form for a session and pushes the session
// state out to the sinks.
func (a *App) SaveQuote(ctx context.Context, sessionID, email string, fields map[string]any) (domain.QuoteForm, error) {
	if a.docs == nil {
		return domain.QuoteForm{}, ErrQuotesDisabled
	}
	if len(fields) == 0 {
		return domain.QuoteForm{}, fmt.Errorf("form data required")
	}
	sess := a.sessions.GetOrCreate(sessionID)

	if !domain.ValidEmail(email) {
		email, _ = fields["email"].(string)
	}
	if domain.ValidEmail(email) {
		sess = a.sessions.Update(sessionID, func(s *domain.Session) {
			s.SetEmail(strings.TrimSpace(email))
		})
	}

	quote, err := a.docs.SaveQuote(ctx, domain.QuoteForm{
		SessionID: sessionID,
		Email:     sess.Email,
		Fields:    fields,
	})
	if err != nil {
		return domain.QuoteForm{}, err
	}
	sink.SyncAll(ctx, a.log, a.sinks, sess)
	return quote, nil
}

// GetQuote returns the stored quote form for a session.
func (a *App) GetQuote(ctx context.Context, sessionID string) (domain.QuoteForm, error) {
	if a.docs == nil {
		return domain.QuoteForm{}, ErrQuotesDisabled
	}
	quote, err := a.docs.GetQuote(ctx, sessionID)
	if errors.Is(err, sink.ErrRecordNotFound) {
		return domain.QuoteForm{}, ErrQuoteNotFound
	}
	return quote, err
}

// UploadLogo stores a logo file, attaches it to the session and fans the
// updated session out so the asset link lands next to the transcript. The
// second return value is the session's logo count after the upload.
func (a *App) UploadLogo(ctx context.Context, sessionID, filename string, r io.Reader, size int64, contentType string) (domain.Asset, int, error) {
	if a.uploader == nil {
		return domain.Asset{}, 0, ErrUploadsDisabled
	}
	a.sessions.GetOrCreate(sessionID)
	asset, err := a.uploader.UploadLogo(ctx, sessionID, filename, r, size, contentType)
	if err != nil {
		return domain.Asset{}, 0, err
	}
	snapshot := a.sessions.Update(sessionID, func(s *domain.Session) {
		s.Assets = append(s.Assets, asset)
	})
	sink.SyncAll(ctx, a.log, a.sinks, snapshot)
	return asset, len(snapshot.Assets), nil
}

// SavePhone records a callback number and notifies the automation webhook.
// The second return value reports whether the webhook was delivered.
func (a *App) SavePhone(ctx context.Context, sessionID, phone string) (domain.Session, bool, error) {
	normalized, ok := domain.NormalizePhone(phone)
	if !ok {
		return domain.Session{}, false, ErrInvalidPhone
	}
	a.sessions.GetOrCreate(sessionID)
	snapshot := a.sessions.Update(sessionID, func(s *domain.Session) {
		s.PhoneNumber = normalized
	})

	webhookSent := false
	if a.notifier != nil {
		if err := a.notifier.NotifyPhoneCaptured(ctx, snapshot); err != nil {
			a.log.Warn("phone capture webhook failed", "session_id", sessionID, "error", err)
		} else {
			webhookSent = true
		}
	}
	sink.SyncAll(ctx, a.log, a.sinks, snapshot)
	return snapshot, webhookSent, nil
}

// GetPhone returns the callback number collected for a session.
func (a *App) GetPhone(sessionID string) (string, error) {
	sess, err := a.getSession(sessionID)
	if err != nil {
		return "", err
	}
	return sess.PhoneNumber, nil
}

// SessionMessages returns the transcript for a session.
func (a *App) SessionMessages(sessionID string) ([]domain.Message, error) {
	sess, err := a.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// SessionAssets returns the uploaded logos for a session.
func (a *App) SessionAssets(sessionID string) ([]domain.Asset, error) {
	sess, err := a.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Assets, nil
}

// ForceSync pushes the session to every sink immediately, bypassing the
// CRM cooldown. Returns the number of sinks that failed.
func (a *App) ForceSync(ctx context.Context, sessionID string) (int, error) {
	sess, err := a.getSession(sessionID)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, sk := range a.sinks {
		var syncErr error
		if crm, ok := sk.(*sink.CRMSink); ok {
			syncErr = crm.SyncSessionForce(ctx, sess)
		} else {
			syncErr = sk.SyncSession(ctx, sess)
		}
		if syncErr != nil {
			failed++
			a.log.Warn("forced session sync failed", "sink", sk.Name(), "session_id", sessionID, "error", syncErr)
		}
	}
	return failed, nil
}

// SessionCount reports live in-memory sessions for the health endpoint.
func (a *App) SessionCount() int {
	return a.sessions.Count()
}

func (a *App) getSession(sessionID string) (domain.Session, error) {
	sess, err := a.sessions.Get(sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func (a *App) retrievePassages(ctx context.Context, query string) []string {
	if a.retriever == nil {
		return nil
	}
	passages, err := a.retriever.Retrieve(ctx, query, a.topK)
	if err != nil {
		a.log.Warn("knowledge retrieval failed", "error", err)
		return nil
	}
	return passages
}
