package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"signchat/pkg/domain"
)

// Event types delivered to the automation webhook.
const (
	EventPhoneCaptured = "phone_number_captured"
)

const webhookTokenTTL = 60 * time.Second

// WebhookEvent is the payload posted to the automation pipeline when a
// phone call back is requested.
type WebhookEvent struct {
	SessionID   string `json:"session_id"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source"`
	EventType   string `json:"event_type"`
}

// Notifier delivers webhook events. The app injects a fake in tests.
type Notifier interface {
	NotifyPhoneCaptured(ctx context.Context, s domain.Session) error
}

// WebhookNotifier posts events to an automation webhook endpoint. Requests
// carry basic auth plus a short-lived HS256 service token so the receiver
// can verify both the caller and the freshness of the event.
type WebhookNotifier struct {
	url        string
	username   string
	password   string
	secret     []byte
	issuer     string
	source     string
	httpClient *http.Client
	now        func() time.Time
}

// WebhookOptions configures event delivery.
type WebhookOptions struct {
	URL      string
	Username string
	Password string
	// SigningSecret enables the service token header when set.
	SigningSecret string
	Issuer        string
	Source        string
}

func NewWebhookNotifier(opts WebhookOptions) (*WebhookNotifier, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("webhook url is required")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = "signchat"
	}
	source := strings.TrimSpace(opts.Source)
	if source == "" {
		source = "website_chatbot"
	}
	return &WebhookNotifier{
		url:        opts.URL,
		username:   opts.Username,
		password:   opts.Password,
		secret:     []byte(opts.SigningSecret),
		issuer:     issuer,
		source:     source,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}, nil
}

// NotifyPhoneCaptured posts a phone capture event for the session.
func (n *WebhookNotifier) NotifyPhoneCaptured(ctx context.Context, s domain.Session) error {
	event := WebhookEvent{
		SessionID:   s.ID,
		Email:       s.Email,
		PhoneNumber: s.PhoneNumber,
		Timestamp:   n.now().UTC().Format(time.RFC3339),
		Source:      n.source,
		EventType:   EventPhoneCaptured,
	}
	return n.post(ctx, event)
}

func (n *WebhookNotifier) post(ctx context.Context, event WebhookEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.username != "" || n.password != "" {
		req.SetBasicAuth(n.username, n.password)
	}
	if len(n.secret) > 0 {
		token, err := n.signToken()
		if err != nil {
			return fmt.Errorf("sign webhook token: %w", err)
		}
		req.Header.Set("X-Service-Token", token)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (n *WebhookNotifier) signToken() (string, error) {
	now := n.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    n.issuer,
		Subject:   n.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(webhookTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.secret)
}
