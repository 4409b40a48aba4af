package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"signchat/pkg/domain"
)

const (
	transcriptProperty = "chatbot_conversation"
	fallbackProperty   = "notes"

	defaultCRMCooldown = 5 * time.Minute
)

// existingIDPattern extracts the contact id the CRM reports when a create
// races another writer for the same email.
var existingIDPattern = regexp.MustCompile(`Existing ID:\s*(\d+)`)

// CRMClient talks to a HubSpot-compatible contacts API.
type CRMClient struct {
	baseURL    string
	token      string
	httpClient *http.Client

	group singleflight.Group

	mu       sync.Mutex
	contacts map[string]string // email -> contact id
	useNotes bool
}

func NewCRMClient(baseURL, token string) *CRMClient {
	if baseURL == "" {
		baseURL = "https://api.hubapi.com"
	}
	return &CRMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		contacts:   make(map[string]string),
	}
}

// ResolveContact returns the CRM contact id for an email, creating the
// contact when missing. Concurrent calls for the same email collapse into
// one API round trip.
func (c *CRMClient) ResolveContact(ctx context.Context, email string) (string, error) {
	c.mu.Lock()
	if id, ok := c.contacts[email]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(email, func() (any, error) {
		id, err := c.resolveContact(ctx, email)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.contacts[email] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *CRMClient) resolveContact(ctx context.Context, email string) (string, error) {
	if id, err := c.searchContact(ctx, email); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}
	return c.createContact(ctx, email)
}

type crmSearchRequest struct {
	FilterGroups []crmFilterGroup `json:"filterGroups"`
	Properties   []string         `json:"properties"`
	Limit        int              `json:"limit"`
}

type crmFilterGroup struct {
	Filters []crmFilter `json:"filters"`
}

type crmFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type crmSearchResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

func (c *CRMClient) searchContact(ctx context.Context, email string) (string, error) {
	req := crmSearchRequest{
		FilterGroups: []crmFilterGroup{{Filters: []crmFilter{{
			PropertyName: "email", Operator: "EQ", Value: email,
		}}}},
		Properties: []string{"email"},
		Limit:      1,
	}
	var resp crmSearchResponse
	status, body, err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", req, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("crm search status %d: %s", status, body)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

type crmContactRequest struct {
	Properties map[string]string `json:"properties"`
}

type crmContactResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (c *CRMClient) createContact(ctx context.Context, email string) (string, error) {
	req := crmContactRequest{Properties: map[string]string{"email": email}}
	var resp crmContactResponse
	status, body, err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", req, &resp)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return resp.ID, nil
	case status == http.StatusConflict:
		// Another writer created the contact first. The conflict message
		// usually carries the winner's id; fall back to a fresh search.
		if m := existingIDPattern.FindStringSubmatch(resp.Message); len(m) == 2 {
			return m[1], nil
		}
		id, err := c.searchContact(ctx, email)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("crm conflict without resolvable contact: %s", body)
		}
		return id, nil
	default:
		return "", fmt.Errorf("crm create status %d: %s", status, body)
	}
}

// UpdateTranscript writes the conversation onto the contact. The dedicated
// transcript property may not exist on every portal; on that error the
// client falls back to the stock notes property and remembers the choice.
func (c *CRMClient) UpdateTranscript(ctx context.Context, contactID, transcript string) error {
	c.mu.Lock()
	prop := transcriptProperty
	if c.useNotes {
		prop = fallbackProperty
	}
	c.mu.Unlock()

	status, body, err := c.patchContact(ctx, contactID, prop, transcript)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if prop == transcriptProperty && strings.Contains(body, "PROPERTY_DOESNT_EXIST") {
		c.mu.Lock()
		c.useNotes = true
		c.mu.Unlock()
		status, body, err = c.patchContact(ctx, contactID, fallbackProperty, transcript)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			return nil
		}
	}
	return fmt.Errorf("crm update status %d: %s", status, body)
}

func (c *CRMClient) patchContact(ctx context.Context, contactID, property, value string) (int, string, error) {
	req := crmContactRequest{Properties: map[string]string{property: value}}
	path := "/crm/v3/objects/contacts/" + contactID
	return c.do(ctx, http.MethodPatch, path, req, nil)
}

func (c *CRMClient) do(ctx context.Context, method, path string, in, out any) (int, string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return 0, "", fmt.Errorf("encode crm request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("build crm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("crm request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", fmt.Errorf("read crm response: %w", err)
	}
	if out != nil && len(body) > 0 {
		// Error payloads share the envelope, so decode failures only matter
		// for success statuses; callers check the status first.
		_ = json.Unmarshal(body, out)
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

// CRMSink mirrors session transcripts onto CRM contacts. Transcript patches
// for the same email are throttled by a cooldown so chatty sessions do not
// hammer the contacts API; resolution and the throttle reset on force sync.
type CRMSink struct {
	client   *CRMClient
	cooldown time.Duration

	mu       sync.Mutex
	lastSync map[string]time.Time // email -> last successful patch
	now      func() time.Time
}

func NewCRMSink(client *CRMClient, cooldown time.Duration) *CRMSink {
	if cooldown <= 0 {
		cooldown = defaultCRMCooldown
	}
	return &CRMSink{
		client:   client,
		cooldown: cooldown,
		lastSync: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *CRMSink) Name() string { return "crm" }

// ResolveContact exposes contact resolution for the email validation flow.
func (s *CRMSink) ResolveContact(ctx context.Context, email string) (string, error) {
	return s.client.ResolveContact(ctx, email)
}

// SyncSession pushes the transcript to the CRM unless the email was synced
// within the cooldown window.
func (s *CRMSink) SyncSession(ctx context.Context, sess domain.Session) error {
	return s.sync(ctx, sess, false)
}

// SyncSessionForce bypasses the cooldown. Used by the manual sync endpoint.
func (s *CRMSink) SyncSessionForce(ctx context.Context, sess domain.Session) error {
	return s.sync(ctx, sess, true)
}

func (s *CRMSink) sync(ctx context.Context, sess domain.Session, force bool) error {
	if sess.Email == "" {
		return nil
	}
	if !force && !s.cooldownElapsed(sess.Email) {
		return nil
	}
	contactID, err := s.client.ResolveContact(ctx, sess.Email)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	transcript := Transcript(sess.Messages) + logoBlock(sess.Assets)
	if err := s.client.UpdateTranscript(ctx, contactID, transcript); err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	s.mu.Lock()
	s.lastSync[sess.Email] = s.now()
	s.mu.Unlock()
	return nil
}

func (s *CRMSink) cooldownElapsed(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSync[email]
	if !ok {
		return true
	}
	return s.now().Sub(last) >= s.cooldown
}
