package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"signchat/internal/app"
	"signchat/internal/ratelimit"
	"signchat/pkg/domain"
	"signchat/pkg/rules"
	"signchat/pkg/storage"
)

type echoGenerator struct {
	reply string
}

func (g *echoGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.reply, nil
}

type fakeUploader struct {
	lastKeyParts []string
	err          error
}

func (f *fakeUploader) UploadLogo(ctx context.Context, sessionID, filename string, r io.Reader, size int64, contentType string) (domain.Asset, error) {
	f.lastKeyParts = []string{sessionID, filename}
	if f.err != nil {
		return domain.Asset{}, f.err
	}
	return domain.Asset{
		Filename:   filename,
		URL:        "http://assets.example/" + sessionID + "/" + filename,
		UploadedAt: time.Unix(1700000000, 0).UTC(),
	}, nil
}

func (f *fakeUploader) DeleteSessionLogos(ctx context.Context, sessionID string) error {
	return nil
}

func newTestServer(t *testing.T, cfg app.Config) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Generator == nil {
		cfg.Generator = &echoGenerator{reply: "We build custom signs."}
	}
	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return New(Config{App: a})
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestChatEndpoint(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	rec := postJSON(t, srv.Router(), "/chat", map[string]string{"message": "hello"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp app.ChatResponse
	decodeJSON(t, rec, &resp)
	if resp.SessionID == "" {
		t.Error("missing session id")
	}
	if resp.Message != "We build custom signs." {
		t.Errorf("reply = %q", resp.Message)
	}
	if resp.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", resp.MessageCount)
	}
}

func TestChatEndpointStripsMarkers(t *testing.T) {
	set := rules.Default()
	srv := newTestServer(t, app.Config{
		Generator: &echoGenerator{reply: "Opening the form. " + set.Markers.QuoteForm},
	})
	rec := postJSON(t, srv.Router(), "/chat", map[string]string{"message": "I want a quote"})

	var resp app.ChatResponse
	decodeJSON(t, rec, &resp)
	if !resp.QuoteFormTriggered {
		t.Error("quote trigger not set")
	}
	if strings.Contains(resp.Message, set.Markers.QuoteForm) {
		t.Errorf("marker leaked: %q", resp.Message)
	}
}

func TestChatEndpointBadRequests(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid json status = %d", rec.Code)
	}

	rec = postJSON(t, router, "/chat", map[string]string{"message": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d", rec.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, getReq)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}
}

func TestValidateEmailEndpoint(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	router := srv.Router()

	rec := postJSON(t, router, "/validate-email", map[string]string{
		"session_id": "s1", "email": "buyer@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Valid     bool   `json:"valid"`
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, rec, &resp)
	if !resp.Valid || resp.SessionID != "s1" {
		t.Errorf("resp = %+v", resp)
	}

	rec = postJSON(t, router, "/validate-email", map[string]string{
		"session_id": "s1", "email": "not-an-email",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d", rec.Code)
	}
	var invalid struct {
		Valid bool `json:"valid"`
	}
	decodeJSON(t, rec, &invalid)
	if invalid.Valid {
		t.Error("valid = true for a bad email")
	}
}

func TestValidateEmailWithoutSession(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	router := srv.Router()

	rec := postJSON(t, router, "/validate-email", map[string]string{
		"email": "buyer@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Valid     bool   `json:"valid"`
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, rec, &resp)
	if !resp.Valid {
		t.Error("valid = false for a good email")
	}
	if resp.SessionID != "" {
		t.Errorf("session_id = %q, want empty", resp.SessionID)
	}

	rec = postJSON(t, router, "/validate-email", map[string]string{
		"email": "nope",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d", rec.Code)
	}
}

func TestQuoteEndpointsWithoutDocStore(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	router := srv.Router()

	rec := postJSON(t, router, "/save-quote", map[string]any{
		"session_id": "s1",
		"form_data":  map[string]any{"sign_type": "channel letters"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("save-quote status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/get-quote/s1", nil)
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	if out.Code != http.StatusServiceUnavailable {
		t.Errorf("get-quote status = %d", out.Code)
	}
}

func TestUploadLogoEndpoint(t *testing.T) {
	uploader := &fakeUploader{}
	srv := newTestServer(t, app.Config{Uploader: uploader})
	router := srv.Router()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("session_id", "s1"); err != nil {
		t.Fatal(err)
	}
	part, err := mw.CreateFormFile("logo", "logo.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("fake png bytes")); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload-logo", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var uploadResp struct {
		Success   bool   `json:"success"`
		URL       string `json:"url"`
		Filename  string `json:"filename"`
		LogoCount int    `json:"logo_count"`
	}
	decodeJSON(t, rec, &uploadResp)
	if !uploadResp.Success || uploadResp.Filename != "logo.png" {
		t.Errorf("upload resp = %+v", uploadResp)
	}
	if uploadResp.LogoCount != 1 {
		t.Errorf("logo_count = %d, want 1", uploadResp.LogoCount)
	}
	if uploader.lastKeyParts[0] != "s1" {
		t.Errorf("uploader session = %q", uploader.lastKeyParts[0])
	}

	// The asset shows up in the session logo list.
	listReq := httptest.NewRequest(http.MethodGet, "/session/s1/logos", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("logos status = %d", listRec.Code)
	}
	var listResp struct {
		Logos []domain.Asset `json:"logos"`
	}
	decodeJSON(t, listRec, &listResp)
	if len(listResp.Logos) != 1 {
		t.Fatalf("logos = %d, want 1", len(listResp.Logos))
	}
}

func TestUploadLogoFailureLeavesSessionUnchanged(t *testing.T) {
	srv := newTestServer(t, app.Config{Uploader: &fakeUploader{err: storage.ErrUnsupportedFileType}})
	router := srv.Router()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("session_id", "s1")
	part, err := mw.CreateFormFile("logo", "logo.exe")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("not a logo"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload-logo", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Success {
		t.Error("success = true on failed upload")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/session/s1/logos", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	var listResp struct {
		Logos []domain.Asset `json:"logos"`
	}
	decodeJSON(t, listRec, &listResp)
	if len(listResp.Logos) != 0 {
		t.Errorf("logos = %d, want 0", len(listResp.Logos))
	}
}

func TestUploadLogoMissingFile(t *testing.T) {
	srv := newTestServer(t, app.Config{Uploader: &fakeUploader{}})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("session_id", "s1")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload-logo", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

// Older widget builds post the file under "file" instead of "logo".
func TestUploadLogoLegacyFieldName(t *testing.T) {
	srv := newTestServer(t, app.Config{Uploader: &fakeUploader{}})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("session_id", "s1")
	part, err := mw.CreateFormFile("file", "logo.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("fake png bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload-logo", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestPhoneEndpoints(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	router := srv.Router()

	rec := postJSON(t, router, "/save-phone", map[string]string{
		"session_id": "s1", "phone_number": "+1 (555) 010-0123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save-phone status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/get-phone/s1", nil)
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("get-phone status = %d", out.Code)
	}
	var resp struct {
		PhoneNumber string `json:"phone_number"`
	}
	decodeJSON(t, out, &resp)
	if resp.PhoneNumber != "+15550100123" {
		t.Errorf("phone = %q", resp.PhoneNumber)
	}

	rec = postJSON(t, router, "/save-phone", map[string]string{
		"session_id": "s1", "phone_number": "nope",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad phone status = %d", rec.Code)
	}
}

func TestSessionEndpointsUnknownSession(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	router := srv.Router()

	for _, path := range []string{"/session/ghost/messages", "/session/ghost/logos", "/get-phone/ghost"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/session/ghost/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("sync status = %d, want 404", rec.Code)
	}
}

func TestForceSyncEndpoint(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	router := srv.Router()

	rec := postJSON(t, router, "/chat", map[string]string{"message": "hello"})
	var resp app.ChatResponse
	decodeJSON(t, rec, &resp)

	req := httptest.NewRequest(http.MethodPost, "/session/"+resp.SessionID+"/sync", nil)
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body = %s", out.Code, out.Body.String())
	}
	var syncResp struct {
		Status string `json:"status"`
	}
	decodeJSON(t, out, &syncResp)
	if syncResp.Status != "ok" {
		t.Errorf("status = %q", syncResp.Status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, app.Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestChatRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	a, err := app.New(app.Config{
		Logger:    slog.New(slog.DiscardHandler),
		Generator: &echoGenerator{reply: "hi"},
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	router := New(Config{App: a, Limiter: limiter}).Router()

	rec := postJSON(t, router, "/chat", map[string]string{"message": "one"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec = postJSON(t, router, "/chat", map[string]string{"message": "two"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
}
