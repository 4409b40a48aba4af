// Package server is the HTTP front door for the chat widget.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"signchat/internal/app"
	"signchat/internal/ratelimit"
	"signchat/internal/util"
	"signchat/pkg/domain"
	"signchat/pkg/storage"
)

const maxUploadBytes = 16 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Limiter *ratelimit.FixedWindowLimiter
}

// Server exposes the chat widget endpoints.
type Server struct {
	app     *app.App
	limiter *ratelimit.FixedWindowLimiter
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		limiter: cfg.Limiter,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(
			util.WithRecovery(
				util.WithSecurityHeaders(
					util.WithCORS(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/chat", s.withRateLimit(s.handleChat))
	s.mux.HandleFunc("/validate-email", s.handleValidateEmail)
	s.mux.HandleFunc("/save-quote", s.handleSaveQuote)
	s.mux.HandleFunc("/get-quote/", s.handleGetQuote)
	s.mux.HandleFunc("/upload-logo", s.handleUploadLogo)
	s.mux.HandleFunc("/save-phone", s.handleSavePhone)
	s.mux.HandleFunc("/get-phone/", s.handleGetPhone)
	s.mux.HandleFunc("/session/", s.handleSession)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_sessions": s.app.SessionCount(),
	})
}

// withRateLimit throttles by client IP. Only the oracle-backed chat
// endpoint is limited; the bookkeeping endpoints are cheap.
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(util.ClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Email     string `json:"email"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.app.HandleChat(r.Context(), req.SessionID, req.Message, req.Email)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type emailRequest struct {
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
}

func (s *Server) handleValidateEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		// Shape check only; nothing to attach the email to yet.
		if !domain.ValidEmail(req.Email) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"valid":   false,
				"message": "please enter a valid email address",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":   true,
			"message": "email validated",
		})
		return
	}
	sess, err := s.app.ValidateEmail(r.Context(), req.SessionID, req.Email)
	if errors.Is(err, app.ErrInvalidEmail) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"valid":   false,
			"message": "please enter a valid email address",
		})
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := map[string]any{
		"valid":                true,
		"message":              "email validated",
		"session_id":           sess.ID,
		"has_existing_history": len(sess.Messages) > 0,
		"message_count":        len(sess.Messages),
	}
	if sess.CRMContactID != "" {
		resp["hubspot_contact"] = sess.CRMContactID
	}
	writeJSON(w, http.StatusOK, resp)
}

type quoteRequest struct {
	SessionID string         `json:"session_id"`
	Email     string         `json:"email"`
	FormData  map[string]any `json:"form_data"`
}

func (s *Server) handleSaveQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req quoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	quote, err := s.app.SaveQuote(r.Context(), req.SessionID, req.Email, req.FormData)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "quote request saved",
		"quote_id": quote.SessionID,
	})
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/get-quote/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	quote, err := s.app.GetQuote(r.Context(), id)
	if errors.Is(err, app.ErrQuoteNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"form_data": map[string]any{}})
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"form_data": quote.Fields,
		"status":    quote.Status,
	})
}

func (s *Server) handleUploadLogo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	file, header, err := r.FormFile("logo")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "logo file is required (field: logo)")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	asset, logoCount, err := s.app.UploadLogo(r.Context(), sessionID, header.Filename, file, header.Size, contentType)
	if err != nil {
		status, msg := errorStatus(err)
		writeJSON(w, status, map[string]any{"success": false, "message": msg})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "logo uploaded",
		"url":        asset.URL,
		"filename":   asset.Filename,
		"logo_count": logoCount,
	})
}

type phoneRequest struct {
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number"`
}

func (s *Server) handleSavePhone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req phoneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	sess, webhookSent, err := s.app.SavePhone(r.Context(), req.SessionID, req.PhoneNumber)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "phone number saved",
		"session_id":   sess.ID,
		"phone_number": sess.PhoneNumber,
		"webhook_sent": webhookSent,
	})
}

func (s *Server) handleGetPhone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/get-phone/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	phone, err := s.app.GetPhone(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":   id,
		"phone_number": phone,
	})
}

// /session/{id}/messages, /session/{id}/logos or /session/{id}/sync
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/session/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]
	switch parts[1] {
	case "messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		messages, err := s.app.SessionMessages(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"messages":   messages,
		})
	case "logos":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		assets, err := s.app.SessionAssets(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"logos":      assets,
		})
	case "sync":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		failed, err := s.app.ForceSync(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		status := "ok"
		if failed > 0 {
			status = "partial"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":   id,
			"status":       status,
			"failed_sinks": failed,
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrEmptyMessage),
		errors.Is(err, app.ErrInvalidEmail),
		errors.Is(err, app.ErrInvalidPhone),
		errors.Is(err, storage.ErrEmptyFilename),
		errors.Is(err, storage.ErrUnsupportedFileType):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrSessionNotFound),
		errors.Is(err, app.ErrQuoteNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, app.ErrQuotesDisabled),
		errors.Is(err, app.ErrUploadsDisabled):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	writeError(w, status, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
