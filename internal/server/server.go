// Package server exposes the masking engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/peekguard/peekguard/internal/masker"
	"github.com/peekguard/peekguard/internal/redact"
	"github.com/peekguard/peekguard/internal/vault"
)

// Server wraps the HTTP components for PeekGuard.
type Server struct {
	mux    *http.ServeMux
	engine *Engine
	http   *http.Server
}

// Engine is the slice of the masking engine the server needs; it lets
// handler tests swap in a fake.
type Engine struct {
	Mask   func(ctx context.Context, text, locale, scopeID string, only []string) (masker.MaskedDocument, error)
	Unmask func(ctx context.Context, maskedText, scopeID string) (string, error)
	Ready  func() bool
}

// New wires the routes.
func New(engine *Engine) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		engine: engine,
	}
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/mask", s.handleMask)
	s.mux.HandleFunc("/unmask", s.handleUnmask)
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start blocks serving HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type maskRequest struct {
	Text     string   `json:"text"`
	Locale   string   `json:"locale"`
	ScopeID  string   `json:"scope_id"`
	Entities []string `json:"entities,omitempty"`
}

type maskResponse struct {
	MaskedText string `json:"masked_text"`
	ScopeID    string `json:"scope_id"`
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.engine.Ready() {
		writeError(w, http.StatusServiceUnavailable, "detection engine is not ready")
		return
	}

	var req maskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Locale == "" {
		req.Locale = "en"
	}
	scopeID := req.ScopeID
	if scopeID == "" {
		scopeID = vault.NewScopeID()
	}

	doc, err := s.engine.Mask(r.Context(), req.Text, req.Locale, scopeID, req.Entities)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskResponse{MaskedText: doc.Text, ScopeID: doc.ScopeID})
}

type unmaskRequest struct {
	MaskedText string `json:"masked_text"`
	ScopeID    string `json:"scope_id"`
}

type unmaskResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleUnmask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req unmaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ScopeID == "" {
		writeError(w, http.StatusUnprocessableEntity, "scope_id is required")
		return
	}

	text, err := s.engine.Unmask(r.Context(), req.MaskedText, req.ScopeID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unmaskResponse{Text: text})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.engine.Ready() {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"message": "service and detection engine are initialized and ready",
		})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":  "unhealthy",
		"message": "detection engine is not initialized, check service logs",
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to PeekGuard!"})
}

// writeEngineError maps engine error types onto HTTP statuses. Partial
// unmask responses carry the failed tokens and the best-effort text so
// the caller can decide whether to accept them.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var validation *masker.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusUnprocessableEntity, validation.Error())
		return
	}

	var partial *masker.PartialUnmaskError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "partial_unmask",
			"missing_tokens": partial.Missing,
			"text":           partial.Text,
		})
		return
	}

	var notFound *vault.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "token not found in scope")
		return
	}

	redact.Logf("server: internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		redact.Logf("server: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
