// Package api exposes the browser-facing HTTP surface: the embedded chat UI,
// conversation listing/search, and the chat endpoint itself.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"

	apidocs "chatrelay/docs"
	"chatrelay/internal/chat"
	"chatrelay/internal/observability"
	"chatrelay/internal/storage"
	"chatrelay/internal/uploads"
	webui "chatrelay/web"
)

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server handles the HTTP API.
type Server struct {
	router  *mux.Router
	store   storage.ConversationStore
	chat    *chat.Service
	saver   *uploads.Saver
	mode    string // config.ModeStream or config.ModeSync
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewServer creates a new HTTP server with the given dependencies.
// If logger is nil, a default logger will be used.
// If metrics is nil, metrics collection is disabled.
func NewServer(router *mux.Router, store storage.ConversationStore, chatSvc *chat.Service, saver *uploads.Saver, mode string, logger observability.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Server{
		router:  router,
		store:   store,
		chat:    chatSvc,
		saver:   saver,
		mode:    mode,
		logger:  logger,
		metrics: metrics,
	}
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router { return s.router }

// RegisterRoutes attaches all handlers.
func (s *Server) RegisterRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/openapi.yaml", s.handleOpenAPISpec).Methods(http.MethodGet)

	s.router.HandleFunc("/api/conversations", s.handleListConversations).Methods(http.MethodGet)
	s.router.HandleFunc("/api/conversation/{id}", s.handleGetConversation).Methods(http.MethodGet)
	s.router.HandleFunc("/api/search/all", s.handleSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)

	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOpenAPISpec serves the embedded OpenAPI document.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(apidocs.OpenAPISpec)
}

// handleIndex serves the embedded chat UI.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(webui.Index)
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{
		"status", code,
		"error", msg,
	}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		sentry.CaptureMessage(fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

// writeStoreErr maps a storage-layer error to the appropriate HTTP status
// code and writes the error response.
func (s *Server) writeStoreErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeErr(ctx, w, http.StatusNotFound, "conversation not found", "")
	case errors.Is(err, storage.ErrInvalidID):
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid conversation id", "")
	default:
		s.writeErr(ctx, w, http.StatusInternalServerError, "storage error", err.Error())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) { s.status = code; s.ResponseWriter.WriteHeader(code) }

// Unwrap returns the underlying ResponseWriter for compatibility with
// http.ResponseController and other wrapping utilities.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
