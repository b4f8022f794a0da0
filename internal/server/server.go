// Package server exposes the DocuChat HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ivansantander-hub/docuchat/internal/chat"
	"github.com/ivansantander-hub/docuchat/internal/errors"
	"github.com/ivansantander-hub/docuchat/internal/ingest"
	"github.com/ivansantander-hub/docuchat/internal/registry"
	"github.com/ivansantander-hub/docuchat/internal/retrieval"
)

// Options wires a Server.
type Options struct {
	Registry     *registry.Registry
	Pipeline     *ingest.Pipeline
	Catalog      *ingest.Catalog // optional
	Sessions     *chat.Store
	Orchestrator *retrieval.Orchestrator
	Logger       *slog.Logger
	Version      string
}

// Server serves the HTTP API.
type Server struct {
	registry *registry.Registry
	pipeline *ingest.Pipeline
	catalog  *ingest.Catalog
	sessions *chat.Store
	orch     *retrieval.Orchestrator
	logger   *slog.Logger
	version  string

	httpServer *http.Server
}

// New creates a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: opts.Registry,
		pipeline: opts.Pipeline,
		catalog:  opts.Catalog,
		sessions: opts.Sessions,
		orch:     opts.Orchestrator,
		logger:   logger,
		version:  opts.Version,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/users/{user}/stores", s.handleListStores)
	mux.HandleFunc("GET /api/users/{user}/files", s.handleListFiles)
	mux.HandleFunc("DELETE /api/users/{user}/documents/{document}", s.handleDeleteDocument)
	mux.HandleFunc("GET /api/users/{user}/sessions", s.handleListSessions)
	mux.HandleFunc("PATCH /api/users/{user}/sessions/{store}/{chat}", s.handleRenameSession)
	mux.HandleFunc("POST /api/users/{user}/sessions/{store}/{chat}/clear", s.handleClearSession)
	mux.HandleFunc("DELETE /api/users/{user}/sessions/{store}/{chat}", s.handleDeleteSession)

	return s.logRequests(mux)
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", slog.String("addr", listener.Addr().String()))

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// logRequests logs one line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)))
	})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusFor maps error codes onto HTTP statuses.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeStoreNotFound, errors.ErrCodeSessionNotFound, errors.ErrCodeUserNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidName, errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeProviderRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeProviderTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}

	var body errorBody
	body.Error.Code = errors.GetCode(err)
	if body.Error.Code == "" {
		body.Error.Code = errors.ErrCodeInternal
	}
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "invalid request body", err)
	}
	return nil
}
