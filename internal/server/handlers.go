package server

import (
	"net/http"

	"github.com/ivansantander-hub/docuchat/internal/errors"
	"github.com/ivansantander-hub/docuchat/internal/ingest"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

type ingestRequest struct {
	UserID   string `json:"user_id"`
	Document string `json:"document"`
	Content  string `json:"content"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), req.UserID, req.Document, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type chatRequest struct {
	UserID   string `json:"user_id"`
	Store    string `json:"store"`
	ChatID   string `json:"chat_id,omitempty"`
	Question string `json:"question"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	answer, err := s.orch.Ask(r.Context(), req.UserID, req.Store, req.ChatID, req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	descs, err := s.registry.ListFor(r.PathValue("user"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stores":  descs,
		"default": ingest.CombinedStoreName,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeError(w, errors.Newf(errors.ErrCodeCatalogFailed, "file catalog is not enabled"))
		return
	}
	userID := r.PathValue("user")

	known, err := s.catalog.HasUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !known {
		s.writeError(w, errors.Newf(errors.ErrCodeUserNotFound, "user %q has no ingested files", userID))
		return
	}

	records, err := s.catalog.ListFiles(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": records})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	err := s.pipeline.RemoveDocument(r.Context(), r.PathValue("user"), r.PathValue("document"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.sessions.List(r.PathValue("user"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": metas})
}

type renameRequest struct {
	DisplayName string `json:"display_name"`
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	err := s.sessions.Rename(r.PathValue("user"), r.PathValue("store"), r.PathValue("chat"), req.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.ClearHistory(r.PathValue("user"), r.PathValue("store"), r.PathValue("chat"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.DeleteSession(r.PathValue("user"), r.PathValue("store"), r.PathValue("chat"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
