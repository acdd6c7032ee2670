package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"arivara/pkg/domain"
)

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, accountID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Heading string `json:"heading"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		thread, err := s.app.CreateThread(accountID, req.Heading)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, thread)
	case http.MethodGet:
		limit, offset := pageParams(r)
		threads, err := s.app.ListThreads(accountID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
	default:
		methodNotAllowed(w)
	}
}

// /api/chats/{id} or /api/chats/{id}/messages
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, accountID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "messages" {
			http.NotFound(w, r)
			return
		}
		s.handleThreadMessages(w, r, accountID, id)
		return
	}
	switch r.Method {
	case http.MethodGet:
		thread, err := s.app.Thread(accountID, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	case http.MethodPatch:
		var req struct {
			Heading string `json:"heading"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		thread, err := s.app.UpdateHeading(accountID, id, req.Heading)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	case http.MethodDelete:
		if err := s.app.DeleteThread(accountID, id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request, accountID, threadID string) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowRate(w, r, s.chatLimiter, accountID) {
			return
		}
		var req struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			ImageURLs []string       `json:"imageUrls"`
			Metadata  map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.AppendMessage(r.Context(), accountID, threadID, domain.MessageRole(req.Role), req.Content, req.ImageURLs, req.Metadata)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	case http.MethodGet:
		limit, offset := pageParams(r)
		msgs, err := s.app.ListMessages(accountID, threadID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	default:
		methodNotAllowed(w)
	}
}

// /api/messages/{id}/metadata
func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request, accountID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "metadata" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.EnrichMessageMetadata(accountID, parts[0], req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
