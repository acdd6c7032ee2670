package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"arivara/pkg/domain"
)

// handleIdentityEvent consumes the identity provider's webhook. Creating an
// account here is the only account-creation path; a duplicate event for an
// existing account is a no-op.
func (s *Server) handleIdentityEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var event struct {
		Type   string `json:"type"`
		Record struct {
			ID       string `json:"id"`
			Email    string `json:"email"`
			FullName string `json:"fullName"`
		} `json:"record"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch event.Type {
	case "user.created":
		account, err := s.app.ProvisionAccount(event.Record.ID, event.Record.Email, event.Record.FullName)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	case "user.deleted":
		if err := s.app.RetireIdentity(event.Record.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusBadRequest, "unknown event type")
	}
}

// /internal/research/{id}/complete, /internal/research/{id}/fail,
// /internal/research/{id}/documents — the pipeline's synchronous surface.
func (s *Server) handleInternalResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/internal/research/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	jobID := parts[0]
	switch parts[1] {
	case "complete":
		var req struct {
			CreditsUsed   int            `json:"creditsUsed"`
			ResultSummary string         `json:"resultSummary"`
			TokenUsage    map[string]any `json:"tokenUsage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		job, err := s.app.CompleteJob(jobID, req.CreditsUsed, req.ResultSummary, req.TokenUsage)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case "fail":
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		job, err := s.app.FailJob(jobID, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case "documents":
		var req struct {
			FileName string `json:"fileName"`
			FilePath string `json:"filePath"`
			FileType string `json:"fileType"`
			FileSize int64  `json:"fileSize"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		doc, err := s.app.AttachDocument(jobID, req.FileName, req.FilePath, domain.FileType(req.FileType), req.FileSize)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	default:
		http.NotFound(w, r)
	}
}

// /internal/accounts/{id}/credits — operator top-ups and grants.
func (s *Server) handleInternalAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/internal/accounts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "credits" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Amount      int    `json:"amount"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry, err := s.app.GrantCredits(parts[0], req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
