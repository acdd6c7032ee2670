package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request, accountID string) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowRate(w, r, s.researchLimiter, accountID) {
			return
		}
		var req struct {
			Query      string `json:"query"`
			ReportType string `json:"reportType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		job, err := s.app.CreateJob(r.Context(), accountID, req.Query, req.ReportType)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	case http.MethodGet:
		limit, offset := pageParams(r)
		jobs, err := s.app.ListJobs(accountID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	default:
		methodNotAllowed(w)
	}
}

// /api/research/{id} or /api/research/{id}/documents
func (s *Server) handleResearchByID(w http.ResponseWriter, r *http.Request, accountID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/research/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "documents" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		docs, err := s.app.ListDocuments(accountID, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.Job(accountID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// /api/documents/{id} or /api/documents/{id}/download
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, accountID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "download" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		url, err := s.app.DocumentURL(r.Context(), accountID, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteDocument(r.Context(), accountID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
