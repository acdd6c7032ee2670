package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"arivara/internal/app"
	"arivara/internal/ratelimit"
	"arivara/internal/servicetoken"
	"arivara/internal/usertoken"
	"arivara/internal/util"
	"arivara/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	TokenVerifier              *usertoken.Verifier
	ServiceVerifier            *servicetoken.Verifier
	RedisAddr                  string
	RedisPassword              string
	ResearchRateLimitPerMinute int
	ChatRateLimitPerMinute     int
	TrustedProxyCIDRs          []string
}

// Server exposes the account core over HTTP.
type Server struct {
	app             *app.App
	tokenVerifier   *usertoken.Verifier
	serviceVerifier *servicetoken.Verifier
	mux             *http.ServeMux
	researchLimiter *ratelimit.FixedWindowLimiter
	chatLimiter     *ratelimit.FixedWindowLimiter
	trustedProxies  *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	researchLimit := cfg.ResearchRateLimitPerMinute
	if researchLimit <= 0 {
		researchLimit = 10
	}
	chatLimit := cfg.ChatRateLimitPerMinute
	if chatLimit <= 0 {
		chatLimit = 60
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "arivara:core:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	researchLimiter, err := newLimiter("research", researchLimit)
	if err != nil {
		return nil, err
	}
	chatLimiter, err := newLimiter("chat", chatLimit)
	if err != nil {
		return nil, err
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:             cfg.App,
		tokenVerifier:   cfg.TokenVerifier,
		serviceVerifier: cfg.ServiceVerifier,
		mux:             http.NewServeMux(),
		researchLimiter: researchLimiter,
		chatLimiter:     chatLimiter,
		trustedProxies:  trusted,
	}
	s.routes()
	return s, nil
}

// Router returns the handler with standard middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("core", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// identity provider callback
	s.mux.Handle("/hooks/identity", s.serviceOnly(s.handleIdentityEvent))

	// caller-facing API (auth required)
	s.mux.Handle("/api/account", s.authenticated(s.handleAccount))
	s.mux.Handle("/api/credits", s.authenticated(s.handleCredits))
	s.mux.Handle("/api/credits/transactions", s.authenticated(s.handleTransactions))
	s.mux.Handle("/api/research", s.authenticated(s.handleResearch))
	s.mux.Handle("/api/research/", s.authenticated(s.handleResearchByID))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))
	s.mux.Handle("/api/chats", s.authenticated(s.handleChats))
	s.mux.Handle("/api/chats/", s.authenticated(s.handleChatByID))
	s.mux.Handle("/api/messages/", s.authenticated(s.handleMessageByID))

	// pipeline + operator surface (service token required)
	s.mux.Handle("/internal/research/", s.serviceOnly(s.handleInternalResearch))
	s.mux.Handle("/internal/accounts/", s.serviceOnly(s.handleInternalAccounts))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		accountID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, accountID)
	})
}

func (s *Server) serviceOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.serviceVerifier.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, accountID string) bool {
	key := accountID
	if key == "" {
		key = util.ClientIP(r, s.trustedProxies)
	}
	if limiter.Allow(key) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps core error kinds onto HTTP statuses. Every kind is
// a per-request condition; nothing here is fatal to the process.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid state transition")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrency conflict")
	case errors.Is(err, domain.ErrStorageUnavailable):
		slog.Error("storage unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		slog.Error("unhandled error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func pageParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
