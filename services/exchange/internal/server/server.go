package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"livre2main/internal/usertoken"
	"livre2main/internal/util"
	"livre2main/pkg/domain"
	"livre2main/services/exchange/internal/app"
)

// Limiter bounds how often a key may perform an action.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier
	// ProposalLimiter throttles proposal creation per user; nil disables it.
	ProposalLimiter Limiter
	// AuthFailureLimiter throttles rejected credentials per client IP; nil disables it.
	AuthFailureLimiter Limiter
	TrustedProxies     *util.TrustedProxies
}

// Server exposes HTTP endpoints for the exchange service.
type Server struct {
	app                *app.App
	tokenVerifier      *usertoken.Verifier
	proposalLimiter    Limiter
	authFailureLimiter Limiter
	trustedProxies     *util.TrustedProxies
	mux                *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	s := &Server{
		app:                cfg.App,
		tokenVerifier:      cfg.TokenVerifier,
		proposalLimiter:    cfg.ProposalLimiter,
		authFailureLimiter: cfg.AuthFailureLimiter,
		trustedProxies:     cfg.TrustedProxies,
		mux:                http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("exchange", s.trustedProxies, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// loans and proposals
	s.mux.Handle("/emprunts", s.withUser(s.handleEmprunts))
	s.mux.Handle("/emprunts/", s.withUser(s.handleEmpruntPath))

	// messaging
	s.mux.Handle("/messages", s.withUser(s.handleMessages))
	s.mux.Handle("/messages/", s.withUser(s.handleMessagePath))

	// premium
	s.mux.Handle("/users/payment-token", s.withUser(s.handlePaymentToken))
	s.mux.Handle("/users/upgrade-premium", s.withUser(s.handleUpgradePremium))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Error("healthz store ping failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.unauthorized(w, r)
			return
		}
		email, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			s.unauthorized(w, r)
			return
		}
		user, found, err := s.app.UserByEmail(r.Context(), email)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if !found {
			s.unauthorized(w, r)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

// unauthorized counts a rejected credential against the caller IP and answers
// 401, or 429 once that IP is over its failure budget.
func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request) {
	if s.authFailureLimiter != nil {
		ip := util.ClientIP(r, s.trustedProxies)
		if !s.authFailureLimiter.Allow(r.Context(), "auth:"+ip) {
			util.LoggerFromContext(r.Context()).Warn("auth_failures_throttled", "client_ip", ip)
			writeError(w, http.StatusTooManyRequests, "too many failed authentication attempts")
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func (s *Server) handleEmprunts(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createLoanRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	loan, err := s.app.CreateLoan(r.Context(), user, app.CreateLoanRequest{
		UserID1: req.UserID1,
		UserID2: req.UserID2,
		BookID:  req.BookID,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// /emprunts/{action}, /emprunts/{side}/{user_id} or /emprunts/{id}
func (s *Server) handleEmpruntPath(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/emprunts/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		side, ok := loanSides[parts[0]]
		if !ok || parts[1] == "" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleListLoans(w, r, user, parts[1], side)
		return
	}

	switch parts[0] {
	case "propose-exchange":
		s.handlePropose(w, r, user, false)
	case "propose-book-exchange":
		s.handlePropose(w, r, user, true)
	case "conversation-limit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit, err := s.app.ConversationLimit(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, limit)
	default:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		loan, err := s.app.GetLoan(r.Context(), user, parts[0])
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	}
}

var loanSides = map[string]app.LoanRole{
	"user":       app.LoanAnySide,
	"emprunteur": app.LoanBorrower,
	"emprunter":  app.LoanLender,
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request, user domain.User, userID string, side app.LoanRole) {
	loans, err := s.app.ListLoans(r.Context(), user, userID, side)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": loans,
		"count": len(loans),
	})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request, user domain.User, bookExchange bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.proposalLimiter != nil && !s.proposalLimiter.Allow(r.Context(), "proposal:"+user.ID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var (
		receipt app.ProposalReceipt
		err     error
	)
	if bookExchange {
		var req bookProposalRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		receipt, err = s.app.ProposeBookExchange(r.Context(), user, app.ProposeRequest{
			TargetUserID: req.TargetUserID,
			BookID:       req.BookID,
			BookTitle:    req.BookTitle,
		})
	} else {
		var req proposalRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		receipt, err = s.app.ProposeExchange(r.Context(), user, app.ProposeRequest{
			TargetUserID: req.TargetUserID,
			BookID:       req.BookID,
			BookTitle:    req.BookTitle,
		})
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sendMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	msg, err := s.app.SendMessage(r.Context(), user, req.EmpruntID, req.Text)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// /messages/conversations, /messages/unread/count, /messages/emprunt/{id},
// /messages/{id}/read or /messages/proposal/{id}/respond
func (s *Server) handleMessagePath(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/messages/"), "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] == "conversations":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		list, err := s.app.ListConversations(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case len(parts) == 2 && parts[0] == "unread" && parts[1] == "count":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		count, err := s.app.UnreadCount(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
	case len(parts) == 2 && parts[0] == "emprunt" && parts[1] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		msgs, err := s.app.ThreadMessages(r.Context(), user, parts[1])
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	case len(parts) == 2 && parts[1] == "read" && parts[0] != "":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		msg, err := s.app.MarkMessageRead(r.Context(), user, parts[0])
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	case len(parts) == 3 && parts[0] == "proposal" && parts[2] == "respond" && parts[1] != "":
		s.handleRespond(w, r, user, parts[1])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request, user domain.User, messageID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req respondRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res, err := s.app.RespondToProposal(r.Context(), user, app.RespondRequest{
		MessageID:         messageID,
		Decision:          req.Response,
		SelectedBookID:    req.SelectedBookID,
		SelectedBookTitle: req.SelectedBookTitle,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePaymentToken(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, err := s.app.IssuePaymentToken(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleUpgradePremium(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req upgradeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	updated, err := s.app.UpgradePremium(r.Context(), user, req.PaymentToken)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// writeAppError maps application error kinds to HTTP statuses.
// Anything without a kind is logged and reported as a generic 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, app.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, app.ErrQuotaExceeded):
		status = http.StatusPaymentRequired
	case errors.Is(err, app.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	}
	msg := app.UserMessage(err)
	if status == http.StatusInternalServerError || msg == "" {
		util.LoggerFromContext(r.Context()).Error("exchange request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "EXCHANGE_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusPaymentRequired:
		return "EXCHANGE_QUOTA_EXCEEDED"
	case http.StatusForbidden:
		return "EXCHANGE_FORBIDDEN"
	case http.StatusNotFound:
		return "EXCHANGE_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "EXCHANGE_CONFLICT"
	case http.StatusUnprocessableEntity:
		return "EXCHANGE_INVALID_STATE"
	case http.StatusTooManyRequests:
		return "EXCHANGE_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
