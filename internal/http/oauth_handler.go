package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/example/contract-scheduler/internal/persistence"
)

type credentialExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, userID, code string) (persistence.CalendarCredential, error)
}

// stateTTL bounds how long an issued consent state stays redeemable.
const stateTTL = 10 * time.Minute

type oauthState struct {
	userID    string
	expiresAt time.Time
}

type OAuthHandler struct {
	store       credentialExchanger
	idGenerator func() string
	now         func() time.Time
	responder   responder
	logger      *slog.Logger

	mu     sync.Mutex
	states map[string]oauthState
}

func NewOAuthHandler(store credentialExchanger, idGenerator func() string, now func() time.Time, logger *slog.Logger) *OAuthHandler {
	base := defaultLogger(logger)
	if now == nil {
		now = time.Now
	}
	return &OAuthHandler{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		responder:   newResponder(base),
		logger:      base,
		states:      make(map[string]oauthState),
	}
}

func (h *OAuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "OAuthHandler", operation, attrs...)
}

// AuthorizeURL issues a single-use state bound to the user and returns the
// provider consent URL the client should redirect to.
func (h *OAuthHandler) AuthorizeURL(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil || h.idGenerator == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	state := h.idGenerator()
	h.mu.Lock()
	h.pruneLocked()
	h.states[state] = oauthState{userID: userID, expiresAt: h.now().Add(stateTTL)}
	h.mu.Unlock()

	h.log(r.Context(), "AuthorizeURL", "user_id", userID).InfoContext(r.Context(), "issued consent state")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, authorizeURLResponse{URL: h.store.AuthCodeURL(state)})
}

// Callback redeems the state issued by AuthorizeURL and exchanges the
// authorization code for a stored credential.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	if reason := strings.TrimSpace(query.Get("error")); reason != "" {
		h.log(r.Context(), "Callback", "error_kind", "consent_denied").ErrorContext(r.Context(), "consent was denied", "reason", reason)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New("consent was denied"))
		return
	}

	state := strings.TrimSpace(query.Get("state"))
	code := strings.TrimSpace(query.Get("code"))
	if state == "" || code == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New("state and code are required"))
		return
	}

	userID, ok := h.redeemState(state)
	if !ok {
		h.log(r.Context(), "Callback", "error_kind", "bad_state").ErrorContext(r.Context(), "unknown or expired consent state")
		h.responder.writeError(r.Context(), w, http.StatusForbidden, errors.New("unknown or expired state"))
		return
	}

	logger := h.log(r.Context(), "Callback", "user_id", userID)
	cred, err := h.store.Exchange(r.Context(), userID, code)
	if err != nil {
		logger.ErrorContext(r.Context(), "code exchange failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("provider_account", cred.ProviderAccount).InfoContext(r.Context(), "calendar connected")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, callbackResponse{
		UserID:          cred.UserID,
		ProviderAccount: cred.ProviderAccount,
	})
}

// redeemState consumes a state entry. States are single use: a second
// callback with the same state fails even inside the TTL.
func (h *OAuthHandler) redeemState(state string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.states[state]
	if !ok {
		return "", false
	}
	delete(h.states, state)
	if h.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.userID, true
}

func (h *OAuthHandler) pruneLocked() {
	now := h.now()
	for state, entry := range h.states {
		if now.After(entry.expiresAt) {
			delete(h.states, state)
		}
	}
}

type authorizeURLResponse struct {
	URL string `json:"url"`
}

type callbackResponse struct {
	UserID          string `json:"user_id"`
	ProviderAccount string `json:"provider_account"`
}
