package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
)

type reconcileKicker interface {
	Kick()
}

type WebhookHandler struct {
	token      string
	reconciler reconcileKicker
	responder  responder
	logger     *slog.Logger
}

func NewWebhookHandler(token string, reconciler reconcileKicker, logger *slog.Logger) *WebhookHandler {
	base := defaultLogger(logger)
	return &WebhookHandler{token: token, reconciler: reconciler, responder: newResponder(base), logger: base}
}

func (h *WebhookHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "WebhookHandler", operation, attrs...)
}

// Google pushes change notifications to the channel address registered at
// watch time; the payload carries headers only, so a notification just
// schedules a reconciliation pass.
func (h *WebhookHandler) Google(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciler == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	got := r.Header.Get("X-Goog-Channel-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		h.log(r.Context(), "Google", "error_kind", "bad_token").ErrorContext(r.Context(), "webhook token mismatch")
		h.responder.writeError(r.Context(), w, http.StatusForbidden, errors.New("invalid channel token"))
		return
	}

	// sync messages confirm channel creation and carry no changes.
	if state := r.Header.Get("X-Goog-Resource-State"); state == "sync" {
		h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
		return
	}

	h.reconciler.Kick()
	h.log(r.Context(), "Google",
		"channel_id", r.Header.Get("X-Goog-Channel-ID"),
		"resource_state", r.Header.Get("X-Goog-Resource-State"),
	).InfoContext(r.Context(), "reconciliation kicked")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}
