package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/contract-scheduler/internal/application"
	"github.com/example/contract-scheduler/internal/interval"
)

type availabilityResolver interface {
	Resolve(ctx context.Context, userID string, window interval.Window) ([]interval.BusyInterval, error)
}

type AvailabilityHandler struct {
	resolver  availabilityResolver
	responder responder
	logger    *slog.Logger
}

func NewAvailabilityHandler(resolver availabilityResolver, logger *slog.Logger) *AvailabilityHandler {
	base := defaultLogger(logger)
	return &AvailabilityHandler{resolver: resolver, responder: newResponder(base), logger: base}
}

func (h *AvailabilityHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AvailabilityHandler", operation, attrs...)
}

// Resolve returns the merged busy timeline for one user over the requested
// window.
func (h *AvailabilityHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.resolver == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	from, to, err := parseWindow(r, true)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "Resolve", "user_id", userID)
	busy, err := h.resolver.Resolve(r.Context(), userID, interval.Window{From: *from, To: *to})
	if err != nil {
		logger.ErrorContext(r.Context(), "availability resolution failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("busy_count", len(busy)).InfoContext(r.Context(), "availability resolved")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, availabilityResponse{
		UserID: userID,
		Busy:   toBusyIntervalDTOs(busy),
	})
}

type busyIntervalDTO struct {
	Slot      slotDTO `json:"slot"`
	Source    string  `json:"source"`
	MeetingID string  `json:"meeting_id,omitempty"`
	EventID   string  `json:"event_id,omitempty"`
	Summary   string  `json:"summary,omitempty"`
}

func toBusyIntervalDTOs(busy []interval.BusyInterval) []busyIntervalDTO {
	if len(busy) == 0 {
		return nil
	}
	out := make([]busyIntervalDTO, 0, len(busy))
	for _, b := range busy {
		out = append(out, busyIntervalDTO{
			Slot:      toSlotDTO(b.Slot),
			Source:    string(b.Source),
			MeetingID: b.MeetingID,
			EventID:   b.EventID,
			Summary:   b.Summary,
		})
	}
	return out
}

type availabilityResponse struct {
	UserID string            `json:"user_id"`
	Busy   []busyIntervalDTO `json:"busy"`
}
