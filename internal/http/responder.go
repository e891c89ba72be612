package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/contract-scheduler/internal/application"
	"github.com/example/contract-scheduler/internal/availability"
	"github.com/example/contract-scheduler/internal/credential"
)

var (
	errBadRequestBody    = errors.New("invalid request body")
	errInvalidMeetingID  = errors.New("invalid meeting id")
	errInvalidContractID = errors.New("invalid contract id")
	errInvalidUserID     = errors.New("invalid user id")
	errInvalidWindow     = errors.New("from and to must be RFC 3339 timestamps with from before to")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	switch {
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "the requested resource was not found"})
	case errors.Is(err, application.ErrInvalidSlot):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "INVALID_SLOT",
			Message:   "the chosen slot is not one of the meeting's candidate slots",
		})
	case errors.Is(err, application.ErrInvalidTransition):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "the operation is not valid for the meeting's current status",
		})
	case errors.Is(err, application.ErrContractInactive):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "CONTRACT_INACTIVE",
			Message:   "the contract is not active",
		})
	case errors.Is(err, credential.ErrNotConnected):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "CALENDAR_NOT_CONNECTED",
			Message:   "the participant has not connected a calendar",
		})
	case errors.Is(err, credential.ErrRevoked):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "CREDENTIAL_REVOKED",
			Message:   "calendar access was revoked; the participant must reconnect their calendar",
		})
	case errors.Is(err, credential.ErrTransient), errors.Is(err, availability.ErrCalendarUnavailable):
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "CALENDAR_UNAVAILABLE",
			Message:   "the external calendar is temporarily unavailable; please retry",
		})
	default:
		var vErr *application.ValidationError
		if errors.As(err, &vErr) {
			r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
				Message: "the request is invalid",
				Errors:  vErr.FieldErrors,
			})
			return
		}

		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
