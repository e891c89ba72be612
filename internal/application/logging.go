package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/contract-scheduler/internal/availability"
	"github.com/example/contract-scheduler/internal/credential"
	"github.com/example/contract-scheduler/internal/logging"
)

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidSlot):
		return "invalid_slot"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrContractInactive):
		return "contract_inactive"
	case errors.Is(err, credential.ErrNotConnected):
		return "calendar_not_connected"
	case errors.Is(err, credential.ErrRevoked):
		return "credential_revoked"
	case errors.Is(err, credential.ErrTransient):
		return "credential_transient"
	case errors.Is(err, availability.ErrCalendarUnavailable):
		return "calendar_unavailable"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
