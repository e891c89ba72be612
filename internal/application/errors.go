package application

import "errors"

var (
	// ErrNotFound is returned when the requested meeting does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidSlot is returned when a chosen slot is not one of the
	// meeting's candidate slots.
	ErrInvalidSlot = errors.New("application: slot is not a candidate")
	// ErrInvalidTransition is returned when an operation is not valid for the
	// meeting's current status.
	ErrInvalidTransition = errors.New("application: invalid status transition")
	// ErrContractInactive is returned when proposing a meeting for a contract
	// that is not active.
	ErrContractInactive = errors.New("application: contract is not active")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
