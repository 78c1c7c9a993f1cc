package payments

import (
	"errors"
	"fmt"
)

var (
	ErrValidationFailed       = errors.New("validation failed")
	ErrRateLimited            = errors.New("rate limited")
	ErrAlreadyPending         = errors.New("payment already pending")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrGatewayRejected        = errors.New("gateway rejected request")
	ErrReconciliationMismatch = errors.New("callback matched no pending payment")
	ErrAssignmentConflict     = errors.New("unit already assigned to another tenant")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
)

// ValidationError names the offending input. It matches ErrValidationFailed.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Msg
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
