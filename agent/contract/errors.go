package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")

	// Tool failure taxonomy. Precondition, identifier and argument failures
	// are absorbed into corrective model feedback and never shown to the
	// user. ErrExternalService is the only class that reaches the user, and
	// only after the bounded retry is exhausted.
	ErrPreconditionFailed = errors.New("tool precondition not satisfied")
	ErrIdentifierConflict = errors.New("identifier already recorded for session")
	ErrExternalService    = errors.New("external service failure")
	ErrInvalidArguments   = errors.New("invalid tool arguments")
	ErrUnknownTool        = errors.New("unknown tool")

	ErrSessionExpired = errors.New("session checkpoint missing or stale")
	ErrSessionBusy    = errors.New("another turn is in flight for this session")
)
