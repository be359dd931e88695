package ledger

import "errors"

// Errors returned by the ledger service. Callers match them with errors.Is;
// returned errors wrap them with context.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
)
