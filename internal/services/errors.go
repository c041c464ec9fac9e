package services

import "errors"

var (
	// ErrInvalidRequest is returned synchronously by the dispatcher when a
	// caller provides no required sources. Zero-source queries belong on the
	// direct-answer path, never in the ledger.
	ErrInvalidRequest = errors.New("invalid request: at least one required source needed")

	// ErrUnknownRequest is returned when a result arrives for a correlation
	// id with no ledger entry (expired or never created). Callers log and
	// discard; this is never an escalation.
	ErrUnknownRequest = errors.New("unknown correlation id")
)
