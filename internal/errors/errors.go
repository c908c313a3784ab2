package errors

import (
	"errors"
)

// Common error types for the trust & session core
var (
	// Credential errors. Unknown login and wrong secret both collapse to
	// ErrInvalidCredential at the boundary so callers cannot probe for
	// registered identifiers.
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrLoginTaken        = errors.New("login already registered")
	ErrWeakSecret        = errors.New("secret does not meet policy")

	// Principal errors
	ErrPrincipalNotFound = errors.New("principal not found")

	// Session errors. ErrSessionExpired is internal detail only; the
	// external surface reports it identically to ErrSessionNotFound.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrTokenExists     = errors.New("session token already exists")

	// Mutation errors
	ErrVersionConflict = errors.New("version conflict")
	ErrCsrfMismatch    = errors.New("csrf token mismatch")

	// General errors
	ErrNotFound = errors.New("not found")
)
