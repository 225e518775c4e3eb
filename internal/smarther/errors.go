package smarther

import "errors"

// Domain-specific errors for cloud API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnauthorized is returned when the platform rejects the credential.
	ErrUnauthorized = errors.New("smarther: unauthorized")

	// ErrRequestFailed is returned when the platform answers with a
	// non-success status.
	ErrRequestFailed = errors.New("smarther: request failed")

	// ErrInvalidRequest is returned for a status-change request the
	// platform cannot execute.
	ErrInvalidRequest = errors.New("smarther: invalid status request")
)
