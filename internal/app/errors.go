package app

import "errors"

var (
	// ErrUnauthorized indicates no authenticated identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller lacks project access.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput indicates malformed or out-of-range input.
	ErrInvalidInput = errors.New("invalid input")

	ErrUserNotFound    = errors.New("user not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrTaskNotFound    = errors.New("task not found")

	// ErrTaskProtected rejects deletion of AI-generated tasks. Enforced at
	// the service boundary, not just in the client.
	ErrTaskProtected = errors.New("ai-generated tasks cannot be deleted")
	// ErrDependencyCycle rejects dependency or parent edges that would
	// close a cycle.
	ErrDependencyCycle = errors.New("dependency would create a cycle")
)
