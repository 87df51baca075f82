package jobs

import "errors"

var (
	// ErrNotFound indicates no job exists with the given id.
	ErrNotFound = errors.New("job_not_found")
	// ErrAccessDenied indicates the job exists but belongs to another identity.
	ErrAccessDenied = errors.New("access_denied")
	// ErrInvalidTransition indicates a state-machine edge that does not exist.
	ErrInvalidTransition = errors.New("invalid_transition")
	// ErrAlreadyTerminal indicates a second terminal transition on the same job.
	ErrAlreadyTerminal = errors.New("already_terminal")
)
