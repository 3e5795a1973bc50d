package models

import "errors"

// Error kinds shared by the experiment packages. Callers wrap them with
// fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrValidation is returned for malformed input: bad names, codes,
	// out-of-bounds values or a decision for the wrong phase or role.
	ErrValidation = errors.New("validation error")

	// ErrPrecondition is returned when the session is in the wrong state
	// for the request.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound is returned for unknown sessions or participants.
	ErrNotFound = errors.New("not found")

	// ErrInternal marks failures of collaborators. It never reaches users.
	ErrInternal = errors.New("internal error")
)
