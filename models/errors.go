package models

import "errors"

// Error taxonomy shared by the server packages. Wrap with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	// ErrValidation marks bad or missing input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown user.
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks a failure of the completion service.
	ErrUpstream = errors.New("upstream error")
	// ErrPersistence marks a storage read or write failure.
	ErrPersistence = errors.New("persistence error")
)
