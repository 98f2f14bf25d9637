package experiment

import "errors"

// Sentinel errors shared by the store, engine and transport layers.
// Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrNotFound is returned when an experiment or one of its variants does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidExperimentState is returned when an experiment cannot be used for
	// bucketing (no variants or a non-positive total weight).
	ErrInvalidExperimentState = errors.New("invalid experiment state")

	// ErrUnauthenticated is returned when no caller identity could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotAuthorized is returned when the caller is identified but lacks the required privilege.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidArgument is returned for malformed input such as an unknown event type.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when creating an experiment whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
)
