package client

import "errors"

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("invalid request")

// ErrUpstream matches every *UpstreamError.
var ErrUpstream = errors.New("upstream request failed")

// ValidationError reports a missing required query parameter. It is raised
// before any network call.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validation failures of the car catalog queries.
var (
	ErrMissingMake  = &ValidationError{Field: "make"}
	ErrMissingModel = &ValidationError{Field: "model"}
)

// UpstreamError is the caller-facing form of any car API failure. Its
// message never includes upstream bodies or transport detail; the cause is
// kept for errors.Is/As classification only.
type UpstreamError struct {
	Resource   string // "makes", "models" or "years"
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	return "failed to fetch car " + e.Resource
}

// Is makes errors.Is(err, ErrUpstream) hold.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
