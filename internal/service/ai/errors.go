package ai

import (
	"errors"
	"fmt"
)

// ContentError means the model answered but the answer is not a usable
// diagnosis: it was not JSON, violated the schema, or the model rejected the
// input with {"error": "..."}. Retrying does not help.
type ContentError struct {
	Reason   string
	Raw      string
	Rejected bool
	Err      error
}

func (e *ContentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ContentError) Unwrap() error { return e.Err }

// ServiceError means the model could not be reached or refused the call.
// Transient causes have already been retried when it is returned.
type ServiceError struct {
	Attempts int
	Status   int
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model call failed after %d attempt(s) with status %d: %v", e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("model call failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func IsContentError(err error) bool {
	var ce *ContentError
	return errors.As(err, &ce)
}
