package manager

import (
	"errors"
	"fmt"
)

// Kind is the failure category of a lifecycle operation. Transport status
// codes are assigned once at the API boundary, never here.
type Kind string

const (
	// Input errors: no retry, no side effects
	KindInvalidInput      Kind = "invalid_input"
	KindChallengeNotFound Kind = "challenge_not_found"
	KindInstanceNotFound  Kind = "instance_not_found"

	// Conflict errors: actionable guidance, no automatic resolution
	KindOtherInstanceActive Kind = "other_instance_active"

	// Runtime errors: surfaced coarsely, logged in detail
	KindRuntimeUnavailable Kind = "runtime_unavailable"
	KindCreationFailed     Kind = "creation_failed"
	KindPortUnavailable    Kind = "port_unavailable"
	KindDestroyFailed      Kind = "destroy_failed"

	// Persistence errors: may imply a leaked engine container
	KindPersistFailed Kind = "persist_failed"

	KindInternal Kind = "internal"
)

// Failure is the single error type lifecycle operations return. Message is
// the coarse, user-visible text; Err carries the operator detail; Conflict
// names the challenge whose instance blocks the request, when applicable.
type Failure struct {
	Kind     Kind
	Message  string
	Conflict string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(kind Kind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}

// AsFailure extracts the typed failure from an operation error
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
