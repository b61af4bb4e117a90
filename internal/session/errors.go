package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthTimeout is returned when an interactive login does not complete
	// before the login timeout.
	ErrAuthTimeout = errors.New("login timed out")
	// ErrNotLoggedIn is returned when no session or stored credential exists.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrCredentialRejected is returned by a Verifier when the platform no
	// longer accepts a credential.
	ErrCredentialRejected = errors.New("credential rejected")
)

// AuthError represents a failed login attempt.
type AuthError struct {
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error: %s", e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}
