// Package server provides the local HTTP API that GUI workers use to drive
// the acquisition engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/mp-harvester/internal/acquire"
	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/session"
)

// StatusClientClosedRequest is reported when the caller went away.
const StatusClientClosedRequest = 499

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		authErr    *session.AuthError
		transient  *fetch.TransientError
		client     *fetch.ClientError
	)
	switch {
	case errors.As(err, &validation), errors.Is(err, acquire.ErrNotArticle):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, session.ErrCredentialRejected),
		errors.Is(err, fetch.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, acquire.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAuthTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.As(err, &authErr), errors.As(err, &client):
		return http.StatusBadGateway
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
