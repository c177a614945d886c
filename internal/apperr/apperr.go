// Package apperr defines the error taxonomy shared by the storage, LLM,
// memory and transport layers.
//
// Every failure that crosses a package boundary is either one of the
// sentinel kinds below or an *Error carrying one, so callers can classify
// with errors.Is and handlers can pick a status code with HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication is returned for a missing, invalid or expired credential
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization is returned when a resource exists but is not owned by the caller
	ErrAuthorization = errors.New("not authorized")
	// ErrNotFound is returned when a resource does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for malformed client input
	ErrInvalid = errors.New("invalid request")
	// ErrConfiguration is returned when a required setting is missing
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider is returned for upstream LLM failures
	ErrProvider = errors.New("provider error")
	// ErrStorage is returned for persistence failures
	ErrStorage = errors.New("storage error")
	// ErrDataIntegrity is returned when persisted data violates an invariant
	ErrDataIntegrity = errors.New("data integrity error")
	// ErrTimeout is returned when a bounded wait elapses
	ErrTimeout = errors.New("timeout")
)

// Error attaches a kind and the failing operation to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// E builds an *Error. A nil cause yields an error that only carries the kind.
func E(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's kind, so errors.Is(err, ErrStorage) holds for a
// wrapped storage failure regardless of the cause.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Storage wraps err as a storage failure. nil stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) || errors.Is(err, ErrNotFound) {
		return err
	}
	return E(ErrStorage, op, err)
}

// HTTPStatus maps an error to the status code reported to HTTP clients.
// Authorization failures are reported as 404 so that foreign resources are
// indistinguishable from missing ones.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to send to clients.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "Could not validate credentials"
	case errors.Is(err, ErrAuthorization), errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrInvalid):
		var ae *Error
		if errors.As(err, &ae) && ae.Err != nil {
			return ae.Err.Error()
		}
		return err.Error()
	case errors.Is(err, ErrTimeout):
		return "Upstream timeout"
	case errors.Is(err, ErrProvider), errors.Is(err, ErrConfiguration):
		return "LLM error: " + err.Error()
	default:
		return "Internal server error"
	}
}
