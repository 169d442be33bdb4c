package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/audiolibrelab/shabadfinder/internal/validate"
)

// NetworkError wraps transport failures: DNS, refused connections, timeouts.
type NetworkError struct {
	Service string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-2xx response without a more specific meaning.
type HTTPStatusError struct {
	Service string
	Code    int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Service, e.Code)
}

// NotFoundError is a 404 from the content service.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("shabad %s not found", e.ID)
}

// AccessDeniedError is a 403.
type AccessDeniedError struct {
	Service string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("%s denied access (HTTP 403)", e.Service)
}

// ShapeError is a response that decoded but failed validation.
type ShapeError struct {
	Service string
	Errors  []string
}

func (e *ShapeError) Error() string {
	return validate.Format(e.Service, e.Errors)
}

// MissingCredentialError is returned before any network call when the
// generative service key is not configured.
type MissingCredentialError struct {
	Service string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s API key not provided", e.Service)
}

// Outcome classifies an error into a metrics label.
func Outcome(err error) string {
	var (
		network  *NetworkError
		status   *HTTPStatusError
		notFound *NotFoundError
		denied   *AccessDeniedError
		shape    *ShapeError
		missing  *MissingCredentialError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &denied):
		return "access_denied"
	case errors.As(err, &status):
		return "http_error"
	case errors.As(err, &shape):
		return "invalid_response"
	case errors.As(err, &missing):
		return "missing_credential"
	case errors.As(err, &network):
		return "network_error"
	default:
		return "error"
	}
}
