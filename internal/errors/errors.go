// Package errors provides standardized error handling for the VAM catalog service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the storage and conversion layers.
// Callers test these with errors.Is; the HTTP layer maps them to coded
// responses via FromError.
var (
	ErrInvalidEntity       = errors.New("invalid entity")       // Missing or malformed required field
	ErrConstraintViolation = errors.New("constraint violation") // Duplicate unique key (name or URI)
	ErrStaleWrite          = errors.New("stale write")          // Optimistic lock conflict; re-read and retry
	ErrNotFound            = errors.New("not found")            // Referenced entity absent
	ErrMalformedChecksum   = errors.New("malformed checksum")   // Checksum string failed to decode
	ErrMalformedURI        = errors.New("malformed uri")        // URI string failed to parse
	ErrStorageUnavailable  = errors.New("storage unavailable")  // Transient infrastructure failure
)

// ErrorCode represents a standardized error code for the VAM catalog service.
type ErrorCode string

const (
	// Validation errors
	VAM_INVALID_ENTITY     ErrorCode = "VAM_INVALID_ENTITY"     // Entity validation failed
	VAM_BAD_REQUEST        ErrorCode = "VAM_BAD_REQUEST"        // Bad request
	VAM_MALFORMED_CHECKSUM ErrorCode = "VAM_MALFORMED_CHECKSUM" // Checksum could not be decoded
	VAM_MALFORMED_URI      ErrorCode = "VAM_MALFORMED_URI"      // URI could not be parsed

	// Resource errors
	VAM_NOT_FOUND   ErrorCode = "VAM_NOT_FOUND"   // Resource not found
	VAM_CONFLICT    ErrorCode = "VAM_CONFLICT"    // Duplicate unique key
	VAM_STALE_WRITE ErrorCode = "VAM_STALE_WRITE" // Another writer committed first

	// Server errors
	VAM_INTERNAL    ErrorCode = "VAM_INTERNAL"    // Internal server error
	VAM_UNAVAILABLE ErrorCode = "VAM_UNAVAILABLE" // Storage or service unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// FromError maps a sentinel error from the storage or conversion layers to a
// coded Error suitable for an HTTP response.
func FromError(err error, correlationID string) *Error {
	switch {
	case errors.Is(err, ErrInvalidEntity):
		return New(VAM_INVALID_ENTITY, err.Error(), correlationID)
	case errors.Is(err, ErrConstraintViolation):
		return New(VAM_CONFLICT, err.Error(), correlationID)
	case errors.Is(err, ErrStaleWrite):
		return New(VAM_STALE_WRITE, err.Error(), correlationID)
	case errors.Is(err, ErrNotFound):
		return New(VAM_NOT_FOUND, err.Error(), correlationID)
	case errors.Is(err, ErrMalformedChecksum):
		return New(VAM_MALFORMED_CHECKSUM, err.Error(), correlationID)
	case errors.Is(err, ErrMalformedURI):
		return New(VAM_MALFORMED_URI, err.Error(), correlationID)
	case errors.Is(err, ErrStorageUnavailable):
		return New(VAM_UNAVAILABLE, err.Error(), correlationID)
	default:
		return New(VAM_INTERNAL, "internal error", correlationID)
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case VAM_INVALID_ENTITY, VAM_BAD_REQUEST, VAM_MALFORMED_CHECKSUM, VAM_MALFORMED_URI:
		return http.StatusBadRequest
	case VAM_NOT_FOUND:
		return http.StatusNotFound
	case VAM_CONFLICT, VAM_STALE_WRITE:
		return http.StatusConflict
	case VAM_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
