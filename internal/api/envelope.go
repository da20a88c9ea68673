package api

import (
	"errors"

	"github.com/memvault/memvault/internal/consent"
	"github.com/memvault/memvault/internal/engine"
	"github.com/memvault/memvault/internal/storage"
)

// Error codes on the wire. INTERNAL_ERROR is the only retryable code.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidArgs          = "INVALID_ARGS"
	CodeConsentDenied        = "CONSENT_DENIED"
	CodePatternNotRecognized = "PATTERN_NOT_RECOGNIZED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Response is the uniform envelope every operation returns: Data on
// success (nil for operations with nothing to report), Error on failure.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// Error carries a stable machine code and a human-readable message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK wraps a payload in a success envelope.
func OK(data interface{}) *Response {
	return &Response{Data: data}
}

// Fail maps an error to its wire code. Sentinels drive the mapping;
// anything unrecognized is INTERNAL_ERROR.
func Fail(err error) *Response {
	return &Response{Error: &Error{Code: codeFor(err), Message: err.Error()}}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, storage.ErrDuplicate):
		return CodeInvalidArgs
	case errors.Is(err, consent.ErrDenied):
		return CodeConsentDenied
	case errors.Is(err, engine.ErrPatternNotRecognized):
		return CodePatternNotRecognized
	default:
		return CodeInternal
	}
}
