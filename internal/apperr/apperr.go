// Package apperr provides the error taxonomy shared by the generation core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code. Failed episodes persist it as their
// reason.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Generation output
	CodeSchemaInvalid        Code = "SCHEMA_INVALID"
	CodeModerationRegenerate Code = "MODERATION_REGENERATE"
	CodeModerationEscalate   Code = "MODERATION_ESCALATE"

	// External collaborators
	CodeExternalTimeout     Code = "EXTERNAL_TIMEOUT"
	CodeExternalUnavailable Code = "EXTERNAL_UNAVAILABLE"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeBudgetExceeded      Code = "BUDGET_EXCEEDED"

	// Graph state
	CodeCanonConflict    Code = "CANON_CONFLICT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeNotActive        Code = "NOT_ACTIVE"
	CodeSequenceConflict Code = "SEQUENCE_CONFLICT"

	// Storylets
	CodeNoEligibleStorylet Code = "NO_ELIGIBLE_STORYLET"

	// Pipeline
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeCancelled         Code = "CANCELLED"
	CodeInternal          Code = "INTERNAL"
)

// Error is a domain error carrying a Code.
type Error struct {
	Code     Code
	Message  string
	Err      error
	Metadata map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error. A nil err yields nil.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithMeta returns a copy of e with the key/value added to its metadata.
func (e *Error) WithMeta(key, value string) *Error {
	cp := *e
	cp.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata[key] = value
	return &cp
}

// GetCode extracts the code from any error.
// Returns CodeUnknown if the error chain carries no *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// Retryable reports whether a stage may be re-attempted after this code.
func Retryable(code Code) bool {
	switch code {
	case CodeSchemaInvalid, CodeModerationRegenerate, CodeExternalTimeout,
		CodeExternalUnavailable, CodeRateLimited, CodeSequenceConflict:
		return true
	default:
		return false
	}
}

// HTTPStatus maps codes to transport status codes.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotActive, CodeCanonConflict, CodeInvalidTransition:
		return http.StatusConflict
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeRateLimited, CodeBudgetExceeded:
		return http.StatusTooManyRequests
	case CodeExternalTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage is the text surfaced to end users. Internal detail never leaks.
func UserMessage(code Code) string {
	switch code {
	case CodeNotFound:
		return "We couldn't find that hero."
	case CodeNotActive:
		return "This hero isn't active yet."
	case CodeCanonConflict:
		return "That event contradicts the current world."
	case CodeInvalidArgument:
		return "The request was invalid."
	default:
		return "Something went wrong generating today's episode. Please try again."
	}
}
