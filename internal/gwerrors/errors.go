// Package gwerrors defines the gateway's domain error taxonomy (spec §7)
// and the JSON envelope handlers return it as.
package gwerrors

import (
	"fmt"
	"net/http"
)

// Code is one of the fixed domain error codes from spec.md §7.
type Code string

const (
	CodeAccessDenied      Code = "AccessDenied"
	CodeNotFound          Code = "NotFound"
	CodeValidation        Code = "Validation"
	CodeDuplicateKey      Code = "DuplicateKey"
	CodeUserAlreadyExist  Code = "UserAlreadyExist"
	CodeUserAlreadyInProj Code = "UserAlreadyInProject"
	CodeNoServerAvailable Code = "NoServerAvailable"
	CodeInternal          Code = "InternalError"
)

var statusByCode = map[Code]int{
	CodeAccessDenied:      http.StatusForbidden,
	CodeNotFound:          http.StatusNotFound,
	CodeValidation:        http.StatusUnprocessableEntity,
	CodeDuplicateKey:      http.StatusBadRequest,
	CodeUserAlreadyExist:  http.StatusBadRequest,
	CodeUserAlreadyInProj: http.StatusBadRequest,
	CodeNoServerAvailable: http.StatusServiceUnavailable,
	CodeInternal:          http.StatusInternalServerError,
}

// Error is the gateway's single domain error type. Handlers never return a
// bare error down the gin chain; they either wrap it with one of the
// constructors below or pass it to the HTTP layer's fail helper, which
// folds it into CodeInternal.
type Error struct {
	Code         Code
	Message      string
	Keys         map[string]any // offending key set, for DuplicateKey
	statusOverride int
	cause        error
}

// WithStatus overrides the HTTP status this error maps to. Used for the
// JWT login path, which spec §4.6.2 calls out as 401 rather than the
// taxonomy's default 403 for AccessDenied.
func (e *Error) WithStatus(status int) *Error {
	e.statusOverride = status
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error.
func (e *Error) Status() int {
	if e.statusOverride != 0 {
		return e.statusOverride
	}
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newErr(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func AccessDenied(message string) *Error { return newErr(CodeAccessDenied, message) }
func NotFound(message string) *Error     { return newErr(CodeNotFound, message) }
func Validation(message string) *Error   { return newErr(CodeValidation, message) }

func DuplicateKey(keys map[string]any) *Error {
	e := newErr(CodeDuplicateKey, "duplicate key")
	e.Keys = keys
	return e
}

func UserAlreadyExist(username string) *Error {
	return newErr(CodeUserAlreadyExist, fmt.Sprintf("user %q already exists", username))
}

func UserAlreadyInProject(username, project string) *Error {
	return newErr(CodeUserAlreadyInProj, fmt.Sprintf("user %q already in project %q", username, project))
}

func NoServerAvailable(model string) *Error {
	msg := "no active backend available"
	if model != "" {
		msg = fmt.Sprintf("no active backend available for model %q", model)
	}
	return newErr(CodeNoServerAvailable, msg)
}

// Internal wraps an unexpected error. The message sent to clients is
// always the generic "Internal error" (spec §7); cause is kept for
// server-side logging only and never serialized.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "Internal error", cause: cause}
}

// As reports whether err is (or wraps) a *Error, in the style of errors.As.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Body is the JSON shape every domain error is serialized as:
// {"detail": {"code": ..., "message": ...}}.
type Body struct {
	Detail Detail `json:"detail"`
}

type Detail struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Keys    map[string]any `json:"keys,omitempty"`
}

func (e *Error) Body() Body {
	return Body{Detail: Detail{Code: e.Code, Message: e.Message, Keys: e.Keys}}
}
