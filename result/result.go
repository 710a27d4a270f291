// Package result defines the JSON envelope every goReauth HTTP response uses
// and the mapping between engine errors and wire error codes.
//
// Success: {"ok":true,"data":...}
// Failure: {"ok":false,"error":{"code":"NEED_REAUTH","message":"..."}}
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	goReauth "github.com/MrEthical07/goReauth"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeNeedReauth      Code = "NEED_REAUTH"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeTokenExpired    Code = "TOKEN_EXPIRED"
	CodeTokenInvalid    Code = "TOKEN_INVALID"
	CodeRejected        Code = "REJECTED"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL"
)

// Envelope is the top-level response body.
type Envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error is the failure half of an Envelope. It implements error so clients
// can return it directly; Unwrap maps the code back onto the engine
// sentinel it came from.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeNeedReauth:
		return goReauth.ErrStepUpRequired
	case CodeTokenExpired:
		return goReauth.ErrTokenExpired
	case CodeTokenInvalid, CodeUnauthenticated:
		return goReauth.ErrTokenInvalid
	case CodeRejected:
		return goReauth.ErrRejected
	case CodeRateLimited:
		return goReauth.ErrRateLimited
	case CodeBadRequest, CodeNotFound, CodeConflict:
		return goReauth.ErrInvalidRequest
	case CodeUnavailable:
		return goReauth.ErrUnavailable
	default:
		return nil
	}
}

// FromError classifies err into an HTTP status and wire error. Backend
// causes are never leaked: unavailable and internal failures carry a fixed
// message.
func FromError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goReauth.ErrStepUpRequired):
		return &Error{Code: CodeNeedReauth, Message: "reauthentication required", Status: http.StatusForbidden}
	case errors.Is(err, goReauth.ErrRateLimited):
		return &Error{Code: CodeRateLimited, Message: "too many attempts", Status: http.StatusTooManyRequests}
	case errors.Is(err, goReauth.ErrUnavailable):
		return &Error{Code: CodeUnavailable, Message: "service unavailable", Status: http.StatusServiceUnavailable}
	case errors.Is(err, goReauth.ErrTokenExpired), errors.Is(err, goReauth.ErrSessionRevoked):
		return &Error{Code: CodeTokenExpired, Message: err.Error(), Status: http.StatusUnauthorized}
	case errors.Is(err, goReauth.ErrTokenInvalid):
		return &Error{Code: CodeTokenInvalid, Message: "invalid token", Status: http.StatusUnauthorized}
	case errors.Is(err, goReauth.ErrInvalidCredentials):
		return &Error{Code: CodeRejected, Message: err.Error(), Status: http.StatusUnauthorized}
	case errors.Is(err, goReauth.ErrRejected), errors.Is(err, goReauth.ErrTOTPInvalid):
		return &Error{Code: CodeRejected, Message: err.Error(), Status: http.StatusBadRequest}
	case errors.Is(err, goReauth.ErrUserNotFound),
		errors.Is(err, goReauth.ErrProviderNotLinked),
		errors.Is(err, goReauth.ErrPasskeyNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error(), Status: http.StatusNotFound}
	case errors.Is(err, goReauth.ErrTOTPAlreadyEnabled),
		errors.Is(err, goReauth.ErrTOTPNotPending),
		errors.Is(err, goReauth.ErrTOTPNotEnabled),
		errors.Is(err, goReauth.ErrProviderAlreadyLinked),
		errors.Is(err, goReauth.ErrLastVerificationMethod):
		return &Error{Code: CodeConflict, Message: err.Error(), Status: http.StatusConflict}
	case errors.Is(err, goReauth.ErrInvalidRequest),
		errors.Is(err, goReauth.ErrPasswordPolicy),
		errors.Is(err, goReauth.ErrTOTPCodeRequired),
		errors.Is(err, goReauth.ErrMethodUnsupported):
		return &Error{Code: CodeBadRequest, Message: err.Error(), Status: http.StatusBadRequest}
	default:
		return &Error{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError}
	}
}

// WriteOK writes a success envelope around data.
func WriteOK(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		WriteError(w, err)
		return
	}
	write(w, status, Envelope{OK: true, Data: raw})
}

// WriteError classifies err and writes a failure envelope.
func WriteError(w http.ResponseWriter, err error) {
	WriteCode(w, FromError(err))
}

// WriteCode writes a failure envelope for an already classified error.
func WriteCode(w http.ResponseWriter, e *Error) {
	if e == nil {
		e = &Error{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError}
	}
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	write(w, status, Envelope{OK: false, Error: e})
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// Decode reads an envelope from body. A failure envelope is returned as
// *Error; on success the data is unmarshalled into out when out is non-nil.
func Decode(status int, body []byte, out any) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope (status %d): %w", status, err)
	}
	if !env.OK {
		if env.Error == nil {
			return &Error{Code: CodeInternal, Message: "malformed error envelope", Status: status}
		}
		env.Error.Status = status
		return env.Error
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
