package verification

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/and161185/practigate/internal/errs"
)

// Code is the closed set of verification failure kinds.
type Code string

const (
	CodeValidation       Code = "validation"
	CodeExpiredLicense   Code = "expired_license"
	CodeMalformedLicense Code = "malformed_license"
	CodeStateConflict    Code = "state_conflict"
	CodeInternal         Code = "internal"
	CodeNotFound         Code = "not_found"
	CodeUnauthorized     Code = "unauthorized"
	CodeForbidden        Code = "forbidden"
	CodeMethodNotAllowed Code = "method_not_allowed"
	// Raised by this client, never by the service.
	CodeTimeout Code = "timeout"
	CodeNetwork Code = "network"
)

// Codes lists every code.
var Codes = []Code{
	CodeValidation,
	CodeExpiredLicense,
	CodeMalformedLicense,
	CodeStateConflict,
	CodeInternal,
	CodeNotFound,
	CodeUnauthorized,
	CodeForbidden,
	CodeMethodNotAllowed,
	CodeTimeout,
	CodeNetwork,
}

// Error is a structured verification failure.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = Message(e.Code)
	}
	if e.Status != 0 {
		return fmt.Sprintf("verification %s (%d): %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("verification %s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is a not_found verification error.
func IsNotFound(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Code == CodeNotFound
}

type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}

// fromResponse maps an HTTP failure onto the closed code set.
func fromResponse(status int, body errorBody) *Error {
	e := &Error{Status: status, Message: body.text()}
	switch {
	case status == http.StatusBadRequest:
		switch Code(body.Code) {
		case CodeExpiredLicense, CodeMalformedLicense:
			e.Code = Code(body.Code)
		default:
			e.Code = CodeValidation
		}
	case status == http.StatusUnprocessableEntity:
		e.Code = CodeValidation
	case status == http.StatusUnauthorized:
		e.Code, e.Err = CodeUnauthorized, errs.ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code, e.Err = CodeForbidden, errs.ErrUnauthorized
	case status == http.StatusNotFound:
		e.Code, e.Err = CodeNotFound, errs.ErrNotFound
	case status == http.StatusMethodNotAllowed:
		e.Code = CodeMethodNotAllowed
	case status == http.StatusConflict:
		e.Code = CodeStateConflict
	default:
		e.Code = CodeInternal
	}
	return e
}
