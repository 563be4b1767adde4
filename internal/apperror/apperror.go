package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable error class shared between services.
type Code string

const (
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeInternalServerError Code = "INTERNAL_SERVER_ERROR"
)

// Message keys
const (
	KeyInternalServerError = "common.errors.internalServerError"
	KeyServiceUnavailable  = "common.errors.serviceUnavailable"
	KeyInvalidSignature    = "payment.errors.invalidSignature"
	KeyDuplicatePayment    = "payment.errors.duplicate"
	KeyPaymentNotFound     = "payment.errors.notFound"
	KeyOrderNotFound       = "order.errors.notFound"
	KeyUnsupportedMethod   = "order.errors.unsupportedPaymentMethod"
	KeyOrderStateChanged   = "order.errors.stateChanged"
	KeyInvalidInput        = "common.errors.invalidInput"
	KeyPayoutRejected      = "payment.errors.payoutRejected"
)

// Error is the only error type allowed to cross a service boundary.
type Error struct {
	Code       Code   `json:"code"`
	MessageKey string `json:"messageKey"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(code Code, messageKey, message string) *Error {
	return &Error{Code: code, MessageKey: messageKey, Message: message}
}

// Wrap creates a new Error that keeps err as its cause
func Wrap(code Code, messageKey, message string, err error) *Error {
	return &Error{Code: code, MessageKey: messageKey, Message: message, Err: err}
}

func BadRequest(messageKey, message string) *Error {
	return New(CodeBadRequest, messageKey, message)
}

func NotFound(messageKey, message string) *Error {
	return New(CodeNotFound, messageKey, message)
}

func Conflict(messageKey, message string, err error) *Error {
	return Wrap(CodeConflict, messageKey, message, err)
}

func ServiceUnavailable(message string, err error) *Error {
	return Wrap(CodeServiceUnavailable, KeyServiceUnavailable, message, err)
}

func Internal(err error) *Error {
	return Wrap(CodeInternalServerError, KeyInternalServerError, "internal server error", err)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// From returns err as an *Error, converting anything untyped into
// INTERNAL_SERVER_ERROR.
func From(err error) *Error {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(err)
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
