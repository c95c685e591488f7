// Package apperr defines the coded errors shared by the renderer, the ledger
// and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeDimensionMismatch Code = "DIMENSION_MISMATCH"
	CodeNotFound          Code = "NOT_FOUND"
	// CodeTransactionClosed rejects work on a paid or redeemed transaction.
	CodeTransactionClosed Code = "TRANSACTION_CLOSED"

	// Generation errors
	CodeRenderFailure   Code = "RENDER_FAILURE"
	CodeUpstreamFailure Code = "UPSTREAM_FAILURE"

	// Ledger errors
	CodeCouponNotFound        Code = "COUPON_NOT_FOUND"
	CodeCouponExpired         Code = "COUPON_EXPIRED"
	CodeCouponExhausted       Code = "COUPON_EXHAUSTED"
	CodeCouponDeactivated     Code = "COUPON_DEACTIVATED"
	CodeCouponAlreadyRedeemed Code = "COUPON_ALREADY_REDEEMED"
	CodeLedgerFailure         Code = "LEDGER_FAILURE"
)

// Reason is the lowercase form returned to clients, e.g. "exhausted".
func (c Code) Reason() string {
	switch c {
	case CodeCouponNotFound:
		return "not_found"
	case CodeCouponExpired:
		return "expired"
	case CodeCouponExhausted:
		return "exhausted"
	case CodeCouponDeactivated:
		return "deactivated"
	case CodeCouponAlreadyRedeemed:
		return "already_redeemed"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeDimensionMismatch:
		return "dimension_mismatch"
	case CodeRenderFailure:
		return "render_failure"
	case CodeUpstreamFailure:
		return "upstream_failure"
	case CodeLedgerFailure:
		return "ledger_failure"
	case CodeNotFound:
		return "not_found"
	case CodeTransactionClosed:
		return "transaction_closed"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps the code onto a response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument, CodeDimensionMismatch:
		return http.StatusBadRequest
	case CodeNotFound, CodeCouponNotFound:
		return http.StatusNotFound
	case CodeCouponExpired, CodeCouponExhausted, CodeCouponDeactivated:
		return http.StatusGone
	case CodeCouponAlreadyRedeemed, CodeTransactionClosed:
		return http.StatusConflict
	case CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	// Field names the offending input for CodeInvalidArgument.
	Field string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Invalid reports a field-level input error.
func Invalid(field, message string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: message, Field: field}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidArgument   = New(CodeInvalidArgument, "invalid argument")
	ErrDimensionMismatch = New(CodeDimensionMismatch, "dimension mismatch")
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrTransactionClosed = New(CodeTransactionClosed, "transaction closed")
	ErrRenderFailure     = New(CodeRenderFailure, "render failure")
	ErrUpstreamFailure   = New(CodeUpstreamFailure, "upstream failure")
	ErrCouponNotFound    = New(CodeCouponNotFound, "coupon not found")
	ErrCouponExpired     = New(CodeCouponExpired, "coupon expired")
	ErrCouponExhausted   = New(CodeCouponExhausted, "coupon exhausted")
	ErrCouponDeactivated = New(CodeCouponDeactivated, "coupon deactivated")
	ErrAlreadyRedeemed   = New(CodeCouponAlreadyRedeemed, "coupon already redeemed by this customer")
	ErrLedgerFailure     = New(CodeLedgerFailure, "ledger failure")
)

// CodeOf extracts the code of the first *Error in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// FieldOf returns the offending field of an invalid-argument error, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// PublicMessage is the message safe to return to clients: the Message of the
// first *Error in the chain, without its cause.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
