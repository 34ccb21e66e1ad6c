// Package apperr is the error taxonomy shared by the storefront services.
// Application code returns *Error values; the HTTP layer renders them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindInsufficientStock
	KindInvalidState
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindInvalidState:
		return "invalid_state"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus is the response status used for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInsufficientStock, KindInvalidState:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches a cause. The cause is logged, never rendered.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(msg string) *Error { return New(KindValidation, msg).WithCode("VALIDATION_ERROR") }

// FieldValidation is a validation failure pinned to one request field.
func FieldValidation(field, msg string) *Error {
	return Validation(msg).WithDetails([]FieldError{{Field: field, Message: msg}})
}

func Unauthenticated(msg string) *Error { return New(KindAuthentication, msg).WithCode("UNAUTHENTICATED") }
func Forbidden(msg string) *Error       { return New(KindAuthorization, msg).WithCode("FORBIDDEN") }
func NotFound(msg string) *Error        { return New(KindNotFound, msg).WithCode("NOT_FOUND") }
func Conflict(msg string) *Error        { return New(KindConflict, msg).WithCode("CONFLICT") }
func InvalidState(msg string) *Error    { return New(KindInvalidState, msg).WithCode("INVALID_STATE") }

func Unavailable(cause error) *Error {
	return New(KindUnavailable, "Service temporarily unavailable, please retry").WithCode("STORE_UNAVAILABLE").Wrap(cause)
}

func Internal(cause error) *Error {
	return New(KindInternal, "Internal server error").WithCode("INTERNAL").Wrap(cause)
}

// StockShortage identifies the first order line that could not be reserved.
type StockShortage struct {
	ItemID    string `json:"itemId"`
	Available int    `json:"available"`
}

func InsufficientStock(itemID string, available int) *Error {
	return New(KindInsufficientStock, fmt.Sprintf("Insufficient stock. Available: %d", available)).
		WithCode("INSUFFICIENT_STOCK").
		WithDetails(StockShortage{ItemID: itemID, Available: available})
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// As extracts an *Error from err. Anything else is reported as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
