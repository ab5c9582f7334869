// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transport mapping.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Codes for errors whose transport mapping differs from their kind default.
const (
	CodeInvalidLineItem   = "invalid_line_item"
	CodeProductNotFound   = "product_not_found"
	CodeInsufficientStock = "insufficient_stock"
	CodeNoOrdersFound     = "no_orders_found"
)

// Error is a classified application error. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code, so sentinels like
// ErrNoOrdersFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code != "" && t.Code == e.Code
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error   { return New(KindValidation, msg) }
func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }

// ErrNoOrdersFound is returned when a user has not placed any order.
var ErrNoOrdersFound = &Error{Kind: KindValidation, Code: CodeNoOrdersFound, Message: "no orders found for user"}

// InvalidLineItem reports a malformed order line at position index (0-based).
func InvalidLineItem(index int, productID int64, reason string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeInvalidLineItem,
		Message: fmt.Sprintf("invalid line item %d (product %d): %s", index, productID, reason),
	}
}

func ProductNotFound(productID int64) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeProductNotFound,
		Message: fmt.Sprintf("product %d not found", productID),
	}
}

func InsufficientStock(productID int64, productName string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for product %d (%s)", productID, productName),
	}
}

// KindOf returns the kind of the first *Error in err's chain. Context
// cancellation and deadlines are reported as KindUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	return KindInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Code == CodeInsufficientStock {
		return http.StatusBadRequest
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-facing message. Internal errors collapse
// to a generic message.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindInternal {
		return ae.Message
	}
	if KindOf(err) == KindUnavailable {
		return "request timed out, please retry"
	}
	return "internal server error"
}
