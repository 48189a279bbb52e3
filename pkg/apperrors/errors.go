// Package apperrors defines the error taxonomy shared by the storefront core,
// its persistence adapters and the HTTP/gRPC boundaries.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a stable, machine readable error identifier.
type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeUnauthenticated   Code = "authentication_required"
	CodeForbidden         Code = "forbidden"
	CodeInsufficientStock Code = "insufficient_stock"
	CodeNotFound          Code = "not_found"
	CodeInvalidTransition Code = "invalid_transition"
	CodePersistence       Code = "persistence_error"
	CodeInternal          Code = "internal_error"
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	Code() Code
	HTTPStatus() int
}

// ValidationError reports missing or invalid input fields.
type ValidationError struct {
	Fields  []string
	Message string
}

// Validation returns a ValidationError naming the offending fields.
func Validation(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Fields) == 0 {
		return "invalid input"
	}
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Code() Code      { return CodeValidation }
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }

// AuthenticationError means no signed-in actor was present.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Reason
}

func (e *AuthenticationError) Code() Code      { return CodeUnauthenticated }
func (e *AuthenticationError) HTTPStatus() int { return http.StatusUnauthorized }

// AuthorizationError means the actor is signed in but lacks the admin role.
type AuthorizationError struct {
	Action string
}

func (e *AuthorizationError) Error() string {
	if e.Action == "" {
		return "admin privileges required"
	}
	return fmt.Sprintf("admin privileges required to %s", e.Action)
}

func (e *AuthorizationError) Code() Code      { return CodeForbidden }
func (e *AuthorizationError) HTTPStatus() int { return http.StatusForbidden }

// StockShortage describes one product that cannot cover a requested quantity.
type StockShortage struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError is returned when requested quantities exceed
// availability. It may name several products at once.
type InsufficientStockError struct {
	Items []StockShortage
}

// InsufficientStock builds an error for a single product.
func InsufficientStock(productID, name string, requested, available int) *InsufficientStockError {
	return &InsufficientStockError{Items: []StockShortage{{
		ProductID: productID,
		Name:      name,
		Requested: requested,
		Available: available,
	}}}
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		label := it.Name
		if label == "" {
			label = it.ProductID
		}
		parts = append(parts, fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
			label, it.Available, it.Requested))
	}
	if len(parts) == 0 {
		return "insufficient stock"
	}
	return strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Code() Code      { return CodeInsufficientStock }
func (e *InsufficientStockError) HTTPStatus() int { return http.StatusConflict }

// NotFoundError is returned for unknown product or order identifiers.
type NotFoundError struct {
	Kind string
	ID   string
}

// NotFound returns a NotFoundError for the given entity kind.
func NotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Code() Code      { return CodeNotFound }
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

// InvalidTransitionError rejects an order status change that moves backwards.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Code() Code      { return CodeInvalidTransition }
func (e *InvalidTransitionError) HTTPStatus() int { return http.StatusConflict }

// PersistenceError wraps an adapter or network failure.
type PersistenceError struct {
	Op  string
	Err error
}

// Persistence wraps err unless it is nil or already carries a code.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var coded Coded
	if errors.As(err, &coded) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error   { return e.Err }
func (e *PersistenceError) Code() Code      { return CodePersistence }
func (e *PersistenceError) HTTPStatus() int { return http.StatusServiceUnavailable }

// RemoteError is an error reported by another service, rebuilt from its code
// and message.
type RemoteError struct {
	ErrCode Code
	Message string
}

func Remote(code Code, message string) *RemoteError {
	return &RemoteError{ErrCode: code, Message: message}
}

func (e *RemoteError) Error() string   { return e.Message }
func (e *RemoteError) Code() Code      { return e.ErrCode }
func (e *RemoteError) HTTPStatus() int { return e.ErrCode.HTTPStatus() }

// HTTPStatus maps a code to its HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientStock, CodeInvalidTransition:
		return http.StatusConflict
	case CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// HTTPStatus returns the HTTP status carried by err, or 500.
func HTTPStatus(err error) int {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInsufficientStock reports whether err is an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}
