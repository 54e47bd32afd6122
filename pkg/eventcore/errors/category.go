// Package errors provides the failure taxonomy and backoff policy for event
// delivery.
//
// Handlers classify their own failures: a handler that returns
// Retryable(err) asks for another attempt, one that returns Fatal(err) sends
// the event straight to the dead-letter sink. Unclassified errors are treated
// as fatal so an unknown failure can never loop forever.
package errors

import (
	"errors"
	"fmt"
)

// Category represents how a handler failure should be handled.
type Category int

const (
	// CategoryFatal indicates retry won't help. The event is dead-lettered
	// on the attempt that produced the error.
	CategoryFatal Category = iota

	// CategoryRetryable indicates another attempt may succeed.
	// Examples: downstream timeouts, rate limits, transient connectivity.
	CategoryRetryable
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFatal:
		return "fatal"
	case CategoryRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// HandlerError wraps a handler failure with its category.
type HandlerError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how the dispatcher should treat this failure.
	Category Category

	// Handler names the handler that failed, when known.
	Handler string
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Handler != "" {
		return fmt.Sprintf("handler %s: %v (category: %s)", e.Handler, e.Err, e.Category)
	}
	return fmt.Sprintf("%v (category: %s)", e.Err, e.Category)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Retryable marks a handler failure as worth retrying.
func Retryable(err error) *HandlerError {
	return &HandlerError{Err: err, Category: CategoryRetryable}
}

// Fatal marks a handler failure as terminal.
func Fatal(err error) *HandlerError {
	return &HandlerError{Err: err, Category: CategoryFatal}
}

// Categorize determines how a handler failure should be handled.
// Errors that carry no classification are fatal (fail safe).
func Categorize(err error) Category {
	if err == nil {
		return CategoryFatal // shouldn't happen, fail safe
	}

	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		return handlerErr.Category
	}
	return CategoryFatal
}

// IsRetryable reports whether the failure should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryRetryable
}
