// Package errors provides error categorization and bounded retry.
//
// Every failure path in orderflow is classified as either transient
// (retrying after backoff will likely help) or permanent (retrying will
// not help). Event delivery, notification dispatch and workflow
// persistence all retry through WithRetryContext so there is no
// unbounded retry anywhere.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: an in-progress idempotency record, broker timeouts.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: malformed events, missing order identifiers.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if cat, ok := Explicit(err); ok {
		return cat
	}
	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// Explicit reports the category of err when one can be determined from
// its type, and false when err carries no category information.
func Explicit(err error) (Category, bool) {
	if err == nil {
		return CategoryPermanent, false
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category, true
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryPermanent, true
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient, true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient, true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, errors.ErrUnsupported) {
		return CategoryPermanent, true
	}

	return CategoryPermanent, false
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsPermanent reports whether err is known to be permanent. Errors with
// no category information are not considered permanent here, which makes
// it the right check for at-least-once delivery where an unclassified
// failure should still be retried.
func IsPermanent(err error) bool {
	cat, ok := Explicit(err)
	return ok && cat == CategoryPermanent
}

// RetryUnlessPermanent is a RetryableFunc that retries everything except
// errors explicitly classified as permanent.
func RetryUnlessPermanent(err error) bool {
	return !IsPermanent(err)
}
