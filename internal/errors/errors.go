// Package errors provides centralized error handling with component and
// category metadata for the notification admission engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryDatabase      ErrorCategory = "database"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryState         ErrorCategory = "state"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	component string         // Component where error occurred
	Category  ErrorCategory  // Error category for better grouping
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is implements error type checking. Two enhanced errors match when their
// categories match, which lets callers test against category sentinels.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component name
func (ee *EnhancedError) GetComponent() string {
	if ee.component == "" {
		return ComponentUnknown
	}
	return ee.component
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the context map
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// ErrorBuilder provides a fluent API for constructing enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates an error builder from an existing error
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{
		err:      err,
		category: CategoryGeneric,
	}
}

// Newf creates an error builder from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component where the error occurred
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key/value pair to the error context
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build constructs the final enhanced error
func (eb *ErrorBuilder) Build() *EnhancedError {
	return &EnhancedError{
		Err:       eb.err,
		component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// Is reports whether any error in err's tree matches target.
// Re-exported so callers don't need to import both error packages.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// HasCategory reports whether err carries the given category.
func HasCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Category == category
	}
	return false
}
