package errors

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// CompileError is one problem reported while compiling a template bundle.
type CompileError struct {
	Template  string
	Source    string
	Message   string
	Severity  ErrorSeverity
	Cause     error
	Timestamp time.Time
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (ce *CompileError) Error() string {
	loc := ce.Template
	if ce.Source != "" {
		loc = ce.Source + ":" + ce.Template
	}
	return fmt.Sprintf("%s: %s: %s", loc, ce.Severity, ce.Message)
}

// Unwrap returns the underlying cause.
func (ce *CompileError) Unwrap() error {
	return ce.Cause
}

// ErrorCollector collects compile errors across a bundle so one bad
// template does not hide the problems of the others.
type ErrorCollector struct {
	errors []CompileError
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]CompileError, 0),
	}
}

// Add adds a compile error to the collector
func (ec *ErrorCollector) Add(err CompileError) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	err.Timestamp = time.Now()
	ec.errors = append(ec.errors, err)
}

// AddError records err against a template at error severity.
func (ec *ErrorCollector) AddError(template string, err error) {
	if err == nil {
		return
	}
	ec.Add(CompileError{
		Template: template,
		Message:  err.Error(),
		Severity: ErrorSeverityError,
		Cause:    err,
	})
}

// GetErrors returns a copy of all collected errors
func (ec *ErrorCollector) GetErrors() []CompileError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]CompileError, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// HasErrors returns true if any collected error is at least error severity
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	for _, err := range ec.errors {
		if err.Severity >= ErrorSeverityError {
			return true
		}
	}
	return false
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = ec.errors[:0]
}

// GetErrorsByTemplate returns errors for a specific template
func (ec *ErrorCollector) GetErrorsByTemplate(template string) []CompileError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var templateErrors []CompileError
	for _, err := range ec.errors {
		if err.Template == template {
			templateErrors = append(templateErrors, err)
		}
	}
	return templateErrors
}

// Err folds the collected errors into a single error, or nil when none
// reached error severity. The first cause stays reachable via errors.Is.
func (ec *ErrorCollector) Err() error {
	if !ec.HasErrors() {
		return nil
	}
	errs := ec.GetErrors()
	msgs := make([]string, 0, len(errs))
	var first error
	for i := range errs {
		if errs[i].Severity < ErrorSeverityError {
			continue
		}
		if first == nil {
			first = &errs[i]
		}
		msgs = append(msgs, errs[i].Error())
	}
	if len(msgs) == 1 {
		return first
	}
	return &SojournError{
		Type:    ErrorTypeCompile,
		Code:    ErrCodeInvalidTemplate,
		Message: fmt.Sprintf("%d templates failed to compile: %s", len(msgs), strings.Join(msgs, "; ")),
		Cause:   first,
	}
}
