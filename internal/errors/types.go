// Package errors defines the structured error taxonomy shared by the
// compiler, the renderer and the CLI.
//
// Every fatal condition the system can raise (compile-time structural
// problems, missing parameters, unboxing failures, delegate resolution
// failures, invalid range arguments) is a *SojournError carrying a Type
// and a stable Code so callers can branch with errors.Is or the Is*
// predicates. Suspension is never reported through this package.
package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeCompile  ErrorType = "compile"
	ErrorTypeData     ErrorType = "data"
	ErrorTypeCast     ErrorType = "cast"
	ErrorTypeCall     ErrorType = "call"
	ErrorTypeArgument ErrorType = "argument"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeInternal ErrorType = "internal"
)

// SojournError is a structured error type with context.
type SojournError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	Template string
}

// Error implements the error interface.
func (e *SojournError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" {
		parts = append(parts, "template:"+e.Template)
	}

	parts = append(parts, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "("+strings.Join(kv, ", ")+")")
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SojournError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on Type and Code.
func (e *SojournError) Is(target error) bool {
	var t *SojournError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SojournError) WithContext(key string, value interface{}) *SojournError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTemplate records the template the error was raised in. An already
// recorded template is kept so the innermost template wins.
func (e *SojournError) WithTemplate(name string) *SojournError {
	if e.Template == "" {
		e.Template = name
	}

	return e
}

// Error creation functions

// NewCompileError creates a compile-time structural error.
func NewCompileError(code, message string) *SojournError {
	return &SojournError{
		Type:    ErrorTypeCompile,
		Code:    code,
		Message: message,
	}
}

// NewDataError creates an error about the data supplied to a render.
func NewDataError(code, message string) *SojournError {
	return &SojournError{
		Type:    ErrorTypeData,
		Code:    code,
		Message: message,
	}
}

// NewCallError creates a template call resolution error.
func NewCallError(code, message string) *SojournError {
	return &SojournError{
		Type:    ErrorTypeCall,
		Code:    code,
		Message: message,
	}
}

// NewArgumentError creates an invalid argument error.
func NewArgumentError(code, message string) *SojournError {
	return &SojournError{
		Type:    ErrorTypeArgument,
		Code:    code,
		Message: message,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *SojournError {
	return &SojournError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SojournError {
	return &SojournError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *SojournError {
	return &SojournError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func isType(err error, t ErrorType) bool {
	var se *SojournError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// IsCompileError checks if an error is a compile-time error.
func IsCompileError(err error) bool { return isType(err, ErrorTypeCompile) }

// IsDataError checks if an error concerns render data.
func IsDataError(err error) bool { return isType(err, ErrorTypeData) }

// IsCastError checks if an error is an unboxing type mismatch.
func IsCastError(err error) bool { return isType(err, ErrorTypeCast) }

// IsCallError checks if an error is a call resolution failure.
func IsCallError(err error) bool { return isType(err, ErrorTypeCall) }

// IsArgumentError checks if an error reports invalid argument values.
func IsArgumentError(err error) bool { return isType(err, ErrorTypeArgument) }

// HasCode checks whether err is a SojournError with the given code.
func HasCode(err error, code string) bool {
	var se *SojournError
	if errors.As(err, &se) {
		return se.Code == code
	}

	return false
}

// ErrorHandler provides centralized error logging.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error with fields derived from its structure.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var se *SojournError
	if !errors.As(err, &se) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch se.Type {
	case ErrorTypeCompile, ErrorTypeConfig:
		h.logger.Warn(ctx, se, "Template error occurred",
			"type", se.Type,
			"code", se.Code,
			"template", se.Template)
	default:
		h.logger.Error(ctx, se, "Render error occurred",
			"type", se.Type,
			"code", se.Code,
			"template", se.Template)
	}
}

// Common error codes.
const (
	ErrCodeDuplicateSlot     = "ERR_DUPLICATE_SLOT"
	ErrCodeLayoutRedefined   = "ERR_LAYOUT_REDEFINED"
	ErrCodeUnknownDirective  = "ERR_UNKNOWN_DIRECTIVE"
	ErrCodeUnknownFunction   = "ERR_UNKNOWN_FUNCTION"
	ErrCodeUnknownVariable   = "ERR_UNKNOWN_VARIABLE"
	ErrCodeInvalidTemplate   = "ERR_INVALID_TEMPLATE"
	ErrCodeMissingParam      = "ERR_MISSING_PARAM"
	ErrCodeCast              = "ERR_CAST"
	ErrCodeDelegateNotFound  = "ERR_DELEGATE_NOT_FOUND"
	ErrCodeAmbiguousDelegate = "ERR_AMBIGUOUS_DELEGATE"
	ErrCodeTemplateNotFound  = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeInvalidRange      = "ERR_INVALID_RANGE"
	ErrCodeInvalidArgument   = "ERR_INVALID_ARGUMENT"
	ErrCodeAbandoned         = "ERR_ABANDONED"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeDirectiveFailed   = "ERR_DIRECTIVE_FAILED"
	ErrCodeDuplicateTemplate = "ERR_DUPLICATE_TEMPLATE"
	ErrCodeFutureFailed      = "ERR_FUTURE_FAILED"
	ErrCodeNullDereference   = "ERR_NULL_DEREFERENCE"
	ErrCodeSinkFailed        = "ERR_SINK_FAILED"
)

// Helper functions for common errors

// ErrMissingParam reports a required parameter absent at render construction.
func ErrMissingParam(template, param string) *SojournError {
	return NewDataError(
		ErrCodeMissingParam,
		"missing required param: "+param,
	).WithTemplate(template).WithContext("param", param)
}

// ErrCast reports an unboxing type mismatch.
func ErrCast(want, got string) *SojournError {
	return &SojournError{
		Type:    ErrorTypeCast,
		Code:    ErrCodeCast,
		Message: fmt.Sprintf("expected %s, got %s", want, got),
		Context: map[string]interface{}{"want": want, "got": got},
	}
}

// ErrTemplateNotFound reports a call to an unregistered template.
func ErrTemplateNotFound(name string) *SojournError {
	return NewCallError(ErrCodeTemplateNotFound, "template not found: "+name).
		WithContext("callee", name)
}

// ErrDelegateNotFound reports that no delegate implementation is active and
// no default exists.
func ErrDelegateNotFound(name, variant string) *SojournError {
	return NewCallError(
		ErrCodeDelegateNotFound,
		fmt.Sprintf("found no active impl for delegate call to %q (variant %q) and empty default is not allowed", name, variant),
	).WithContext("callee", name).WithContext("variant", variant)
}

// ErrAmbiguousDelegate reports two active implementations tied on priority.
func ErrAmbiguousDelegate(name, variant, pkgA, pkgB string) *SojournError {
	return NewCallError(
		ErrCodeAmbiguousDelegate,
		fmt.Sprintf("delegate %q (variant %q) has two active impls with the same priority: %s and %s", name, variant, pkgA, pkgB),
	).WithContext("callee", name).WithContext("variant", variant)
}

// ErrInvalidRange reports bad for-range arguments.
func ErrInvalidRange(start, stop, step int64, reason string) *SojournError {
	return NewArgumentError(
		ErrCodeInvalidRange,
		"invalid range: "+reason,
	).WithContext("start", start).WithContext("stop", stop).WithContext("step", step)
}

// ErrDuplicateSlot reports two claims for the same name in one scope.
func ErrDuplicateSlot(name string) *SojournError {
	return NewCompileError(ErrCodeDuplicateSlot, "duplicate slot claim: "+name).
		WithContext("name", name)
}

// ErrAbandoned reports use of a render state after Abandon.
func ErrAbandoned(template string) *SojournError {
	return NewDataError(ErrCodeAbandoned, "render state was abandoned").WithTemplate(template)
}

// ErrSink wraps a failure of the output sink.
func ErrSink(cause error) *SojournError {
	return NewIOError(ErrCodeSinkFailed, "output sink failed", cause)
}
