package config

import (
	"fmt"
	"os"
	"strings"

	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder
	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			fmt.Fprintf(&builder, "  %s: %s\n", issue.Field, issue.Message)
			for _, suggestion := range issue.Suggestions {
				fmt.Fprintf(&builder, "    hint: %s\n", suggestion)
			}
		}
	}
	write("errors", vr.Errors)
	write("warnings", vr.Warnings)
	return builder.String()
}

// Err returns the first error as an ERR_CONFIG_INVALID error, or nil.
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	first := vr.Errors[0]
	err := configError(first.Field, first.Message)
	if len(vr.Errors) > 1 {
		err = err.WithContext("more", len(vr.Errors)-1)
	}
	return err
}

func configError(field, message string) *serrors.SojournError {
	msg := message
	if field != "" {
		msg = field + ": " + message
	}
	err := serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "invalid configuration: "+msg)
	if field != "" {
		err = err.WithContext("field", field)
	}
	return err
}

// Validate checks a configuration, separating fatal errors from warnings.
func Validate(config *Config) *ValidationResult {
	result := &ValidationResult{}
	validateBundle(&config.Bundle, result)
	validateRender(&config.Render, result)
	validateDelegates(&config.Delegates, result)
	validateRenaming(&config.Renaming, result)
	validateServer(&config.Server, result)
	validateLog(&config.Log, result)
	return result
}

func validateBundle(config *BundleConfig, result *ValidationResult) {
	if len(config.Paths) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "bundle.paths",
			Value:   config.Paths,
			Message: "no bundle paths specified",
			Suggestions: []string{
				"Add a directory holding *.yaml bundles, e.g. './templates'",
			},
		})
		return
	}
	for _, path := range config.Paths {
		if _, err := os.Stat(path); err != nil {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   "bundle.paths",
				Value:   path,
				Message: fmt.Sprintf("bundle path %q does not exist", path),
			})
		}
	}
}

func validateRender(config *RenderConfig, result *ValidationResult) {
	if config.SoftLimit < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "render.soft_limit",
			Value:   config.SoftLimit,
			Message: fmt.Sprintf("soft limit %d is negative", config.SoftLimit),
			Suggestions: []string{
				"Use 0 to never yield for flushing",
				fmt.Sprintf("Use %d for the default", DefaultSoftLimit),
			},
		})
	}
}

func validateDelegates(config *DelegatesConfig, result *ValidationResult) {
	seen := map[string]bool{}
	for _, pkg := range config.Active {
		if seen[pkg] {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   "delegates.active",
				Value:   pkg,
				Message: fmt.Sprintf("delegate package %q listed twice", pkg),
			})
		}
		seen[pkg] = true
	}
}

func validateRenaming(config *RenamingConfig, result *ValidationResult) {
	check := func(field string, m map[string]string) {
		for from, to := range m {
			if to == "" || strings.ContainsAny(to, " \t\n\"'<>") {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Value:   from,
					Message: fmt.Sprintf("%q renames to invalid name %q", from, to),
				})
			}
		}
	}
	check("renaming.css", config.CSS)
	check("renaming.xid", config.XID)
}

func validateServer(config *ServerConfig, result *ValidationResult) {
	// 0 lets the system pick a port.
	if config.Port < 0 || config.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{
				"Common development ports: 3000, 8080, 8000",
				"Port 0 allows system to assign an available port",
			},
		})
	} else if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: "port below 1024 requires elevated privileges",
		})
	}

	if strings.ContainsAny(config.Host, ";&|$`()<>\"'\\ ") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.host",
			Value:   config.Host,
			Message: fmt.Sprintf("invalid host %q", config.Host),
			Suggestions: []string{
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces",
			},
		})
	}
}

func validateLog(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.level",
			Value:       config.Level,
			Message:     err.Error(),
			Suggestions: []string{"Use one of debug, info, warn, error"},
		})
	}
	switch config.Format {
	case "", "text", "json":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.format",
			Value:       config.Format,
			Message:     fmt.Sprintf("unknown log format %q", config.Format),
			Suggestions: []string{"Use 'text' or 'json'"},
		})
	}
}
