package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds reported in rotation results and HTTP error envelopes.
const (
	KindConfiguration   = "configuration"
	KindValidation      = "validation"
	KindNotFound        = "not_found"
	KindTimeout         = "timeout"
	KindOperationFailed = "operation_failed"
	KindUpstream        = "upstream"
	KindInternal        = "internal"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
// It aborts the whole invocation and is raised before any vault call.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  " + e.Suggestion
	}

	return msg
}

// ValidationError is a missing or malformed request parameter. No vault call
// is attempted once it is raised.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for '%s': %s", e.Field, e.Message)
}

// NotFoundError reports a certificate absent from the vault.
type NotFoundError struct {
	Certificate string
	Err         error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("certificate '%s' not found in vault", e.Certificate)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// OperationTimeoutError reports a wait budget exhausted while the issuance
// operation was still in progress. Err is the transient poll error seen last,
// if the final polls failed.
type OperationTimeoutError struct {
	Certificate string
	Waited      time.Duration
	LastStatus  string
	Err         error
}

func (e *OperationTimeoutError) Error() string {
	msg := fmt.Sprintf("operation for certificate '%s' still %s after %s",
		e.Certificate, e.LastStatus, e.Waited.Round(time.Millisecond))
	if e.Err != nil {
		msg += " (last poll: " + e.Err.Error() + ")"
	}
	return msg
}

func (e *OperationTimeoutError) Unwrap() error {
	return e.Err
}

// OperationFailedError reports an operation the service itself marked as failed.
type OperationFailedError struct {
	Certificate string
	Code        string
	Message     string
}

func (e *OperationFailedError) Error() string {
	msg := fmt.Sprintf("operation for certificate '%s' failed", e.Certificate)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// UpstreamError wraps a failed call to the vault service.
type UpstreamError struct {
	Op          string
	Certificate string
	StatusCode  int
	Retryable   bool
	Suggestion  string
	Err         error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("vault ")
	b.WriteString(e.Op)
	if e.Certificate != "" {
		fmt.Fprintf(&b, " for '%s'", e.Certificate)
	}
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var (
		cfgErr     ConfigError
		valErr     ValidationError
		notFound   *NotFoundError
		timeoutErr *OperationTimeoutError
		failedErr  *OperationFailedError
		upErr      *UpstreamError
	)

	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &failedErr):
		return KindOperationFailed
	case errors.As(err, &upErr):
		return KindUpstream
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindUpstream
	default:
		return KindInternal
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttl",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// RetryableStatus reports whether an HTTP status code from the vault service
// warrants another attempt.
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	switch err.(type) {
	case UserError, ConfigError, ValidationError:
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	return err
}
