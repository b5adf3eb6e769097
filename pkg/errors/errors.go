package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies why a request to the ad library failed
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeClientError ErrorType = "client_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// FetchError is returned by the fetcher when a page could not be retrieved.
// Attempts is the number of HTTP attempts made before giving up.
type FetchError struct {
	Type       ErrorType
	Account    string
	Cursor     string
	StatusCode int
	Attempts   int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Account == "" {
		return fmt.Sprintf("fetch %s error (status %d): %s", e.Type, e.StatusCode, msg)
	}
	return fmt.Sprintf("fetch %s error for account %s (status %d): %s", e.Type, e.Account, e.StatusCode, msg)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request that produced e may be attempted again
func (e *FetchError) Retryable() bool {
	if e.StatusCode != 0 {
		return IsRetryableStatusCode(e.StatusCode)
	}
	return IsRetryable(e.Type)
}

// ParseError is returned when a raw ad payload cannot be normalized
type ParseError struct {
	Account string
	AdID    string
	Field   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	prefix := "parse error"
	if e.Account != "" {
		prefix += " for account " + e.Account
	}
	if e.AdID != "" {
		prefix += " ad " + e.AdID
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: field %s: %s", prefix, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ExportError is returned when the output file cannot be written
type ExportError struct {
	Path   string
	Format string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s to %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// NewStatusError builds a FetchError from an unexpected HTTP status code
func NewStatusError(account string, statusCode int) *FetchError {
	return &FetchError{
		Type:       TypeForStatus(statusCode),
		Account:    account,
		StatusCode: statusCode,
		Message:    http.StatusText(statusCode),
	}
}

// TypeForStatus maps an HTTP status code to an ErrorType
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusNotFound:
		return ErrorTypeNotFound
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode >= 400:
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // network error
		return true
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	default:
		return statusCode >= 500
	}
}

// IsRetryableError reports whether err wraps a retryable FetchError.
// Errors of any other kind are treated as permanent.
func IsRetryableError(err error) bool {
	var fe *FetchError
	if stderrors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// Account returns the account attached to a pipeline error, if any
func Account(err error) string {
	var fe *FetchError
	if stderrors.As(err, &fe) {
		return fe.Account
	}
	var pe *ParseError
	if stderrors.As(err, &pe) {
		return pe.Account
	}
	return ""
}
