// Package errors provides structured error types for frostwatch.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryPartition  ErrorCategory = "PARTITION"
	ErrCategoryJournal    ErrorCategory = "JOURNAL"
	ErrCategoryArchive    ErrorCategory = "ARCHIVE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidRecord    = "INVALID_RECORD"
	CodeInvalidParameter = "INVALID_PARAMETER"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Partition codes
	CodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
	CodeWriteFailed          = "WRITE_FAILED"
	CodeCorruptPartition     = "CORRUPT_PARTITION"

	// Journal codes
	CodeJournalAppend = "JOURNAL_APPEND"
	CodeReplayFailed  = "REPLAY_FAILED"

	// Archive codes
	CodeArchiveNotFound = "ARCHIVE_NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// FrostError is the structured error type used throughout the system.
type FrostError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *FrostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FrostError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *FrostError) Is(target error) bool {
	var t *FrostError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new FrostError.
func New(category ErrorCategory, code, message string) *FrostError {
	return &FrostError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new FrostError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *FrostError {
	return &FrostError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *FrostError) WithDetails(details map[string]interface{}) *FrostError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *FrostError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a FrostError.
func GetCategory(err error) ErrorCategory {
	var fe *FrostError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a FrostError.
func GetCode(err error) string {
	var fe *FrostError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HTTPStatus maps an error chain to the status code the API layer reports.
func HTTPStatus(err error) int {
	switch GetCategory(err) {
	case ErrCategoryValidation:
		return http.StatusBadRequest
	case ErrCategoryArchive:
		switch GetCode(err) {
		case CodeArchiveNotFound:
			return http.StatusNotFound
		case CodeAlreadyExists:
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	case ErrCategoryStorage:
		if GetCode(err) == CodeObjectNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryPartition && code == CodeWriteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *FrostError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *FrostError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewPartitionError(code, message string, cause error) *FrostError {
	return Wrap(ErrCategoryPartition, code, message, cause)
}

func NewJournalError(code, message string, cause error) *FrostError {
	return Wrap(ErrCategoryJournal, code, message, cause)
}

func NewArchiveError(code, message string, cause error) *FrostError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewInternalError(message string, cause error) *FrostError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
