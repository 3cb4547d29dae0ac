package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"recycloai/internal/classifier"
	"recycloai/internal/storage"
	"recycloai/internal/validation"
)

// ===============================
// ERROR TYPES
// ===============================

const (
	ErrTypeValidation         = "VALIDATION_ERROR"
	ErrTypeNotFound           = "NOT_FOUND"
	ErrTypeUnauthorized       = "UNAUTHORIZED"
	ErrTypeInternal           = "INTERNAL_ERROR"
	ErrTypeClassification     = "CLASSIFICATION_ERROR"
	ErrTypeStorage            = "STORAGE_ERROR"
	ErrTypePersistence        = "PERSISTENCE_ERROR"
	ErrTypeDerivedComputation = "DERIVED_COMPUTATION_ERROR"
	ErrTypeRateLimit          = "RATE_LIMIT_EXCEEDED"
)

// ServiceError represents a structured service error
type ServiceError struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// GetStatusCode returns the HTTP status code for this error
func (e *ServiceError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

func (e *ServiceError) withDetail(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// retryable marks failures of the primary path the client may resubmit
func (e *ServiceError) retryable() *ServiceError {
	return e.withDetail("retryable", true)
}

// ===============================
// ERROR CONSTRUCTORS
// ===============================

// NewValidationError creates a validation error. Field failures reported by
// the validation package are copied into Details.
func NewValidationError(message string, cause error) *ServiceError {
	e := &ServiceError{
		Type:       ErrTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
	var ve *validation.Error
	if errors.As(cause, &ve) {
		e.withDetail("fields", ve.Fields)
	}
	return e
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrTypeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewRateLimitError creates a too many requests error
func NewRateLimitError(message string, retryAfterSeconds int) *ServiceError {
	e := &ServiceError{
		Type:       ErrTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
	return e.withDetail("retry_after", retryAfterSeconds)
}

// NewClassificationError maps a classifier failure to a service error.
// Timeouts are 504, images the classifier refused are 422, the rest 502.
func NewClassificationError(cause error) *ServiceError {
	e := &ServiceError{
		Type:       ErrTypeClassification,
		Message:    "image classification failed",
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
	switch {
	case errors.Is(cause, classifier.ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		e.Message = "image classification timed out"
		e.StatusCode = http.StatusGatewayTimeout
		e.Code = "CLASSIFIER_TIMEOUT"
	case errors.Is(cause, classifier.ErrRejected):
		e.Message = "the classifier could not process this image"
		e.StatusCode = http.StatusUnprocessableEntity
		e.Code = "IMAGE_REJECTED"
		return e
	case errors.Is(cause, classifier.ErrBadResponse):
		e.Message = "the classifier returned an unrecognized response"
		e.Code = "CLASSIFIER_BAD_RESPONSE"
	default:
		e.Code = "CLASSIFIER_UNAVAILABLE"
	}
	return e.retryable()
}

// NewStorageError creates an object storage error
func NewStorageError(cause error) *ServiceError {
	e := &ServiceError{
		Type:       ErrTypeStorage,
		Message:    "image upload failed",
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
	return e.retryable()
}

// NewPersistenceError creates a persistent store error
func NewPersistenceError(message string, cause error) *ServiceError {
	e := &ServiceError{
		Type:       ErrTypePersistence,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
	return e.retryable()
}

// NewDerivedComputationError wraps the failure of a non-fatal step. These are
// logged and never returned to callers of the scan pipeline.
func NewDerivedComputationError(step string, cause error) *ServiceError {
	return &ServiceError{
		Type:    ErrTypeDerivedComputation,
		Message: fmt.Sprintf("derived step %q failed", step),
		Code:    step,
		Cause:   cause,
	}
}

// imageError maps image validation failures
func imageError(err error) *ServiceError {
	e := NewValidationError(err.Error(), err)
	switch {
	case errors.Is(err, storage.ErrImageTooLarge):
		e.StatusCode = http.StatusRequestEntityTooLarge
		e.Code = "IMAGE_TOO_LARGE"
	case errors.Is(err, storage.ErrUnsupportedImage):
		e.StatusCode = http.StatusUnsupportedMediaType
		e.Code = "UNSUPPORTED_IMAGE"
	case errors.Is(err, storage.ErrEmptyImage):
		e.Code = "EMPTY_IMAGE"
	}
	return e
}

// ===============================
// ERROR UTILITIES
// ===============================

// GetServiceError extracts a ServiceError from err, or wraps err in an
// internal error.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return NewInternalError("internal server error", err)
}

// IsErrorType reports whether err carries a ServiceError of errorType
func IsErrorType(err error, errorType string) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Type == errorType
}

func IsValidationError(err error) bool     { return IsErrorType(err, ErrTypeValidation) }
func IsNotFoundError(err error) bool       { return IsErrorType(err, ErrTypeNotFound) }
func IsClassificationError(err error) bool { return IsErrorType(err, ErrTypeClassification) }
func IsStorageError(err error) bool        { return IsErrorType(err, ErrTypeStorage) }
func IsPersistenceError(err error) bool    { return IsErrorType(err, ErrTypePersistence) }

func IsDerivedComputationError(err error) bool {
	return IsErrorType(err, ErrTypeDerivedComputation)
}
