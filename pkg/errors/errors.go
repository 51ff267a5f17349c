// Package errors provides a structured error system for the gallery builder with error codes, categories, and context.
package errors

import (
	stderr "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for gallery operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"

	// Storage backend errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageList    ErrorCode = "STORAGE_LIST"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"
	ErrCodeSlowDown       ErrorCode = "SLOW_DOWN"

	// Gallery pipeline errors, one per asset stage
	ErrCodeFetchFailed     ErrorCode = "FETCH_FAILED"
	ErrCodeTransformFailed ErrorCode = "TRANSFORM_FAILED"
	ErrCodeUploadFailed    ErrorCode = "UPLOAD_FAILED"
	ErrCodeMetadataInvalid ErrorCode = "METADATA_INVALID"

	// Gallery publishing errors, one per tree node
	ErrCodeListFailed    ErrorCode = "LIST_FAILED"
	ErrCodePublishFailed ErrorCode = "PUBLISH_FAILED"
	ErrCodeRenderFailed  ErrorCode = "RENDER_FAILED"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Authentication errors
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeCredentialsMissing   ErrorCode = "CREDENTIALS_MISSING"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryPipeline      ErrorCategory = "pipeline"
	CategoryPublish       ErrorCategory = "publish"
	CategoryOperation     ErrorCategory = "operation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:        CategoryConfiguration,
	ErrCodeMissingConfig:        CategoryConfiguration,
	ErrCodeConfigValidation:     CategoryConfiguration,
	ErrCodeConfigLoad:           CategoryConfiguration,
	ErrCodeConnectionFailed:     CategoryConnection,
	ErrCodeConnectionTimeout:    CategoryConnection,
	ErrCodeNetworkError:         CategoryConnection,
	ErrCodeCircuitOpen:          CategoryConnection,
	ErrCodeObjectNotFound:       CategoryStorage,
	ErrCodeBucketNotFound:       CategoryStorage,
	ErrCodeStorageRead:          CategoryStorage,
	ErrCodeStorageWrite:         CategoryStorage,
	ErrCodeStorageList:          CategoryStorage,
	ErrCodeAccessDenied:         CategoryStorage,
	ErrCodeSlowDown:             CategoryStorage,
	ErrCodeFetchFailed:          CategoryPipeline,
	ErrCodeTransformFailed:      CategoryPipeline,
	ErrCodeUploadFailed:         CategoryPipeline,
	ErrCodeMetadataInvalid:      CategoryPipeline,
	ErrCodeListFailed:           CategoryPublish,
	ErrCodePublishFailed:        CategoryPublish,
	ErrCodeRenderFailed:         CategoryPublish,
	ErrCodeOperationTimeout:     CategoryOperation,
	ErrCodeOperationCanceled:    CategoryOperation,
	ErrCodeRetryExhausted:       CategoryOperation,
	ErrCodeAuthenticationFailed: CategoryAuth,
	ErrCodeCredentialsMissing:   CategoryAuth,
}

// GalleryError represents a structured error with context and metadata.
type GalleryError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Context carries the offending key, node path, bucket and similar.
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *GalleryError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *GalleryError) Unwrap() error {
	return e.Cause
}

// Is matches another GalleryError by code.
func (e *GalleryError) Is(target error) bool {
	if other, ok := target.(*GalleryError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *GalleryError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%q", k, e.Context[k]))
		}
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("GalleryError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new gallery error with default values.
func NewError(code ErrorCode, message string) *GalleryError {
	return &GalleryError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a gallery error around cause.
func Wrap(code ErrorCode, message string, cause error) *GalleryError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionTimeout, ErrCodeConnectionFailed, ErrCodeNetworkError,
		ErrCodeOperationTimeout, ErrCodeSlowDown, ErrCodeInternalError:
		return true
	}
	return false
}

// WithContext adds contextual information to an error
func (e *GalleryError) WithContext(key, value string) *GalleryError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *GalleryError) WithComponent(component string) *GalleryError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *GalleryError) WithOperation(operation string) *GalleryError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *GalleryError) WithCause(cause error) *GalleryError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retry hint.
func (e *GalleryError) WithRetryable(retryable bool) *GalleryError {
	e.Retryable = retryable
	return e
}

// CodeOf returns the code of the outermost GalleryError in err's chain,
// or ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	var ge *GalleryError
	if stderr.As(err, &ge) {
		return ge.Code
	}
	return ErrCodeUnknownError
}

// HasCode reports whether any GalleryError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var ge *GalleryError
		if !stderr.As(err, &ge) {
			return false
		}
		if ge.Code == code {
			return true
		}
		err = ge.Cause
	}
	return false
}

// IsNotFound reports whether err means the object or bucket does not exist.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeObjectNotFound)
}

var recommendations = map[ErrorCode]string{
	ErrCodeConnectionTimeout: "Check network connectivity to the object store endpoint. " +
		"Consider raising pipeline.run_timeout.",
	ErrCodeBucketNotFound: "The configured bucket does not exist or is not accessible. " +
		"Verify source.bucket and destination.bucket.",
	ErrCodeAccessDenied: "Credentials lack permissions. " +
		"The run needs s3:ListBucket and s3:GetObject on the source and s3:PutObject on the destination.",
	ErrCodeCredentialsMissing: "No credentials found. " +
		"Set credentials_file or the standard AWS environment variables.",
	ErrCodeTransformFailed: "The source object could not be decoded as an image. " +
		"Check the file or exclude it via gallery.image_extensions.",
	ErrCodeCircuitOpen: "Too many consecutive store failures; calls are being rejected. " +
		"Check the store endpoint, or raise pipeline.circuit_breaker.consecutive_failures.",
	ErrCodeInvalidConfig: "Configuration validation failed. " +
		"Check the configuration file syntax and required parameters.",
}

// GetRecommendation returns a hint for fixing the first error in e's
// cause chain that has one, or "" when none does.
func (e *GalleryError) GetRecommendation() string {
	var err error = e
	for err != nil {
		var ge *GalleryError
		if !stderr.As(err, &ge) {
			return ""
		}
		if rec, ok := recommendations[ge.Code]; ok {
			return rec
		}
		err = ge.Cause
	}
	return ""
}

// Recommendation returns the hint for err, empty for plain errors.
func Recommendation(err error) string {
	var ge *GalleryError
	if !stderr.As(err, &ge) {
		return ""
	}
	return ge.GetRecommendation()
}
