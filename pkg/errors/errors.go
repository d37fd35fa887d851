package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown        ErrorCode = "UNKNOWN"
	ErrInternal       ErrorCode = "INTERNAL"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrNotImplemented ErrorCode = "NOT_IMPLEMENTED"

	// Configuration errors
	ErrConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrConfigParse ErrorCode = "CONFIG_PARSE"
	ErrConfigValid ErrorCode = "CONFIG_INVALID"

	// Desired state errors
	ErrDesiredState        ErrorCode = "DESIRED_STATE"
	ErrConfigInconsistent  ErrorCode = "CONFIG_INCONSISTENT"
	ErrUnsupportedVersion  ErrorCode = "UNSUPPORTED_VERSION"
	ErrPackageQuery        ErrorCode = "PACKAGE_QUERY"
	ErrInstanceNotManaged  ErrorCode = "INSTANCE_NOT_MANAGED"
	ErrInstanceNotFound    ErrorCode = "INSTANCE_NOT_FOUND"
	ErrInstallPlanConflict ErrorCode = "INSTALL_PLAN_CONFLICT"

	// FileSystem errors
	ErrFileNotFound  ErrorCode = "FILE_NOT_FOUND"
	ErrFileAccess    ErrorCode = "FILE_ACCESS"
	ErrFileCreate    ErrorCode = "FILE_CREATE"
	ErrFileWrite     ErrorCode = "FILE_WRITE"
	ErrFileDelete    ErrorCode = "FILE_DELETE"
	ErrSymlinkCreate ErrorCode = "SYMLINK_CREATE"
	ErrSymlinkExists ErrorCode = "SYMLINK_EXISTS"
	ErrDirCreate     ErrorCode = "DIR_CREATE"
	ErrOwnership     ErrorCode = "OWNERSHIP"

	// Process errors
	ErrProcessStart     ErrorCode = "PROCESS_START"
	ErrProcessStop      ErrorCode = "PROCESS_STOP"
	ErrProcessTimeout   ErrorCode = "PROCESS_TIMEOUT"
	ErrProcessAmbiguous ErrorCode = "PROCESS_AMBIGUOUS"

	// Fleet errors
	ErrPartialFailure ErrorCode = "PARTIAL_FAILURE"

	// Bookkeeping errors
	ErrStateStore ErrorCode = "STATE_STORE"
	ErrMetrics    ErrorCode = "METRICS"
)

// TomcatdError represents a structured error with code and details
type TomcatdError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *TomcatdError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *TomcatdError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface
func (e *TomcatdError) Is(target error) bool {
	var targetErr *TomcatdError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new TomcatdError with the given code and message
func New(code ErrorCode, message string) *TomcatdError {
	return &TomcatdError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new TomcatdError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *TomcatdError {
	return &TomcatdError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a TomcatdError
func Wrap(err error, code ErrorCode, message string) *TomcatdError {
	if err == nil {
		return nil
	}
	return &TomcatdError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *TomcatdError {
	if err == nil {
		return nil
	}
	return &TomcatdError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *TomcatdError) WithDetail(key string, value interface{}) *TomcatdError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *TomcatdError) WithDetails(details map[string]interface{}) *TomcatdError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsErrorCode checks if an error has a specific error code anywhere in its chain
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var tErr *TomcatdError
		if !errors.As(err, &tErr) {
			return false
		}
		if tErr.Code == code {
			return true
		}
		err = tErr.Wrapped
	}
	return false
}

// GetErrorCode returns the outermost error code, or ErrUnknown if not a TomcatdError
func GetErrorCode(err error) ErrorCode {
	var tErr *TomcatdError
	if errors.As(err, &tErr) {
		return tErr.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the details from an error, or nil if not a TomcatdError
func GetErrorDetails(err error) map[string]interface{} {
	var tErr *TomcatdError
	if errors.As(err, &tErr) {
		return tErr.Details
	}
	return nil
}
