// Package errors provides structured error codes for the dedup core and its surfaces.
// Codes are grouped into categories (config, comparison, input, diagnostics, session)
// and map onto HTTP and gRPC status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain is reported in gRPC ErrorInfo details.
const ErrorDomain = "seenslide.dedup"

// Code identifies a specific failure.
type Code string

const (
	CodeInvalidCropRegion Code = "CONFIG_INVALID_CROP_REGION"
	CodeEmptyStages       Code = "CONFIG_EMPTY_STAGES"
	CodeInvalidThreshold  Code = "CONFIG_INVALID_THRESHOLD"
	CodeInvalidHashSize   Code = "CONFIG_INVALID_HASH_SIZE"
	CodeInvalidAlgorithm  Code = "CONFIG_INVALID_ALGORITHM"
	CodeInvalidStrategy   Code = "CONFIG_INVALID_STRATEGY"
	CodeConfigInvalid     Code = "CONFIG_INVALID"

	CodeKindMismatch Code = "COMPARISON_KIND_MISMATCH"

	CodeMalformedFrame Code = "INPUT_MALFORMED_FRAME"

	CodeSinkFailed Code = "DIAGNOSTIC_SINK_FAILED"

	CodeSessionNotActive     Code = "SESSION_NOT_ACTIVE"
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"

	CodeInternal Code = "INTERNAL"
)

// Category groups codes by how callers must react to them.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryComparison Category = "comparison"
	CategoryInput      Category = "input"
	CategoryDiagnostic Category = "diagnostic"
	CategorySession    Category = "session"
	CategoryInternal   Category = "internal"
)

var categories = map[Code]Category{
	CodeInvalidCropRegion:    CategoryConfig,
	CodeEmptyStages:          CategoryConfig,
	CodeInvalidThreshold:     CategoryConfig,
	CodeInvalidHashSize:      CategoryConfig,
	CodeInvalidAlgorithm:     CategoryConfig,
	CodeInvalidStrategy:      CategoryConfig,
	CodeConfigInvalid:        CategoryConfig,
	CodeKindMismatch:         CategoryComparison,
	CodeMalformedFrame:       CategoryInput,
	CodeSinkFailed:           CategoryDiagnostic,
	CodeSessionNotActive:     CategorySession,
	CodeSessionAlreadyActive: CategorySession,
	CodeInternal:             CategoryInternal,
}

// grpcCodeMap maps error categories to gRPC status codes.
var grpcCodeMap = map[Category]codes.Code{
	CategoryConfig:     codes.InvalidArgument,
	CategoryComparison: codes.Internal,
	CategoryInput:      codes.InvalidArgument,
	CategoryDiagnostic: codes.Unavailable,
	CategorySession:    codes.FailedPrecondition,
	CategoryInternal:   codes.Internal,
}

var httpStatusMap = map[Category]int{
	CategoryConfig:     http.StatusBadRequest,
	CategoryComparison: http.StatusInternalServerError,
	CategoryInput:      http.StatusUnprocessableEntity,
	CategoryDiagnostic: http.StatusServiceUnavailable,
	CategorySession:    http.StatusConflict,
	CategoryInternal:   http.StatusInternalServerError,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Category returns the category of the error code.
func (e *AppError) Category() Category {
	if c, ok := categories[e.Code]; ok {
		return c
	}
	return CategoryInternal
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Category()]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the HTTP status used by the control API.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Category()]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns a gRPC status with an ErrorInfo detail attached.
// status.FromError picks this up, so an AppError can be returned from handlers directly.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	info := &errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   ErrorDomain,
		Metadata: e.Metadata,
	}
	if withDetails, err := st.WithDetails(info); err == nil {
		return withDetails
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsCategory checks if an error belongs to the given category.
func IsCategory(err error, cat Category) bool {
	if appErr, ok := As(err); ok {
		return appErr.Category() == cat
	}
	return false
}

// IsConfig reports configuration errors, which are fatal to a session.
func IsConfig(err error) bool { return IsCategory(err, CategoryConfig) }

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Code == CodeSinkFailed
}
