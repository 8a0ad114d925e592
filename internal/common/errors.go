package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state transition")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrEngine       = errors.New("recognition engine error")
	ErrQueue        = errors.New("queue error")
	ErrConflict     = errors.New("concurrent modification")
)

// Error codes carried by AppError.Code.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeInvalidState = "INVALID_STATE"
	CodeValidation   = "VALIDATION"
	CodeEngine       = "ENGINE"
	CodeQueue        = "QUEUE"
	CodeDatabase     = "DATABASE"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func NotFoundf(format string, args ...any) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf(format, args...), ErrNotFound)
}

func Validationf(format string, args ...any) *AppError {
	return NewAppError(CodeValidation, fmt.Sprintf(format, args...), ErrValidation)
}

func InvalidInputf(format string, args ...any) *AppError {
	return NewAppError(CodeInvalidInput, fmt.Sprintf(format, args...), ErrInvalidInput)
}

func InvalidStatef(format string, args ...any) *AppError {
	return NewAppError(CodeInvalidState, fmt.Sprintf(format, args...), ErrInvalidState)
}

// EngineError wraps a recognition failure so errors.Is(err, ErrEngine) holds
// while the underlying cause stays reachable.
func EngineError(message string, cause error) *AppError {
	return NewAppError(CodeEngine, message, errors.Join(ErrEngine, cause))
}

func QueueError(message string, cause error) *AppError {
	return NewAppError(CodeQueue, message, errors.Join(ErrQueue, cause))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Message returns the human readable part of err. For an AppError that is its
// Message (plus the wrapping context added with WrapError), never the code.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		msg := err.Error()
		full := ae.Error()
		prefix := ""
		if len(msg) > len(full) && msg[len(msg)-len(full):] == full {
			prefix = msg[:len(msg)-len(full)]
		}
		return prefix + ae.Message
	}
	return err.Error()
}

// InternalError is a gRPC Internal status for faults in the server's own setup.
func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

// ToStatus maps a domain error onto a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	msg := Message(err)
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(err, ErrInvalidState):
		return status.Error(codes.FailedPrecondition, msg)
	case errors.Is(err, ErrQueue):
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
