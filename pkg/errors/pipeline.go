package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	ErrRateLimit        ErrorCode = "rate_limit"
	ErrQuotaExceeded    ErrorCode = "quota_exceeded"
	ErrServerError      ErrorCode = "server_error"
	ErrSchemaViolation  ErrorCode = "schema_violation"
	ErrTransport        ErrorCode = "transport"
	ErrTimeout          ErrorCode = "timeout"
	ErrContextCancelled ErrorCode = "context_cancelled"
	ErrPersistence      ErrorCode = "persistence"
	ErrProcessingError  ErrorCode = "processing_error"
)

// PipelineError is a structured error for classification-cycle failures.
type PipelineError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// New creates a PipelineError with the given code and message.
func New(code ErrorCode, stage, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Message: message, Cause: cause}
}

// ClassifyError inspects an error and returns a *PipelineError with the
// appropriate code. Errors that don't match any known pattern are classified
// as ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}

	out := &PipelineError{Stage: stage, Cause: err}

	if errors.Is(err, context.DeadlineExceeded) {
		out.Code = ErrTimeout
		out.Message = "operation timed out"
		return out
	}
	if errors.Is(err, context.Canceled) {
		out.Code = ErrContextCancelled
		out.Message = "operation cancelled"
		return out
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "quota exceeded") || strings.Contains(lower, "billing"):
		out.Code = ErrQuotaExceeded
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "resource_exhausted"):
		out.Code = ErrRateLimit
	case strings.Contains(lower, "503") || strings.Contains(lower, "502") || strings.Contains(lower, "500") || strings.Contains(lower, "service unavailable") || strings.Contains(lower, "internal server error") || strings.Contains(lower, "overloaded"):
		out.Code = ErrServerError
	case strings.Contains(lower, "parse") || strings.Contains(lower, "unmarshal") || strings.Contains(lower, "invalid json") || strings.Contains(lower, "schema"):
		out.Code = ErrSchemaViolation
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") || strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		out.Code = ErrTransport
	default:
		out.Code = ErrProcessingError
	}
	out.Message = msg
	return out
}

// IsErrorRetryable reports whether the error is worth retrying. Only
// rate-limited and server-class failures qualify; everything else aborts the
// cycle immediately.
func IsErrorRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if info, ok := ErrorCodeRegistry[pe.Code]; ok {
			return info.Retryable
		}
		return false
	}
	return false
}

// CodeOf returns the pipeline error code for err, or ErrProcessingError when
// err carries no code.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrProcessingError
}
