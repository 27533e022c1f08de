package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across egoqa.
type ErrorCode string

const (
	ErrCodeInvalidRecord    ErrorCode = "INVALID_RECORD"
	ErrCodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodePanelUnavailable ErrorCode = "PANEL_UNAVAILABLE"
	ErrCodeInvalidRoute     ErrorCode = "INVALID_ROUTE"
	ErrCodeToolFailed       ErrorCode = "TOOL_FAILED"
)

// Sentinel errors，配合 errors.Is 使用。
var (
	ErrInvalidRecord    = errors.New("invalid question record")
	ErrRecordNotFound   = errors.New("question record not found")
	ErrPanelUnavailable = errors.New("expert panel unavailable")
	ErrInvalidRoute     = errors.New("invalid routing decision")
)

// codeSentinels 让带 Code 的 *Error 同时匹配对应的哨兵错误
var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidRecord:    ErrInvalidRecord,
	ErrCodeRecordNotFound:   ErrRecordNotFound,
	ErrCodePanelUnavailable: ErrPanelUnavailable,
	ErrCodeInvalidRoute:     ErrInvalidRoute,
}

// Error 带错误码的结构化错误。errors.Is 既匹配 Cause 链，也匹配 Code 对应的哨兵。
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError 不可重试、无 Cause 的错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 原地设置 Cause 并返回 e
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}


func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable 只有显式标记的 *Error 可重试
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode 错误链中第一个 *Error 的 Code，没有时为空
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
