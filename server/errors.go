package server

import (
	"errors"
	"strings"
)

// ErrorCode 返回给客户端的错误码（固定集合）
type ErrorCode string

const (
	CodeAuthFailed       ErrorCode = "AUTH_FAILED"
	CodeInvalidLocation  ErrorCode = "INVALID_LOCATION"
	CodeEmptyMessage     ErrorCode = "EMPTY_MESSAGE"
	CodeMessageTooLong   ErrorCode = "MESSAGE_TOO_LONG"
	CodeNoDistrict       ErrorCode = "NO_DISTRICT"
	CodeTargetOffline    ErrorCode = "TARGET_OFFLINE"
	CodeNoPermission     ErrorCode = "NO_PERMISSION"
	CodeMerchantNotFound ErrorCode = "MERCHANT_NOT_FOUND"
	CodeMissingData      ErrorCode = "MISSING_DATA"
	CodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"
	CodeTooFar           ErrorCode = "TOO_FAR"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// Event 出站事件名，例如 error:message_too_long
func (c ErrorCode) Event() string {
	return "error:" + strings.ToLower(string(c))
}

// EventError 可直接回送给发起连接的业务错误
type EventError struct {
	Code    ErrorCode
	Message string
}

func (e *EventError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func newEventError(code ErrorCode, msg string) *EventError {
	return &EventError{Code: code, Message: msg}
}

// AsEventError 非业务错误统一转换为 INTERNAL_ERROR
func AsEventError(err error) *EventError {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee
	}
	return newEventError(CodeInternal, "internal error")
}

// ErrNotFound 存储层找不到记录
var ErrNotFound = errors.New("not found")
