package models

import (
	"errors"
	"strings"
)

// 错误分类（HTTP 边界和后台循环通过 errors.Is / errors.As 判断）
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStorage      = errors.New("storage error")
	ErrConnectivity = errors.New("connectivity error")
	ErrNotification = errors.New("notification error")
)

// ValidationError 请求参数校验失败（写入前拒绝）
type ValidationError struct {
	Message string
	Fields  []string // 缺失或非法的字段
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Fields, ",")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError 创建校验错误
func NewValidationError(message string, fields ...string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}
