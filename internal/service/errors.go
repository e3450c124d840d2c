package service

import (
	"errors"
	"strings"
)

// 账号流程错误，handler 会映射为 400 或 409。
var (
	ErrValidationFailed = errors.New("validation failed")
	ErrDuplicateAccount = errors.New("an account with this email already exists")
)

// ValidationError 携带输入违反的全部规则。
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }
