package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced to API callers
type ErrorCode string

const (
	ErrCodeValidation      ErrorCode = "ERR_VALIDATION"
	ErrCodeMissingField    ErrorCode = "ERR_MISSING_FIELD"
	ErrCodeInvalidTenant   ErrorCode = "ERR_INVALID_TENANT"
	ErrCodeMessagingAPI    ErrorCode = "ERR_CHATWOOT_API"
	ErrCodePolicyExecution ErrorCode = "ERR_POLICY_EXEC"
	ErrCodeStore           ErrorCode = "ERR_STORE"
	ErrCodeInternal        ErrorCode = "ERR_INTERNAL"
)

// Error is a coded failure with optional structured details
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a coded error
func NewError(code ErrorCode, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Validationf builds an ERR_VALIDATION error
func Validationf(format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// MissingField builds an ERR_MISSING_FIELD error naming the absent fields
func MissingField(fields ...string) *Error {
	return &Error{
		Code:    ErrCodeMissingField,
		Message: fmt.Sprintf("missing required fields: %v", fields),
		Details: map[string]any{"fields": fields},
	}
}

// CodeOf returns the code of the first *Error in err's chain, or ERR_INTERNAL
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}

// IsValidation reports whether err was raised before any side effect because the input was malformed
func IsValidation(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeValidation || code == ErrCodeMissingField
}
