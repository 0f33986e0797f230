package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorCode is the stable, machine-readable part of a service error.
type ErrorCode string

const (
	CodeForbidden            ErrorCode = "forbidden"
	CodeDisabled             ErrorCode = "disabled"
	CodeRoleEscalation       ErrorCode = "role_escalation"
	CodeRolePeerOrHigher     ErrorCode = "role_peer_or_higher"
	CodeRoleStaffEditBlocked ErrorCode = "role_staff_edit_blocked"
	CodeDisableRequiresOwner ErrorCode = "disable_requires_owner"
	CodeNotFound             ErrorCode = "not_found"
	CodeInvalidInput         ErrorCode = "invalid_input"
	CodeConflict             ErrorCode = "conflict"
	CodeTenantMissing        ErrorCode = "tenant_missing"
	CodeServiceUnavailable   ErrorCode = "service_unavailable"
	CodeDBError              ErrorCode = "db_error"
	CodeUnknown              ErrorCode = "unknown"
)

// Error is a coded service error. Two errors match under errors.Is when
// their codes are equal, so the sentinels below work through wrapping.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrForbidden            = &Error{Code: CodeForbidden, Message: "insufficient permissions"}
	ErrDisabled             = &Error{Code: CodeDisabled, Message: "account disabled"}
	ErrRoleEscalation       = &Error{Code: CodeRoleEscalation, Message: "role escalation denied"}
	ErrRolePeerOrHigher     = &Error{Code: CodeRolePeerOrHigher, Message: "cannot edit a peer or higher role"}
	ErrRoleStaffEditBlocked = &Error{Code: CodeRoleStaffEditBlocked, Message: "cannot edit staff accounts"}
	ErrDisableRequiresOwner = &Error{Code: CodeDisableRequiresOwner, Message: "only an owner can disable users"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidInput         = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrConflict             = &Error{Code: CodeConflict, Message: "conflict"}
	ErrTenantMissing        = &Error{Code: CodeTenantMissing, Message: "community not found"}
	ErrServiceUnavailable   = &Error{Code: CodeServiceUnavailable, Message: "service unavailable"}
	ErrDB                   = &Error{Code: CodeDBError, Message: "database error"}
)

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// dbError classifies a gorm error. Coded errors pass through untouched.
func dbError(err error, what string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Code: CodeNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Code: CodeConflict, Message: what + " already exists", Err: err}
	}
	return &Error{Code: CodeDBError, Message: "database error", Err: err}
}

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return CodeNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return CodeConflict
	}
	return CodeUnknown
}

// MessageOf returns a caller-safe message for err.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return "internal error"
}
