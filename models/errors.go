package models

import "fmt"

// Error codes reported back to the acting client. Business-rule violations
// inside the aggregates are always one of these; unexpected faults
// (connectivity loss) surface as ErrCodeTransient at the service edge.
const (
	ErrCodeValidation   = "validation_error"
	ErrCodeAuthRequired = "auth_required"
	ErrCodeAuthFailed   = "auth_failed"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodePermission   = "permission_denied"
	ErrCodeTransient    = "transient_error"
)

// GameError is the typed error returned by aggregate operations and
// services for expected failures. It maps 1:1 to the "error" event sent to
// the originating connection.
type GameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *GameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewValidationError(format string, args ...interface{}) *GameError {
	return &GameError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewAuthRequiredError(message string) *GameError {
	return &GameError{Code: ErrCodeAuthRequired, Message: message}
}

func NewAuthFailedError(message string) *GameError {
	return &GameError{Code: ErrCodeAuthFailed, Message: message}
}

func NewNotFoundError(format string, args ...interface{}) *GameError {
	return &GameError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(format string, args ...interface{}) *GameError {
	return &GameError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

func NewPermissionError(format string, args ...interface{}) *GameError {
	return &GameError{Code: ErrCodePermission, Message: fmt.Sprintf(format, args...)}
}

func NewTransientError(message string) *GameError {
	return &GameError{Code: ErrCodeTransient, Message: message}
}

// AsGameError unwraps err into a *GameError, or wraps it as a transient
// error so clients always receive a typed code.
func AsGameError(err error) *GameError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GameError); ok {
		return ge
	}
	return NewTransientError(err.Error())
}
