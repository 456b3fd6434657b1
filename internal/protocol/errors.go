package protocol

import "fmt"

// Code identifies a protocol error numerically. Codes are stable across
// components so cross-component callers can branch on them.
type Code uint32

const (
	CodeUnauthorized       Code = 1
	CodePaused             Code = 2
	CodeInvalidInput       Code = 3
	CodeInsufficientFunds  Code = 4
	CodeNotFound           Code = 5
	CodeAlreadyExists      Code = 6
	CodeInvalidState       Code = 7
	CodeOverflow           Code = 8
	CodeNotInitialized     Code = 9
	CodeAlreadyInitialized Code = 10

	CodeCoverageExceeded               Code = 50
	CodeInsufficientOracleSubmissions  Code = 61
	CodeOracleDataStale                Code = 62
)

// Error is the closed error type returned by every engine entry point.
// Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Msg)
}

// Is reports code equality, so sentinel values below work as errors.Is
// targets regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errf builds an Error with a formatted message.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Sentinel targets for errors.Is.
var (
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Msg: "unauthorized"}
	ErrPaused             = &Error{Code: CodePaused, Msg: "paused"}
	ErrInvalidInput       = &Error{Code: CodeInvalidInput, Msg: "invalid input"}
	ErrInsufficientFunds  = &Error{Code: CodeInsufficientFunds, Msg: "insufficient funds"}
	ErrNotFound           = &Error{Code: CodeNotFound, Msg: "not found"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Msg: "already exists"}
	ErrInvalidState       = &Error{Code: CodeInvalidState, Msg: "invalid state"}
	ErrOverflow           = &Error{Code: CodeOverflow, Msg: "overflow"}
	ErrNotInitialized     = &Error{Code: CodeNotInitialized, Msg: "not initialized"}
	ErrAlreadyInitialized = &Error{Code: CodeAlreadyInitialized, Msg: "already initialized"}

	ErrCoverageExceeded              = &Error{Code: CodeCoverageExceeded, Msg: "coverage exceeded"}
	ErrInsufficientOracleSubmissions = &Error{Code: CodeInsufficientOracleSubmissions, Msg: "insufficient oracle submissions"}
	ErrOracleDataStale               = &Error{Code: CodeOracleDataStale, Msg: "oracle data stale"}
)
