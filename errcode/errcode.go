// Package errcode defines the numeric error taxonomy shared by every layer of
// the client and an error type that keeps the causal chain of failures.
package errcode

import (
	"errors"
	"fmt"
)

// Code is a numeric error class. Zero is success, every failure is negative.
type Code int

const (
	OK           Code = 0
	Unknown      Code = -1
	NoMem        Code = -2
	NotSupported Code = -3
	Invalid      Code = -4
	NotFound     Code = -5
	Config       Code = -6
	Limit        Code = -7
	Version      Code = -8
	InvalidData  Code = -9
	Pass         Code = -10
	RPC          Code = -11
	NoResult     Code = -12
	Transport    Code = -14
	Range        Code = -15
	Waiting      Code = -16
	Ignore       Code = -17
)

var codeNames = map[Code]string{
	OK:           "ok",
	Unknown:      "unknown",
	NoMem:        "out of memory",
	NotSupported: "not supported",
	Invalid:      "invalid value",
	NotFound:     "not found",
	Config:       "invalid config",
	Limit:        "limit reached",
	Version:      "version mismatch",
	InvalidData:  "invalid data",
	Pass:         "wrong password",
	RPC:          "rpc error",
	NoResult:     "no result",
	Transport:    "transport error",
	Range:        "out of range",
	Waiting:      "waiting",
	Ignore:       "ignorable",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error carries a code, a message and the older error it was prefixed onto.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

// New returns an error without cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap prefixes msg onto cause. A nil cause yields a plain error.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Cause == nil {
		return msg
	}
	return msg + ":" + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code so sentinels such as ErrWaiting work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Msg == "" && t.Cause == nil && t.Code == e.Code
}

// ErrWaiting signals that more input is needed before the operation can proceed.
var ErrWaiting = &Error{Code: Waiting}

// CodeOf returns the code of the outermost *Error in err's chain. Errors of
// other types map to Unknown and nil maps to OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsWaiting reports whether err is the waiting sentinel.
func IsWaiting(err error) bool {
	return err != nil && CodeOf(err) == Waiting
}
