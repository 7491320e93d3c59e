// Package failure defines the error taxonomy shared by the pipeline stages.
//
// Every stage returns a *Error tagged with the Kind of the stage that failed,
// so callers can branch on the kind with KindOf / Is instead of matching
// message text.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure by the stage that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindFetch
	KindAuth
	KindUpload
	KindSend
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindFetch:
		return "fetch"
	case KindAuth:
		return "auth"
	case KindUpload:
		return "upload"
	case KindSend:
		return "send"
	default:
		return "unknown"
	}
}

// NoCode marks an Error that carries no platform error code.
const NoCode = -1

// Error is a tagged pipeline failure.
//
// Code is the platform errcode when the failure came from the platform's
// error envelope, NoCode otherwise. Detail holds a bounded raw response
// snippet for diagnosis.
type Error struct {
	Kind   Kind
	Op     string
	Code   int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Code != NoCode {
		fmt.Fprintf(&b, " (errcode %d)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Detail != "" {
		b.WriteString(" body: ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error without a platform code.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: NoCode, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// WithDetail attaches a response snippet and returns e.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithCode attaches a platform errcode and returns e.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries a failure of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the platform errcode carried by err, or NoCode.
func CodeOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return NoCode
}
