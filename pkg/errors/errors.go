package errors

import (
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// New returns an error with the supplied message and records the stack trace at the point it was called.
func New(message string) error {
	return pkgerrors.New(message)
}

// NewWithReport same as New, and reports the error to every registered reporter.
func NewWithReport(message string) error {
	err := pkgerrors.New(message)
	report(err)
	return err
}

// Errorf formats according to a format specifier and returns the string as an error with stack.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// ErrorfAndReport same as Errorf, and reports the error.
func ErrorfAndReport(format string, args ...interface{}) error {
	err := pkgerrors.Errorf(format, args...)
	report(err)
	return err
}

// Wrap returns nil when err is nil.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf returns nil when err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// WrapAndReport wraps err with message and reports it. Returns nil when err is nil.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrap(err, message)
	report(wrapped)
	return wrapped
}

// WrapfAndReport wraps err with the formatted message and reports it. Returns nil when err is nil.
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrapf(err, format, args...)
	report(wrapped)
	return wrapped
}

// WithStack annotates err with a stack trace. Returns nil when err is nil.
func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

// WithStackAndReport annotates err with a stack trace and reports it.
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.WithStack(err)
	report(err)
	return err
}

func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}

func Cause(err error) error {
	return pkgerrors.Cause(err)
}

type stack []uintptr

// callers skips runtime.Callers, callers itself and its caller.
func callers() *stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// fullStack returns "function file:line" frames, innermost first.
func (s *stack) fullStack() []string {
	frames := runtime.CallersFrames(*s)
	var out []string
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	// reporters index the third frame as the rate-limit key
	for len(out) < 3 {
		out = append(out, "unknown")
	}
	return out
}

type markedError struct {
	cause error
	mark  error
}

func (e *markedError) Error() string { return e.cause.Error() }
func (e *markedError) Unwrap() error { return e.cause }
func (e *markedError) Is(target error) bool {
	return target == e.mark || pkgerrors.Is(e.mark, target)
}

// Mark tags err so that Is(result, mark) holds, and so does Is(result, x) for every x that mark
// itself is, while the original chain stays reachable.
// Returns nil when err is nil.
func Mark(err, mark error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, mark: mark}
}
