package backup

import (
	"errors"
	"fmt"
)

// Kind classifies backup failures.
type Kind int

const (
	// IoFailure covers any file, stream or zip read/write error.
	IoFailure Kind = iota + 1
	// MalformedDocument is a structural mismatch found while decoding.
	MalformedDocument
)

func (k Kind) String() string {
	switch k {
	case IoFailure:
		return "io failure"
	case MalformedDocument:
		return "malformed document"
	default:
		return "unknown"
	}
}

// Error is returned by the codec and the packager.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, ErrMalformed) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrIO        = &Error{Kind: IoFailure}
	ErrMalformed = &Error{Kind: MalformedDocument}
)

func ioErr(op string, err error) error {
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: IoFailure, Op: op, Err: err}
}

func malformed(op string, format string, args ...any) error {
	return &Error{Kind: MalformedDocument, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of err, or 0 when err is not a backup error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}
