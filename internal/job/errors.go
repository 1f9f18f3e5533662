package job

import (
	"context"

	"gitlab.com/tozd/go/errors"
)

// Kind classifies why a run failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindEnvironment
	KindEngine
	KindNoOutput
	KindNoInput
	KindArchive
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEnvironment:
		return "environment"
	case KindEngine:
		return "engine"
	case KindNoOutput:
		return "no_output"
	case KindNoInput:
		return "no_input"
	case KindArchive:
		return "archive"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a pipeline failure tagged with its Kind and the operation that raised it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err as a pipeline error of the given kind. An err that is already
// classified is returned as is. Context cancellation is always reported as
// KindCanceled regardless of the requested kind.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a pipeline error of the given kind from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return E(kind, op, errors.Errorf(format, args...))
}

// KindOf returns the kind of the outermost pipeline error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
