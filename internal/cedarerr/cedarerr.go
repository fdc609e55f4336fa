// Package cedarerr defines the uniform error-kind vocabulary shared by every
// Cedar component (astrometry excepted, which never fails).
package cedarerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed, mirroring the canonical-error
// style the original server used to let callers branch on cause rather than
// string-match messages.
type Kind int

const (
	// Unknown is the zero value; never returned by cedarerr.New.
	Unknown Kind = iota
	// Aborted means a user-requested cancellation interrupted the operation.
	Aborted
	// FailedPrecondition means configuration or state makes the request
	// impossible to satisfy.
	FailedPrecondition
	// InvalidArgument means an out-of-range or malformed input was supplied.
	InvalidArgument
	// DeadlineExceeded means a bounded operation (typically a solve) timed out.
	DeadlineExceeded
	// NotFound means no solution could be produced from the given inputs.
	NotFound
	// Unimplemented means the requested capability isn't supported by the
	// current camera/solver/catalog backend.
	Unimplemented
	// Internal means an invariant was violated; callers should log and
	// respawn the owning worker.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Aborted:
		return "Aborted"
	case FailedPrecondition:
		return "FailedPrecondition"
	case InvalidArgument:
		return "InvalidArgument"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	case NotFound:
		return "NotFound"
	case Unimplemented:
		return "Unimplemented"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

type cedarError struct {
	kind Kind
	msg  string
}

func (e *cedarError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// New constructs an error carrying the given Kind, formatted like fmt.Errorf.
func New(kind Kind, format string, args ...any) error {
	return &cedarError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches additional context to err while preserving its Kind, using
// github.com/pkg/errors so the original stack/cause remains inspectable.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Is reports whether err (or any error in its Cause chain) carries the given
// Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ce, ok := err.(*cedarError); ok {
			return ce.kind == kind
		}
		cause := errors.Cause(err)
		if cause == err {
			return false
		}
		err = cause
	}
	return false
}

// KindOf returns the Kind carried by err, or Unknown if err is not (or does
// not wrap) a cedarerr error.
func KindOf(err error) Kind {
	for err != nil {
		if ce, ok := err.(*cedarError); ok {
			return ce.kind
		}
		cause := errors.Cause(err)
		if cause == err {
			return Unknown
		}
		err = cause
	}
	return Unknown
}
