// Package modherr defines the error-kind taxonomy surfaced to callers of the
// module subsystem. Kinds are sentinel values wrapped with context
// by New and Wrap, matching the wrap-and-unwrap style used
// throughout kernel/threads and kernel/core/mesh.
package modherr

import "errors"

// Kind is one of the fixed error codes the module subsystem surfaces. It is
// not an error in itself; use New or Wrap to produce one that errors.Is
// matches against it.
type Kind int

const (
	_ Kind = iota
	InvalidArgument
	NotFound
	Duplicate
	Cycle
	Busy
	PermissionDenied
	Overflow
	OutOfMemory
	TypeMismatch
	Detached
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Duplicate:
		return "duplicate"
	case Cycle:
		return "cycle"
	case Busy:
		return "busy"
	case PermissionDenied:
		return "permission_denied"
	case Overflow:
		return "overflow"
	case OutOfMemory:
		return "out_of_memory"
	case TypeMismatch:
		return "type_mismatch"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// sentinel errors, one per Kind, so errors.Is(err, modherr.ErrNotFound) works
// after wrapping with New/Wrap.
var (
	ErrInvalidArgument  = errors.New(InvalidArgument.String())
	ErrNotFound         = errors.New(NotFound.String())
	ErrDuplicate        = errors.New(Duplicate.String())
	ErrCycle            = errors.New(Cycle.String())
	ErrBusy             = errors.New(Busy.String())
	ErrPermissionDenied = errors.New(PermissionDenied.String())
	ErrOverflow         = errors.New(Overflow.String())
	ErrOutOfMemory      = errors.New(OutOfMemory.String())
	ErrTypeMismatch     = errors.New(TypeMismatch.String())
	ErrDetached         = errors.New(Detached.String())
)

func sentinel(k Kind) error {
	switch k {
	case InvalidArgument:
		return ErrInvalidArgument
	case NotFound:
		return ErrNotFound
	case Duplicate:
		return ErrDuplicate
	case Cycle:
		return ErrCycle
	case Busy:
		return ErrBusy
	case PermissionDenied:
		return ErrPermissionDenied
	case Overflow:
		return ErrOverflow
	case OutOfMemory:
		return ErrOutOfMemory
	case TypeMismatch:
		return ErrTypeMismatch
	case Detached:
		return ErrDetached
	default:
		return errors.New("unknown error kind")
	}
}

// kindErr wraps a sentinel with caller-supplied context while preserving
// errors.Is against both the sentinel and, if set, an underlying cause.
type kindErr struct {
	kind  Kind
	msg   string
	cause error
}

func (e *kindErr) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *kindErr) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return sentinel(e.kind)
}

func (e *kindErr) Is(target error) bool {
	return target == sentinel(e.kind)
}

// New builds an error of the given kind with a message.
func New(k Kind, msg string) error {
	return &kindErr{kind: k, msg: msg}
}

// Wrap builds an error of the given kind that also wraps cause, so
// errors.Is(err, cause) and errors.Is(err, modherr.ErrX) both succeed.
func Wrap(k Kind, msg string, cause error) error {
	return &kindErr{kind: k, msg: msg, cause: cause}
}

// Of reports the Kind of err, false if err does not carry one.
func Of(err error) (Kind, bool) {
	var ke *kindErr
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}

// Is reports whether err was produced with kind k.
func Is(err error, k Kind) bool {
	return errors.Is(err, sentinel(k))
}
