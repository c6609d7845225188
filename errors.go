package hyperq

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies an Error into one of the fabric's error kinds (§7).
type Kind string

const (
	// KindAllocation marks a failure to map a ring's backing memory at
	// queue construction. Always surfaced to the caller.
	KindAllocation Kind = "allocation error"
	// KindRegistration marks a duplicate-type or capacity-exhausted
	// registration attempt. Treated as a programmer error: callers are
	// expected to fix the registration sequence rather than recover from
	// this at runtime, though this implementation returns it rather than
	// panicking so tests can assert on it directly.
	KindRegistration Kind = "registration error"
	// KindUnregisteredBodyType marks a slow-path tag lookup that found no
	// registration for the requested type. Programmer error.
	KindUnregisteredBodyType Kind = "unregistered body type"
	// KindHandle marks an error returned by a user-supplied handler,
	// surfaced through Dequeue/ReceiveAndHandle to short-circuit the drain
	// loop for that call.
	KindHandle Kind = "handle error"
)

// AllocationReason classifies the syscall errno underneath an
// AllocationError, when one is available, mirroring go-ublk's
// errno-to-code mapping for its own device-lifecycle syscalls but scoped
// here to the ring allocator's mmap/memfd_create failures.
type AllocationReason string

const (
	ReasonOutOfMemory      AllocationReason = "out of memory"
	ReasonTooManyOpenFiles AllocationReason = "too many open files"
	ReasonPermissionDenied AllocationReason = "permission denied"
	ReasonUnsupported      AllocationReason = "operation not supported"
	ReasonOther            AllocationReason = "allocation failed"
)

// mapErrnoToCode classifies a ring allocator syscall errno (mmap,
// memfd_create) into an AllocationReason.
func mapErrnoToCode(errno syscall.Errno) AllocationReason {
	switch errno {
	case syscall.ENOMEM, syscall.ENOSPC:
		return ReasonOutOfMemory
	case syscall.EMFILE, syscall.ENFILE:
		return ReasonTooManyOpenFiles
	case syscall.EACCES, syscall.EPERM:
		return ReasonPermissionDenied
	case syscall.ENOSYS, syscall.EOPNOTSUPP, syscall.EINVAL:
		return ReasonUnsupported
	default:
		return ReasonOther
	}
}

// Error is the structured error type returned at the public API boundary.
// It wraps whatever internal error triggered it without exposing any
// internal package in its own right.
type Error struct {
	Op          string // operation that failed, e.g. "AllocateQueue", "Register"
	Kind        Kind
	HyperThread int // hyper-thread involved, -1 if not applicable
	Tag         int // body-type tag involved, -1 if not applicable
	Reason      AllocationReason // set by NewAllocationError when Inner carries a syscall.Errno
	Errno       syscall.Errno    // kernel errno, 0 if not applicable
	Msg         string
	Inner       error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.HyperThread >= 0 {
		parts = append(parts, fmt.Sprintf("hyperThread=%d", e.HyperThread))
	}
	if e.Tag >= 0 {
		parts = append(parts, fmt.Sprintf("tag=%d", e.Tag))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("hyperq: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("hyperq: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped internal error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, hyperq.KindHandle) style checks via IsKind instead.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

func newError(op string, kind Kind, hyperThread, tag int, msg string, inner error) *Error {
	return &Error{Op: op, Kind: kind, HyperThread: hyperThread, Tag: tag, Msg: msg, Inner: inner}
}

// NewAllocationError wraps a ring-allocation failure (§7 AllocationError).
// When inner wraps a syscall.Errno (as internal/ring's mmap/memfd_create
// failures do, via fmt.Errorf's %w), it is classified with mapErrnoToCode
// and recorded on the returned Error's Reason and Errno fields.
func NewAllocationError(op string, hyperThread int, inner error) *Error {
	msg := string(KindAllocation)
	if inner != nil {
		msg = inner.Error()
	}

	e := newError(op, KindAllocation, hyperThread, -1, msg, inner)
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = errno
		e.Reason = mapErrnoToCode(errno)
	}
	return e
}

// NewRegistrationError wraps a duplicate-type or capacity-exhausted
// registration failure (§7 RegistrationError).
func NewRegistrationError(op string, tag int, inner error) *Error {
	msg := string(KindRegistration)
	if inner != nil {
		msg = inner.Error()
	}
	return newError(op, KindRegistration, -1, tag, msg, inner)
}

// NewUnregisteredBodyTypeError reports a slow-path find_tag miss (§7
// UnregisteredBodyType).
func NewUnregisteredBodyTypeError(op string, hyperThread int, typeName string) *Error {
	return newError(op, KindUnregisteredBodyType, hyperThread, -1,
		fmt.Sprintf("type %s was never registered", typeName), nil)
}

// WrapHandleError wraps a user handler's error so it carries the hyper-
// thread and tag it failed on (§7 HandleError).
func WrapHandleError(op string, hyperThread, tag int, inner error) *Error {
	if inner == nil {
		return nil
	}
	return newError(op, KindHandle, hyperThread, tag, inner.Error(), inner)
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}