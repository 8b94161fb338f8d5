// Package csgerr defines the error taxonomy shared by the conversion
// pipeline. Errors carry a Kind rather than a distinct Go type per failure,
// so callers branch with errors.Is(err, csgerr.ModuleNotDefined) no matter
// how deeply the failure was wrapped.
package csgerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	Unknown                Kind = iota
	InvalidParameters           // malformed or out-of-range operand
	InvalidScaleFactor          // zero or near-zero scale component
	ModuleNotDefined            // instantiation of an unregistered module
	DuplicateModule             // second registration of a module name
	BooleanOperationFailed      // kernel could not combine solids
	NonManifoldInput            // input failed the kernel's manifold precondition
	KernelLoadFailed            // native kernel could not be instantiated
	KernelNotReady              // kernel used before a successful initialize
	InvalidHandle               // solid handle used after consume or release
	ValidationFailed            // extracted mesh failed sanity checks
	RecursionLimit              // module nesting exceeded the configured depth
)

func (k Kind) String() string {
	switch k {
	case InvalidParameters:
		return "InvalidParameters"
	case InvalidScaleFactor:
		return "InvalidScaleFactor"
	case ModuleNotDefined:
		return "ModuleNotDefined"
	case DuplicateModule:
		return "DuplicateModule"
	case BooleanOperationFailed:
		return "BooleanOperationFailed"
	case NonManifoldInput:
		return "NonManifoldInput"
	case KernelLoadFailed:
		return "KernelLoadFailed"
	case KernelNotReady:
		return "KernelNotReady"
	case InvalidHandle:
		return "InvalidHandle"
	case ValidationFailed:
		return "ValidationFailed"
	case RecursionLimit:
		return "RecursionLimit"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error lets a bare Kind act as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is a classified pipeline failure. Err, when set, is the underlying
// cause and is reachable through errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. The original error stays in the chain.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Unknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
