package predictor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a predictor failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindInvalidHandle
	KindModelLoad
	KindEngineBuild
	KindAllocation
	KindShapeMismatch
	KindInvocation
	KindNotReady
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrModelLoad       = errors.New("model load failed")
	ErrEngineBuild     = errors.New("engine build failed")
	ErrAllocation      = errors.New("tensor allocation failed")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrInvocation      = errors.New("invocation failed")
	ErrNotReady        = errors.New("no prediction available")
)

var kindSentinels = map[Kind]error{
	KindInvalidArgument: ErrInvalidArgument,
	KindInvalidHandle:   ErrInvalidHandle,
	KindModelLoad:       ErrModelLoad,
	KindEngineBuild:     ErrEngineBuild,
	KindAllocation:      ErrAllocation,
	KindShapeMismatch:   ErrShapeMismatch,
	KindInvocation:      ErrInvocation,
	KindNotReady:        ErrNotReady,
}

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindInvalidArgument: "invalid_argument",
	KindInvalidHandle:   "invalid_handle",
	KindModelLoad:       "model_load",
	KindEngineBuild:     "engine_build",
	KindAllocation:      "allocation",
	KindShapeMismatch:   "shape_mismatch",
	KindInvocation:      "invocation",
	KindNotReady:        "not_ready",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is returned by every fallible predictor operation.
type Error struct {
	Kind Kind
	// Op names the operation that failed, for example "predict".
	Op  string
	Err error
}

func (e *Error) Error() string {
	what := e.Kind.String()
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		what = sentinel.Error()
	}
	if e.Err == nil {
		return e.Op + ": " + what
	}
	return e.Op + ": " + what + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrShapeMismatch) and friends match by kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, cause error) error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

func newErrorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}
