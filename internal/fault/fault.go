// Package fault classifies errors raised by the IPC core.
//
// Every fallible operation returns an explicit error. Errors that signal a
// broken invariant (a handle used from the wrong goroutine, a desynchronized
// stream, a full channel set) carry a Kind, and a single top-level Policy
// decides that those terminate the process. Everything else propagates
// normally with fmt.Errorf wrapping.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the class of an integrity violation.
type Kind int

const (
	KindUnknown Kind = iota
	KindOwnership
	KindCapacity
	KindFraming
	KindStall
	KindChannel
	KindUnknownWorker
	KindMissingDispatcher
	KindConfig
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindOwnership:         "ownership",
	KindCapacity:          "capacity",
	KindFraming:           "framing",
	KindStall:             "stall",
	KindChannel:           "channel",
	KindUnknownWorker:     "unknown_worker",
	KindMissingDispatcher: "missing_dispatcher",
	KindConfig:            "config",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Integrity reports whether errors of this kind are unrecoverable defects.
// KindConfig is reported to the operator instead of aborting.
func (k Kind) Integrity() bool {
	switch k {
	case KindOwnership, KindCapacity, KindFraming, KindStall, KindChannel,
		KindUnknownWorker, KindMissingDispatcher:
		return true
	}
	return false
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s violation", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s violation: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsIntegrity reports whether err is an integrity violation.
func IsIntegrity(err error) bool {
	return err != nil && KindOf(err).Integrity()
}
