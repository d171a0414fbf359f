package cell

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy shared by the cell, store, net and
// server packages, following the same "small typed-kind error" shape as
// the teacher's common.StoreErr, generalized to the fault categories this
// domain actually raises.
type Kind int

const (
	// KindBadFormat marks a malformed encoding. Connection-level fatal.
	KindBadFormat Kind = iota
	// KindInvalidData marks a structurally parseable value that violates
	// an invariant. Treated the same as KindBadFormat by callers.
	KindInvalidData
	// KindBadSignature marks a signature that failed verification.
	KindBadSignature
	// KindMissingData marks a referenced cell that is not locally
	// available. Recoverable via the missing-data pull protocol.
	KindMissingData
	// KindTimeout marks a handshake or RPC that did not complete in time.
	KindTimeout
	// KindInternal marks an unexpected invariant violation.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBadFormat:
		return "BadFormat"
	case KindInvalidData:
		return "InvalidData"
	case KindBadSignature:
		return "BadSignature"
	case KindMissingData:
		return "MissingData"
	case KindTimeout:
		return "Timeout"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type raised across the data model, store,
// net and server packages. Hash is only meaningful for KindMissingData.
type Error struct {
	Kind Kind
	Hash Hash
	Msg  string
}

func (e *Error) Error() string {
	if e.Kind == KindMissingData {
		return fmt.Sprintf("%s: %s", e.Kind, e.Hash)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// BadFormatf constructs a KindBadFormat error.
func BadFormatf(format string, args ...interface{}) error {
	return &Error{Kind: KindBadFormat, Msg: fmt.Sprintf(format, args...)}
}

// InvalidDataf constructs a KindInvalidData error.
func InvalidDataf(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidData, Msg: fmt.Sprintf(format, args...)}
}

// BadSignaturef constructs a KindBadSignature error.
func BadSignaturef(format string, args ...interface{}) error {
	return &Error{Kind: KindBadSignature, Msg: fmt.Sprintf(format, args...)}
}

// MissingData constructs a KindMissingData error carrying the absent hash.
func MissingData(h Hash) error {
	return &Error{Kind: KindMissingData, Hash: h, Msg: "missing data"}
}

// Timeoutf constructs a KindTimeout error.
func Timeoutf(format string, args ...interface{}) error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

// Internalf constructs a KindInternal error.
func Internalf(format string, args ...interface{}) error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...)}
}

// AsError extracts *Error from err, following the errors.As protocol.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the Kind of err, or KindInternal if err is not one of
// ours.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// MissingHash extracts the missing hash from err, if err is a
// KindMissingData error.
func MissingHash(err error) (Hash, bool) {
	if e, ok := AsError(err); ok && e.Kind == KindMissingData {
		return e.Hash, true
	}
	return Hash{}, false
}
