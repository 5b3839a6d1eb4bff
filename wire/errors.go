package wire

import (
	"errors"
	"fmt"
)

// ErrShortFrame reports that a decoder needs more bytes before it can
// produce a result. It is distinct from malformed input: callers keep
// feeding the same buffer with more appended data.
var ErrShortFrame = errors.New("wire: need more bytes")

// Error is the protocol error type. Every terminal failure surfaced by
// this package is an *Error (or wraps one), so callers can switch on
// Type rather than match strings.
type Error struct {
	// Type categorizes the failure.
	Type ErrorType

	// Message is a human-readable description.
	Message string

	// Seq is the block sequence involved, or -1 when not applicable.
	Seq int
}

// ErrorType categorizes protocol errors.
type ErrorType int

const (
	// ErrTimeout: a bounded read or retry budget expired.
	ErrTimeout ErrorType = iota

	// ErrIO: the underlying transport failed (disconnect, short-write
	// loop failure, closed port).
	ErrIO

	// ErrBadMagic: frame began with an unknown magic.
	ErrBadMagic

	// ErrTruncated: frame ended before its declared length.
	ErrTruncated

	// ErrLengthMismatch: a length field is out of bounds or
	// inconsistent with the negotiated totals.
	ErrLengthMismatch

	// ErrChecksum: a per-block CRC32 did not verify.
	ErrChecksum

	// ErrSequence: block sequence neither expected-next nor the
	// previous duplicate. Unrecoverable desynchronization.
	ErrSequence

	// ErrVerification: whole-file CRC32 mismatch after all blocks.
	ErrVerification

	// ErrFilesystem: destination could not be created or written.
	ErrFilesystem

	// ErrHandshake: negotiation retry budget expired.
	ErrHandshake

	// ErrCancelled: the session context was cancelled.
	ErrCancelled

	// ErrProtocol: any other protocol violation.
	ErrProtocol
)

func (t ErrorType) String() string {
	switch t {
	case ErrTimeout:
		return "timeout"
	case ErrIO:
		return "transport error"
	case ErrBadMagic:
		return "bad magic"
	case ErrTruncated:
		return "truncated frame"
	case ErrLengthMismatch:
		return "length mismatch"
	case ErrChecksum:
		return "checksum mismatch"
	case ErrSequence:
		return "sequence violation"
	case ErrVerification:
		return "final verification failure"
	case ErrFilesystem:
		return "filesystem error"
	case ErrHandshake:
		return "handshake failed"
	case ErrCancelled:
		return "cancelled"
	case ErrProtocol:
		return "protocol error"
	default:
		return "unknown error"
	}
}

func (e *Error) Error() string {
	if e.Seq >= 0 {
		return fmt.Sprintf("wire %s: %s (seq %d)", e.Type, e.Message, e.Seq)
	}
	return fmt.Sprintf("wire %s: %s", e.Type, e.Message)
}

// NewError creates a protocol error without block context.
func NewError(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Seq: -1}
}

// NewBlockError creates a protocol error tied to a block sequence.
func NewBlockError(errType ErrorType, message string, seq uint16) *Error {
	return &Error{Type: errType, Message: message, Seq: int(seq)}
}

func isType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return isType(err, ErrTimeout) }

// IsChecksum checks if an error is a per-block checksum mismatch.
func IsChecksum(err error) bool { return isType(err, ErrChecksum) }

// IsCancelled checks if an error indicates cancellation.
func IsCancelled(err error) bool { return isType(err, ErrCancelled) }

// IsFrame checks if an error is any decoder failure (magic, truncation,
// length, or checksum).
func IsFrame(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		switch e.Type {
		case ErrBadMagic, ErrTruncated, ErrLengthMismatch, ErrChecksum:
			return true
		}
	}
	return false
}
