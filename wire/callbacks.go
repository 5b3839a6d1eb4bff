package wire

import (
	"time"
)

// Callbacks provides hooks for transfer events. All callbacks are
// optional; nil callbacks use defaults.
type Callbacks struct {
	// OnTransferStart is called once the handshake has negotiated and
	// data is about to flow.
	OnTransferStart func(filename string, totalLen uint64)

	// OnProgress is called periodically during the block phase.
	// rate is in bytes per second.
	OnProgress func(filename string, transferred, total uint64, rate float64)

	// OnRetransmit is called each time a block is sent again after a
	// NAK or timeout.
	OnRetransmit func(seq uint16, attempt int)

	// OnTransferComplete is called when the session reaches a terminal
	// outcome, success or not.
	OnTransferComplete func(filename string, outcome *Outcome)

	// OnError is called when a non-fatal error occurs (a NAKed block,
	// an ignored garbage frame). Fatal errors surface in the Outcome.
	OnError func(err error, context string)
}

// defaultCallbacks returns a set of callbacks with default (no-op)
// implementations.
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnTransferStart:    func(string, uint64) {},
		OnProgress:         func(string, uint64, uint64, float64) {},
		OnRetransmit:       func(uint16, int) {},
		OnTransferComplete: func(string, *Outcome) {},
		OnError:            func(error, string) {},
	}
}

// mergeCallbacks merges user callbacks with defaults. User callbacks
// override defaults; nil callbacks fall back.
func mergeCallbacks(user *Callbacks) *Callbacks {
	def := defaultCallbacks()
	if user == nil {
		return def
	}

	result := &Callbacks{}
	if user.OnTransferStart != nil {
		result.OnTransferStart = user.OnTransferStart
	} else {
		result.OnTransferStart = def.OnTransferStart
	}
	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	} else {
		result.OnProgress = def.OnProgress
	}
	if user.OnRetransmit != nil {
		result.OnRetransmit = user.OnRetransmit
	} else {
		result.OnRetransmit = def.OnRetransmit
	}
	if user.OnTransferComplete != nil {
		result.OnTransferComplete = user.OnTransferComplete
	} else {
		result.OnTransferComplete = def.OnTransferComplete
	}
	if user.OnError != nil {
		result.OnError = user.OnError
	} else {
		result.OnError = def.OnError
	}
	return result
}

// Stats are the observability counters a session accumulates.
type Stats struct {
	// BlocksSent counts block frames put on the wire (sending side,
	// retransmissions included) or accepted in order (receiving side).
	BlocksSent int

	// Retransmits counts blocks sent again after a NAK or timeout.
	Retransmits int

	// BytesTransferred counts payload bytes accepted by the peer (or
	// appended locally, on the receiving side).
	BytesTransferred uint64

	// Elapsed is the wall time from handshake start to the terminal
	// outcome.
	Elapsed time.Duration
}
