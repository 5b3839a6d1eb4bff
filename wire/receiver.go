package wire

import (
	"context"
	"fmt"
)

// receiver runs the receiving role: accept a handshake, confirm the
// session, validate and materialize blocks in strict order, then issue
// the whole-file verdict.
type receiver struct {
	t         Transport
	tr        *transportReader
	config    *Config
	logger    Logger
	callbacks *Callbacks
	ctx       context.Context

	stats Stats
}

// run accepts one transfer into destPath. The returned path is the
// committed file on success, or the preserved provisional artifact on
// any failure after materialization began.
func (r *receiver) run(destPath string) (string, TransferMetadata, Stats, error) {
	md, err := r.awaitHandshake()
	if err != nil {
		return "", md, r.stats, err
	}

	// Feasibility check doubles as artifact creation: if the
	// destination cannot be opened the handshake is simply never
	// answered, and the sender's retry budget expires on its own.
	m, err := NewMaterializer(destPath, md)
	if err != nil {
		return "", md, r.stats, err
	}

	if err := writeFull(r.t, EncodeControl(SignalACK)); err != nil {
		m.Abandon()
		return m.PartPath(), md, r.stats, err
	}

	if err := r.awaitSessionHeader(md); err != nil {
		m.Abandon()
		return m.PartPath(), md, r.stats, err
	}
	r.callbacks.OnTransferStart(md.Filename, md.TotalLen)

	if err := r.acceptBlocks(md, m); err != nil {
		m.Abandon()
		return m.PartPath(), md, r.stats, err
	}

	// Data complete: every negotiated byte has been appended. Verify
	// the running whole-file checksum and commit or preserve.
	if err := m.Commit(md.FileCRC); err != nil {
		if isType(err, ErrVerification) {
			if werr := writeFull(r.t, EncodeControl(SignalFinalFail)); werr != nil {
				r.logger.Error("final verdict write failed: %v", werr)
			}
			return m.PartPath(), md, r.stats, err
		}
		return m.PartPath(), md, r.stats, err
	}
	if err := writeFull(r.t, EncodeControl(SignalFinalOK)); err != nil {
		// The file is committed locally; the sender just never hears
		// about it.
		return m.FinalPath(), md, r.stats, err
	}
	r.logger.Info("committed %s (%d bytes)", m.FinalPath(), md.TotalLen)
	return m.FinalPath(), md, r.stats, nil
}

// acceptBlocks runs the receiving half of the stop-and-wait machine.
//
// A verified block at the expected sequence is appended and ACKed. A
// verified duplicate of the previously accepted block is ACKed again
// without appending: the sender retransmitted because our ACK was
// lost, and re-appending would duplicate bytes. Any other sequence is
// an unrecoverable desynchronization. Transfer is data-complete when
// the appended byte count reaches the negotiated total; there is no
// terminal marker.
func (r *receiver) acceptBlocks(md TransferMetadata, m *Materializer) error {
	progress := newProgressTracker(r.callbacks.OnProgress, r.config.ProgressInterval)
	progress.start(md.Filename, md.TotalLen)

	var expected, prev uint16
	havePrev := false

	// Consecutive damaged or missing frames before giving up. The
	// sender's retry budget is the real limit; this one only bounds a
	// peer that never stops sending garbage.
	badLimit := r.config.MaxRetries + 1
	bad := 0

	for m.Written() < md.TotalLen {
		if err := r.checkContext(); err != nil {
			return err
		}

		hdr := make([]byte, blockHeaderLen)
		first, err := r.tr.readByte(r.config.AckTimeout)
		if err != nil {
			if !IsTimeout(err) {
				return err
			}
			bad++
			if bad >= badLimit {
				return NewError(ErrTimeout, "sender went quiet mid-transfer")
			}
			continue
		}
		hdr[0] = first
		if err := r.tr.readFull(hdr[1:], r.config.AckTimeout); err != nil {
			if err := r.reject(err, &bad, badLimit); err != nil {
				return err
			}
			continue
		}

		seq := uint16(hdr[0]) | uint16(hdr[1])<<8
		plen := int(uint16(hdr[2]) | uint16(hdr[3])<<8)
		if plen == 0 || plen > MaxBlockSize {
			err := NewBlockError(ErrLengthMismatch,
				fmt.Sprintf("payload length %d not in 1..%d", plen, MaxBlockSize), seq)
			if err := r.reject(err, &bad, badLimit); err != nil {
				return err
			}
			continue
		}
		frame := make([]byte, blockHeaderLen+plen+blockTrailerLen)
		copy(frame, hdr)
		if err := r.tr.readFull(frame[blockHeaderLen:], r.config.AckTimeout); err != nil {
			if err := r.reject(err, &bad, badLimit); err != nil {
				return err
			}
			continue
		}

		blk, _, derr := DecodeBlock(frame)
		if derr != nil {
			if err := r.reject(derr, &bad, badLimit); err != nil {
				return err
			}
			continue
		}

		// The full frame is consumed, so the stream stays aligned even
		// when the block itself is unacceptable.
		if blk.Seq == expected && m.Written()+uint64(len(blk.Payload)) > md.TotalLen {
			overrun := NewBlockError(ErrLengthMismatch, "block overruns negotiated total", blk.Seq)
			if err := r.reject(overrun, &bad, badLimit); err != nil {
				return err
			}
			continue
		}

		switch {
		case blk.Seq == expected:
			if err := m.Append(blk.Payload); err != nil {
				return err
			}
			if err := writeFull(r.t, EncodeControl(SignalACK)); err != nil {
				return err
			}
			prev = expected
			havePrev = true
			expected++ // wraps modulo 2^16 by construction
			bad = 0
			r.stats.BlocksSent++
			r.stats.BytesTransferred = m.Written()
			progress.update(m.Written())

		case havePrev && blk.Seq == prev:
			// Duplicate after a lost ACK: acknowledge again, append
			// nothing.
			r.logger.Debug("seq=%d duplicate re-acknowledged", blk.Seq)
			if err := writeFull(r.t, EncodeControl(SignalACK)); err != nil {
				return err
			}
			bad = 0

		default:
			return NewBlockError(ErrSequence,
				fmt.Sprintf("expected seq %d, got %d", expected, blk.Seq), blk.Seq)
		}
	}
	progress.complete()
	return nil
}

// reject answers a damaged or inconsistent frame with a NAK and counts
// it against the consecutive-failure bound.
func (r *receiver) reject(cause error, bad *int, badLimit int) error {
	r.callbacks.OnError(cause, "block")
	r.logger.Debug("block rejected: %v", cause)
	if err := writeFull(r.t, EncodeControl(SignalNAK)); err != nil {
		return err
	}
	*bad++
	if *bad >= badLimit {
		return NewError(ErrProtocol,
			fmt.Sprintf("%d consecutive damaged frames, giving up", *bad))
	}
	return nil
}

func (r *receiver) checkContext() error {
	select {
	case <-r.ctx.Done():
		return NewError(ErrCancelled, r.ctx.Err().Error())
	default:
		return nil
	}
}
