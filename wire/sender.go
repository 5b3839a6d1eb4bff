package wire

import (
	"context"
	"fmt"
	"io"
	"time"
)

// senderState is the explicit protocol state of the sending half.
// Keeping it an enumeration makes illegal transitions visible instead
// of scattering flags.
type senderState int

const (
	stateIdle senderState = iota
	stateSending
	stateAwaitingAck
	stateAllBlocksSent
	stateSenderAborted
)

func (s senderState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateSending:
		return "Sending"
	case stateAwaitingAck:
		return "AwaitingAck"
	case stateAllBlocksSent:
		return "AllBlocksSent"
	case stateSenderAborted:
		return "Aborted"
	default:
		return "unknown"
	}
}

// sender runs the sending role: handshake, session header, stop-and-
// wait blocks, final verdict. One block is in flight at a time; a
// retransmission reuses the identical encoded frame.
type sender struct {
	t         Transport
	tr        *transportReader
	config    *Config
	logger    Logger
	callbacks *Callbacks
	ctx       context.Context

	state senderState
	stats Stats
}

func (s *sender) run(md TransferMetadata, src io.Reader) (Stats, error) {
	if err := s.negotiate(md); err != nil {
		s.state = stateSenderAborted
		return s.stats, err
	}
	s.callbacks.OnTransferStart(md.Filename, md.TotalLen)

	if err := writeFull(s.t, EncodeSession(SessionParams{
		Version:  md.Version,
		TotalLen: md.TotalLen,
		FileCRC:  md.FileCRC,
	})); err != nil {
		s.state = stateSenderAborted
		return s.stats, err
	}

	if err := s.sendBlocks(md, src); err != nil {
		s.state = stateSenderAborted
		return s.stats, err
	}
	s.state = stateAllBlocksSent

	return s.stats, s.awaitFinal()
}

// sendBlocks slices src into blocks of up to BlockSize bytes and
// delivers them in order, sequence numbers 0,1,2,... wrapping modulo
// 2^16. The final block carries exactly the remaining bytes.
func (s *sender) sendBlocks(md TransferMetadata, src io.Reader) error {
	progress := newProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	progress.start(md.Filename, md.TotalLen)

	buf := make([]byte, s.config.BlockSize)
	var sent uint64
	var seq uint16

	for sent < md.TotalLen {
		want := uint64(len(buf))
		if remain := md.TotalLen - sent; remain < want {
			want = remain
		}
		if _, err := io.ReadFull(src, buf[:want]); err != nil {
			return NewError(ErrFilesystem, fmt.Sprintf("read source: %v", err))
		}

		frame, err := EncodeBlock(Block{Seq: seq, Payload: buf[:want]})
		if err != nil {
			return err
		}
		if err := s.deliver(seq, frame); err != nil {
			return err
		}

		sent += want
		s.stats.BytesTransferred = sent
		seq++ // wraps modulo 2^16 by construction
		progress.update(sent)
	}
	progress.complete()
	return nil
}

// deliver sends one encoded block and blocks until it is acknowledged,
// retransmitting the identical frame on NAK or timeout up to the retry
// budget.
func (s *sender) deliver(seq uint16, frame []byte) error {
	attempts := s.config.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := s.checkContext(); err != nil {
			return err
		}
		if attempt > 0 {
			s.stats.Retransmits++
			s.callbacks.OnRetransmit(seq, attempt)
			s.logger.Debug("seq=%d retransmit (attempt %d/%d)", seq, attempt+1, attempts)
		}

		s.state = stateSending
		if err := writeFull(s.t, frame); err != nil {
			return err
		}
		s.stats.BlocksSent++

		s.state = stateAwaitingAck
		sig, err := s.awaitControl(s.config.AckTimeout)
		if err != nil {
			if IsTimeout(err) {
				s.callbacks.OnError(NewBlockError(ErrTimeout, "no acknowledgement", seq), "block")
				continue
			}
			return err
		}
		if sig == SignalACK {
			return nil
		}
		// NAK: the receiver saw a damaged or inconsistent frame.
		s.callbacks.OnError(NewBlockError(ErrChecksum, "receiver rejected block", seq), "block")
	}
	return NewBlockError(ErrTimeout,
		fmt.Sprintf("block not delivered after %d attempts", attempts), seq)
}

// awaitControl waits for a single ACK/NAK byte, skipping line noise,
// until the timeout expires.
func (s *sender) awaitControl(timeout time.Duration) (ControlSignal, error) {
	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, NewError(ErrTimeout, "control byte timed out")
		}
		b, err := s.tr.readByte(remain)
		if err != nil {
			return 0, err
		}
		sig, _, derr := DecodeControl([]byte{b})
		if derr != nil {
			// Console residue or noise; keep scanning.
			continue
		}
		return sig, nil
	}
}

// awaitFinal waits for the receiver's whole-file verdict.
func (s *sender) awaitFinal() error {
	deadline := time.Now().Add(s.config.FinalTimeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return NewError(ErrTimeout, "no final verdict from receiver")
		}
		first, err := s.tr.readByte(remain)
		if err != nil {
			return err
		}
		if first != finalOK[0] && first != finalFail[0] {
			continue
		}
		remain = time.Until(deadline)
		if remain <= 0 {
			return NewError(ErrTimeout, "no final verdict from receiver")
		}
		second, err := s.tr.readByte(remain)
		if err != nil {
			return err
		}
		sig, _, derr := DecodeFinal([]byte{first, second})
		if derr != nil {
			continue
		}
		if sig == SignalFinalOK {
			s.logger.Info("receiver verified final checksum")
			return nil
		}
		return NewError(ErrVerification, "receiver reported final checksum mismatch")
	}
}

func (s *sender) checkContext() error {
	select {
	case <-s.ctx.Done():
		return NewError(ErrCancelled, s.ctx.Err().Error())
	default:
		return nil
	}
}
