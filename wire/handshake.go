package wire

import (
	"time"
)

// Handshake negotiation. The sender announces metadata and waits for a
// bare ACK byte; the receiver answers only a handshake it accepts. A
// refusing receiver therefore looks exactly like an absent one and the
// sender's retry budget expires — the protocol does not distinguish
// the two.

// negotiate sends the handshake and waits for the receiver's ACK,
// retrying up to the handshake retry budget.
func (s *sender) negotiate(md TransferMetadata) error {
	frame, err := EncodeHandshake(md)
	if err != nil {
		return err
	}

	attempts := s.config.HandshakeRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := s.checkContext(); err != nil {
			return err
		}
		if attempt > 0 {
			s.logger.Debug("handshake retry %d/%d", attempt+1, attempts)
		}
		if err := writeFull(s.t, frame); err != nil {
			return err
		}

		sig, err := s.awaitControl(s.config.HandshakeTimeout)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			return err
		}
		if sig == SignalACK {
			s.logger.Info("handshake negotiated: %s (%d bytes)", md.Filename, md.TotalLen)
			return nil
		}
		// NAK during handshake: treat like a miss and retry.
	}
	return NewError(ErrHandshake, "receiver did not acknowledge handshake")
}

// awaitHandshake scans the incoming byte stream for a valid handshake
// frame, tolerating any preceding garbage. Malformed or wrong-version
// frames are ignored (no response — the sender will retry) until the
// idle budget expires.
func (r *receiver) awaitHandshake() (TransferMetadata, error) {
	deadline := time.Now().Add(r.config.HandshakeIdle)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return TransferMetadata{}, NewError(ErrTimeout, "no handshake before idle budget")
		}
		if err := r.checkContext(); err != nil {
			return TransferMetadata{}, err
		}

		if err := r.tr.awaitMagic(MagicHandshake, remain); err != nil {
			return TransferMetadata{}, err
		}

		// The magic is consumed; read the fixed remainder, then the
		// name, and run the whole frame through the decoder.
		buf := make([]byte, handshakeFixedLen, handshakeFixedLen+MaxFilenameLen)
		copy(buf, MagicHandshake)
		if err := r.tr.readFull(buf[len(MagicHandshake):handshakeFixedLen], r.config.AckTimeout); err != nil {
			r.logger.Debug("handshake header cut short: %v", err)
			continue
		}
		md, _, derr := DecodeHandshake(buf)
		if derr == ErrShortFrame {
			nameLen := int(buf[5]) | int(buf[6])<<8
			if nameLen <= 0 || nameLen > MaxFilenameLen {
				r.logger.Debug("handshake with bad name length %d ignored", nameLen)
				continue
			}
			buf = buf[:handshakeFixedLen+nameLen]
			if err := r.tr.readFull(buf[handshakeFixedLen:], r.config.AckTimeout); err != nil {
				r.logger.Debug("handshake name cut short: %v", err)
				continue
			}
			md, _, derr = DecodeHandshake(buf)
		}
		if derr != nil {
			r.logger.Debug("malformed handshake ignored: %v", derr)
			continue
		}
		if md.Version != ProtocolVersion {
			r.logger.Info("handshake version %d rejected (want %d)", md.Version, ProtocolVersion)
			continue
		}
		r.logger.Info("handshake: %s size=%d crc=0x%08x", md.Filename, md.TotalLen, md.FileCRC)
		return md, nil
	}
}

// awaitSessionHeader waits for the sender's session header and checks
// that it echoes the negotiated metadata exactly. Any mismatch rejects
// the session before a single block is exchanged.
func (r *receiver) awaitSessionHeader(md TransferMetadata) error {
	if err := r.tr.awaitMagic(MagicSession, r.config.SessionTimeout); err != nil {
		return err
	}

	buf := make([]byte, sessionHeaderLen)
	copy(buf, MagicSession)
	if err := r.tr.readFull(buf[len(MagicSession):], r.config.AckTimeout); err != nil {
		return err
	}
	params, _, err := DecodeSession(buf)
	if err != nil {
		return err
	}
	if !params.Matches(md) {
		return NewError(ErrProtocol, "session header does not match negotiated metadata")
	}
	return nil
}
