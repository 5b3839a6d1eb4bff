package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// All multi-byte integers on the wire are little-endian. The layouts
// are a compatibility contract with the original bridge tooling and
// must not change.

// Checksum32 computes the CRC32 (IEEE polynomial) of p. It is the
// checksum used for both per-block and whole-file integrity and is
// byte-identical across endpoints.
func Checksum32(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// updateChecksum32 extends a running Checksum32 with more bytes.
func updateChecksum32(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, p)
}

// EncodeHandshake encodes transfer metadata into a handshake frame.
// The filename must be non-empty and at most MaxFilenameLen bytes.
func EncodeHandshake(md TransferMetadata) ([]byte, error) {
	name := []byte(md.Filename)
	if len(name) == 0 || len(name) > MaxFilenameLen {
		return nil, NewError(ErrLengthMismatch,
			fmt.Sprintf("filename length %d not in 1..%d", len(name), MaxFilenameLen))
	}

	buf := make([]byte, handshakeFixedLen+len(name))
	copy(buf[0:4], MagicHandshake)
	buf[4] = md.Version
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(name)))
	binary.LittleEndian.PutUint64(buf[7:15], md.TotalLen)
	binary.LittleEndian.PutUint32(buf[15:19], md.FileCRC)
	copy(buf[handshakeFixedLen:], name)
	return buf, nil
}

// DecodeHandshake decodes a handshake frame from the front of buf.
// It returns the metadata and the number of bytes consumed.
//
// Decoders never assume buf holds exactly one frame: ErrShortFrame
// means "feed me more bytes", anything else means malformed input.
// Decoding never mutates caller state.
func DecodeHandshake(buf []byte) (TransferMetadata, int, error) {
	var md TransferMetadata
	if len(buf) < handshakeFixedLen {
		return md, 0, ErrShortFrame
	}
	if string(buf[0:4]) != MagicHandshake {
		return md, 0, NewError(ErrBadMagic, "not a handshake frame")
	}

	nameLen := int(binary.LittleEndian.Uint16(buf[5:7]))
	if nameLen == 0 || nameLen > MaxFilenameLen {
		return md, 0, NewError(ErrLengthMismatch,
			fmt.Sprintf("filename length %d not in 1..%d", nameLen, MaxFilenameLen))
	}
	if len(buf) < handshakeFixedLen+nameLen {
		return md, 0, ErrShortFrame
	}

	md.Version = buf[4]
	md.TotalLen = binary.LittleEndian.Uint64(buf[7:15])
	md.FileCRC = binary.LittleEndian.Uint32(buf[15:19])
	md.Filename = string(buf[handshakeFixedLen : handshakeFixedLen+nameLen])
	return md, handshakeFixedLen + nameLen, nil
}

// EncodeSession encodes the receiver's confirmation of the negotiated
// parameters.
func EncodeSession(p SessionParams) []byte {
	buf := make([]byte, sessionHeaderLen)
	copy(buf[0:4], MagicSession)
	buf[4] = p.Version
	binary.LittleEndian.PutUint64(buf[5:13], p.TotalLen)
	binary.LittleEndian.PutUint32(buf[13:17], p.FileCRC)
	return buf
}

// DecodeSession decodes a session header from the front of buf.
func DecodeSession(buf []byte) (SessionParams, int, error) {
	var p SessionParams
	if len(buf) < sessionHeaderLen {
		return p, 0, ErrShortFrame
	}
	if string(buf[0:4]) != MagicSession {
		return p, 0, NewError(ErrBadMagic, "not a session header")
	}
	p.Version = buf[4]
	p.TotalLen = binary.LittleEndian.Uint64(buf[5:13])
	p.FileCRC = binary.LittleEndian.Uint32(buf[13:17])
	return p, sessionHeaderLen, nil
}

// EncodeBlock encodes a data block. The block's CRC field is ignored;
// the checksum is always computed fresh over the payload.
func EncodeBlock(b Block) ([]byte, error) {
	if len(b.Payload) == 0 || len(b.Payload) > MaxBlockSize {
		return nil, NewBlockError(ErrLengthMismatch,
			fmt.Sprintf("payload length %d not in 1..%d", len(b.Payload), MaxBlockSize), b.Seq)
	}

	buf := make([]byte, blockHeaderLen+len(b.Payload)+blockTrailerLen)
	binary.LittleEndian.PutUint16(buf[0:2], b.Seq)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(b.Payload)))
	copy(buf[blockHeaderLen:], b.Payload)
	crc := Checksum32(b.Payload)
	binary.LittleEndian.PutUint32(buf[blockHeaderLen+len(b.Payload):], crc)
	return buf, nil
}

// DecodeBlock decodes a data block from the front of buf.
//
// On a checksum mismatch the consumed count is still returned, so the
// caller can skip the damaged frame before answering with a NAK.
func DecodeBlock(buf []byte) (Block, int, error) {
	var b Block
	if len(buf) < blockHeaderLen {
		return b, 0, ErrShortFrame
	}

	seq := binary.LittleEndian.Uint16(buf[0:2])
	plen := int(binary.LittleEndian.Uint16(buf[2:4]))
	if plen == 0 || plen > MaxBlockSize {
		return b, 0, NewBlockError(ErrLengthMismatch,
			fmt.Sprintf("payload length %d not in 1..%d", plen, MaxBlockSize), seq)
	}

	total := blockHeaderLen + plen + blockTrailerLen
	if len(buf) < total {
		return b, 0, ErrShortFrame
	}

	b.Seq = seq
	b.Payload = make([]byte, plen)
	copy(b.Payload, buf[blockHeaderLen:blockHeaderLen+plen])
	b.CRC = binary.LittleEndian.Uint32(buf[blockHeaderLen+plen : total])

	if Checksum32(b.Payload) != b.CRC {
		return b, total, NewBlockError(ErrChecksum, "block checksum mismatch", seq)
	}
	return b, total, nil
}

// EncodeControl encodes a control signal. ACK and NAK are one byte;
// the final verdicts are two.
func EncodeControl(sig ControlSignal) []byte {
	switch sig {
	case SignalACK:
		return []byte{ctrlACK}
	case SignalNAK:
		return []byte{ctrlNAK}
	case SignalFinalOK:
		return append([]byte(nil), finalOK...)
	case SignalFinalFail:
		return append([]byte(nil), finalFail...)
	default:
		return nil
	}
}

// DecodeControl decodes a per-block control byte (ACK or NAK).
//
// The wire reuses 'N' as both NAK and the first byte of the final "NO"
// verdict; the strict request/response alternation keeps them apart, so
// block-phase and final-phase decoding are separate entry points.
func DecodeControl(buf []byte) (ControlSignal, int, error) {
	if len(buf) < 1 {
		return 0, 0, ErrShortFrame
	}
	switch buf[0] {
	case ctrlACK:
		return SignalACK, 1, nil
	case ctrlNAK:
		return SignalNAK, 1, nil
	default:
		return 0, 0, NewError(ErrBadMagic, fmt.Sprintf("unknown control byte %#02x", buf[0]))
	}
}

// DecodeFinal decodes the two-byte final verdict ("OK" or "NO").
func DecodeFinal(buf []byte) (ControlSignal, int, error) {
	if len(buf) < 2 {
		return 0, 0, ErrShortFrame
	}
	switch {
	case buf[0] == finalOK[0] && buf[1] == finalOK[1]:
		return SignalFinalOK, 2, nil
	case buf[0] == finalFail[0] && buf[1] == finalFail[1]:
		return SignalFinalFail, 2, nil
	default:
		return 0, 0, NewError(ErrBadMagic, fmt.Sprintf("unknown final verdict %q", buf[:2]))
	}
}
