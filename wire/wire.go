// Package wire implements a reliable single-file transfer protocol for
// narrow serial links bridged by transparent UART relay hardware.
//
// The protocol is a stop-and-wait ARQ: a handshake carries the file
// metadata, a session header confirms it, and the file then flows as
// fixed-upper-bound blocks, each CRC32-protected and individually
// acknowledged. After the last block the receiver verifies a whole-file
// CRC32 and either commits the file or preserves the partial artifact
// for inspection. The wire format is byte-compatible with the original
// host-side tooling for the WIRE UART bridge firmware.
//
// The package is designed as a library: the protocol core is pure logic
// over a Transport capability, so it can be driven by a real serial
// port, an SSH session, or an in-memory (optionally fault-injecting)
// pipe for tests.
package wire

// Frame magics. Both appear literally on the wire.
const (
	// MagicHandshake opens a transfer: metadata from the sender.
	MagicHandshake = "HS20"

	// MagicSession confirms the negotiated parameters before data flows.
	MagicSession = "WRP2"
)

// ProtocolVersion is carried in both the handshake and session header.
// Endpoints reject any other value.
const ProtocolVersion = 2

// Control bytes. ACK/NAK answer individual blocks; the two-byte final
// verdicts answer the whole-file verification.
const (
	ctrlACK = 'K'
	ctrlNAK = 'N'
)

var (
	finalOK   = []byte("OK")
	finalFail = []byte("NO")
)

// Wire sizes (fixed parts of each frame).
const (
	handshakeFixedLen = 19 // magic(4) ver(1) name_len(2) total_len(8) crc(4)
	sessionHeaderLen  = 17 // magic(4) ver(1) total_len(8) crc(4)
	blockHeaderLen    = 4  // seq(2) len(2)
	blockTrailerLen   = 4  // crc(4)
)

// Protocol limits.
const (
	// MaxBlockSize is the largest payload a block may carry. Decoders
	// reject anything above it; senders clamp their block size to it.
	MaxBlockSize = 32 * 1024

	// MaxFilenameLen bounds the filename carried in the handshake.
	MaxFilenameLen = 1024
)

// ControlSignal is one of the four payload-free protocol signals.
type ControlSignal int

const (
	SignalACK ControlSignal = iota
	SignalNAK
	SignalFinalOK
	SignalFinalFail
)

func (s ControlSignal) String() string {
	switch s {
	case SignalACK:
		return "ACK"
	case SignalNAK:
		return "NAK"
	case SignalFinalOK:
		return "FINAL_OK"
	case SignalFinalFail:
		return "FINAL_FAIL"
	default:
		return "UNKNOWN"
	}
}

// TransferMetadata is negotiated during the handshake and immutable
// afterwards. Both endpoints hold identical copies once negotiation
// completes.
type TransferMetadata struct {
	// Filename is the source file's base name, UTF-8.
	Filename string

	// TotalLen is the exact byte count of the file.
	TotalLen uint64

	// FileCRC is the CRC32 over the entire file contents.
	FileCRC uint32

	// Version is the protocol version (ProtocolVersion on send).
	Version byte
}

// SessionParams is the receiver-confirmed echo of the handshake values,
// sent under the session magic. It must match the handshake exactly or
// the session is rejected before any block is exchanged.
type SessionParams struct {
	Version  byte
	TotalLen uint64
	FileCRC  uint32
}

// Matches reports whether the session parameters echo the metadata.
func (p SessionParams) Matches(md TransferMetadata) bool {
	return p.Version == md.Version && p.TotalLen == md.TotalLen && p.FileCRC == md.FileCRC
}

// Block is one stop-and-wait data unit. Sequence numbers start at 0 and
// wrap modulo 2^16. Payload is 1..MaxBlockSize bytes; the final block
// carries exactly the remaining bytes, never zero.
type Block struct {
	Seq     uint16
	Payload []byte
	CRC     uint32
}
