package wire

import (
	"fmt"
	"time"
)

// Transport is the byte-pipe capability the protocol runs over. It is
// the only seam touching hardware or OS I/O; everything above it is
// pure logic over byte sequences.
//
// Implementations make no framing guarantees: frames may arrive
// arbitrarily fragmented or coalesced across reads.
type Transport interface {
	// Read fills p with 0..len(p) bytes, returning n == 0 with a nil
	// error on timeout. It never blocks past the timeout.
	Read(p []byte, timeout time.Duration) (int, error)

	// Write writes p, possibly short. Callers loop to completion.
	Write(p []byte) (int, error)

	// Flush blocks until previously written bytes have been handed to
	// the underlying medium.
	Flush() error

	// Available reports bytes that can be read without blocking. It is
	// a hint; implementations that cannot know return 0.
	Available() int

	// Close releases the underlying resource. Blocked reads return.
	Close() error
}

// writeFull writes all of p, looping over short writes, then flushes.
func writeFull(t Transport, p []byte) error {
	for off := 0; off < len(p); {
		n, err := t.Write(p[off:])
		if err != nil {
			return NewError(ErrIO, fmt.Sprintf("write: %v", err))
		}
		if n <= 0 {
			return NewError(ErrIO, "write made no progress")
		}
		off += n
	}
	if err := t.Flush(); err != nil {
		return NewError(ErrIO, fmt.Sprintf("flush: %v", err))
	}
	return nil
}

// transportReader layers byte-granular buffered reading on a Transport.
// Both state machines read through one of these; it owns the only read
// buffer, so purging it really discards everything already received.
type transportReader struct {
	t    Transport
	buf  []byte
	pos  int
	left int
}

func newTransportReader(t Transport) *transportReader {
	return &transportReader{t: t, buf: make([]byte, 4096)}
}

// readByte returns one byte, waiting at most timeout for it.
func (tr *transportReader) readByte(timeout time.Duration) (byte, error) {
	if tr.left > 0 {
		b := tr.buf[tr.pos]
		tr.pos++
		tr.left--
		return b, nil
	}

	n, err := tr.t.Read(tr.buf, timeout)
	if err != nil {
		return 0, NewError(ErrIO, fmt.Sprintf("read: %v", err))
	}
	if n == 0 {
		return 0, NewError(ErrTimeout, "read timed out")
	}
	tr.pos = 1
	tr.left = n - 1
	return tr.buf[0], nil
}

// readFull fills p completely or fails. The timeout bounds the whole
// operation, not each underlying read; running out of time mid-frame is
// reported as a truncated frame.
func (tr *transportReader) readFull(p []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for off := 0; off < len(p); {
		// Drain the internal buffer first.
		for tr.left > 0 && off < len(p) {
			p[off] = tr.buf[tr.pos]
			tr.pos++
			tr.left--
			off++
		}
		if off == len(p) {
			return nil
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return NewError(ErrTruncated,
				fmt.Sprintf("stream ended %d bytes into a %d byte read", off, len(p)))
		}
		n, err := tr.t.Read(p[off:], remain)
		if err != nil {
			return NewError(ErrIO, fmt.Sprintf("read: %v", err))
		}
		off += n
	}
	return nil
}

// purge discards everything buffered but not yet consumed.
func (tr *transportReader) purge() {
	tr.pos = 0
	tr.left = 0
}

// drain reads and discards until the line stays quiet for the given
// gap. Used to clear console residue before protocol bytes flow: once
// the shell has stopped talking, the next bytes to arrive are ours.
func (tr *transportReader) drain(quiet time.Duration) {
	tr.purge()
	scratch := make([]byte, 512)
	for {
		n, err := tr.t.Read(scratch, quiet)
		if err != nil || n == 0 {
			return
		}
	}
}

// awaitMagic consumes the stream until the given magic has been seen or
// the deadline passes, tolerating any amount of preceding garbage
// (console residue, line noise). The magic bytes themselves are
// consumed.
func (tr *transportReader) awaitMagic(magic string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	window := make([]byte, 0, len(magic))
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return NewError(ErrTimeout, fmt.Sprintf("no %q magic before deadline", magic))
		}
		b, err := tr.readByte(remain)
		if err != nil {
			if IsTimeout(err) {
				return NewError(ErrTimeout, fmt.Sprintf("no %q magic before deadline", magic))
			}
			return err
		}
		if len(window) == len(magic) {
			copy(window, window[1:])
			window[len(window)-1] = b
		} else {
			window = append(window, b)
		}
		if len(window) == len(magic) && string(window) == magic {
			return nil
		}
	}
}
