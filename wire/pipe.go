package wire

import (
	"errors"
	"sync"
	"time"
)

// errPipeClosed is returned by pipe reads and writes after Close.
var errPipeClosed = errors.New("wire: pipe closed")

// byteQueue is a thread-safe unbounded byte FIFO with timed reads. It
// backs the in-memory pipe and the SSH transport's read pump.
type byteQueue struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	notify chan struct{}
}

func newByteQueue() *byteQueue {
	return &byteQueue{notify: make(chan struct{}, 1)}
}

func (q *byteQueue) push(p []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errPipeClosed
	}
	q.data = append(q.data, p...)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop moves up to len(p) bytes into p, waiting at most timeout for the
// first byte. Returns (0, nil) on timeout. Buffered bytes are still
// delivered after close; only an empty closed queue errors.
func (q *byteQueue) pop(p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.data) > 0 {
			n := copy(p, q.data)
			q.data = q.data[n:]
			q.mu.Unlock()
			return n, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return 0, errPipeClosed
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, nil
		}
		timer := time.NewTimer(remain)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *byteQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *byteQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pipeTransport is one end of an in-memory duplex pipe.
type pipeTransport struct {
	rd *byteQueue
	wr *byteQueue
}

// Pipe returns two connected in-memory Transports. Bytes written to one
// end become readable on the other, preserving order but not write
// boundaries. It is the standard protocol test double.
func Pipe() (Transport, Transport) {
	ab := newByteQueue()
	ba := newByteQueue()
	return &pipeTransport{rd: ba, wr: ab}, &pipeTransport{rd: ab, wr: ba}
}

func (p *pipeTransport) Read(b []byte, timeout time.Duration) (int, error) {
	return p.rd.pop(b, timeout)
}

func (p *pipeTransport) Write(b []byte) (int, error) {
	if err := p.wr.push(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *pipeTransport) Flush() error { return nil }

func (p *pipeTransport) Available() int { return p.rd.size() }

func (p *pipeTransport) Close() error {
	p.rd.close()
	p.wr.close()
	return nil
}

// FaultTransport wraps a Transport and injects deterministic faults
// into selected writes, counted from zero in call order. Deterministic
// schedules keep protocol failure tests exact: one corrupted write
// yields exactly one NAK/retransmit cycle.
type FaultTransport struct {
	inner Transport

	mu      sync.Mutex
	writes  int
	corrupt map[int]bool
	drop    map[int]bool
}

// NewFaultTransport wraps inner with an empty fault schedule.
func NewFaultTransport(inner Transport) *FaultTransport {
	return &FaultTransport{
		inner:   inner,
		corrupt: make(map[int]bool),
		drop:    make(map[int]bool),
	}
}

// CorruptWrite flips a byte in the nth write.
func (f *FaultTransport) CorruptWrite(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt[n] = true
}

// DropWrite swallows the nth write entirely.
func (f *FaultTransport) DropWrite(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop[n] = true
}

// Writes reports how many writes have passed through so far.
func (f *FaultTransport) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *FaultTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	n := f.writes
	f.writes++
	doCorrupt := f.corrupt[n]
	doDrop := f.drop[n]
	f.mu.Unlock()

	if doDrop {
		return len(p), nil
	}
	if doCorrupt && len(p) > 0 {
		damaged := append([]byte(nil), p...)
		damaged[len(damaged)/2] ^= 0xFF
		return f.inner.Write(damaged)
	}
	return f.inner.Write(p)
}

func (f *FaultTransport) Read(p []byte, timeout time.Duration) (int, error) {
	return f.inner.Read(p, timeout)
}

func (f *FaultTransport) Flush() error { return f.inner.Flush() }

func (f *FaultTransport) Available() int { return f.inner.Available() }

func (f *FaultTransport) Close() error { return f.inner.Close() }
