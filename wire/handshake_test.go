package wire

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testConfig returns timeouts tightened for in-memory pipes.
func testConfig() *Config {
	return &Config{
		BlockSize:        1024,
		MaxRetries:       6,
		HandshakeRetries: 2,
		AckTimeout:       250 * time.Millisecond,
		HandshakeTimeout: 150 * time.Millisecond,
		HandshakeIdle:    2 * time.Second,
		SessionTimeout:   500 * time.Millisecond,
		FinalTimeout:     time.Second,
		DrainQuiet:       30 * time.Millisecond,
		ProgressInterval: 10 * time.Millisecond,
	}
}

// writeTempFile creates a file with deterministic pseudo-random content.
func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	state := uint32(0x2545F491)
	for i := range data {
		state = state*1664525 + 1013904223
		data[i] = byte(state >> 24)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestHandshakeRetriesThenAborts(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	src := writeTempFile(t, 100)

	// Count frames arriving at the silent peer without ever answering.
	frames := make(chan int, 1)
	go func() {
		tr := newTransportReader(b)
		count := 0
		for {
			if err := tr.awaitMagic(MagicHandshake, time.Second); err != nil {
				break
			}
			count++
		}
		frames <- count
	}()

	out := NewSession(a, WithConfig(testConfig())).Send(src)
	if out.Status != Aborted {
		t.Fatalf("status %s, want aborted", out.Status)
	}
	if !isType(out.Reason, ErrHandshake) {
		t.Errorf("reason %v, want handshake failure", out.Reason)
	}
	a.Close()
	if got := <-frames; got != 3 { // 1 + HandshakeRetries
		t.Errorf("peer saw %d handshake frames, want 3", got)
	}
}

func TestHandshakeNAKTreatedAsRetry(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	src := writeTempFile(t, 100)

	go func() {
		tr := newTransportReader(b)
		// Refuse the first handshake, accept the second, then vanish.
		tr.awaitMagic(MagicHandshake, time.Second)
		tr.drain(30 * time.Millisecond)
		b.Write(EncodeControl(SignalNAK))
		tr.awaitMagic(MagicHandshake, time.Second)
		tr.drain(30 * time.Millisecond)
		b.Write(EncodeControl(SignalACK))
	}()

	out := NewSession(a, WithConfig(testConfig())).Send(src)
	// The handshake succeeded; the session then died waiting for block
	// acknowledgements, which is a different failure type.
	if isType(out.Reason, ErrHandshake) {
		t.Errorf("handshake should have been accepted on retry, got %v", out.Reason)
	}
}

func TestReceiverIgnoresNoiseBeforeHandshake(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	done := make(chan *Outcome, 1)
	go func() {
		done <- NewSession(b, WithConfig(testConfig())).Receive(filepath.Join(t.TempDir(), "out.bin"))
	}()

	md := TransferMetadata{Filename: "x.bin", TotalLen: 4, FileCRC: Checksum32([]byte("data")), Version: ProtocolVersion}
	frame, _ := EncodeHandshake(md)
	a.Write([]byte("WIRE bridge v2\r\n# "))
	a.Write(frame)

	tr := newTransportReader(a)
	sig, err := readControlByte(tr, time.Second)
	if err != nil || sig != SignalACK {
		t.Fatalf("after noise+handshake: sig=%v err=%v, want ACK", sig, err)
	}

	// No session header follows; the receiver gives up on its own.
	out := <-done
	if out.Status != Aborted {
		t.Errorf("status %s, want aborted", out.Status)
	}
}

func TestReceiverIgnoresWrongVersion(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	go NewSession(b, WithConfig(testConfig())).Receive(filepath.Join(t.TempDir(), "out.bin"))

	bad := TransferMetadata{Filename: "x", TotalLen: 1, Version: ProtocolVersion + 1}
	frame, _ := EncodeHandshake(bad)
	a.Write(frame)

	tr := newTransportReader(a)
	if _, err := readControlByte(tr, 300*time.Millisecond); !IsTimeout(err) {
		t.Fatal("wrong-version handshake was acknowledged")
	}

	// A correct handshake on the same link still goes through.
	good := bad
	good.Version = ProtocolVersion
	frame, _ = EncodeHandshake(good)
	a.Write(frame)
	if sig, err := readControlByte(tr, time.Second); err != nil || sig != SignalACK {
		t.Fatalf("valid handshake after bad one: sig=%v err=%v", sig, err)
	}
}

func TestSessionHeaderMismatchRejected(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	done := make(chan *Outcome, 1)
	go func() {
		done <- NewSession(b, WithConfig(testConfig())).Receive(filepath.Join(t.TempDir(), "out.bin"))
	}()

	md := TransferMetadata{Filename: "x.bin", TotalLen: 8, FileCRC: 0x1234, Version: ProtocolVersion}
	frame, _ := EncodeHandshake(md)
	a.Write(frame)

	tr := newTransportReader(a)
	if sig, err := readControlByte(tr, time.Second); err != nil || sig != SignalACK {
		t.Fatalf("handshake not acknowledged: %v %v", sig, err)
	}

	// Echo back different parameters under the session magic.
	a.Write(EncodeSession(SessionParams{Version: ProtocolVersion, TotalLen: 9, FileCRC: 0x1234}))

	out := <-done
	if out.Status != Aborted {
		t.Fatalf("status %s, want aborted", out.Status)
	}
	if !isType(out.Reason, ErrProtocol) {
		t.Errorf("reason %v, want protocol violation", out.Reason)
	}
}

// readControlByte reads one ACK/NAK control byte for test peers.
func readControlByte(tr *transportReader, timeout time.Duration) (ControlSignal, error) {
	b, err := tr.readByte(timeout)
	if err != nil {
		return 0, err
	}
	sig, _, derr := DecodeControl([]byte{b})
	if derr != nil {
		return 0, derr
	}
	return sig, nil
}
