package wire

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// armReceiver runs a full manual handshake + session header exchange
// against a Session.Receive running on the peer end, returning the
// outcome channel and a reader for the test side.
func armReceiver(t *testing.T, a, b Transport, md TransferMetadata, dest string) (chan *Outcome, *transportReader) {
	t.Helper()
	done := make(chan *Outcome, 1)
	go func() {
		done <- NewSession(b, WithConfig(testConfig())).Receive(dest)
	}()

	frame, err := EncodeHandshake(md)
	if err != nil {
		t.Fatalf("encode handshake: %v", err)
	}
	a.Write(frame)

	tr := newTransportReader(a)
	if sig, err := readControlByte(tr, time.Second); err != nil || sig != SignalACK {
		t.Fatalf("handshake not acknowledged: %v %v", sig, err)
	}
	a.Write(EncodeSession(SessionParams{Version: md.Version, TotalLen: md.TotalLen, FileCRC: md.FileCRC}))
	return done, tr
}

func sendBlockExpResult(t *testing.T, a Transport, tr *transportReader, blk Block, want ControlSignal) {
	t.Helper()
	frame, err := EncodeBlock(blk)
	if err != nil {
		t.Fatalf("encode block %d: %v", blk.Seq, err)
	}
	a.Write(frame)
	sig, err := readControlByte(tr, time.Second)
	if err != nil {
		t.Fatalf("no response to block %d: %v", blk.Seq, err)
	}
	if sig != want {
		t.Fatalf("block %d answered %s, want %s", blk.Seq, sig, want)
	}
}

func TestReceiverDuplicateBlockIsIdempotent(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	p0 := bytes.Repeat([]byte{0x11}, 64)
	p1 := bytes.Repeat([]byte{0x22}, 36)
	whole := append(append([]byte(nil), p0...), p1...)
	md := TransferMetadata{
		Filename: "dup.bin",
		TotalLen: uint64(len(whole)),
		FileCRC:  Checksum32(whole),
		Version:  ProtocolVersion,
	}
	dest := filepath.Join(t.TempDir(), "dup.bin")
	done, tr := armReceiver(t, a, b, md, dest)

	sendBlockExpResult(t, a, tr, Block{Seq: 0, Payload: p0}, SignalACK)
	// Retransmit of the same block, as if our ACK had been lost: it
	// must be re-acknowledged without growing the artifact.
	sendBlockExpResult(t, a, tr, Block{Seq: 0, Payload: p0}, SignalACK)
	sendBlockExpResult(t, a, tr, Block{Seq: 1, Payload: p1}, SignalACK)

	verdict := make([]byte, 2)
	if err := tr.readFull(verdict, time.Second); err != nil {
		t.Fatalf("no final verdict: %v", err)
	}
	if sig, _, _ := DecodeFinal(verdict); sig != SignalFinalOK {
		t.Fatalf("final verdict %q, want OK", verdict)
	}

	out := <-done
	if out.Status != Committed {
		t.Fatalf("status %s (%v), want committed", out.Status, out.Reason)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read committed file: %v", err)
	}
	if !bytes.Equal(got, whole) {
		t.Errorf("committed %d bytes, want %d and identical content", len(got), len(whole))
	}
}

func TestReceiverSequenceViolationAborts(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	p0 := bytes.Repeat([]byte{0x33}, 64)
	md := TransferMetadata{
		Filename: "seq.bin",
		TotalLen: 200,
		FileCRC:  0xABCD,
		Version:  ProtocolVersion,
	}
	dest := filepath.Join(t.TempDir(), "seq.bin")
	done, tr := armReceiver(t, a, b, md, dest)

	sendBlockExpResult(t, a, tr, Block{Seq: 0, Payload: p0}, SignalACK)

	// Neither expected-next nor the previous duplicate: fatal.
	frame, _ := EncodeBlock(Block{Seq: 5, Payload: p0})
	a.Write(frame)

	out := <-done
	if out.Status != Aborted {
		t.Fatalf("status %s, want aborted", out.Status)
	}
	if !isType(out.Reason, ErrSequence) {
		t.Errorf("reason %v, want sequence violation", out.Reason)
	}
	// The provisional artifact holds exactly the accepted bytes.
	got, err := os.ReadFile(dest + ".part")
	if err != nil {
		t.Fatalf("partial artifact missing: %v", err)
	}
	if !bytes.Equal(got, p0) {
		t.Errorf("artifact holds %d bytes, want the first block only", len(got))
	}
}

func TestReceiverNAKsDamagedBlock(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	payload := bytes.Repeat([]byte{0x44}, 80)
	md := TransferMetadata{
		Filename: "crc.bin",
		TotalLen: uint64(len(payload)),
		FileCRC:  Checksum32(payload),
		Version:  ProtocolVersion,
	}
	dest := filepath.Join(t.TempDir(), "crc.bin")
	done, tr := armReceiver(t, a, b, md, dest)

	frame, _ := EncodeBlock(Block{Seq: 0, Payload: payload})
	damaged := append([]byte(nil), frame...)
	damaged[len(damaged)/2] ^= 0xFF
	a.Write(damaged)
	if sig, err := readControlByte(tr, time.Second); err != nil || sig != SignalNAK {
		t.Fatalf("damaged block answered %v (%v), want NAK", sig, err)
	}

	// The clean retransmission completes the transfer.
	sendBlockExpResult(t, a, tr, Block{Seq: 0, Payload: payload}, SignalACK)

	verdict := make([]byte, 2)
	if err := tr.readFull(verdict, time.Second); err != nil {
		t.Fatalf("no final verdict: %v", err)
	}
	out := <-done
	if out.Status != Committed {
		t.Fatalf("status %s (%v), want committed", out.Status, out.Reason)
	}
}

func TestReceiverNAKsOverrunBlock(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	md := TransferMetadata{
		Filename: "small.bin",
		TotalLen: 10,
		FileCRC:  0x1,
		Version:  ProtocolVersion,
	}
	dest := filepath.Join(t.TempDir(), "small.bin")
	_, tr := armReceiver(t, a, b, md, dest)

	// 64 payload bytes against a 10-byte total: internally consistent,
	// but it would overrun the negotiated length.
	sendBlockExpResult(t, a, tr, Block{Seq: 0, Payload: make([]byte, 64)}, SignalNAK)
}

func TestReceiverFinalMismatchPreservesArtifact(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	payload := bytes.Repeat([]byte{0x55}, 48)
	md := TransferMetadata{
		Filename: "bad.bin",
		TotalLen: uint64(len(payload)),
		FileCRC:  Checksum32(payload) ^ 0xFFFFFFFF, // announced wrong
		Version:  ProtocolVersion,
	}
	dest := filepath.Join(t.TempDir(), "bad.bin")
	done, tr := armReceiver(t, a, b, md, dest)

	sendBlockExpResult(t, a, tr, Block{Seq: 0, Payload: payload}, SignalACK)

	verdict := make([]byte, 2)
	if err := tr.readFull(verdict, time.Second); err != nil {
		t.Fatalf("no final verdict: %v", err)
	}
	if sig, _, _ := DecodeFinal(verdict); sig != SignalFinalFail {
		t.Fatalf("final verdict %q, want NO", verdict)
	}

	out := <-done
	if out.Status != Rejected {
		t.Fatalf("status %s, want rejected", out.Status)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("final path exists despite failed verification")
	}
	got, err := os.ReadFile(dest + ".part")
	if err != nil {
		t.Fatalf("partial artifact missing: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("artifact content does not match delivered blocks")
	}
}

func TestReceiverIntoDirectoryUsesNegotiatedName(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	payload := []byte("directory destination")
	md := TransferMetadata{
		Filename: "named.txt",
		TotalLen: uint64(len(payload)),
		FileCRC:  Checksum32(payload),
		Version:  ProtocolVersion,
	}
	dir := t.TempDir()
	done, tr := armReceiver(t, a, b, md, dir)

	sendBlockExpResult(t, a, tr, Block{Seq: 0, Payload: payload}, SignalACK)

	verdict := make([]byte, 2)
	if err := tr.readFull(verdict, time.Second); err != nil {
		t.Fatalf("no final verdict: %v", err)
	}
	out := <-done
	if out.Status != Committed {
		t.Fatalf("status %s (%v), want committed", out.Status, out.Reason)
	}
	want := filepath.Join(dir, "named.txt")
	if out.Path != want {
		t.Errorf("committed path %q, want %q", out.Path, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("committed file missing: %v", err)
	}
}
