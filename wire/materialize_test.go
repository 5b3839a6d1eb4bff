package wire

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestMaterializerCommit(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	data := []byte("first half, second half")
	md := TransferMetadata{Filename: "out.bin", TotalLen: uint64(len(data)), FileCRC: Checksum32(data)}

	m, err := NewMaterializer(dest, md)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Append(data[:11]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Append(data[11:]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if m.Written() != uint64(len(data)) {
		t.Errorf("written %d, want %d", m.Written(), len(data))
	}

	if err := m.Commit(md.FileCRC); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read committed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("committed content differs")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("provisional artifact still present after commit")
	}
}

func TestMaterializerMismatchPreservesPart(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	data := []byte("content")
	md := TransferMetadata{Filename: "out.bin", TotalLen: uint64(len(data))}

	m, err := NewMaterializer(dest, md)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Append(data); err != nil {
		t.Fatalf("append: %v", err)
	}

	err = m.Commit(Checksum32(data) + 1)
	if !isType(err, ErrVerification) {
		t.Fatalf("commit with wrong crc: %v, want verification failure", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("final path exists after failed verification")
	}
	got, err := os.ReadFile(dest + ".part")
	if err != nil {
		t.Fatalf("partial artifact missing: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("preserved artifact content differs")
	}
}

func TestMaterializerCommitReplacesExisting(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest, []byte("stale"), 0644); err != nil {
		t.Fatalf("seed existing: %v", err)
	}

	data := []byte("fresh")
	m, err := NewMaterializer(dest, TransferMetadata{Filename: "out.bin"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Append(data); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Commit(Checksum32(data)); err != nil {
		t.Fatalf("commit over existing: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Errorf("target holds %q, want %q", got, data)
	}
}

func TestMaterializerDirectoryDestination(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMaterializer(dir, TransferMetadata{Filename: "inner.bin"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want := filepath.Join(dir, "inner.bin")
	if m.FinalPath() != want {
		t.Errorf("final path %q, want %q", m.FinalPath(), want)
	}
	if m.PartPath() != want+".part" {
		t.Errorf("part path %q, want %q", m.PartPath(), want+".part")
	}
	m.Abandon()
}

func TestMaterializerSanitizesAnnouncedName(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMaterializer(dir, TransferMetadata{Filename: "../../etc/passwd"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Abandon()
	if m.FinalPath() != filepath.Join(dir, "passwd") {
		t.Errorf("path traversal not neutralized: %q", m.FinalPath())
	}
}

func TestMaterializerAbandonKeepsPart(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	m, err := NewMaterializer(dest, TransferMetadata{Filename: "out.bin"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Append([]byte("partial")); err != nil {
		t.Fatalf("append: %v", err)
	}
	m.Abandon()

	if _, err := os.Stat(dest + ".part"); err != nil {
		t.Errorf("abandoned artifact should survive: %v", err)
	}
	if err := m.Append([]byte("more")); err == nil {
		t.Error("append after abandon succeeded")
	}
}
