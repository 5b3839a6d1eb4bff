package wire

import (
	"fmt"
	"os"
	"path/filepath"
)

// Materializer owns the provisional artifact on the receiving side.
// Blocks are appended to a ".part" file next to the final destination;
// Commit verifies the running whole-file checksum and renames the
// artifact into place. On any failure the partial artifact is
// preserved for inspection, never deleted.
type Materializer struct {
	final   string
	part    string
	f       *os.File
	written uint64
	crc     uint32
	closed  bool
}

// NewMaterializer resolves the destination and creates the provisional
// artifact. If dest is an existing directory, the sender's announced
// filename (base name only, so a hostile sender cannot escape the
// directory) decides the final path; otherwise dest is used verbatim.
func NewMaterializer(dest string, md TransferMetadata) (*Materializer, error) {
	final := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		name := filepath.Base(md.Filename)
		if name == "." || name == string(filepath.Separator) || name == "" {
			return nil, NewError(ErrFilesystem,
				fmt.Sprintf("announced filename %q is unusable", md.Filename))
		}
		final = filepath.Join(dest, name)
	}
	part := final + ".part"

	f, err := os.Create(part)
	if err != nil {
		return nil, NewError(ErrFilesystem,
			fmt.Sprintf("cannot create %s: %v", part, err))
	}
	return &Materializer{final: final, part: part, f: f}, nil
}

// Append writes a verified block payload and folds it into the running
// whole-file checksum.
func (m *Materializer) Append(p []byte) error {
	if m.closed {
		return NewError(ErrFilesystem, "append to closed artifact")
	}
	if _, err := m.f.Write(p); err != nil {
		return NewError(ErrFilesystem,
			fmt.Sprintf("write to %s: %v", m.part, err))
	}
	m.written += uint64(len(p))
	m.crc = updateChecksum32(m.crc, p)
	return nil
}

// Written reports the number of payload bytes appended so far.
func (m *Materializer) Written() uint64 { return m.written }

// Commit compares the running checksum against the negotiated value
// and, on match, renames the provisional artifact to the final path,
// replacing any existing file. On mismatch the artifact stays on disk
// and a verification error is returned.
func (m *Materializer) Commit(expected uint32) error {
	if m.closed {
		return NewError(ErrFilesystem, "commit of closed artifact")
	}
	if err := m.f.Close(); err != nil {
		return NewError(ErrFilesystem,
			fmt.Sprintf("close %s: %v", m.part, err))
	}
	m.closed = true

	if m.crc != expected {
		return NewError(ErrVerification,
			fmt.Sprintf("file checksum %08x does not match announced %08x", m.crc, expected))
	}
	if err := os.Rename(m.part, m.final); err != nil {
		return NewError(ErrFilesystem,
			fmt.Sprintf("rename %s to %s: %v", m.part, m.final, err))
	}
	return nil
}

// Abandon closes the artifact without committing. The partial file is
// left in place.
func (m *Materializer) Abandon() {
	if !m.closed {
		m.f.Close()
		m.closed = true
	}
}

// PartPath returns the provisional artifact path.
func (m *Materializer) PartPath() string { return m.part }

// FinalPath returns the committed destination path.
func (m *Materializer) FinalPath() string { return m.final }
