package wire

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config holds the protocol timing and retry knobs. Zero values are
// replaced by the corresponding DefaultConfig values.
type Config struct {
	// BlockSize is the payload size of every block but the last,
	// clamped to MaxBlockSize.
	BlockSize int

	// MaxRetries is how many times a block is retransmitted after its
	// first attempt before the session aborts.
	MaxRetries int

	// HandshakeRetries is how many times the handshake is re-sent
	// after its first attempt.
	HandshakeRetries int

	// AckTimeout bounds the wait for a per-block ACK/NAK, and the
	// receiver's wait for the next block.
	AckTimeout time.Duration

	// HandshakeTimeout bounds one wait for the handshake ACK.
	HandshakeTimeout time.Duration

	// HandshakeIdle bounds the receiver's total wait for a handshake.
	HandshakeIdle time.Duration

	// SessionTimeout bounds the receiver's wait for the session header
	// after it has ACKed the handshake.
	SessionTimeout time.Duration

	// FinalTimeout bounds the sender's wait for the final verdict.
	FinalTimeout time.Duration

	// DrainQuiet is the quiet gap used to resynchronize the receiver's
	// input after a damaged frame.
	DrainQuiet time.Duration

	// ProgressInterval rate-limits progress callbacks.
	ProgressInterval time.Duration
}

// DefaultConfig returns the default configuration, tuned for a 115200
// baud bridged UART link.
func DefaultConfig() *Config {
	return &Config{
		BlockSize:        16 * 1024,
		MaxRetries:       6,
		HandshakeRetries: 5,
		AckTimeout:       2 * time.Second,
		HandshakeTimeout: 8 * time.Second,
		HandshakeIdle:    30 * time.Second,
		SessionTimeout:   5 * time.Second,
		FinalTimeout:     10 * time.Second,
		DrainQuiet:       200 * time.Millisecond,
		ProgressInterval: 100 * time.Millisecond,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	out := *c
	if out.BlockSize <= 0 {
		out.BlockSize = def.BlockSize
	}
	if out.BlockSize > MaxBlockSize {
		out.BlockSize = MaxBlockSize
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.HandshakeRetries <= 0 {
		out.HandshakeRetries = def.HandshakeRetries
	}
	if out.AckTimeout <= 0 {
		out.AckTimeout = def.AckTimeout
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.HandshakeIdle <= 0 {
		out.HandshakeIdle = def.HandshakeIdle
	}
	if out.SessionTimeout <= 0 {
		out.SessionTimeout = def.SessionTimeout
	}
	if out.FinalTimeout <= 0 {
		out.FinalTimeout = def.FinalTimeout
	}
	if out.DrainQuiet <= 0 {
		out.DrainQuiet = def.DrainQuiet
	}
	if out.ProgressInterval <= 0 {
		out.ProgressInterval = def.ProgressInterval
	}
	return &out
}

// OutcomeStatus is the terminal state of one session.
type OutcomeStatus int

const (
	// Committed: the receiver holds a verified copy under the final
	// name (sender side: the receiver reported FINAL_OK).
	Committed OutcomeStatus = iota

	// Rejected: all blocks were delivered but the whole-file checksum
	// did not verify. The provisional artifact is preserved.
	Rejected

	// Aborted: the session failed before data was complete. Reason
	// carries the fatal error.
	Aborted
)

func (s OutcomeStatus) String() string {
	switch s {
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal result of a session. Exactly one is
// produced per Send or Receive call.
type Outcome struct {
	Status OutcomeStatus

	// Reason is nil for Committed, otherwise the fatal or verification
	// error.
	Reason error

	// Path is receiver-side only: the committed file on success, the
	// preserved provisional artifact otherwise (empty if none was
	// created).
	Path string

	Stats Stats
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the protocol configuration.
func WithConfig(config *Config) Option {
	return func(s *Session) { s.config = config }
}

// WithCallbacks sets the event callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) { s.callbacks = mergeCallbacks(callbacks) }
}

// WithLogger sets a logger for protocol debugging.
func WithLogger(logger Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithContext sets the session context. Cancellation aborts the
// session at the next protocol step.
func WithContext(ctx context.Context) Option {
	return func(s *Session) { s.ctx = ctx }
}

// Session supervises one transfer over one exclusively-owned link, in
// exactly one role. It drives handshake, block transfer, and final
// verification in strict sequence and produces a single Outcome. All
// retry policy lives below it, in the handshake and block layers.
type Session struct {
	t         Transport
	config    *Config
	callbacks *Callbacks
	logger    Logger
	ctx       context.Context
}

// NewSession creates a session bound to a transport. The session does
// not own the transport; the caller closes it.
func NewSession(t Transport, opts ...Option) *Session {
	s := &Session{
		t:         t,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    NoopLogger{},
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.config = s.config.withDefaults()
	return s
}

// Send transfers the file at srcPath to the peer. It never retries at
// its own level.
func (s *Session) Send(srcPath string) *Outcome {
	start := time.Now()

	f, md, err := openForSend(srcPath)
	if err != nil {
		return s.finish(&Outcome{Status: Aborted, Reason: err}, md.Filename, start)
	}
	defer f.Close()

	s.logger.Info("send: file=%s size=%d crc=0x%08x block=%d",
		md.Filename, md.TotalLen, md.FileCRC, s.config.BlockSize)

	snd := &sender{
		t:         s.t,
		tr:        newTransportReader(s.t),
		config:    s.config,
		logger:    s.logger,
		callbacks: s.callbacks,
		ctx:       s.ctx,
	}
	stats, err := snd.run(md, f)
	out := &Outcome{Stats: stats}
	switch {
	case err == nil:
		out.Status = Committed
	case isType(err, ErrVerification):
		out.Status = Rejected
		out.Reason = err
	default:
		out.Status = Aborted
		out.Reason = err
	}
	return s.finish(out, md.Filename, start)
}

// Receive accepts one file from the peer into destPath, which may be a
// directory (the negotiated filename is used inside it). The
// provisional artifact is destPath plus a ".part" suffix; it is never
// deleted on failure.
func (s *Session) Receive(destPath string) *Outcome {
	start := time.Now()

	rcv := &receiver{
		t:         s.t,
		tr:        newTransportReader(s.t),
		config:    s.config,
		logger:    s.logger,
		callbacks: s.callbacks,
		ctx:       s.ctx,
	}
	path, md, stats, err := rcv.run(destPath)
	out := &Outcome{Path: path, Stats: stats}
	switch {
	case err == nil:
		out.Status = Committed
	case isType(err, ErrVerification):
		out.Status = Rejected
		out.Reason = err
	default:
		out.Status = Aborted
		out.Reason = err
	}
	return s.finish(out, md.Filename, start)
}

func (s *Session) finish(out *Outcome, filename string, start time.Time) *Outcome {
	out.Stats.Elapsed = time.Since(start)
	s.logger.Info("session %s: blocks=%d retransmits=%d bytes=%d elapsed=%s",
		out.Status, out.Stats.BlocksSent, out.Stats.Retransmits,
		out.Stats.BytesTransferred, out.Stats.Elapsed.Round(time.Millisecond))
	s.callbacks.OnTransferComplete(filename, out)
	return out
}

// openForSend opens the source file and builds its immutable metadata,
// including the whole-file checksum computed in one streaming pass.
func openForSend(srcPath string) (*os.File, TransferMetadata, error) {
	md := TransferMetadata{Filename: filepath.Base(srcPath), Version: ProtocolVersion}

	f, err := os.Open(srcPath)
	if err != nil {
		return nil, md, NewError(ErrFilesystem, fmt.Sprintf("open source: %v", err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, md, NewError(ErrFilesystem, fmt.Sprintf("stat source: %v", err))
	}
	md.TotalLen = uint64(info.Size())

	var crc uint32
	buf := make([]byte, 1024*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			crc = updateChecksum32(crc, buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return nil, md, NewError(ErrFilesystem, fmt.Sprintf("read source: %v", err))
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, md, NewError(ErrFilesystem, fmt.Sprintf("rewind source: %v", err))
	}
	md.FileCRC = crc
	return f, md, nil
}
