package wire

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ConsoleMode selects which side of the bridge firmware to arm.
type ConsoleMode int

const (
	ModeSend ConsoleMode = iota
	ModeReceive
)

func (m ConsoleMode) String() string {
	if m == ModeSend {
		return "send"
	}
	return "receive"
}

// command and confirmation strings spoken by the bridge's text shell.
func (m ConsoleMode) command() string {
	return m.String()
}

func (m ConsoleMode) confirmation() string {
	if m == ModeSend {
		return "Entering SEND mode"
	}
	return "Entering RECEIVE mode"
}

var (
	// ANSI CSI sequences the shell uses for cursor movement and color.
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	// The shell prompt, at start of output or after a line break.
	promptRe = regexp.MustCompile(`(^|\r?\n)#\s`)
)

// Console drives the bridge firmware's interactive shell over the same
// transport the protocol will use. Arming synchronizes to the prompt,
// issues the mode command, waits for the firmware's confirmation, and
// purges residue so the first bytes the protocol sees are frame bytes.
type Console struct {
	t      Transport
	tr     *transportReader
	logger Logger

	// PromptTimeout bounds the wait for a shell prompt, per nudge.
	PromptTimeout time.Duration
	// ConfirmTimeout bounds the wait for the mode confirmation.
	ConfirmTimeout time.Duration
	// Nudges is how many times a newline is sent to coax a prompt out
	// of a quiet shell before giving up.
	Nudges int
}

func NewConsole(t Transport, logger Logger) *Console {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Console{
		t:              t,
		tr:             newTransportReader(t),
		logger:         logger,
		PromptTimeout:  2 * time.Second,
		ConfirmTimeout: 5 * time.Second,
		Nudges:         3,
	}
}

// Arm puts the bridge into the given transfer mode. After a successful
// return the shell has stopped talking and the line belongs to the
// protocol.
func (c *Console) Arm(mode ConsoleMode) error {
	if err := c.syncPrompt(); err != nil {
		return err
	}
	c.logger.Debug("console prompt acquired, arming %s", mode)

	if err := writeFull(c.t, []byte(mode.command()+"\r\n")); err != nil {
		return err
	}
	if err := c.awaitText(mode.confirmation(), c.ConfirmTimeout); err != nil {
		return NewError(ErrHandshake,
			fmt.Sprintf("bridge did not confirm %s mode: %v", mode, err))
	}

	// Let trailing shell output (newline, banner) settle, then discard
	// it. Frame decoders tolerate leading garbage anyway, but control
	// bytes sent by the receiver must not collide with residue.
	c.tr.drain(200 * time.Millisecond)
	c.logger.Info("bridge armed: %s mode", mode)
	return nil
}

// syncPrompt sends newlines until the ANSI-stripped output ends in a
// shell prompt.
func (c *Console) syncPrompt() error {
	var seen strings.Builder
	for nudge := 0; nudge <= c.Nudges; nudge++ {
		if err := writeFull(c.t, []byte("\r\n")); err != nil {
			return err
		}
		deadline := time.Now().Add(c.PromptTimeout)
		for {
			remain := time.Until(deadline)
			if remain <= 0 {
				break
			}
			b, err := c.tr.readByte(remain)
			if err != nil {
				if IsTimeout(err) {
					break
				}
				return err
			}
			seen.WriteByte(b)
			if promptRe.MatchString(stripANSI(seen.String())) {
				return nil
			}
		}
	}
	return NewError(ErrHandshake, "no shell prompt from bridge")
}

// awaitText consumes output until the given literal appears in the
// ANSI-stripped stream.
func (c *Console) awaitText(want string, timeout time.Duration) error {
	var seen strings.Builder
	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return NewError(ErrTimeout, fmt.Sprintf("%q not seen", want))
		}
		b, err := c.tr.readByte(remain)
		if err != nil {
			if IsTimeout(err) {
				return NewError(ErrTimeout, fmt.Sprintf("%q not seen", want))
			}
			return err
		}
		seen.WriteByte(b)
		if strings.Contains(stripANSI(seen.String()), want) {
			return nil
		}
	}
}

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
