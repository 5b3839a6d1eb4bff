package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/drunlade/go-uartwire/wire"
)

var (
	cfgPath    string
	flagDevice string
	flagBaud   int
	flagBlock  int
	flagSSH    string // user@host:port
	flagSSHCmd string
	flagLog    string
	flagNoArm  bool

	cfg *fileConfig
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var rootCmd = &cobra.Command{
	Use:   "uwt",
	Short: "Reliable single-file transfer over WIRE UART bridge links",
	Long: `uwt moves one file at a time across a serial byte link behind a WIRE
UART relay bridge. Transfers are CRC32-protected per block and verified
whole-file before the destination is committed; a failed transfer always
leaves the partial artifact behind for inspection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = defaultConfigPath()
		}
		var err error
		cfg, err = loadConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagDevice != "" {
			cfg.Device = flagDevice
		}
		if flagBaud > 0 {
			cfg.Baud = flagBaud
		}
		if flagBlock > 0 {
			cfg.BlockSize = flagBlock
		}
		if flagLog != "" {
			cfg.LogFile = flagLog
		}
		if flagNoArm {
			cfg.NoArm = true
		}
		if flagSSH != "" {
			user, addr, err := splitSSHTarget(flagSSH)
			if err != nil {
				return err
			}
			cfg.SSH.User = user
			cfg.SSH.Addr = addr
		}
		if flagSSHCmd != "" {
			cfg.SSH.Command = flagSSHCmd
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.uartwire/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagDevice, "device", "d", "", "serial device (e.g. /dev/ttyUSB0)")
	rootCmd.PersistentFlags().IntVarP(&flagBaud, "baud", "b", 0, "baud rate (default 115200)")
	rootCmd.PersistentFlags().IntVar(&flagBlock, "block-size", 0, "block payload size in bytes")
	rootCmd.PersistentFlags().StringVar(&flagSSH, "ssh", "", "reach the bridge via SSH hop (user@host:port)")
	rootCmd.PersistentFlags().StringVar(&flagSSHCmd, "ssh-command", "", "remote command attached to the device")
	rootCmd.PersistentFlags().StringVar(&flagLog, "log", "", "protocol log file")
	rootCmd.PersistentFlags().BoolVar(&flagNoArm, "no-arm", false, "skip bridge console arming")
}

// splitSSHTarget parses user@host[:port].
func splitSSHTarget(s string) (user, addr string, err error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return "", "", fmt.Errorf("ssh target %q: want user@host:port", s)
	}
	user, addr = s[:at], s[at+1:]
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	return user, addr, nil
}

// openTransport opens the configured link: an SSH hop when one is
// configured, the local serial device otherwise.
func openTransport() (wire.Transport, error) {
	if cfg.SSH.Addr != "" {
		password := cfg.SSH.Password
		if password == "" {
			password = os.Getenv("UWT_SSH_PASSWORD")
		}
		if password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintf(os.Stderr, "password for %s@%s: ", cfg.SSH.User, cfg.SSH.Addr)
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, err
			}
			password = string(raw)
		}
		return wire.DialSSH(wire.SSHConfig{
			Addr:     cfg.SSH.Addr,
			User:     cfg.SSH.User,
			Password: password,
			Command:  cfg.SSH.Command,
		})
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("no serial device configured (use --device or the config file)")
	}
	return wire.OpenSerial(cfg.Device, cfg.Baud)
}

// newLogger builds the protocol logger from the config.
func newLogger() (wire.Logger, func(), error) {
	if cfg.LogFile == "" {
		return wire.NoopLogger{}, func() {}, nil
	}
	fl, err := wire.NewFileLogger(cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return fl, func() { fl.Close() }, nil
}

// tracedLink wraps the transport with byte-level tracing when a log
// file is configured.
func tracedLink(t wire.Transport, logger wire.Logger) wire.Transport {
	if cfg.LogFile == "" {
		return t
	}
	return wire.NewLoggingTransport(t, logger, "link")
}

// armBridge drives the bridge console into the given mode unless
// arming is disabled.
func armBridge(t wire.Transport, logger wire.Logger, mode wire.ConsoleMode) error {
	if cfg.NoArm {
		return nil
	}
	return wire.NewConsole(t, logger).Arm(mode)
}

// progressCallbacks prints a single-line progress display.
func progressCallbacks() *wire.Callbacks {
	return &wire.Callbacks{
		OnProgress: func(name string, transferred, total uint64, rate float64) {
			pct := 0.0
			if total > 0 {
				pct = float64(transferred) / float64(total) * 100
			}
			fmt.Fprintf(os.Stderr, "\r%s %s / %s (%.0f%%) %s/s    ",
				name, wire.HumanBytes(transferred), wire.HumanBytes(total),
				pct, wire.HumanBytes(uint64(rate)))
		},
		OnRetransmit: func(seq uint16, attempt int) {
			fmt.Fprintf(os.Stderr, "\n%s\n",
				dimStyle.Render(fmt.Sprintf("retransmit seq=%d attempt=%d", seq, attempt)))
		},
	}
}

// printOutcome renders the terminal result and returns an error when
// the session did not commit.
func printOutcome(out *wire.Outcome) error {
	fmt.Fprintln(os.Stderr)
	stats := fmt.Sprintf("%s in %s, %d blocks, %d retransmits",
		wire.HumanBytes(out.Stats.BytesTransferred),
		out.Stats.Elapsed.Round(10*time.Millisecond),
		out.Stats.BlocksSent, out.Stats.Retransmits)

	switch out.Status {
	case wire.Committed:
		fmt.Println(okStyle.Render("committed"), dimStyle.Render(stats))
		if out.Path != "" {
			fmt.Println(dimStyle.Render("  " + out.Path))
		}
		return nil
	case wire.Rejected:
		fmt.Println(failStyle.Render("rejected:"), out.Reason)
		if out.Path != "" {
			fmt.Println(dimStyle.Render("  partial artifact kept: " + out.Path))
		}
		return fmt.Errorf("whole-file verification failed")
	default:
		fmt.Println(failStyle.Render("aborted:"), out.Reason)
		if out.Path != "" {
			fmt.Println(dimStyle.Render("  partial artifact kept: " + out.Path))
		}
		return fmt.Errorf("transfer aborted")
	}
}
