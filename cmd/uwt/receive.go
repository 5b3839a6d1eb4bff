package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-uartwire/wire"
)

var flagProtect bool

var receiveCmd = &cobra.Command{
	Use:   "receive DEST",
	Short: "Receive a file from the device behind the bridge",
	Long: `Receive one file into DEST. If DEST is a directory the sender's
announced filename is used inside it. The file appears under its final
name only after whole-file verification; until then it exists as a
".part" artifact, which is kept on any failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := args[0]
		if flagProtect {
			if info, err := os.Stat(dest); err == nil && !info.IsDir() {
				return fmt.Errorf("destination %s exists (remove it or drop --protect)", dest)
			}
		}

		pcfg, err := cfg.protocolConfig()
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger()
		if err != nil {
			return err
		}
		defer closeLog()

		t, err := openTransport()
		if err != nil {
			return err
		}
		defer t.Close()
		link := tracedLink(t, logger)

		if err := armBridge(link, logger, wire.ModeReceive); err != nil {
			return fmt.Errorf("arm bridge: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := wire.NewSession(link,
			wire.WithConfig(pcfg),
			wire.WithLogger(logger),
			wire.WithCallbacks(progressCallbacks()),
			wire.WithContext(ctx),
		).Receive(dest)
		return printOutcome(out)
	},
}

func init() {
	receiveCmd.Flags().BoolVar(&flagProtect, "protect", false, "refuse to overwrite an existing destination file")
	rootCmd.AddCommand(receiveCmd)
}
