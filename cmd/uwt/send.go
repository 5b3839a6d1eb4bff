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

var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Send a file to the device behind the bridge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := args[0]
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("source: %w", err)
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

		if err := armBridge(link, logger, wire.ModeSend); err != nil {
			return fmt.Errorf("arm bridge: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := wire.NewSession(link,
			wire.WithConfig(pcfg),
			wire.WithLogger(logger),
			wire.WithCallbacks(progressCallbacks()),
			wire.WithContext(ctx),
		).Send(src)
		return printOutcome(out)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
