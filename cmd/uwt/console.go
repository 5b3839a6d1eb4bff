package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-uartwire/wire"
)

var consoleCmd = &cobra.Command{
	Use:   "console MODE",
	Short: "Arm the bridge console without starting a transfer",
	Long: `Drive the bridge's interactive shell into "send" or "receive" mode
and exit. Useful when the transfer itself is run by another tool or for
checking that the bridge answers at all.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"send", "receive"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var mode wire.ConsoleMode
		switch args[0] {
		case "send":
			mode = wire.ModeSend
		case "receive":
			mode = wire.ModeReceive
		default:
			return fmt.Errorf("mode %q: want send or receive", args[0])
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

		if err := wire.NewConsole(t, logger).Arm(mode); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("bridge armed:"), mode)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
