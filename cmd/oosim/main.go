// Command oosim runs the out-of-order-core/DRAM co-simulator against a
// memory trace and reports how many instructions retired in how many
// cycles. Trace parsing,
// flag handling and result printing are external collaborators around the
// sim package — they never reach into core or dram directly.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/supraxsim/oosim/internal/sim"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		tracePath   string
		cycles      uint64
		channelBits int
		bankBits    int
		width       int
		robSize     int
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "oosim",
		Short: "Cycle-accurate out-of-order core / banked DRAM co-simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("oosim: bad --log-level %q: %w", logLevel, err)
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
				Level(level).
				With().Timestamp().Logger()

			result, err := sim.RunFile(sim.Config{
				Cycles:      cycles,
				ChannelBits: &channelBits,
				BankBits:    &bankBits,
				Width:       width,
				ROBSize:     robSize,
				Logger:      logger,
			}, tracePath)
			if err != nil {
				return fmt.Errorf("oosim: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d instructions retired in %d cycles\n", result.InsnsRetired, result.Cycles)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&tracePath, "trace", "", "path to the memory trace file (required)")
	flags.Uint64Var(&cycles, "cycles", 100_000_000, "number of simulator cycles to run")
	flags.IntVar(&channelBits, "channel-bits", 1, "log2 of the number of DRAM channels")
	flags.IntVar(&bankBits, "bank-bits", 4, "log2 of the number of banks per channel")
	flags.IntVar(&width, "width", 4, "superscalar issue/retire width")
	flags.IntVar(&robSize, "rob-size", 192, "reorder buffer capacity")
	flags.StringVar(&logLevel, "log-level", zerolog.Disabled.String(), "log level (debug, info, warn, error, disabled)")
	cmd.MarkFlagRequired("trace")

	return cmd
}
