package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/pkg/memory"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session>",
		Short: "Show a session's memory shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.Manager.Stats(ctx, args[0])
			if err != nil {
				return fmt.Errorf("stats for session %s: %w", args[0], err)
			}
			printSessionStats(stats)
			return nil
		},
	}
}

func printSessionStats(stats *memory.SessionStats) {
	fmt.Printf("Session:             %s\n", stats.SessionID)
	fmt.Printf("Messages:            %d\n", stats.MessageCount)
	fmt.Printf("Summary length:      %d chars (covers first %d messages)\n",
		stats.SummaryLength, stats.SummaryCoversUpto)
	fmt.Printf("Last checkpoint seq: %d\n", stats.LastCheckpointSeq)
	fmt.Printf("Window:              %d messages, ~%d tokens\n",
		stats.WindowSize, stats.WindowTokens)
	fmt.Printf("Store:               %s\n", stats.StoreKind)
}
