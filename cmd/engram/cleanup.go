package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run the retention policy once",
		Long: `Cleanup applies the configured retention policy immediately: sessions
older than session_retention_days are removed, then the oldest sessions
beyond max_sessions are evicted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			removed, err := rt.Cleaner.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Printf("Removed %d session(s).\n", removed)
			return nil
		},
	}
}
