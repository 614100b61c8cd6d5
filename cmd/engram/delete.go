package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a session and all its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Manager.DeleteSession(ctx, args[0]); err != nil {
				return fmt.Errorf("delete session %s: %w", args[0], err)
			}
			fmt.Printf("Deleted session %s.\n", args[0])
			return nil
		},
	}
}
