package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Print the window a model would see for a session",
		Long: `Show resumes the session from its latest checkpoint and prints the
presented window: the running summary (when one exists) followed by the
most recent messages, trimmed to the configured history bound.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			window, err := rt.Manager.Present(ctx, args[0])
			if err != nil {
				return fmt.Errorf("present session %s: %w", args[0], err)
			}
			if len(window) == 0 {
				fmt.Println("Session is empty.")
				return nil
			}

			for _, msg := range window {
				fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
			}
			return nil
		},
	}
}
