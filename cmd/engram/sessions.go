package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions known to the checkpoint store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			infos, err := rt.Manager.Sessions(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(infos) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			fmt.Printf("%-40s %12s %s\n", "SESSION", "LATEST SEQ", "LAST ACTIVE")
			for _, info := range infos {
				fmt.Printf("%-40s %12d %s\n", info.SessionID, info.LatestSeq, formatAge(info.LastActive))
			}
			return nil
		},
	}
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
