// Package main is the entry point for the engram CLI: a conversational
// memory runtime with durable checkpoints, summarization, and retrieval.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram"
	"github.com/engram-dev/engram/pkg/observability"
)

// Version is set at build time via ldflags.
var Version = "dev"

const defaultConfigFile = "engram.yaml"

// Global flags.
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "engram",
		Short: "Durable working memory for conversational agents",
		Long: `Engram keeps a conversational agent's memory bounded and durable:
every turn is checkpointed to a store, old history is compressed into a
running summary, and past checkpoints are retrievable as context.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.SetVersion(Version)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigFile, "Path to the config file")

	root.AddCommand(newChatCmd())
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newModelsCmd())
	root.AddCommand(newServeCmd())

	return root
}

// openRuntime loads the configured runtime. When the operator left the
// --config flag at its default and no such file exists, the built-in
// defaults are used instead of failing.
func openRuntime(ctx context.Context) (*engram.Runtime, error) {
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) && configPath == defaultConfigFile {
		return engram.OpenWithConfig(ctx, nil)
	}
	return engram.Open(ctx, configPath)
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
