package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/engram-dev/engram"
	"github.com/engram-dev/engram/pkg/memory"
)

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat over a memory-backed session",
		Long: `Chat runs a REPL against the configured model. Every turn is
checkpointed; rerunning with the same --session resumes the
conversation where it left off.

Directives: /stats shows the session's memory shape, /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			fmt.Printf("Session: %s (store: %s, model: %s)\n", sessionID, rt.Store.Kind(), rt.Model.Provider())
			fmt.Println("Type /stats for memory info, /quit to exit.")

			return runChatLoop(cmd, rt, sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to resume (default: a new random ID)")

	return cmd
}

func runChatLoop(cmd *cobra.Command, rt *engram.Runtime, sessionID string) error {
	ctx := cmd.Context()

	rl := liner.NewLiner()
	defer rl.Close()
	rl.SetCtrlCAborts(true)

	historyPath := chatHistoryPath()
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = rl.ReadHistory(f)
			f.Close()
		}
	}

	for {
		input, err := rl.Prompt("you> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Println()
			break
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		rl.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := runChatDirective(cmd, rt, sessionID, input); quit {
				break
			}
			continue
		}

		result, err := rt.Manager.Turn(ctx, sessionID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}

		fmt.Printf("assistant> %s\n", result.Reply.Content)
		if n := len(result.Retrieved); n > 0 {
			fmt.Printf("  (drew on %d earlier checkpoint(s))\n", n)
		}
		if result.Summarization == memory.SummarizeSummarized {
			fmt.Println("  (compressed older history into the summary)")
		}
		if result.CheckpointErr != nil {
			fmt.Fprintf(os.Stderr, "  warning: reply not persisted: %v\n", result.CheckpointErr)
		}
	}

	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o700); err == nil {
			if f, err := os.Create(historyPath); err == nil {
				_, _ = rl.WriteHistory(f)
				f.Close()
			}
		}
	}
	return nil
}

// runChatDirective handles a /-prefixed input and reports whether the
// REPL should exit.
func runChatDirective(cmd *cobra.Command, rt *engram.Runtime, sessionID, input string) bool {
	switch input {
	case "/quit", "/exit":
		return true

	case "/stats":
		stats, err := rt.Manager.Stats(cmd.Context(), sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stats failed: %v\n", err)
			return false
		}
		printSessionStats(stats)
		return false

	default:
		fmt.Fprintf(os.Stderr, "unknown directive %q (try /stats or /quit)\n", input)
		return false
	}
}

func chatHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".engram", "chat_history")
}
