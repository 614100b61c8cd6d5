package memory

import (
	"context"
	"errors"
	"strings"

	"github.com/engram-dev/engram/pkg/model"
)

// summaryInstruction is the fixed compression request sent with every
// summarization call.
const summaryInstruction = "Compress the conversation into one running summary. " +
	"Preserve key facts, decisions, and open tasks. Keep the summary under 200 characters."

// SummarizeOutcome reports what a summarization pass did.
type SummarizeOutcome string

const (
	SummarizeSkipped    SummarizeOutcome = "skipped"
	SummarizeSummarized SummarizeOutcome = "summarized"
	SummarizeFailed     SummarizeOutcome = "failed"
)

// summarize folds the uncovered window into the running summary once the
// threshold is crossed. The window is [SummaryCoversUpto, len−retainTail)
// with retainTail = MaxMessageHistory, so the verbatim tail shown by
// Present is never summarized away. On model failure or empty output the
// state is left unchanged; the turn proceeds with the prior summary.
func summarize(ctx context.Context, client model.Client, state *SessionState, cfg Config) (SummarizeOutcome, error) {
	if cfg.SummarizationThreshold <= 0 {
		return SummarizeSkipped, nil
	}
	if len(state.Messages)-state.SummaryCoversUpto < cfg.SummarizationThreshold {
		return SummarizeSkipped, nil
	}
	cut := len(state.Messages) - cfg.MaxMessageHistory
	if cut <= state.SummaryCoversUpto {
		return SummarizeSkipped, nil
	}

	window := state.Messages[state.SummaryCoversUpto:cut]
	resp, err := client.Complete(ctx, summaryPrompt(state.Summary, window))
	if err != nil {
		return SummarizeFailed, &SummarizationError{Err: err}
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return SummarizeFailed, &SummarizationError{Err: errors.New("model returned an empty summary")}
	}

	state.Summary = text
	state.SummaryCoversUpto = cut
	return SummarizeSummarized, nil
}

func summaryPrompt(prior string, window []Message) []model.Message {
	var b strings.Builder
	if prior != "" {
		b.WriteString("Current summary:\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	}
	b.WriteString("Fold in these messages:\n")
	for _, msg := range window {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	return []model.Message{
		{Role: "system", Content: summaryInstruction},
		{Role: "user", Content: b.String()},
	}
}
