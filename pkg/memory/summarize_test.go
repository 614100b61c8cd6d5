package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/engram-dev/engram/pkg/model"
)

func TestSummarize_CompressesUncoveredWindow(t *testing.T) {
	state := stateWithMessages("A", "B", "C", "D")
	cfg := Config{SummarizationThreshold: 2, MaxMessageHistory: 1}
	mock := model.NewMockClient("the gist so far")

	outcome, err := summarize(context.Background(), mock, state, cfg)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if outcome != SummarizeSummarized {
		t.Fatalf("outcome: got %q, want %q", outcome, SummarizeSummarized)
	}
	if state.Summary != "the gist so far" {
		t.Errorf("summary: got %q", state.Summary)
	}
	if state.SummaryCoversUpto != 3 {
		t.Errorf("covers: got %d, want 3", state.SummaryCoversUpto)
	}
	if len(state.Messages) != 4 {
		t.Errorf("log mutated: %d messages left", len(state.Messages))
	}

	prompt := mock.LastMessages()
	if len(prompt) != 2 {
		t.Fatalf("prompt size: got %d, want 2", len(prompt))
	}
	if prompt[0].Role != "system" || prompt[0].Content != summaryInstruction {
		t.Errorf("prompt[0]: got %+v", prompt[0])
	}
	for _, content := range []string{"A", "B", "C"} {
		if !strings.Contains(prompt[1].Content, "user: "+content) {
			t.Errorf("prompt missing window message %q:\n%s", content, prompt[1].Content)
		}
	}
	if strings.Contains(prompt[1].Content, "user: D") {
		t.Errorf("prompt includes retained tail message D:\n%s", prompt[1].Content)
	}
}

func TestSummarize_FoldsPriorSummaryIntoPrompt(t *testing.T) {
	state := stateWithMessages("A", "B", "C", "D")
	state.Summary = "old facts"
	state.SummaryCoversUpto = 1
	cfg := Config{SummarizationThreshold: 2, MaxMessageHistory: 1}
	mock := model.NewMockClient("new facts")

	outcome, err := summarize(context.Background(), mock, state, cfg)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if outcome != SummarizeSummarized {
		t.Fatalf("outcome: got %q", outcome)
	}

	prompt := mock.LastMessages()
	if !strings.Contains(prompt[1].Content, "Current summary:\nold facts") {
		t.Errorf("prompt missing prior summary:\n%s", prompt[1].Content)
	}
	if strings.Contains(prompt[1].Content, "user: A") {
		t.Errorf("prompt includes already covered message A:\n%s", prompt[1].Content)
	}
	if state.Summary != "new facts" {
		t.Errorf("summary: got %q, want replacement", state.Summary)
	}
}

func TestSummarize_SkipConditions(t *testing.T) {
	tests := []struct {
		name string
		msgs []string
		cfg  Config
		// covers is SummaryCoversUpto before the call.
		covers int
	}{
		{"threshold disabled", []string{"A", "B", "C"}, Config{SummarizationThreshold: 0, MaxMessageHistory: 1}, 0},
		{"below threshold", []string{"A", "B"}, Config{SummarizationThreshold: 5, MaxMessageHistory: 1}, 0},
		{"tail retains everything", []string{"A", "B", "C", "D"}, Config{SummarizationThreshold: 2, MaxMessageHistory: 10}, 0},
		{"window already covered", []string{"A", "B", "C", "D", "E"}, Config{SummarizationThreshold: 1, MaxMessageHistory: 1}, 4},
		{"empty log", nil, Config{SummarizationThreshold: 1, MaxMessageHistory: 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := stateWithMessages(tt.msgs...)
			state.SummaryCoversUpto = tt.covers
			mock := model.NewMockClient("should never be used")

			outcome, err := summarize(context.Background(), mock, state, tt.cfg)
			if err != nil {
				t.Fatalf("summarize failed: %v", err)
			}
			if outcome != SummarizeSkipped {
				t.Errorf("outcome: got %q, want %q", outcome, SummarizeSkipped)
			}
			if mock.CallCount() != 0 {
				t.Errorf("model called %d times for a skip", mock.CallCount())
			}
			if state.Summary != "" || state.SummaryCoversUpto != tt.covers {
				t.Errorf("state changed on skip: summary %q, covers %d", state.Summary, state.SummaryCoversUpto)
			}
		})
	}
}

func TestSummarize_FailureLeavesStateUnchanged(t *testing.T) {
	modelDown := errors.New("model down")
	tests := []struct {
		name string
		mock *model.MockClient
		want error
	}{
		{"model error", model.NewMockClient().FailWith(modelDown), modelDown},
		{"empty reply", model.NewMockClient("   "), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := stateWithMessages("A", "B", "C", "D")
			state.Summary = "prior summary"
			state.SummaryCoversUpto = 1
			cfg := Config{SummarizationThreshold: 2, MaxMessageHistory: 1}

			outcome, err := summarize(context.Background(), tt.mock, state, cfg)
			if outcome != SummarizeFailed {
				t.Fatalf("outcome: got %q, want %q", outcome, SummarizeFailed)
			}
			var serr *SummarizationError
			if !errors.As(err, &serr) {
				t.Fatalf("expected SummarizationError, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected wrapped %v, got %v", tt.want, err)
			}
			if state.Summary != "prior summary" {
				t.Errorf("prior summary lost: %q", state.Summary)
			}
			if state.SummaryCoversUpto != 1 {
				t.Errorf("covers moved on failure: %d", state.SummaryCoversUpto)
			}
		})
	}
}

func TestSummarize_IdempotentAfterSuccess(t *testing.T) {
	state := stateWithMessages("A", "B", "C", "D")
	cfg := Config{SummarizationThreshold: 2, MaxMessageHistory: 1}
	mock := model.NewMockClient("first pass", "second pass")

	if _, err := summarize(context.Background(), mock, state, cfg); err != nil {
		t.Fatalf("first summarize failed: %v", err)
	}

	outcome, err := summarize(context.Background(), mock, state, cfg)
	if err != nil {
		t.Fatalf("second summarize failed: %v", err)
	}
	if outcome != SummarizeSkipped {
		t.Errorf("second pass outcome: got %q, want %q", outcome, SummarizeSkipped)
	}
	if mock.CallCount() != 1 {
		t.Errorf("model calls: got %d, want 1", mock.CallCount())
	}
	if state.Summary != "first pass" {
		t.Errorf("summary changed on skip: %q", state.Summary)
	}
}

func TestSummarize_CoverageAdvancesMonotonically(t *testing.T) {
	state := stateWithMessages("A", "B", "C", "D")
	cfg := Config{SummarizationThreshold: 2, MaxMessageHistory: 1}
	mock := model.NewMockClient("first pass", "second pass")

	if _, err := summarize(context.Background(), mock, state, cfg); err != nil {
		t.Fatalf("first summarize failed: %v", err)
	}
	first := state.SummaryCoversUpto

	state.Append(NewMessage(RoleUser, "E"))
	state.Append(NewMessage(RoleAssistant, "F"))

	outcome, err := summarize(context.Background(), mock, state, cfg)
	if err != nil {
		t.Fatalf("second summarize failed: %v", err)
	}
	if outcome != SummarizeSummarized {
		t.Fatalf("second pass outcome: got %q", outcome)
	}
	if state.SummaryCoversUpto <= first {
		t.Errorf("covers did not advance: %d then %d", first, state.SummaryCoversUpto)
	}
	if state.Summary != "second pass" {
		t.Errorf("summary: got %q", state.Summary)
	}

	prompt := mock.LastMessages()
	if !strings.Contains(prompt[1].Content, "Current summary:\nfirst pass") {
		t.Errorf("second prompt missing running summary:\n%s", prompt[1].Content)
	}
}
