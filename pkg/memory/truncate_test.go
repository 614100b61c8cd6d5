package memory

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func stateWithMessages(contents ...string) *SessionState {
	state := NewSessionState("sess-1")
	for _, content := range contents {
		state.Append(NewMessage(RoleUser, content))
	}
	return state
}

func windowContents(window []Message) []string {
	out := make([]string, len(window))
	for i, msg := range window {
		out[i] = msg.Content
	}
	return out
}

func TestPresent_KeepsLastMax(t *testing.T) {
	state := stateWithMessages("A", "B", "C", "D", "E")

	window := Present(state, 3)

	want := []string{"C", "D", "E"}
	if got := windowContents(window); !reflect.DeepEqual(got, want) {
		t.Errorf("window: got %v, want %v", got, want)
	}
	if len(state.Messages) != 5 {
		t.Errorf("log mutated: %d messages left", len(state.Messages))
	}
}

func TestPresent_SummaryHeaderFirst(t *testing.T) {
	state := stateWithMessages("A", "B", "C", "D", "E")
	state.Summary = "earlier small talk"
	state.SummaryCoversUpto = 2

	window := Present(state, 3)

	if len(window) != 4 {
		t.Fatalf("window size: got %d, want 4", len(window))
	}
	header := window[0]
	if header.Role != RoleSystem {
		t.Errorf("header role: got %q, want %q", header.Role, RoleSystem)
	}
	if !strings.HasPrefix(header.Content, "Summary of the conversation so far: ") {
		t.Errorf("header content: %q", header.Content)
	}
	if !strings.Contains(header.Content, "earlier small talk") {
		t.Errorf("header missing summary text: %q", header.Content)
	}
	if header.ID != "" || header.Timestamp != 0 {
		t.Error("header must be synthetic, not a log entry")
	}
	want := []string{"C", "D", "E"}
	if got := windowContents(window[1:]); !reflect.DeepEqual(got, want) {
		t.Errorf("tail: got %v, want %v", got, want)
	}
}

func TestPresent_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []string
		summary string
		max     int
		want    []string
	}{
		{"fewer than max", []string{"A", "B"}, "", 5, []string{"A", "B"}},
		{"exactly max", []string{"A", "B", "C"}, "", 3, []string{"A", "B", "C"}},
		{"zero max without summary", []string{"A", "B"}, "", 0, []string{}},
		{"empty log", nil, "", 3, []string{}},
		{"negative max treated as zero", []string{"A"}, "", -1, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := stateWithMessages(tt.msgs...)
			state.Summary = tt.summary

			window := Present(state, tt.max)
			if got := windowContents(window); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("window: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPresent_SummaryOnlyWindow(t *testing.T) {
	state := stateWithMessages("A", "B", "C")
	state.Summary = "everything so far"
	state.SummaryCoversUpto = 3

	window := Present(state, 0)

	if len(window) != 1 {
		t.Fatalf("window size: got %d, want 1", len(window))
	}
	if window[0].Role != RoleSystem || !strings.Contains(window[0].Content, "everything so far") {
		t.Errorf("window: got %+v", window[0])
	}
}

func TestPresent_NeverExceedsMaxPlusHeader(t *testing.T) {
	state := stateWithMessages("A", "B", "C", "D", "E", "F", "G")
	state.Summary = "running summary"

	for max := 0; max <= 9; max++ {
		window := Present(state, max)
		if len(window) > max+1 {
			t.Errorf("max %d: window size %d exceeds max+1", max, len(window))
		}
	}
}

func BenchmarkPresent(b *testing.B) {
	state := NewSessionState("bench")
	for i := 0; i < 500; i++ {
		state.Append(NewMessage(RoleUser, fmt.Sprintf("message %d in a long conversation", i)))
	}
	state.Summary = "a long-running conversation about many topics"
	state.SummaryCoversUpto = 450

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Present(state, 50)
	}
}
