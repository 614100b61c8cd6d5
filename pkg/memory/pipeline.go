package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/engram-dev/engram/pkg/model"
	"github.com/engram-dev/engram/pkg/observability"
)

// TurnResult carries everything one composed turn produced.
type TurnResult struct {
	// Reply is the assistant message appended to the session log.
	Reply Message
	// Retrieved is the advisory context injected into the model window.
	Retrieved []RetrievedMemory
	// Summarization reports what the compression pass did this turn.
	Summarization SummarizeOutcome
	// CheckpointSeq is the durable seq assigned to this turn, 0 when the
	// write failed.
	CheckpointSeq int64
	// CheckpointErr is non-nil when the reply could not be persisted.
	// The reply is still usable but the caller must not report the turn
	// as durably saved.
	CheckpointErr error
}

// Turn runs the full pipeline for one user message under a single
// session-scope acquisition: append user message → retrieve → present →
// model call → maybe summarize → checkpoint the reply. A model failure
// or cancellation rolls the user-message append back, leaving the
// session exactly as it was.
func (m *Manager) Turn(ctx context.Context, sessionID, userText string) (*TurnResult, error) {
	start := time.Now()
	result, err := m.turn(ctx, sessionID, userText)
	if err != nil {
		observability.RecordTurn("error", time.Since(start))
		return nil, err
	}
	observability.RecordTurn("success", time.Since(start))
	return result, nil
}

func (m *Manager) turn(ctx context.Context, sessionID, userText string) (*TurnResult, error) {
	var result *TurnResult
	err := m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		ctx, span := observability.StartSpan(ctx, "memory.turn", map[string]any{
			"session.id": sessionID,
		})
		defer span.End()

		state, err := m.loadLocked(ctx, slot, sessionID)
		if err != nil {
			span.SetError(err)
			return err
		}

		prevLen := len(state.Messages)
		state.Append(NewMessage(RoleUser, userText))

		retrieved, rerr := m.retrieveLocked(ctx, state)
		if rerr != nil {
			log.Printf("[MemoryManager] Warning: retrieval for session %s: %v", sessionID, rerr)
			retrieved = nil
		}

		window := m.buildWindow(state, retrieved)
		reply, err := m.client.Complete(ctx, toModelMessages(window))
		if err != nil {
			state.Messages = state.Messages[:prevLen]
			span.SetError(err)
			return fmt.Errorf("model call: %w", err)
		}
		observability.RecordMessage(string(RoleUser))

		outcome, serr := m.summarizeLocked(ctx, state)
		if serr != nil {
			log.Printf("[MemoryManager] Warning: summarization for session %s: %v", sessionID, serr)
		}

		seq, cerr := m.checkpointLocked(ctx, slot, NewMessage(RoleAssistant, reply.Content))
		if cerr != nil {
			log.Printf("[MemoryManager] Warning: checkpoint for session %s: %v", sessionID, cerr)
			span.SetError(cerr)
		}

		span.SetAttribute("messages.count", len(state.Messages))
		span.SetAttribute("window.size", len(window))
		span.SetAttribute("checkpoint.seq", seq)

		result = &TurnResult{
			Reply:         state.Messages[len(state.Messages)-1],
			Retrieved:     retrieved,
			Summarization: outcome,
			CheckpointSeq: seq,
			CheckpointErr: cerr,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildWindow assembles the model-facing context: summary header,
// retrieved-context header, then the verbatim tail.
func (m *Manager) buildWindow(state *SessionState, retrieved []RetrievedMemory) []Message {
	tail := presentTail(state.Messages, m.cfg.MaxMessageHistory)
	window := make([]Message, 0, len(tail)+2)
	if state.Summary != "" {
		window = append(window, summaryMessage(state.Summary))
	}
	if len(retrieved) > 0 {
		window = append(window, retrievedContextMessage(retrieved))
	}
	return append(window, tail...)
}

// retrievedContextMessage folds retrieved excerpts into one transient
// system message. Like the summary header, it never enters the log.
func retrievedContextMessage(retrieved []RetrievedMemory) Message {
	var b strings.Builder
	b.WriteString("Relevant context from earlier conversations:")
	for _, r := range retrieved {
		b.WriteString("\n- ")
		b.WriteString(r.Excerpt)
	}
	return Message{Role: RoleSystem, Content: b.String()}
}

func toModelMessages(window []Message) []model.Message {
	out := make([]model.Message, len(window))
	for i, msg := range window {
		out[i] = model.Message{Role: string(msg.Role), Content: msg.Content}
	}
	return out
}
