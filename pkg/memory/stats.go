package memory

import (
	"context"

	"github.com/engram-dev/engram/internal/tokens"
)

// SessionStats is the operator-facing view of one session's memory.
type SessionStats struct {
	SessionID         string
	MessageCount      int
	SummaryLength     int
	SummaryCoversUpto int
	LastCheckpointSeq int64
	// WindowSize and WindowTokens describe the presented window: how
	// many messages the model would see and their approximate token
	// cost.
	WindowSize   int
	WindowTokens int
	StoreKind    string
	Config       Config
}

// Stats reports the session's memory shape: log size, summary coverage,
// checkpoint position, and the cost of the presented window.
func (m *Manager) Stats(ctx context.Context, sessionID string) (*SessionStats, error) {
	var out *SessionStats
	err := m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		state, err := m.loadLocked(ctx, slot, sessionID)
		if err != nil {
			return err
		}

		window := Present(state, m.cfg.MaxMessageHistory)
		contents := make([]string, len(window))
		for i, msg := range window {
			contents[i] = msg.Content
		}

		out = &SessionStats{
			SessionID:         sessionID,
			MessageCount:      len(state.Messages),
			SummaryLength:     len(state.Summary),
			SummaryCoversUpto: state.SummaryCoversUpto,
			LastCheckpointSeq: state.LastCheckpointSeq,
			WindowSize:        len(window),
			WindowTokens:      tokens.EstimateAll(contents...),
			StoreKind:         m.store.Kind(),
			Config:            m.cfg,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
