package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SessionState is the in-memory state of one conversation: the durable
// message log plus derived artifacts. Messages are append-only; the log
// is never rewritten by truncation or summarization.
//
// Invariants: SummaryCoversUpto is monotonically non-decreasing and
// never exceeds len(Messages); LastCheckpointSeq tracks the most recent
// durable write for the session.
type SessionState struct {
	SessionID         string    `json:"session_id"`
	Messages          []Message `json:"messages"`
	Summary           string    `json:"summary,omitempty"`
	SummaryCoversUpto int       `json:"summary_covers_upto"`
	LastCheckpointSeq int64     `json:"last_checkpoint_seq"`
}

// NewSessionState creates an empty state for a session id.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{SessionID: sessionID}
}

// Append adds msg to the log, stamping it with the next monotonic
// timestamp, and returns the stored message.
func (s *SessionState) Append(msg Message) Message {
	msg.Timestamp = int64(len(s.Messages))
	s.Messages = append(s.Messages, msg)
	return msg
}

// Clone returns a deep copy so callers cannot alias manager-owned state.
func (s *SessionState) Clone() *SessionState {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	for i, msg := range out.Messages {
		if len(msg.ToolCallRefs) > 0 {
			out.Messages[i].ToolCallRefs = append([]string(nil), msg.ToolCallRefs...)
		}
	}
	return &out
}

// snapshotVersion identifies the snapshot encoding for future migration.
const snapshotVersion = 1

// snapshotEnvelope wraps the serialized state with a version tag and an
// integrity checksum over the state bytes.
type snapshotEnvelope struct {
	Version  int             `json:"version"`
	State    json.RawMessage `json:"state"`
	Checksum string          `json:"checksum"`
}

// EncodeSnapshot serializes state for the checkpoint store.
func EncodeSnapshot(state *SessionState) ([]byte, error) {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}

	data, err := json.Marshal(snapshotEnvelope{
		Version:  snapshotVersion,
		State:    stateBytes,
		Checksum: stateChecksum(stateBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot reverses EncodeSnapshot, rejecting unknown versions and
// corrupted state bytes.
func DecodeSnapshot(data []byte) (*SessionState, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", env.Version)
	}
	if got := stateChecksum(env.State); got != env.Checksum {
		return nil, fmt.Errorf("snapshot checksum mismatch")
	}

	var state SessionState
	if err := json.Unmarshal(env.State, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if state.SummaryCoversUpto > len(state.Messages) {
		return nil, fmt.Errorf("snapshot covers %d of %d messages", state.SummaryCoversUpto, len(state.Messages))
	}
	return &state, nil
}

func stateChecksum(stateBytes []byte) string {
	sum := sha256.Sum256(stateBytes)
	return hex.EncodeToString(sum[:])
}
