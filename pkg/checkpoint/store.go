// Package checkpoint provides durable, sequence-numbered session
// snapshots. A Store maps (session id, seq) to an opaque snapshot and
// answers "latest for session" queries; backends exist for memory,
// local files, Redis, and Firestore.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	// ErrCheckpointNotFound is returned when a checkpoint doesn't exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("checkpoint store is closed")
)

// Checkpoint is one immutable snapshot of a session's state.
// Snapshot bytes are opaque to the store; callers own the encoding.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Snapshot  []byte    `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

// Store abstracts checkpoint persistence.
// Implementations must be safe for concurrent use and must keep
// sessions independent: writes to one session key never affect another.
//
// Put with an already-stored (session, seq) replaces the prior snapshot.
// Writers that need gap-free seq assignment read Latest before choosing
// the next seq; replace semantics keep retries of a failed write safe.
type Store interface {
	// Put stores a checkpoint. A zero CreatedAt is stamped by the store.
	Put(ctx context.Context, cp *Checkpoint) error

	// Latest returns the checkpoint with the highest seq for a session.
	// Returns ErrCheckpointNotFound if the session has none.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)

	// Get retrieves one checkpoint by seq.
	// Returns ErrCheckpointNotFound if it doesn't exist.
	Get(ctx context.Context, sessionID string, seq int64) (*Checkpoint, error)

	// List returns all seqs recorded for a session in ascending order.
	// An unknown session yields an empty slice, not an error.
	List(ctx context.Context, sessionID string) ([]int64, error)

	// Sessions returns the ids of all sessions with at least one
	// checkpoint, sorted lexicographically.
	Sessions(ctx context.Context) ([]string, error)

	// DeleteSession removes every checkpoint for a session.
	// Deleting an unknown session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) error

	// Kind identifies the backend ("memory", "file", "redis",
	// "firestore") for diagnostics and stats.
	Kind() string

	// Close releases any resources held by the store.
	Close() error
}

// clone returns a deep copy so callers can't alias stored state.
func clone(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.Snapshot = append([]byte(nil), cp.Snapshot...)
	return &out
}
