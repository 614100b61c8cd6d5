// Package memory implements bounded, durable working memory for
// conversational sessions: checkpointed session state, a recency-bounded
// presentation window, threshold-triggered summarization into a running
// summary, and advisory retrieval of past context, orchestrated under a
// single-writer-per-session discipline.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/engram-dev/engram/pkg/checkpoint"
	"github.com/engram-dev/engram/pkg/index"
	"github.com/engram-dev/engram/pkg/model"
	"github.com/engram-dev/engram/pkg/observability"
)

// indexScanDepth bounds how many recent checkpoints are replayed into
// the retrieval index when a session resumes.
const indexScanDepth = 20

// Manager owns the memory configuration and serializes all operations
// per session id. Distinct sessions proceed concurrently; within one
// session every operation holds the session's exclusion scope for its
// full duration and releases it on every exit path.
type Manager struct {
	cfg    Config
	store  checkpoint.Store
	client model.Client
	index  index.Index

	mu       sync.Mutex
	sessions map[string]*sessionSlot
	active   int
}

// sessionSlot pairs a session's cached state with its exclusion scope.
// indexedUpto counts the messages already attributed to the retrieval
// index, so each checkpoint indexes only what it newly made durable.
type sessionSlot struct {
	sem         *semaphore.Weighted
	state       *SessionState
	indexedUpto int
}

// Option adjusts optional manager collaborators.
type Option func(*Manager)

// WithIndex attaches a retrieval index. Without one, retrieval returns
// empty results.
func WithIndex(idx index.Index) Option {
	return func(m *Manager) { m.index = idx }
}

// NewManager validates cfg and assembles a manager around the injected
// store and model client. Construction is all-or-nothing: an invalid
// config or a missing collaborator yields a ConfigError and no manager.
func NewManager(store checkpoint.Store, client model.Client, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &ConfigError{Field: "store", Reason: "is required"}
	}
	if client == nil {
		return nil, &ConfigError{Field: "model client", Reason: "is required"}
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		client:   client,
		sessions: make(map[string]*sessionSlot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// StoreKind identifies the checkpoint backend in use.
func (m *Manager) StoreKind() string { return m.store.Kind() }

// Resume loads the session's state from its latest checkpoint, or
// returns a fresh empty state for a brand-new id (never an error for a
// new session). The returned state is a copy: manager-owned state
// changes only through manager operations.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*SessionState, error) {
	var out *SessionState
	err := m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		state, err := m.loadLocked(ctx, slot, sessionID)
		if err != nil {
			return err
		}
		out = state.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Retrieve returns advisory context for the session's latest user
// message. An index failure is reported as a RetrievalError with an
// empty result; it never blocks the caller's turn.
func (m *Manager) Retrieve(ctx context.Context, sessionID string) ([]RetrievedMemory, error) {
	var out []RetrievedMemory
	err := m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		state, err := m.loadLocked(ctx, slot, sessionID)
		if err != nil {
			return err
		}
		out, err = m.retrieveLocked(ctx, state)
		return err
	})
	return out, err
}

// Present returns the truncated window for the session: the summary
// header when a summary exists, then the verbatim tail.
func (m *Manager) Present(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		state, err := m.loadLocked(ctx, slot, sessionID)
		if err != nil {
			return err
		}
		out = Present(state, m.cfg.MaxMessageHistory)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MaybeSummarize runs the summarization node under the session scope.
// A failed pass retains the prior summary and reports the error beside
// the failed outcome.
func (m *Manager) MaybeSummarize(ctx context.Context, sessionID string) (SummarizeOutcome, error) {
	outcome := SummarizeSkipped
	err := m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		state, err := m.loadLocked(ctx, slot, sessionID)
		if err != nil {
			return err
		}
		outcome, err = m.summarizeLocked(ctx, state)
		return err
	})
	return outcome, err
}

// Checkpoint appends msg to the session log and persists the state as
// the next checkpoint. The message is kept in memory even when the
// write fails so the conversation can continue; the returned error
// reports the durability gap, recoverable by calling Checkpoint again.
func (m *Manager) Checkpoint(ctx context.Context, sessionID string, msg Message) (int64, error) {
	var seq int64
	err := m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		if _, err := m.loadLocked(ctx, slot, sessionID); err != nil {
			return err
		}
		var cerr error
		seq, cerr = m.checkpointLocked(ctx, slot, msg)
		return cerr
	})
	return seq, err
}

// DeleteSession removes every checkpoint for the session and drops it
// from the in-memory registry.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.withSession(ctx, sessionID, func(slot *sessionSlot) error {
		start := time.Now()
		err := m.store.DeleteSession(ctx, sessionID)
		observability.RecordStoreOp(m.store.Kind(), "delete_session", time.Since(start))
		if err != nil {
			return &StoreError{Op: "delete", Err: err}
		}

		m.mu.Lock()
		if slot.state != nil {
			m.active--
		}
		slot.state = nil
		slot.indexedUpto = 0
		delete(m.sessions, sessionID)
		active := m.active
		m.mu.Unlock()
		observability.SetActiveSessions(active)
		return nil
	})
}

// SessionInfo describes one stored session for listings and retention.
type SessionInfo struct {
	SessionID  string
	LatestSeq  int64
	LastActive time.Time
}

// Sessions lists every session in the store with its latest checkpoint
// seq and write time.
func (m *Manager) Sessions(ctx context.Context) ([]SessionInfo, error) {
	ids, err := m.store.Sessions(ctx)
	if err != nil {
		return nil, &StoreError{Op: "sessions", Err: err}
	}

	infos := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		cp, err := m.store.Latest(ctx, id)
		if errors.Is(err, checkpoint.ErrCheckpointNotFound) {
			// Deleted between enumeration and lookup.
			continue
		}
		if err != nil {
			return nil, &StoreError{Op: "latest", Err: err}
		}
		infos = append(infos, SessionInfo{
			SessionID:  id,
			LatestSeq:  cp.Seq,
			LastActive: cp.CreatedAt,
		})
	}
	return infos, nil
}

// slot returns the session's registry entry, creating it on first use.
func (m *Manager) slot(sessionID string) *sessionSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &sessionSlot{sem: semaphore.NewWeighted(1)}
		m.sessions[sessionID] = s
	}
	return s
}

// withSession runs fn while holding the session's exclusion scope.
func (m *Manager) withSession(ctx context.Context, sessionID string, fn func(*sessionSlot) error) error {
	slot := m.slot(sessionID)
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer slot.sem.Release(1)
	return fn(slot)
}

// loadLocked returns the slot's state, reconstructing it from the
// latest checkpoint on first touch. Callers must hold the session scope.
func (m *Manager) loadLocked(ctx context.Context, slot *sessionSlot, sessionID string) (*SessionState, error) {
	if slot.state != nil {
		return slot.state, nil
	}

	start := time.Now()
	cp, err := m.store.Latest(ctx, sessionID)
	observability.RecordStoreOp(m.store.Kind(), "latest", time.Since(start))
	switch {
	case errors.Is(err, checkpoint.ErrCheckpointNotFound):
		slot.state = NewSessionState(sessionID)
		m.noteActive(1)
		return slot.state, nil
	case err != nil:
		return nil, &StoreError{Op: "latest", Err: err}
	}

	state, err := DecodeSnapshot(cp.Snapshot)
	if err != nil {
		return nil, &StoreError{Op: "decode", Err: err}
	}
	if state.SessionID != sessionID {
		return nil, &StoreError{Op: "decode", Err: fmt.Errorf("snapshot belongs to session %q", state.SessionID)}
	}
	state.LastCheckpointSeq = cp.Seq
	slot.state = state

	if m.index != nil {
		if err := m.rebuildIndex(ctx, sessionID); err != nil {
			log.Printf("[MemoryManager] Warning: rebuilding index for session %s: %v", sessionID, err)
		}
	}
	slot.indexedUpto = len(state.Messages)

	log.Printf("[MemoryManager] Resumed session %s at seq %d with %d messages", sessionID, cp.Seq, len(state.Messages))
	m.noteActive(1)
	return state, nil
}

func (m *Manager) retrieveLocked(ctx context.Context, state *SessionState) ([]RetrievedMemory, error) {
	retrieved, err := retrieve(ctx, m.index, state, m.cfg)
	if m.index != nil && m.cfg.RetrievalK > 0 {
		if err != nil {
			observability.RecordRetrieval("error", 0)
		} else {
			observability.RecordRetrieval("success", len(retrieved))
		}
	}
	return retrieved, err
}

func (m *Manager) summarizeLocked(ctx context.Context, state *SessionState) (SummarizeOutcome, error) {
	outcome, err := summarize(ctx, m.client, state, m.cfg)
	observability.RecordSummarization(string(outcome))
	if outcome == SummarizeSummarized {
		log.Printf("[MemoryManager] Summarized session %s through message %d", state.SessionID, state.SummaryCoversUpto)
	}
	return outcome, err
}

// checkpointLocked appends msg and writes the next checkpoint, feeding
// the retrieval index on success.
func (m *Manager) checkpointLocked(ctx context.Context, slot *sessionSlot, msg Message) (int64, error) {
	state := slot.state
	stored := state.Append(msg)
	observability.RecordMessage(string(stored.Role))

	seq, err := writeCheckpoint(ctx, m.store, state)
	if err != nil {
		observability.RecordCheckpointWrite(m.store.Kind(), "error")
		return 0, err
	}
	observability.RecordCheckpointWrite(m.store.Kind(), "success")

	m.indexLocked(ctx, slot, seq)
	return seq, nil
}

// indexLocked feeds the index every message the latest checkpoint newly
// made durable. Best-effort: failures are logged, never surfaced.
func (m *Manager) indexLocked(ctx context.Context, slot *sessionSlot, seq int64) {
	if m.index == nil {
		return
	}
	state := slot.state
	if slot.indexedUpto > len(state.Messages) {
		slot.indexedUpto = len(state.Messages)
	}
	excerpt := joinContents(state.Messages[slot.indexedUpto:])
	slot.indexedUpto = len(state.Messages)
	if excerpt == "" {
		return
	}
	if err := m.index.Add(ctx, state.SessionID, seq, excerpt); err != nil {
		log.Printf("[MemoryManager] Warning: indexing checkpoint %d for session %s: %v", seq, state.SessionID, err)
	}
}

// rebuildIndex replays recent checkpoints into the index, attributing
// to each checkpoint the messages it introduced relative to the
// previous snapshot.
func (m *Manager) rebuildIndex(ctx context.Context, sessionID string) error {
	seqs, err := m.store.List(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(seqs) == 0 {
		return nil
	}
	first := 0
	if len(seqs) > indexScanDepth {
		first = len(seqs) - indexScanDepth
	}

	prevLen := 0
	if first > 0 {
		prev, err := m.stateAt(ctx, sessionID, seqs[first-1])
		if err != nil {
			return err
		}
		prevLen = len(prev.Messages)
	}

	for _, seq := range seqs[first:] {
		st, err := m.stateAt(ctx, sessionID, seq)
		if err != nil {
			return err
		}
		if prevLen > len(st.Messages) {
			prevLen = 0
		}
		excerpt := joinContents(st.Messages[prevLen:])
		prevLen = len(st.Messages)
		if excerpt == "" {
			continue
		}
		if err := m.index.Add(ctx, sessionID, seq, excerpt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) stateAt(ctx context.Context, sessionID string, seq int64) (*SessionState, error) {
	start := time.Now()
	cp, err := m.store.Get(ctx, sessionID, seq)
	observability.RecordStoreOp(m.store.Kind(), "get", time.Since(start))
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(cp.Snapshot)
}

// noteActive tracks sessions with loaded state for the active gauge.
func (m *Manager) noteActive(delta int) {
	m.mu.Lock()
	m.active += delta
	active := m.active
	m.mu.Unlock()
	observability.SetActiveSessions(active)
}

func joinContents(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n")
}
