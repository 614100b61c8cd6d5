package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps.
// Suitable for tests and single-process embedding; nothing survives a
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*Checkpoint // ascending seq per session
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]*Checkpoint),
	}
}

// Put stores a checkpoint, replacing any prior snapshot at the same seq.
func (s *MemoryStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stored := clone(cp)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	cps := s.sessions[cp.SessionID]
	idx := sort.Search(len(cps), func(i int) bool { return cps[i].Seq >= cp.Seq })
	if idx < len(cps) && cps[idx].Seq == cp.Seq {
		cps[idx] = stored
	} else {
		cps = append(cps, nil)
		copy(cps[idx+1:], cps[idx:])
		cps[idx] = stored
	}
	s.sessions[cp.SessionID] = cps

	return nil
}

// Latest returns the highest-seq checkpoint for a session.
func (s *MemoryStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	cps := s.sessions[sessionID]
	if len(cps) == 0 {
		return nil, ErrCheckpointNotFound
	}
	return clone(cps[len(cps)-1]), nil
}

// Get retrieves one checkpoint by seq.
func (s *MemoryStore) Get(ctx context.Context, sessionID string, seq int64) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	cps := s.sessions[sessionID]
	idx := sort.Search(len(cps), func(i int) bool { return cps[i].Seq >= seq })
	if idx < len(cps) && cps[idx].Seq == seq {
		return clone(cps[idx]), nil
	}
	return nil, ErrCheckpointNotFound
}

// List returns all seqs for a session in ascending order.
func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	cps := s.sessions[sessionID]
	seqs := make([]int64, 0, len(cps))
	for _, cp := range cps {
		seqs = append(seqs, cp.Seq)
	}
	return seqs, nil
}

// Sessions returns all session ids with at least one checkpoint.
func (s *MemoryStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(s.sessions))
	for id, cps := range s.sessions {
		if len(cps) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSession removes every checkpoint for a session.
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.sessions, sessionID)
	return nil
}

// Kind identifies the backend.
func (s *MemoryStore) Kind() string { return "memory" }

// Close marks the store closed. Further operations fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.sessions = nil
	return nil
}

// validateCheckpoint rejects records no backend should accept.
func validateCheckpoint(cp *Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	if cp.SessionID == "" {
		return errors.New("checkpoint session ID cannot be empty")
	}
	if cp.Seq < 1 {
		return errors.New("checkpoint seq must be >= 1")
	}
	return nil
}
