package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalidSessionID is returned when a session id contains unsafe
// path characters.
var ErrInvalidSessionID = errors.New("invalid session id: contains path separator or traversal sequence")

// validateSessionID checks that a session id is safe to use as a path
// component. It rejects empty strings, path separators, and traversal
// sequences.
func validateSessionID(s string) error {
	if s == "" {
		return errors.New("session id cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidSessionID
	}
	return nil
}

const latestMarker = "LATEST"

// FileStore implements Store using one JSON file per checkpoint.
// Storage layout:
//
//	~/.engram/checkpoints/
//	  └── <session-id>/
//	      ├── 00000000000000000001.json
//	      ├── 00000000000000000002.json
//	      └── LATEST            # highest seq, for O(1) latest lookups
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a file-based checkpoint store.
// If baseDir is empty, uses ~/.engram/checkpoints.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".engram", "checkpoints")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

func seqFileName(seq int64) string {
	return fmt.Sprintf("%020d.json", seq)
}

func parseSeqFileName(name string) (int64, bool) {
	if !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	seq, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// Put stores a checkpoint, replacing any prior snapshot at the same seq.
// The LATEST marker is updated after the snapshot lands so a crash
// between the two writes leaves at worst a stale-by-one marker, which
// the next Put overwrites.
func (s *FileStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}
	if err := validateSessionID(cp.SessionID); err != nil {
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

	sessionDir := filepath.Join(s.baseDir, cp.SessionID)
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	cpPath := filepath.Join(sessionDir, seqFileName(cp.Seq))
	if err := os.WriteFile(cpPath, data, 0600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	prev, err := s.latestSeqUnlocked(cp.SessionID)
	if err == nil && prev > cp.Seq {
		// Older seq rewritten; marker already points past it.
		return nil
	}

	markerPath := filepath.Join(sessionDir, latestMarker)
	if err := os.WriteFile(markerPath, []byte(strconv.FormatInt(cp.Seq, 10)), 0600); err != nil {
		return fmt.Errorf("write latest marker: %w", err)
	}

	return nil
}

// Latest returns the highest-seq checkpoint for a session.
func (s *FileStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	seq, err := s.latestSeqUnlocked(sessionID)
	if err != nil {
		return nil, err
	}
	return s.readCheckpoint(sessionID, seq)
}

// latestSeqUnlocked resolves the highest seq via the marker file,
// falling back to a directory scan when the marker is missing or does
// not name an existing checkpoint. Caller must hold a lock.
func (s *FileStore) latestSeqUnlocked(sessionID string) (int64, error) {
	sessionDir := filepath.Join(s.baseDir, sessionID)

	data, err := os.ReadFile(filepath.Join(sessionDir, latestMarker)) // #nosec G304 - session id validated to prevent traversal
	if err == nil {
		seq, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if perr == nil && seq >= 1 {
			if _, serr := os.Stat(filepath.Join(sessionDir, seqFileName(seq))); serr == nil {
				return seq, nil
			}
		}
	}

	// Marker absent or stale; scan the directory.
	seqs, err := s.listSeqsUnlocked(sessionID)
	if err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, ErrCheckpointNotFound
	}
	return seqs[len(seqs)-1], nil
}

// Get retrieves one checkpoint by seq.
func (s *FileStore) Get(ctx context.Context, sessionID string, seq int64) (*Checkpoint, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.readCheckpoint(sessionID, seq)
}

func (s *FileStore) readCheckpoint(sessionID string, seq int64) (*Checkpoint, error) {
	cpPath := filepath.Join(s.baseDir, sessionID, seqFileName(seq))

	data, err := os.ReadFile(cpPath) // #nosec G304 - session id validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns all seqs for a session in ascending order.
func (s *FileStore) List(ctx context.Context, sessionID string) ([]int64, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.listSeqsUnlocked(sessionID)
}

func (s *FileStore) listSeqsUnlocked(sessionID string) ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("read session directory: %w", err)
	}

	seqs := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if seq, ok := parseSeqFileName(entry.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Sessions returns all session ids with at least one checkpoint.
func (s *FileStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		seqs, err := s.listSeqsUnlocked(entry.Name())
		if err != nil || len(seqs) == 0 {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSession removes every checkpoint for a session.
func (s *FileStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := os.RemoveAll(filepath.Join(s.baseDir, sessionID)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	return nil
}

// Kind identifies the backend.
func (s *FileStore) Kind() string { return "file" }

// Close marks the store closed. Further operations fail.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
