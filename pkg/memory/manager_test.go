package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/engram-dev/engram/pkg/checkpoint"
	"github.com/engram-dev/engram/pkg/index"
	"github.com/engram-dev/engram/pkg/model"
)

// flakyStore wraps a Store and fails Put on demand.
type flakyStore struct {
	checkpoint.Store
	mu     sync.Mutex
	putErr error
}

func (s *flakyStore) failPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

func (s *flakyStore) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, cp)
}

func newTestManager(t *testing.T, store checkpoint.Store, client model.Client, cfg Config, opts ...Option) *Manager {
	t.Helper()

	m, err := NewManager(store, client, cfg, opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func mustCheckpoint(t *testing.T, m *Manager, sessionID string, msg Message) int64 {
	t.Helper()

	seq, err := m.Checkpoint(context.Background(), sessionID, msg)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	return seq
}

func decodeLatest(t *testing.T, store checkpoint.Store, sessionID string) *SessionState {
	t.Helper()

	cp, err := store.Latest(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	state, err := DecodeSnapshot(cp.Snapshot)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	return state
}

func TestNewManager_Validation(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	client := model.NewMockClient()

	tests := []struct {
		name      string
		store     checkpoint.Store
		client    model.Client
		cfg       Config
		wantField string
	}{
		{"nil store", nil, client, Config{}, "store"},
		{"nil client", store, nil, Config{}, "model client"},
		{"invalid config", store, client, Config{MaxMessageHistory: -1}, "max_message_history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.store, tt.client, tt.cfg)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("field: got %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestManager_CheckpointAssignsGapFreeSeqs(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	m := newTestManager(t, store, model.NewMockClient(), DefaultConfig())

	for i, content := range []string{"first", "second", "third"} {
		seq := mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, content))
		if seq != int64(i+1) {
			t.Errorf("checkpoint %d: got seq %d, want %d", i, seq, i+1)
		}
	}

	seqs, err := store.List(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 2 || seqs[2] != 3 {
		t.Errorf("stored seqs: got %v, want [1 2 3]", seqs)
	}

	state := decodeLatest(t, store, "sess-1")
	if len(state.Messages) != 3 {
		t.Fatalf("latest snapshot messages: got %d, want 3", len(state.Messages))
	}
	for i, msg := range state.Messages {
		if msg.Timestamp != int64(i) {
			t.Errorf("message %d timestamp: got %d, want %d", i, msg.Timestamp, i)
		}
	}
}

func TestManager_CheckpointSeqFollowsStoreTruth(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	m := newTestManager(t, store, model.NewMockClient(), DefaultConfig())

	if seq := mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "first")); seq != 1 {
		t.Fatalf("first checkpoint: got seq %d, want 1", seq)
	}

	// A competing writer advanced the durable log past the cached seq.
	err := store.Put(context.Background(), &checkpoint.Checkpoint{
		SessionID: "sess-1",
		Seq:       5,
		Snapshot:  []byte("external"),
	})
	if err != nil {
		t.Fatalf("external Put failed: %v", err)
	}

	if seq := mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "second")); seq != 6 {
		t.Errorf("next checkpoint: got seq %d, want 6", seq)
	}
}

func TestManager_FailedPutKeepsMessageAndRecovers(t *testing.T) {
	flaky := &flakyStore{Store: checkpoint.NewMemoryStore()}
	m := newTestManager(t, flaky, model.NewMockClient(), DefaultConfig())

	if seq := mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "A")); seq != 1 {
		t.Fatalf("first checkpoint: got seq %d, want 1", seq)
	}

	flaky.failPuts(errors.New("backend down"))
	_, err := m.Checkpoint(context.Background(), "sess-1", NewMessage(RoleUser, "B"))
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if storeErr.Op != "put" {
		t.Errorf("store error op: got %q, want %q", storeErr.Op, "put")
	}

	// The failed turn stays in memory and rides along with the next
	// successful write; the seq continues from the last durable one.
	flaky.failPuts(nil)
	if seq := mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "C")); seq != 2 {
		t.Errorf("recovery checkpoint: got seq %d, want 2", seq)
	}

	state := decodeLatest(t, flaky, "sess-1")
	if got := windowContents(state.Messages); len(got) != 3 ||
		got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Errorf("recovered log: got %v, want [A B C]", got)
	}
	for i, msg := range state.Messages {
		if msg.Timestamp != int64(i) {
			t.Errorf("message %d timestamp: got %d, want %d", i, msg.Timestamp, i)
		}
	}
}

func TestManager_ResumeFreshSession(t *testing.T) {
	m := newTestManager(t, checkpoint.NewMemoryStore(), model.NewMockClient(), DefaultConfig())

	state, err := m.Resume(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if state.SessionID != "never-seen" {
		t.Errorf("session id: got %q", state.SessionID)
	}
	if len(state.Messages) != 0 || state.Summary != "" || state.LastCheckpointSeq != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}
}

func TestManager_ResumeAfterRestart(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.SummarizationThreshold = 2
	cfg.MaxMessageHistory = 1

	first := newTestManager(t, store, model.NewMockClient("compressed"), cfg)
	for _, content := range []string{"A", "B", "C", "D"} {
		mustCheckpoint(t, first, "sess-1", NewMessage(RoleUser, content))
	}
	outcome, err := first.MaybeSummarize(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("MaybeSummarize failed: %v", err)
	}
	if outcome != SummarizeSummarized {
		t.Fatalf("outcome: got %q, want %q", outcome, SummarizeSummarized)
	}
	mustCheckpoint(t, first, "sess-1", NewMessage(RoleUser, "E"))

	// A new manager over the same store sees exactly the durable state.
	second := newTestManager(t, store, model.NewMockClient(), cfg)
	state, err := second.Resume(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if len(state.Messages) != 5 {
		t.Errorf("messages: got %d, want 5", len(state.Messages))
	}
	if state.Summary != "compressed" {
		t.Errorf("summary: got %q, want %q", state.Summary, "compressed")
	}
	if state.SummaryCoversUpto != 3 {
		t.Errorf("covers: got %d, want 3", state.SummaryCoversUpto)
	}
	if state.LastCheckpointSeq != 5 {
		t.Errorf("last checkpoint seq: got %d, want 5", state.LastCheckpointSeq)
	}

	window, err := second.Present(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	if len(window) != 2 || window[0].Role != RoleSystem || window[1].Content != "E" {
		t.Errorf("window after restart: got %v", windowContents(window))
	}
}

func TestManager_ResumeRejectsForeignSnapshot(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	foreign := NewSessionState("other-session")
	foreign.Append(NewMessage(RoleUser, "hello"))
	snapshot, err := EncodeSnapshot(foreign)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	err = store.Put(context.Background(), &checkpoint.Checkpoint{
		SessionID: "victim", Seq: 1, Snapshot: snapshot,
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	m := newTestManager(t, store, model.NewMockClient(), DefaultConfig())
	_, err = m.Resume(context.Background(), "victim")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if !strings.Contains(err.Error(), "belongs to session") {
		t.Errorf("error: got %v", err)
	}
}

func TestManager_ResumeCorruptSnapshot(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	err := store.Put(context.Background(), &checkpoint.Checkpoint{
		SessionID: "sess-1", Seq: 1, Snapshot: []byte("garbage"),
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	m := newTestManager(t, store, model.NewMockClient(), DefaultConfig())
	_, err = m.Resume(context.Background(), "sess-1")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if storeErr.Op != "decode" {
		t.Errorf("store error op: got %q, want %q", storeErr.Op, "decode")
	}
}

func TestManager_DeleteSession(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	m := newTestManager(t, store, model.NewMockClient(), DefaultConfig())

	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "A"))
	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "B"))

	if err := m.DeleteSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	ids, err := store.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("store still holds sessions: %v", ids)
	}

	state, err := m.Resume(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Resume after delete failed: %v", err)
	}
	if len(state.Messages) != 0 {
		t.Errorf("expected fresh state, got %d messages", len(state.Messages))
	}
	if seq := mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "new")); seq != 1 {
		t.Errorf("seq after delete: got %d, want 1", seq)
	}
}

func TestManager_Sessions(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	m := newTestManager(t, store, model.NewMockClient(), DefaultConfig())

	mustCheckpoint(t, m, "sess-b", NewMessage(RoleUser, "one"))
	mustCheckpoint(t, m, "sess-a", NewMessage(RoleUser, "one"))
	mustCheckpoint(t, m, "sess-a", NewMessage(RoleUser, "two"))

	infos, err := m.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("sessions: got %d, want 2", len(infos))
	}
	if infos[0].SessionID != "sess-a" || infos[0].LatestSeq != 2 {
		t.Errorf("first session: got %+v", infos[0])
	}
	if infos[1].SessionID != "sess-b" || infos[1].LatestSeq != 1 {
		t.Errorf("second session: got %+v", infos[1])
	}
	for _, info := range infos {
		if info.LastActive.IsZero() {
			t.Errorf("session %s missing LastActive", info.SessionID)
		}
	}
}

func TestManager_MaybeSummarizeWindow(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.SummarizationThreshold = 2
	cfg.MaxMessageHistory = 1
	mock := model.NewMockClient("squashed")
	m := newTestManager(t, store, mock, cfg)

	for _, content := range []string{"A", "B", "C", "D"} {
		mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, content))
	}

	outcome, err := m.MaybeSummarize(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("MaybeSummarize failed: %v", err)
	}
	if outcome != SummarizeSummarized {
		t.Fatalf("outcome: got %q, want %q", outcome, SummarizeSummarized)
	}

	prompt := mock.LastMessages()
	if strings.Contains(prompt[1].Content, "user: D") {
		t.Errorf("prompt includes retained tail:\n%s", prompt[1].Content)
	}

	stats, err := m.Stats(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.SummaryCoversUpto != 3 {
		t.Errorf("covers: got %d, want 3", stats.SummaryCoversUpto)
	}
	if stats.SummaryLength != len("squashed") {
		t.Errorf("summary length: got %d", stats.SummaryLength)
	}
}

func TestManager_RetrieveWithoutIndex(t *testing.T) {
	m := newTestManager(t, checkpoint.NewMemoryStore(), model.NewMockClient(), DefaultConfig())
	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "anything"))

	got, err := m.Retrieve(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results without an index, got %v", got)
	}
}

func TestManager_RetrieveFromCheckpointedHistory(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	m := newTestManager(t, store, model.NewMockClient(), DefaultConfig(),
		WithIndex(index.NewKeywordIndex()))

	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "the sky is blue today"))
	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "why is the sky blue"))

	got, err := m.Retrieve(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results: got %d, want 2", len(got))
	}
	if got[0].SourceCheckpointSeq != 2 || got[1].SourceCheckpointSeq != 1 {
		t.Errorf("ranking: got seqs %d, %d", got[0].SourceCheckpointSeq, got[1].SourceCheckpointSeq)
	}
	if got[0].RelevanceHint < got[1].RelevanceHint {
		t.Errorf("relevance hints out of order: %v then %v", got[0].RelevanceHint, got[1].RelevanceHint)
	}
}

func TestManager_IndexRebuiltOnResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	first := newTestManager(t, store, model.NewMockClient(), DefaultConfig(),
		WithIndex(index.NewKeywordIndex()))

	mustCheckpoint(t, first, "sess-1", NewMessage(RoleUser, "my favorite color is teal"))
	mustCheckpoint(t, first, "sess-1", NewMessage(RoleUser, "what is my favorite color"))

	// A restarted process gets a cold index; resume replays checkpoints
	// into it.
	second := newTestManager(t, store, model.NewMockClient(), DefaultConfig(),
		WithIndex(index.NewKeywordIndex()))
	got, err := second.Retrieve(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected matches from the rebuilt index")
	}
	if got[0].SourceCheckpointSeq != 2 {
		t.Errorf("top match seq: got %d, want 2", got[0].SourceCheckpointSeq)
	}
}

func TestManager_Stats(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.MaxMessageHistory = 2
	m := newTestManager(t, store, model.NewMockClient(), cfg)

	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "abcdefgh"))
	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "ijklmnop"))
	mustCheckpoint(t, m, "sess-1", NewMessage(RoleUser, "qrstuvwx"))

	stats, err := m.Stats(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.SessionID != "sess-1" {
		t.Errorf("session id: got %q", stats.SessionID)
	}
	if stats.MessageCount != 3 {
		t.Errorf("message count: got %d, want 3", stats.MessageCount)
	}
	if stats.WindowSize != 2 {
		t.Errorf("window size: got %d, want 2", stats.WindowSize)
	}
	if stats.WindowTokens != 4 {
		t.Errorf("window tokens: got %d, want 4", stats.WindowTokens)
	}
	if stats.LastCheckpointSeq != 3 {
		t.Errorf("last checkpoint seq: got %d, want 3", stats.LastCheckpointSeq)
	}
	if stats.StoreKind != "memory" {
		t.Errorf("store kind: got %q", stats.StoreKind)
	}
	if stats.Config != cfg {
		t.Errorf("config: got %+v", stats.Config)
	}
}

func TestManager_SameSessionSerialized(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	mock := model.NewMockClient().RespondWith(
		func(ctx context.Context, messages []model.Message, _ model.Options) (*model.Response, error) {
			entered <- struct{}{}
			<-release
			return &model.Response{Content: "ok"}, nil
		})

	store := checkpoint.NewMemoryStore()
	m := newTestManager(t, store, mock, DefaultConfig())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.Turn(context.Background(), "sess-1", "first")
		errs <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never reached the model")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.Turn(ctx2, "sess-1", "second")
		errs <- err
	}()

	// The second turn must wait for the session scope, not run
	// concurrently.
	select {
	case <-entered:
		t.Fatal("second turn entered the model while the first held the session")
	case <-time.After(50 * time.Millisecond):
	}

	// A waiter cancels cleanly without disturbing the holder.
	cancel2()
	close(release)
	wg.Wait()
	close(errs)

	var failed, canceled int
	for err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			canceled++
		default:
			failed++
			t.Errorf("unexpected turn error: %v", err)
		}
	}
	if failed != 0 || canceled != 1 {
		t.Errorf("expected exactly one canceled turn, got %d canceled", canceled)
	}

	// The scope is free again after both exits.
	mock.RespondWith(nil)
	if _, err := m.Turn(context.Background(), "sess-1", "third"); err != nil {
		t.Fatalf("turn after release failed: %v", err)
	}
}

func TestManager_DistinctSessionsConcurrent(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	mock := model.NewMockClient().RespondWith(
		func(ctx context.Context, messages []model.Message, _ model.Options) (*model.Response, error) {
			entered <- struct{}{}
			<-release
			return &model.Response{Content: "ok"}, nil
		})

	m := newTestManager(t, checkpoint.NewMemoryStore(), mock, DefaultConfig())

	var wg sync.WaitGroup
	for _, sessionID := range []string{"sess-a", "sess-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.Turn(context.Background(), id, "hello"); err != nil {
				t.Errorf("turn on %s failed: %v", id, err)
			}
		}(sessionID)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("turns on distinct sessions did not proceed concurrently")
		}
	}
	close(release)
	wg.Wait()
}
