package memory

import (
	"context"
	"errors"
	"time"

	"github.com/engram-dev/engram/pkg/checkpoint"
	"github.com/engram-dev/engram/pkg/observability"
)

// writeCheckpoint persists state as the next checkpoint for its session.
// The next seq comes from the store's true latest, not the in-memory
// counter, so manager-side drift can never duplicate or skip a seq in
// the durable log. On success LastCheckpointSeq advances to the
// assigned seq; on failure the state is untouched beyond the already
// appended message.
func writeCheckpoint(ctx context.Context, store checkpoint.Store, state *SessionState) (int64, error) {
	latestSeq, err := storeLatestSeq(ctx, store, state.SessionID)
	if err != nil {
		return 0, err
	}
	next := latestSeq + 1

	snapshot, err := EncodeSnapshot(state)
	if err != nil {
		return 0, &StoreError{Op: "encode", Err: err}
	}

	start := time.Now()
	err = store.Put(ctx, &checkpoint.Checkpoint{
		SessionID: state.SessionID,
		Seq:       next,
		Snapshot:  snapshot,
	})
	observability.RecordStoreOp(store.Kind(), "put", time.Since(start))
	if err != nil {
		return 0, &StoreError{Op: "put", Err: err}
	}

	state.LastCheckpointSeq = next
	return next, nil
}

// storeLatestSeq returns the highest stored seq, or 0 for a session with
// no checkpoints yet.
func storeLatestSeq(ctx context.Context, store checkpoint.Store, sessionID string) (int64, error) {
	start := time.Now()
	latest, err := store.Latest(ctx, sessionID)
	observability.RecordStoreOp(store.Kind(), "latest", time.Since(start))
	switch {
	case errors.Is(err, checkpoint.ErrCheckpointNotFound):
		return 0, nil
	case err != nil:
		return 0, &StoreError{Op: "latest", Err: err}
	}
	return latest.Seq, nil
}
