package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFirestoreCollection = "engram_sessions"

// firestoreCheckpoint is the document schema for one checkpoint.
type firestoreCheckpoint struct {
	SessionID string    `firestore:"session_id"`
	Seq       int64     `firestore:"seq"`
	Snapshot  []byte    `firestore:"snapshot"`
	CreatedAt time.Time `firestore:"created_at"`
}

// FirestoreStore implements Store on Cloud Firestore.
// Each session is a document in the configured collection; its
// checkpoints live in a "checkpoints" subcollection keyed by
// zero-padded seq, so the latest query is a single indexed
// OrderBy(seq, Desc).Limit(1).
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	mu         sync.RWMutex
	closed     bool
}

// FirestoreConfig contains configuration for the Firestore store.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// FirestoreOption configures a FirestoreStore.
type FirestoreOption func(*FirestoreConfig)

// WithProjectID sets the GCP project ID.
func WithProjectID(projectID string) FirestoreOption {
	return func(c *FirestoreConfig) {
		c.ProjectID = projectID
	}
}

// WithCredentialsFile sets the path to service account credentials.
func WithCredentialsFile(path string) FirestoreOption {
	return func(c *FirestoreConfig) {
		c.CredentialsFile = path
	}
}

// WithCollection sets the root collection name (default "engram_sessions").
func WithCollection(name string) FirestoreOption {
	return func(c *FirestoreConfig) {
		c.Collection = name
	}
}

// NewFirestoreStore creates a Firestore-backed checkpoint store.
//
// Example:
//
//	store, err := checkpoint.NewFirestoreStore(ctx,
//	    checkpoint.WithProjectID("my-project"),
//	    checkpoint.WithCredentialsFile("/path/to/credentials.json"),
//	)
func NewFirestoreStore(ctx context.Context, opts ...FirestoreOption) (*FirestoreStore, error) {
	config := &FirestoreConfig{}
	for _, opt := range opts {
		opt(config)
	}

	if config.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if config.Collection == "" {
		config.Collection = defaultFirestoreCollection
	}

	var clientOpts []option.ClientOption
	if config.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, config.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreStore{
		client:     client,
		collection: config.Collection,
	}, nil
}

func seqDocID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

func (s *FirestoreStore) sessionRef(sessionID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(sessionID)
}

func (s *FirestoreStore) checkpointsRef(sessionID string) *firestore.CollectionRef {
	return s.sessionRef(sessionID).Collection("checkpoints")
}

func (s *FirestoreStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put stores a checkpoint, replacing any prior snapshot at the same seq.
func (s *FirestoreStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}
	if err := s.checkClosed(); err != nil {
		return err
	}

	stored := clone(cp)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	doc := firestoreCheckpoint{
		SessionID: stored.SessionID,
		Seq:       stored.Seq,
		Snapshot:  stored.Snapshot,
		CreatedAt: stored.CreatedAt,
	}

	cpRef := s.checkpointsRef(cp.SessionID).Doc(seqDocID(cp.Seq))
	if _, err := cpRef.Set(ctx, doc); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	// The session document makes the session enumerable; a failure here
	// leaves the checkpoint readable but the session invisible to
	// Sessions(), so surface it.
	_, err := s.sessionRef(cp.SessionID).Set(ctx, map[string]interface{}{
		"session_id": cp.SessionID,
		"latest_seq": cp.Seq,
		"updated_at": stored.CreatedAt,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("update session document: %w", err)
	}

	return nil
}

// Latest returns the highest-seq checkpoint for a session.
func (s *FirestoreStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	iter := s.checkpointsRef(sessionID).
		OrderBy("seq", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	docSnap, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest checkpoint: %w", err)
	}

	return docToCheckpoint(docSnap)
}

// Get retrieves one checkpoint by seq.
func (s *FirestoreStore) Get(ctx context.Context, sessionID string, seq int64) (*Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	docSnap, err := s.checkpointsRef(sessionID).Doc(seqDocID(seq)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	return docToCheckpoint(docSnap)
}

func docToCheckpoint(docSnap *firestore.DocumentSnapshot) (*Checkpoint, error) {
	var doc firestoreCheckpoint
	if err := docSnap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &Checkpoint{
		SessionID: doc.SessionID,
		Seq:       doc.Seq,
		Snapshot:  doc.Snapshot,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// List returns all seqs for a session in ascending order.
func (s *FirestoreStore) List(ctx context.Context, sessionID string) ([]int64, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	iter := s.checkpointsRef(sessionID).
		OrderBy("seq", firestore.Asc).
		Select("seq").
		Documents(ctx)
	defer iter.Stop()

	var seqs []int64
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}

		seq, err := strconv.ParseInt(docSnap.Ref.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse checkpoint id %q: %w", docSnap.Ref.ID, err)
		}
		seqs = append(seqs, seq)
	}

	if seqs == nil {
		seqs = []int64{}
	}
	return seqs, nil
}

// Sessions returns all session ids with at least one checkpoint.
func (s *FirestoreStore) Sessions(ctx context.Context) ([]string, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		ids = append(ids, docSnap.Ref.ID)
	}

	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSession removes every checkpoint for a session.
// Firestore requires deleting subcollection documents individually.
func (s *FirestoreStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	bulkWriter := s.client.BulkWriter(ctx)

	iter := s.checkpointsRef(sessionID).Documents(ctx)
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bulkWriter.End()
			return fmt.Errorf("iterate checkpoints: %w", err)
		}

		if _, err := bulkWriter.Delete(docSnap.Ref); err != nil {
			bulkWriter.End()
			return fmt.Errorf("queue checkpoint delete: %w", err)
		}
	}

	if _, err := bulkWriter.Delete(s.sessionRef(sessionID)); err != nil {
		bulkWriter.End()
		return fmt.Errorf("queue session delete: %w", err)
	}

	bulkWriter.End()
	return nil
}

// Kind identifies the backend.
func (s *FirestoreStore) Kind() string { return "firestore" }

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
