package index

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Embedder turns texts into embedding vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex ranks excerpts by cosine similarity between the query
// embedding and each excerpt's embedding. Vectors live in memory; the
// embedder is the only external call.
type VectorIndex struct {
	mu           sync.RWMutex
	embedder     Embedder
	entries      []vectorEntry
	maxEntries   int
	crossSession bool
}

type vectorEntry struct {
	sessionID string
	seq       int64
	excerpt   string
	vec       []float32
}

// VectorOption configures a VectorIndex
type VectorOption func(*VectorIndex)

// WithVectorCrossSession lets queries match excerpts from other sessions
func WithVectorCrossSession(enabled bool) VectorOption {
	return func(idx *VectorIndex) {
		idx.crossSession = enabled
	}
}

// WithVectorMaxEntries bounds retained excerpts; oldest are evicted first
func WithVectorMaxEntries(n int) VectorOption {
	return func(idx *VectorIndex) {
		if n > 0 {
			idx.maxEntries = n
		}
	}
}

// NewVectorIndex creates an empty vector index backed by embedder
func NewVectorIndex(embedder Embedder, opts ...VectorOption) *VectorIndex {
	idx := &VectorIndex{
		embedder:   embedder,
		maxEntries: defaultMaxEntries,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *VectorIndex) Add(ctx context.Context, sessionID string, seq int64, excerpt string) error {
	if excerpt == "" {
		return nil
	}

	vecs, err := idx.embedder.Embed(ctx, []string{excerpt})
	if err != nil {
		return fmt.Errorf("embed excerpt: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("embedder returned no vector")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = append(idx.entries, vectorEntry{
		sessionID: sessionID,
		seq:       seq,
		excerpt:   excerpt,
		vec:       vecs[0],
	})
	if len(idx.entries) > idx.maxEntries {
		idx.entries = idx.entries[len(idx.entries)-idx.maxEntries:]
	}
	return nil
}

func (idx *VectorIndex) Query(ctx context.Context, sessionID, text string, k int) ([]Match, error) {
	if k <= 0 || text == "" {
		return nil, nil
	}

	vecs, err := idx.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	queryVec := vecs[0]

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Match
	for _, e := range idx.entries {
		if !idx.crossSession && e.sessionID != sessionID {
			continue
		}

		score := float64(cosineSimilarity(queryVec, e.vec))
		if score <= 0 {
			continue
		}

		matches = append(matches, Match{
			SessionID: e.sessionID,
			Seq:       e.seq,
			Excerpt:   e.excerpt,
			Score:     score,
		})
	}

	return rankMatches(matches, k), nil
}

// Len returns the number of indexed excerpts
func (idx *VectorIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// cosineSimilarity calculates cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProd, normA, normB float32
	for i := range a {
		dotProd += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProd / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
