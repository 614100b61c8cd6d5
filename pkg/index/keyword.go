package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// KeywordIndex ranks excerpts by word overlap with the query: the score is
// the fraction of distinct query words that appear in the excerpt. It holds
// everything in memory and never fails a lookup.
type KeywordIndex struct {
	mu           sync.RWMutex
	entries      []keywordEntry
	maxEntries   int
	crossSession bool
}

type keywordEntry struct {
	sessionID string
	seq       int64
	excerpt   string
	tokens    map[string]struct{}
}

// KeywordOption configures a KeywordIndex
type KeywordOption func(*KeywordIndex)

// WithKeywordCrossSession lets queries match excerpts from other sessions
func WithKeywordCrossSession(enabled bool) KeywordOption {
	return func(idx *KeywordIndex) {
		idx.crossSession = enabled
	}
}

// WithKeywordMaxEntries bounds retained excerpts; oldest are evicted first
func WithKeywordMaxEntries(n int) KeywordOption {
	return func(idx *KeywordIndex) {
		if n > 0 {
			idx.maxEntries = n
		}
	}
}

// NewKeywordIndex creates an empty keyword index
func NewKeywordIndex(opts ...KeywordOption) *KeywordIndex {
	idx := &KeywordIndex{maxEntries: defaultMaxEntries}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *KeywordIndex) Add(ctx context.Context, sessionID string, seq int64, excerpt string) error {
	tokens := tokenize(excerpt)
	if len(tokens) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = append(idx.entries, keywordEntry{
		sessionID: sessionID,
		seq:       seq,
		excerpt:   excerpt,
		tokens:    tokens,
	})
	if len(idx.entries) > idx.maxEntries {
		idx.entries = idx.entries[len(idx.entries)-idx.maxEntries:]
	}
	return nil
}

func (idx *KeywordIndex) Query(ctx context.Context, sessionID, text string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	queryTokens := tokenize(text)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Match
	for _, e := range idx.entries {
		if !idx.crossSession && e.sessionID != sessionID {
			continue
		}

		overlap := 0
		for token := range queryTokens {
			if _, ok := e.tokens[token]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		matches = append(matches, Match{
			SessionID: e.sessionID,
			Seq:       e.seq,
			Excerpt:   e.excerpt,
			Score:     float64(overlap) / float64(len(queryTokens)),
		})
	}

	return rankMatches(matches, k), nil
}

// Len returns the number of indexed excerpts
func (idx *KeywordIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Seq != matches[j].Seq {
			return matches[i].Seq > matches[j].Seq
		}
		return matches[i].SessionID < matches[j].SessionID
	})
}

// tokenize lowercases s and splits it into distinct word tokens
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(fields) == 0 {
		return nil
	}
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}
