// Package index provides retrieval indexes over conversation history.
// Excerpts are fed in as checkpoints are written and queried with the
// latest user input to surface relevant context that has already been
// summarized out of the working window.
package index

import "context"

// defaultMaxEntries bounds how many excerpts an in-memory index retains
// before evicting the oldest.
const defaultMaxEntries = 10000

// Index matches past conversation excerpts against query text
type Index interface {
	// Add indexes an excerpt introduced by checkpoint seq of a session.
	// Blank excerpts are ignored.
	Add(ctx context.Context, sessionID string, seq int64, excerpt string) error

	// Query returns up to k matches ranked by descending relevance.
	// Ties rank the more recent checkpoint first. A k of zero or a query
	// with no usable tokens returns no matches.
	Query(ctx context.Context, sessionID, text string, k int) ([]Match, error)
}

// Match is one retrieval hit
type Match struct {
	SessionID string
	Seq       int64
	Excerpt   string
	Score     float64
}

// rankMatches orders matches by score descending, breaking ties by the
// higher checkpoint seq, and truncates to k
func rankMatches(matches []Match, k int) []Match {
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
