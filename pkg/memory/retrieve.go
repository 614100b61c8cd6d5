package memory

import (
	"context"
	"sort"

	"github.com/engram-dev/engram/pkg/index"
)

// RetrievedMemory is transient, per-turn context recovered from past
// checkpoints. Advisory only: it never alters the summary or the log,
// and it is never persisted.
type RetrievedMemory struct {
	SourceCheckpointSeq int64
	Excerpt             string
	RelevanceHint       float64
}

// retrieve queries the index for context related to the latest user
// message. A missing index, k = 0, or a session without user messages
// yields an empty result. Lookup failure is reported as a RetrievalError
// alongside the empty result so orchestration can degrade gracefully.
func retrieve(ctx context.Context, idx index.Index, state *SessionState, cfg Config) ([]RetrievedMemory, error) {
	if cfg.RetrievalK <= 0 || idx == nil {
		return nil, nil
	}
	query := latestUserContent(state.Messages)
	if query == "" {
		return nil, nil
	}

	matches, err := idx.Query(ctx, state.SessionID, query, cfg.RetrievalK)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	// Re-assert the ranking contract regardless of collaborator behavior:
	// score descending, ties to the more recent checkpoint.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Seq > matches[j].Seq
	})
	if len(matches) > cfg.RetrievalK {
		matches = matches[:cfg.RetrievalK]
	}

	retrieved := make([]RetrievedMemory, len(matches))
	for i, match := range matches {
		retrieved[i] = RetrievedMemory{
			SourceCheckpointSeq: match.Seq,
			Excerpt:             match.Excerpt,
			RelevanceHint:       match.Score,
		}
	}
	return retrieved, nil
}

func latestUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
