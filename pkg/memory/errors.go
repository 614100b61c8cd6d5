package memory

import "fmt"

// ConfigError reports an invalid Config at manager construction. It is
// the only failure allowed to make a manager unusable.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("memory config: %s %s", e.Field, e.Reason)
}

// StoreError wraps a checkpoint store failure. In-memory session state
// stays intact; the durable record is behind until a retry succeeds.
type StoreError struct {
	Op  string // "latest", "put", "get", "list", "decode"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("checkpoint store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// SummarizationError wraps a model failure during compression. The
// prior summary is retained and the turn proceeds.
type SummarizationError struct {
	Err error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarization: %v", e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// RetrievalError wraps an index lookup failure. Callers treat it as
// zero results; it never blocks a turn.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
