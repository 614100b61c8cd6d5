package memory

// Config bounds a session's working memory. Zero values are legal and
// disable the respective behavior; only negative counts are invalid.
type Config struct {
	// MaxMessageHistory is the number of verbatim messages presented to
	// the model. 0 presents only the summary header (summary-only
	// replay).
	MaxMessageHistory int

	// SummarizationThreshold is the number of uncovered messages that
	// triggers compression. 0 disables summarization.
	SummarizationThreshold int

	// RetrievalK is the number of retrieved memories injected per turn.
	// 0 disables retrieval.
	RetrievalK int

	// MaxSessions bounds how many sessions the cleaner retains.
	// 0 disables the bound.
	MaxSessions int

	// RetentionDays expires sessions whose latest checkpoint is older.
	// 0 disables expiry.
	RetentionDays int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxMessageHistory:      50,
		SummarizationThreshold: 30,
		RetrievalK:             5,
		MaxSessions:            100,
		RetentionDays:          30,
	}
}

// Validate rejects negative counts with a ConfigError.
func (c Config) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"max_message_history", c.MaxMessageHistory},
		{"summarization_threshold", c.SummarizationThreshold},
		{"retrieval_k", c.RetrievalK},
		{"max_sessions", c.MaxSessions},
		{"retention_days", c.RetentionDays},
	}
	for _, check := range checks {
		if check.value < 0 {
			return &ConfigError{Field: check.field, Reason: "must not be negative"}
		}
	}
	return nil
}
