package engram

import (
	"fmt"
	"os"
	"time"

	"github.com/engram-dev/engram/internal/safeyaml"
	"github.com/engram-dev/engram/pkg/memory"
)

// Config is the top-level runtime configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store,omitempty"`
	Model         ModelConfig         `yaml:"model,omitempty"`
	Memory        MemoryConfig        `yaml:"memory,omitempty"`
	Index         IndexConfig         `yaml:"index,omitempty"`
	Cleanup       CleanupConfig       `yaml:"cleanup,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	// Kind is the backend type.
	// Options: "memory", "file", "redis", "firestore"
	// Default: "file"
	Kind string `yaml:"kind"`

	// Dir is the base directory for file-based storage.
	// Default: ~/.engram/checkpoints
	Dir string `yaml:"dir,omitempty"`

	Redis     RedisStoreConfig     `yaml:"redis,omitempty"`
	Firestore FirestoreStoreConfig `yaml:"firestore,omitempty"`
}

// RedisStoreConfig configures the Redis backend.
type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`

	// TTL expires idle checkpoint data (e.g. "720h"). Empty never
	// expires.
	TTL string `yaml:"ttl,omitempty"`

	PoolSize int `yaml:"pool_size,omitempty"`
}

// FirestoreStoreConfig configures the Firestore backend.
type FirestoreStoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	Collection      string `yaml:"collection,omitempty"`
}

// ModelConfig selects the model provider.
type ModelConfig struct {
	// Provider is the model backend.
	// Options: "openai", "gemini", "bedrock", "mock"
	// Default: "openai"
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model id.
	Model string `yaml:"model,omitempty"`

	// APIKey authenticates to OpenAI or Gemini. When empty the key is
	// read from APIKeyEnv, then from the provider's conventional
	// variable (OPENAI_API_KEY, GEMINI_API_KEY).
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Project and Location select the Vertex AI backend for Gemini.
	Project  string `yaml:"project,omitempty"`
	Location string `yaml:"location,omitempty"`

	// Region is the AWS region for Bedrock; empty falls back to the
	// default AWS credential chain (AWS_REGION).
	Region string `yaml:"region,omitempty"`

	// RequestsPerSecond throttles model calls. 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// MemoryConfig bounds working memory. Absent fields take the stock
// defaults; an explicit 0 disables the respective behavior.
type MemoryConfig struct {
	MaxMessageHistory      *int `yaml:"max_message_history,omitempty"`
	SummarizationThreshold *int `yaml:"summarization_threshold,omitempty"`
	RetrievalK             *int `yaml:"retrieval_k,omitempty"`
	MaxSessions            *int `yaml:"max_sessions,omitempty"`
	RetentionDays          *int `yaml:"retention_days,omitempty"`
}

// toCore maps the YAML view onto the core limits.
func (c MemoryConfig) toCore() memory.Config {
	cfg := memory.DefaultConfig()
	if c.MaxMessageHistory != nil {
		cfg.MaxMessageHistory = *c.MaxMessageHistory
	}
	if c.SummarizationThreshold != nil {
		cfg.SummarizationThreshold = *c.SummarizationThreshold
	}
	if c.RetrievalK != nil {
		cfg.RetrievalK = *c.RetrievalK
	}
	if c.MaxSessions != nil {
		cfg.MaxSessions = *c.MaxSessions
	}
	if c.RetentionDays != nil {
		cfg.RetentionDays = *c.RetentionDays
	}
	return cfg
}

// IndexConfig selects the retrieval index.
type IndexConfig struct {
	// Kind is the index type.
	// Options: "keyword", "vector", "none"
	// Default: "keyword"
	Kind string `yaml:"kind"`

	// CrossSession lets queries match excerpts from other sessions.
	CrossSession bool `yaml:"cross_session,omitempty"`

	// MaxEntries bounds the in-memory index. 0 uses the index default.
	MaxEntries int `yaml:"max_entries,omitempty"`

	// Embedding configures the vector index's embedder.
	Embedding EmbeddingConfig `yaml:"embedding,omitempty"`
}

// EmbeddingConfig configures the OpenAI embedder behind the vector
// index. Key resolution follows ModelConfig's convention.
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// CleanupConfig schedules retention enforcement.
type CleanupConfig struct {
	// Enabled starts the cron schedule when the runtime opens.
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression (e.g. "@hourly", "@every 30m").
	Schedule string `yaml:"schedule,omitempty"`
}

// ObservabilityConfig exposes metrics and health endpoints.
type ObservabilityConfig struct {
	// MetricsAddr is the listen address for /metrics and /health
	// (e.g. ":9090"). Empty disables the listener; the serve command
	// requires it.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DefaultConfig returns the stock configuration: file-backed
// checkpoints, OpenAI models, keyword retrieval.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store.Kind == "" {
		c.Store.Kind = "file"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Index.Kind == "" {
		c.Index.Kind = "keyword"
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "@hourly"
	}
}

// Validate rejects configurations the runtime cannot build.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case "memory", "file":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("config: redis store requires addr")
		}
		if c.Store.Redis.TTL != "" {
			if _, err := time.ParseDuration(c.Store.Redis.TTL); err != nil {
				return fmt.Errorf("config: redis ttl: %w", err)
			}
		}
	case "firestore":
		if c.Store.Firestore.ProjectID == "" {
			return fmt.Errorf("config: firestore store requires project_id")
		}
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}

	switch c.Model.Provider {
	case "openai", "gemini", "bedrock", "mock":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	if c.Model.RequestsPerSecond < 0 {
		return fmt.Errorf("config: requests_per_second must not be negative")
	}

	switch c.Index.Kind {
	case "keyword", "vector", "none":
	default:
		return fmt.Errorf("config: unknown index kind %q", c.Index.Kind)
	}

	return c.Memory.toCore().Validate()
}

// FileReader abstracts config file access so loading is testable.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader on the local filesystem.
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path comes from operator input
}

// ConfigLoader parses config files through the resource-bounded YAML
// parser.
type ConfigLoader struct {
	fileReader FileReader
	limits     safeyaml.Limits
}

// NewConfigLoader creates a loader with the default parser limits.
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{fileReader: fr, limits: safeyaml.DefaultLimits()}
}

// NewConfigLoaderWithLimits creates a loader with custom parser limits.
func NewConfigLoaderWithLimits(fr FileReader, limits safeyaml.Limits) *ConfigLoader {
	return &ConfigLoader{fileReader: fr, limits: limits}
}

// LoadConfig reads, parses, defaults, and validates a config file.
func (cl *ConfigLoader) LoadConfig(path string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := safeyaml.UnmarshalWithLimits(data, &config, cl.limits); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
