package engram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/engram-dev/engram/pkg/checkpoint"
	"github.com/engram-dev/engram/pkg/index"
	"github.com/engram-dev/engram/pkg/memory"
	"github.com/engram-dev/engram/pkg/model"
	"github.com/engram-dev/engram/pkg/observability"
)

// Runtime bundles the wired collaborators behind one lifecycle. The
// Manager is the primary API; the rest is exposed for embedding and
// diagnostics.
type Runtime struct {
	Config  *Config
	Store   checkpoint.Store
	Model   model.Client
	Index   index.Index
	Manager *memory.Manager
	Cleaner *memory.Cleaner
}

// OpenWithConfig assembles a runtime from an in-memory config. A nil
// config uses the defaults.
func OpenWithConfig(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("[Engram] Warning: tracing init failed: %v", err)
	}
	observability.InitMetrics()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := buildModel(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	idx, err := buildIndex(cfg)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, err
	}

	var opts []memory.Option
	if idx != nil {
		opts = append(opts, memory.WithIndex(idx))
	}
	manager, err := memory.NewManager(store, client, cfg.Memory.toCore(), opts...)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, err
	}

	observability.InitHealthChecker().RegisterCheck(
		observability.StoreCheck("checkpoint-store", func(ctx context.Context) error {
			_, err := store.Sessions(ctx)
			return err
		}))

	rt := &Runtime{
		Config:  cfg,
		Store:   store,
		Model:   client,
		Index:   idx,
		Manager: manager,
		Cleaner: memory.NewCleaner(manager, cfg.Cleanup.Schedule),
	}
	if cfg.Cleanup.Enabled {
		if err := rt.Cleaner.Start(); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	log.Printf("[Engram] Runtime open: store=%s model=%s index=%s",
		store.Kind(), client.Provider(), cfg.Index.Kind)
	return rt, nil
}

// Close stops the cleaner, releases the model and store, and flushes
// tracing.
func (r *Runtime) Close() error {
	r.Cleaner.Stop()

	errs := []error{r.Model.Close(), r.Store.Close()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.ShutdownTracing(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func buildStore(ctx context.Context, cfg *Config) (checkpoint.Store, error) {
	switch cfg.Store.Kind {
	case "memory":
		return checkpoint.NewMemoryStore(), nil

	case "file":
		dir := cfg.Store.Dir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolve home directory: %w", err)
			}
			dir = filepath.Join(home, ".engram", "checkpoints")
		}
		return checkpoint.NewFileStore(dir)

	case "redis":
		rc := cfg.Store.Redis
		var ttl time.Duration
		if rc.TTL != "" {
			parsed, err := time.ParseDuration(rc.TTL)
			if err != nil {
				return nil, fmt.Errorf("redis ttl: %w", err)
			}
			ttl = parsed
		}
		return checkpoint.NewRedisStore(checkpoint.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
			TTL:      ttl,
			PoolSize: rc.PoolSize,
		})

	case "firestore":
		fc := cfg.Store.Firestore
		opts := []checkpoint.FirestoreOption{checkpoint.WithProjectID(fc.ProjectID)}
		if fc.CredentialsFile != "" {
			opts = append(opts, checkpoint.WithCredentialsFile(fc.CredentialsFile))
		}
		if fc.Collection != "" {
			opts = append(opts, checkpoint.WithCollection(fc.Collection))
		}
		return checkpoint.NewFirestoreStore(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

func buildModel(ctx context.Context, cfg *Config) (model.Client, error) {
	mc := cfg.Model
	var (
		base model.Client
		err  error
	)
	switch mc.Provider {
	case "openai":
		key := resolveSecret(mc.APIKey, mc.APIKeyEnv, "OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("openai api key is required (set OPENAI_API_KEY)")
		}
		base = model.NewOpenAIClientWith(openai.NewClient(key), mc.Model)

	case "gemini":
		base, err = model.NewGeminiClient(model.GeminiConfig{
			APIKey:   resolveSecret(mc.APIKey, mc.APIKeyEnv, "GEMINI_API_KEY"),
			Project:  mc.Project,
			Location: mc.Location,
			Model:    mc.Model,
		})

	case "bedrock":
		region := mc.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		base, err = model.NewBedrockClient(ctx, region, mc.Model)

	case "mock":
		base = model.NewMockClient()

	default:
		return nil, fmt.Errorf("unknown model provider %q", mc.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", mc.Provider, err)
	}

	// Instrumentation sits closest to the provider so histograms
	// measure the call, not queueing in the limiter.
	client := model.Client(model.NewInstrumentedClient(base))
	if mc.RequestsPerSecond > 0 {
		client = model.NewRateLimitedClient(client, mc.RequestsPerSecond, mc.Burst)
	}
	return client, nil
}

func buildIndex(cfg *Config) (index.Index, error) {
	ic := cfg.Index
	switch ic.Kind {
	case "none":
		return nil, nil

	case "keyword":
		var opts []index.KeywordOption
		if ic.CrossSession {
			opts = append(opts, index.WithKeywordCrossSession(true))
		}
		if ic.MaxEntries > 0 {
			opts = append(opts, index.WithKeywordMaxEntries(ic.MaxEntries))
		}
		return index.NewKeywordIndex(opts...), nil

	case "vector":
		key := resolveSecret(ic.Embedding.APIKey, ic.Embedding.APIKeyEnv, "OPENAI_API_KEY")
		embedder, err := index.NewOpenAIEmbedder(key)
		if err != nil {
			return nil, fmt.Errorf("build vector index: %w", err)
		}
		var opts []index.VectorOption
		if ic.CrossSession {
			opts = append(opts, index.WithVectorCrossSession(true))
		}
		if ic.MaxEntries > 0 {
			opts = append(opts, index.WithVectorMaxEntries(ic.MaxEntries))
		}
		return index.NewVectorIndex(embedder, opts...), nil

	default:
		return nil, fmt.Errorf("unknown index kind %q", ic.Kind)
	}
}

// resolveSecret returns the inline value, then the named variable, then
// the provider's conventional variable.
func resolveSecret(value, envName, defaultEnv string) string {
	if value != "" {
		return value
	}
	if envName != "" {
		return os.Getenv(envName)
	}
	return os.Getenv(defaultEnv)
}
