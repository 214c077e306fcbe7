package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/chunker"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index/valkey"
	"github.com/poiesic/docportal/retry"
)

// Index backends.
const (
	BackendBadger = "badger"
	BackendValkey = "valkey"
)

// Config holds the docportal configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Compare   CompareConfig   `yaml:"compare"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StorageConfig locates the badger database.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// AIConfig holds the embedding and generation endpoints.
type AIConfig struct {
	EmbeddingHost      string `yaml:"embedding_host"`
	GenerationHost     string `yaml:"generation_host"`
	EmbeddingModel     string `yaml:"embedding_model"`
	GenerationModel    string `yaml:"generation_model"`
	Token              string `yaml:"token"`
	EmbeddingBatchSize int    `yaml:"embedding_batch_size"`
}

// IndexConfig selects the vector index.
type IndexConfig struct {
	Backend string       `yaml:"backend"` // badger (default) or valkey
	Valkey  ValkeyConfig `yaml:"valkey"`
}

// ValkeyConfig holds connection and schema settings for the valkey backend.
type ValkeyConfig struct {
	Addrs           []string `yaml:"addrs"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DB              int      `yaml:"db"`
	IndexName       string   `yaml:"index_name"`
	Prefix          string   `yaml:"prefix"`
	Dimensions      int      `yaml:"dimensions"`
	HNSWM           int      `yaml:"hnsw_m"`
	HNSWEFConstruct int      `yaml:"hnsw_ef_construction"`
}

// ChunkingConfig controls how extracted text is split.
type ChunkingConfig struct {
	MaxChunkChars   int      `yaml:"max_chunk_chars"`
	OverlapFraction *float64 `yaml:"overlap_fraction"`
	Boundary        string   `yaml:"boundary"` // sentence or paragraph
}

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	PoolSize  int         `yaml:"pool_size"`
	BatchSize int         `yaml:"batch_size"`
	RateLimit float64     `yaml:"rate_limit"` // embedding calls per second, 0 for unlimited
	RateBurst int         `yaml:"rate_burst"`
	Retry     RetryConfig `yaml:"retry"`
}

// RetrievalConfig tunes ranking.
type RetrievalConfig struct {
	TopK           int         `yaml:"top_k"`
	OverFetch      int         `yaml:"over_fetch"`
	DenseWeight    float64     `yaml:"dense_weight"`
	LexicalWeight  float64     `yaml:"lexical_weight"`
	DisableLexical bool        `yaml:"disable_lexical"`
	DedupOverlap   float64     `yaml:"dedup_overlap"`
	Retry          RetryConfig `yaml:"retry"`
}

// SessionConfig tunes prompt assembly.
type SessionConfig struct {
	Unit             string        `yaml:"unit"` // chars or tokens
	Budget           int           `yaml:"budget"`
	MinContextChunks *int          `yaml:"min_context_chunks"`
	HistoryWindow    int           `yaml:"history_window"`
	IdleTTL          time.Duration `yaml:"idle_ttl"`
	RetryGeneration  bool          `yaml:"retry_generation"`
}

// CompareConfig holds the comparator's similarity bands.
type CompareConfig struct {
	MatchThreshold   float64 `yaml:"match_threshold"`
	OverlapThreshold float64 `yaml:"overlap_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// Load reads, expands, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	data = expandEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", core.ErrInvalidConfig, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Storage.Path == "" && !c.Storage.InMemory {
		c.Storage.Path = "./docportal-data"
	}

	defaults := ai.DefaultConfig()
	if c.AI.EmbeddingHost == "" {
		c.AI.EmbeddingHost = defaults.EmbeddingHost
	}
	if c.AI.GenerationHost == "" {
		c.AI.GenerationHost = c.AI.EmbeddingHost
	}
	if c.AI.EmbeddingModel == "" {
		c.AI.EmbeddingModel = defaults.EmbeddingModel
	}
	if c.AI.GenerationModel == "" {
		c.AI.GenerationModel = defaults.GenerationModel
	}
	if c.AI.EmbeddingBatchSize <= 0 {
		c.AI.EmbeddingBatchSize = defaults.EmbeddingBatchSize
	}

	if c.Index.Backend == "" {
		c.Index.Backend = BackendBadger
	}
	if c.Index.Valkey.IndexName == "" {
		c.Index.Valkey.IndexName = "docportal-chunks"
	}
	if c.Index.Valkey.Prefix == "" {
		c.Index.Valkey.Prefix = "chunk:"
	}

	chunking := chunker.DefaultConfig()
	if c.Chunking.MaxChunkChars <= 0 {
		c.Chunking.MaxChunkChars = chunking.MaxChunkChars
	}
	if c.Chunking.OverlapFraction == nil {
		overlap := chunking.OverlapFraction
		c.Chunking.OverlapFraction = &overlap
	}
	if c.Chunking.Boundary == "" {
		c.Chunking.Boundary = chunking.Boundary.String()
	}

	if c.Ingestion.PoolSize <= 0 {
		c.Ingestion.PoolSize = 4
	}
	if c.Ingestion.BatchSize <= 0 {
		c.Ingestion.BatchSize = 16
	}
	if c.Ingestion.RateBurst <= 0 {
		c.Ingestion.RateBurst = 1
	}
	c.Ingestion.Retry.applyDefaults()

	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.OverFetch <= 0 {
		c.Retrieval.OverFetch = 2
	}
	if c.Retrieval.DenseWeight == 0 && c.Retrieval.LexicalWeight == 0 {
		c.Retrieval.DenseWeight = 0.75
		c.Retrieval.LexicalWeight = 0.25
	}
	if c.Retrieval.DedupOverlap == 0 {
		c.Retrieval.DedupOverlap = 0.5
	}
	c.Retrieval.Retry.applyDefaults()

	if c.Session.Unit == "" {
		c.Session.Unit = "chars"
	}
	if c.Session.Budget <= 0 {
		c.Session.Budget = 4000
	}
	if c.Session.MinContextChunks == nil {
		one := 1
		c.Session.MinContextChunks = &one
	}
	if c.Session.HistoryWindow <= 0 {
		c.Session.HistoryWindow = 10
	}
	if c.Session.IdleTTL <= 0 {
		c.Session.IdleTTL = 24 * time.Hour
	}

	if c.Compare.MatchThreshold == 0 {
		c.Compare.MatchThreshold = 0.92
	}
	if c.Compare.OverlapThreshold == 0 {
		c.Compare.OverlapThreshold = 0.75
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (r *RetryConfig) applyDefaults() {
	defaults := retry.DefaultPolicy()
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = defaults.MaxAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = defaults.BaseDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = defaults.MaxDelay
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case BackendBadger:
	case BackendValkey:
		if len(c.Index.Valkey.Addrs) == 0 {
			return invalid("index.valkey.addrs is required for the valkey backend")
		}
		if c.Index.Valkey.Dimensions <= 0 {
			return invalid("index.valkey.dimensions must be positive, got %d", c.Index.Valkey.Dimensions)
		}
	default:
		return invalid("index.backend must be %q or %q, got %q", BackendBadger, BackendValkey, c.Index.Backend)
	}

	if _, err := c.ChunkerConfig(); err != nil {
		return err
	}
	if c.Retrieval.DenseWeight < 0 || c.Retrieval.LexicalWeight < 0 {
		return invalid("retrieval weights must not be negative")
	}
	if c.Retrieval.DedupOverlap <= 0 || c.Retrieval.DedupOverlap > 1 {
		return invalid("retrieval.dedup_overlap must be in (0, 1], got %v", c.Retrieval.DedupOverlap)
	}
	switch c.Session.Unit {
	case "chars", "tokens":
	default:
		return invalid("session.unit must be \"chars\" or \"tokens\", got %q", c.Session.Unit)
	}
	if c.Session.MinContextChunks != nil && *c.Session.MinContextChunks < 0 {
		return invalid("session.min_context_chunks must not be negative")
	}
	m, o := c.Compare.MatchThreshold, c.Compare.OverlapThreshold
	if o <= 0 || o > m || m > 1 {
		return invalid("compare thresholds need 0 < overlap <= match <= 1, got match=%v overlap=%v", m, o)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return invalid("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// AIConfig converts the ai section.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithToken(c.AI.Token),
		ai.WithEmbeddingBatchSize(c.AI.EmbeddingBatchSize),
	)
}

// ValkeyConfig converts the index.valkey section.
func (c *Config) ValkeyConfig() valkey.Config {
	v := c.Index.Valkey
	return valkey.Config{
		Addrs:          v.Addrs,
		Username:       v.Username,
		Password:       v.Password,
		DB:             v.DB,
		IndexName:      v.IndexName,
		Prefix:         v.Prefix,
		Dimensions:     v.Dimensions,
		M:              v.HNSWM,
		EFConstruction: v.HNSWEFConstruct,
	}
}

// ChunkerConfig converts and validates the chunking section.
func (c *Config) ChunkerConfig() (chunker.Config, error) {
	boundary, err := chunker.ParseBoundary(c.Chunking.Boundary)
	if err != nil {
		return chunker.Config{}, err
	}
	cfg := chunker.Config{
		MaxChunkChars:   c.Chunking.MaxChunkChars,
		OverlapFraction: chunker.DefaultOverlapFraction,
		Boundary:        boundary,
	}
	if c.Chunking.OverlapFraction != nil {
		cfg.OverlapFraction = *c.Chunking.OverlapFraction
	}
	return cfg, cfg.Validate()
}

// Policy converts a retry section.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	return ParseLevel(c.Logging.Level)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, invalid("invalid log level %q: must be one of debug, info, warn, error", s)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{core.ErrInvalidConfig}, args...)...)
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, fallback, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = fallback
		}
		return []byte(val)
	})
}
