package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/docportal/chunker"
	"github.com/poiesic/docportal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
storage:
  path: /var/lib/docportal
ai:
  embedding_host: http://embed:11434
  embedding_model: nomic-embed-text
  generation_model: llama3
  token: ${DOCPORTAL_TEST_TOKEN}
index:
  backend: valkey
  valkey:
    addrs: ["${DOCPORTAL_TEST_VALKEY:-localhost:6379}"]
    dimensions: 768
    hnsw_m: 16
chunking:
  max_chunk_chars: 500
  overlap_fraction: 0
  boundary: paragraph
ingestion:
  batch_size: 8
  rate_limit: 2.5
  retry:
    max_attempts: 5
    base_delay: 50ms
session:
  unit: tokens
  min_context_chunks: 0
  idle_ttl: 30m
compare:
  match_threshold: 0.95
  overlap_threshold: 0.8
logging:
  level: debug
  format: json
`

func TestParse(t *testing.T) {
	t.Setenv("DOCPORTAL_TEST_TOKEN", "secret")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/docportal", cfg.Storage.Path)
	assert.Equal(t, "secret", cfg.AI.Token)
	assert.Equal(t, "http://embed:11434", cfg.AI.GenerationHost, "generation host follows the embedding host")
	assert.Equal(t, BackendValkey, cfg.Index.Backend)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Index.Valkey.Addrs)
	assert.Equal(t, 5, cfg.Ingestion.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Ingestion.Retry.BaseDelay)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 0, *cfg.Session.MinContextChunks, "an explicit zero floor is kept")

	chunking, err := cfg.ChunkerConfig()
	require.NoError(t, err)
	assert.Equal(t, chunker.Config{MaxChunkChars: 500, OverlapFraction: 0, Boundary: chunker.BoundaryParagraph}, chunking)

	vk := cfg.ValkeyConfig()
	assert.Equal(t, 768, vk.Dimensions)
	assert.Equal(t, 16, vk.M)
	assert.Equal(t, "docportal-chunks", vk.IndexName)

	aiCfg := cfg.AIConfig()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "http://embed:11434/v1", aiCfg.EmbeddingHost)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendBadger, cfg.Index.Backend)
	assert.Equal(t, "chars", cfg.Session.Unit)
	assert.Equal(t, 1, *cfg.Session.MinContextChunks)
	assert.Equal(t, 0.92, cfg.Compare.MatchThreshold)
	assert.Equal(t, 0.75, cfg.Compare.OverlapThreshold)
	assert.Equal(t, 0.75, cfg.Retrieval.DenseWeight)
	assert.Equal(t, 2, cfg.Retrieval.OverFetch)

	chunking, err := cfg.ChunkerConfig()
	require.NoError(t, err)
	assert.Equal(t, chunker.DefaultConfig(), chunking)
	assert.Equal(t, 3, cfg.Ingestion.Retry.Policy().MaxAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Index.Backend = "faiss" }},
		{"valkey without addrs", func(c *Config) { c.Index.Backend = BackendValkey; c.Index.Valkey.Dimensions = 8 }},
		{"valkey without dimensions", func(c *Config) {
			c.Index.Backend = BackendValkey
			c.Index.Valkey.Addrs = []string{"localhost:6379"}
		}},
		{"unknown boundary", func(c *Config) { c.Chunking.Boundary = "word" }},
		{"negative weight", func(c *Config) { c.Retrieval.LexicalWeight = -1 }},
		{"dedup overlap above one", func(c *Config) { c.Retrieval.DedupOverlap = 1.5 }},
		{"unknown unit", func(c *Config) { c.Session.Unit = "words" }},
		{"overlap above match", func(c *Config) { c.Compare.OverlapThreshold = 0.95 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docportal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  in_memory: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.InMemory)
	assert.Empty(t, cfg.Storage.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("storage: [unclosed"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("DOCPORTAL_TEST_SET", "value")

	assert.Equal(t, "a: value", string(expandEnvVars([]byte("a: ${DOCPORTAL_TEST_SET}"))))
	assert.Equal(t, "a: fallback", string(expandEnvVars([]byte("a: ${DOCPORTAL_TEST_UNSET:-fallback}"))))
	assert.Equal(t, "a: ", string(expandEnvVars([]byte("a: ${DOCPORTAL_TEST_UNSET}"))))
}
