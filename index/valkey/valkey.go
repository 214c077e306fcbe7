// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package valkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/rueidis"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
)

// Field names of the chunk hashes.
const (
	fieldVector     = "vector"
	fieldDocumentID = "document_id"
	fieldPosition   = "position"
	fieldStart      = "span_start"
	fieldEnd        = "span_end"
	fieldScore      = "__vector_score"
)

// Config holds connection and schema parameters.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int

	// IndexName is the FT index name. Default: "docportal-chunks"
	IndexName string
	// Prefix is prepended to chunk ids to form hash keys. Default: "chunk:"
	Prefix string
	// Dimensions is the embedding vector length. Required.
	Dimensions int
	// M and EFConstruction tune the HNSW graph; zero keeps server defaults.
	M              int
	EFConstruction int
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.IndexName == "" {
		c.IndexName = "docportal-chunks"
	}
	if c.Prefix == "" {
		c.Prefix = "chunk:"
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if len(c.Addrs) == 0 {
		return fmt.Errorf("%w: valkey addrs is required", core.ErrInvalidConfig)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: valkey dimensions must be positive", core.ErrInvalidConfig)
	}
	return nil
}

// Option configures an Index.
type Option func(*Index) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) error {
		i.logger = logger.With("component", "valkey-index")
		return nil
	}
}

// Index implements index.VectorIndex on a Valkey or Redis server with the
// search module, using FT.SEARCH KNN over HNSW cosine vectors.
type Index struct {
	client rueidis.Client
	config Config
	logger *slog.Logger
}

var _ index.VectorIndex = (*Index)(nil)

// New connects to the server. Call EnsureIndex before first use.
func New(cfg Config, opts ...Option) (*Index, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH parsing expects RESP2 arrays
	})
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	return newIndex(client, cfg, opts...)
}

func newIndex(client rueidis.Client, cfg Config, opts ...Option) (*Index, error) {
	cfg.ApplyDefaults()
	idx := &Index{
		client: client,
		config: cfg,
		logger: slog.Default().With("component", "valkey-index"),
	}
	for _, opt := range opts {
		if err := opt(idx); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Close shuts down the client.
func (i *Index) Close() {
	i.client.Close()
}

// EnsureIndex creates the FT index if it does not exist yet.
func (i *Index) EnsureIndex(ctx context.Context) error {
	cmd := i.client.B().Arbitrary("FT.CREATE").Args(buildCreateArgs(i.config)...).Build()
	if err := i.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return &Error{Op: "create index", Err: err}
	}
	i.logger.Info("created vector index", "name", i.config.IndexName, "dimensions", i.config.Dimensions)
	return nil
}

// Upsert stores every record as a hash in a single DoMulti round-trip.
func (i *Index) Upsert(ctx context.Context, records ...index.Record) error {
	if len(records) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != i.config.Dimensions {
			return fmt.Errorf("%w: vector for %s has %d dimensions, index expects %d",
				core.ErrValidation, r.ID, len(r.Vector), i.config.Dimensions)
		}
		cmd := i.client.B().Hset().Key(i.key(r.ID)).FieldValue()
		for k, v := range recordFields(r) {
			cmd = cmd.FieldValue(k, v)
		}
		cmds = append(cmds, cmd.Build())
	}

	for n, res := range i.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &Error{Op: "upsert", Err: fmt.Errorf("key %s: %w", records[n].ID, err)}
		}
	}
	i.logger.Debug("upserted vectors", "count", len(records))
	return nil
}

// Query runs a KNN search, optionally pre-filtered by document id.
func (i *Index) Query(ctx context.Context, vector []float32, topK int, filter index.Filter) ([]index.Match, error) {
	if topK <= 0 {
		return nil, core.ErrInvalidTopK
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", core.ErrValidation)
	}

	cmd := i.client.B().Arbitrary("FT.SEARCH").Args(buildKNNArgs(i.config.IndexName, vector, topK, filter)...).Build()
	raw, err := i.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &Error{Op: "query", Err: err}
	}

	matches, err := parseKNNResult(raw, i.config.Prefix)
	if err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	index.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes the hashes of the given chunk ids.
func (i *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for n, id := range ids {
		keys[n] = i.key(id)
	}
	cmd := i.client.B().Del().Key(keys...).Build()
	if err := i.client.Do(ctx, cmd).Error(); err != nil {
		return &Error{Op: "delete", Err: err}
	}
	return nil
}

// Vectors reads the stored vectors back, skipping ids that are absent.
func (i *Index) Vectors(ctx context.Context, ids ...string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds := make([]rueidis.Completed, len(ids))
	for n, id := range ids {
		cmds[n] = i.client.B().Hget().Key(i.key(id)).Field(fieldVector).Build()
	}
	for n, res := range i.client.DoMulti(ctx, cmds...) {
		data, err := res.AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, &Error{Op: "vectors", Err: fmt.Errorf("key %s: %w", ids[n], err)}
		}
		vec, err := bytesToVector(data)
		if err != nil {
			return nil, &Error{Op: "vectors", Err: fmt.Errorf("key %s: %w", ids[n], err)}
		}
		out[ids[n]] = vec
	}
	return out, nil
}

func (i *Index) key(id string) string {
	return i.config.Prefix + id
}

// Error reports a failed server operation. It matches both
// core.ErrIndexUnavailable and the underlying cause.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "valkey " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{core.ErrIndexUnavailable, e.Err}
}

func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}

var errMalformedVector = errors.New("stored vector length is not a multiple of 4")
