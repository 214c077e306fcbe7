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

package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
	"github.com/poiesic/docportal/metrics"
	"github.com/poiesic/docportal/retry"
	"github.com/poiesic/docportal/storage"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of chunks embedded per call
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// Retry bounds the attempts for each batch
	Retry retry.Policy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		Retry:          retry.DefaultPolicy(),
	}
}

// Stats summarizes a finished run.
type Stats struct {
	Documents int
	Chunks    int
}

// Reindexer re-embeds the chunks of every ready document.
type Reindexer struct {
	vectors  index.VectorIndex
	embedder ai.Embedder
	config   *Config
	progress io.Writer
	iterator *ChunkIterator
	logger   *slog.Logger
}

// Option configures a Reindexer.
type Option func(*Reindexer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reindexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr), nil for none
func NewReindexer(documents storage.DocumentRepository, chunks storage.ChunkRepository, vectors index.VectorIndex,
	embedder ai.Embedder, config *Config, progress io.Writer, opts ...Option) (*Reindexer, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = 100
	}

	r := &Reindexer{
		vectors:  vectors,
		embedder: embedder,
		config:   config,
		progress: progress,
		iterator: NewChunkIterator(documents, chunks, config.BatchSize),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "reindex")
	return r, nil
}

// Run re-embeds every chunk of every ready document. Documents that are
// pending or failed are skipped. A document's new vectors are written only
// once all of its batches have been embedded, so a document never carries
// vectors from two models. A batch that still fails after its retries
// stops the run with core.ErrPipelineFailed; documents finished before it
// keep their new vectors and the failing document keeps its old ones.
func (r *Reindexer) Run(ctx context.Context) (*Stats, error) {
	docs, total, err := r.iterator.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	r.logger.Info("starting reindex", "documents", len(docs), "chunks", total)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	stats := &Stats{}
	err = r.iterator.ForEachDocument(ctx, docs, func(doc *core.Document, batches [][]*core.Chunk) error {
		n, err := r.reindexDocument(ctx, doc, batches, tracker)
		if err != nil {
			metrics.ReindexedChunksTotal.WithLabelValues("error").Add(float64(doc.ChunkCount))
			return err
		}
		metrics.ReindexedChunksTotal.WithLabelValues("ok").Add(float64(n))
		stats.Documents++
		stats.Chunks += n
		return nil
	})
	if err != nil {
		r.logger.Error("reindex stopped", "documents", stats.Documents, "chunks", stats.Chunks, "err", err)
		if ctx.Err() != nil || errors.Is(err, core.ErrConsistencyViolation) {
			return stats, err
		}
		return stats, fmt.Errorf("%w: %w", core.ErrPipelineFailed, err)
	}

	tracker.Finish()
	r.logger.Info("reindex complete", "documents", stats.Documents, "chunks", stats.Chunks, "elapsed", tracker.Elapsed())
	return stats, nil
}

// reindexDocument embeds every batch of a document, then replaces the
// document's vectors in one upsert.
func (r *Reindexer) reindexDocument(ctx context.Context, doc *core.Document, batches [][]*core.Chunk, tracker *ProgressTracker) (int, error) {
	var staged []index.Record
	for _, batch := range batches {
		records, err := r.embedBatch(ctx, batch)
		if err != nil {
			return 0, err
		}
		staged = append(staged, records...)
		tracker.Increment(len(batch))
	}
	if len(staged) == 0 {
		return 0, nil
	}
	if err := r.replace(ctx, doc, staged); err != nil {
		return 0, err
	}
	return len(staged), nil
}

func (r *Reindexer) policy(operation, documentID string) retry.Policy {
	policy := r.config.Retry
	policy.OnRetry = func(attempt int, err error) {
		metrics.RetriesTotal.WithLabelValues(operation).Inc()
		r.logger.Warn("retrying", "operation", operation, "document", documentID, "attempt", attempt, "err", err)
	}
	return policy
}

func (r *Reindexer) embedBatch(ctx context.Context, batch []*core.Chunk) ([]index.Record, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	var records []index.Record
	err := retry.Do(ctx, r.policy("reindex", batch[0].DocumentID), func(ctx context.Context) error {
		vectors, err := r.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("%w: embedding result mismatch, expected %d, received %d",
				core.ErrEmbeddingUnavailable, len(batch), len(vectors))
		}
		records = make([]index.Record, len(batch))
		for i, c := range batch {
			records[i] = index.Record{
				ID:     c.ID,
				Vector: NormalizeVector(vectors[i]),
				Metadata: index.Metadata{
					DocumentID: c.DocumentID,
					Position:   c.Position,
					Start:      c.Span.Start,
					End:        c.Span.End,
				},
			}
		}
		return nil
	})
	return records, err
}

// replace upserts staged records. The old vectors are read first and put
// back if the upsert fails, since an index may apply part of a failed
// upsert.
func (r *Reindexer) replace(ctx context.Context, doc *core.Document, staged []index.Record) error {
	ids := make([]string, len(staged))
	for i, rec := range staged {
		ids[i] = rec.ID
	}
	old, err := r.vectors.Vectors(ctx, ids...)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, r.policy("reindex_upsert", doc.ID), func(ctx context.Context) error {
		return r.vectors.Upsert(ctx, staged...)
	})
	if err == nil {
		return nil
	}

	previous := make([]index.Record, 0, len(old))
	for _, rec := range staged {
		if vec, ok := old[rec.ID]; ok {
			rec.Vector = vec
			previous = append(previous, rec)
		}
	}
	rctx := context.WithoutCancel(ctx)
	restoreErr := retry.Do(rctx, r.policy("reindex_restore", doc.ID), func(ctx context.Context) error {
		return r.vectors.Upsert(ctx, previous...)
	})
	if restoreErr != nil {
		r.logger.Error("unable to restore vectors, document may be inconsistent", "document", doc.ID, "err", restoreErr)
		return fmt.Errorf("%w: restoring vectors of %s: %w", core.ErrConsistencyViolation, doc.ID, errors.Join(err, restoreErr))
	}
	r.logger.Warn("restored previous vectors", "document", doc.ID, "chunks", len(previous))
	return err
}
