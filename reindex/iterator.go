package reindex

import (
	"context"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/storage"
)

const (
	// DefaultBatchSize is the default number of chunks embedded per call
	DefaultBatchSize = 64
)

// ChunkIterator walks the chunks of ready documents in batches.
type ChunkIterator struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks per batch, DefaultBatchSize when <= 0
func NewChunkIterator(documents storage.DocumentRepository, chunks storage.ChunkRepository, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{
		documents: documents,
		chunks:    chunks,
		batchSize: batchSize,
	}
}

// Documents returns the ready documents and their total chunk count.
func (it *ChunkIterator) Documents(ctx context.Context) ([]*core.Document, int, error) {
	all, err := it.documents.ListDocuments(ctx)
	if err != nil {
		return nil, 0, err
	}
	ready := make([]*core.Document, 0, len(all))
	total := 0
	for _, doc := range all {
		if doc.IsReady() {
			ready = append(ready, doc)
			total += doc.ChunkCount
		}
	}
	return ready, total, nil
}

// ForEachDocument calls fn once per document with that document's chunks
// split into batches. Iteration stops on the first error from fn.
// Context cancellation is checked between documents.
func (it *ChunkIterator) ForEachDocument(ctx context.Context, docs []*core.Document, fn func(doc *core.Document, batches [][]*core.Chunk) error) error {
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, err := it.chunks.ChunksForDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		batches := make([][]*core.Chunk, 0, (len(chunks)+it.batchSize-1)/it.batchSize)
		for i := 0; i < len(chunks); i += it.batchSize {
			batches = append(batches, chunks[i:min(i+it.batchSize, len(chunks))])
		}
		if err := fn(doc, batches); err != nil {
			return err
		}
	}
	return nil
}

// ForEach calls fn with batches of each document's chunks. A batch never
// spans two documents. Iteration stops on the first error from fn.
// Context cancellation is checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, docs []*core.Document, fn func(doc *core.Document, batch []*core.Chunk) error) error {
	return it.ForEachDocument(ctx, docs, func(doc *core.Document, batches [][]*core.Chunk) error {
		for _, batch := range batches {
			if err := fn(doc, batch); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})
}
