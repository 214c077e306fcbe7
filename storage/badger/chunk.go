package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// SaveChunks stores chunks and their per-document position index.
// Large documents exceed a single transaction, so the writes go through a
// write batch; a failed save can leave some chunks behind, which the
// ingestion pipeline purges before retrying.
func (r *ChunkRepository) SaveChunks(ctx context.Context, chunks ...*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for _, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := wb.Set(makeChunkKey(chunk.ID), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			indexKey := makeDocumentChunkKey(chunk.DocumentID, chunk.Position, chunk.ID)
			if err := wb.Set(indexKey, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChunks retrieves the chunks that exist among ids, in the order given.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...string) ([]*core.Chunk, error) {
	chunks := make([]*core.Chunk, 0, len(ids))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := readValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk != nil {
				chunks = append(chunks, chunk)
			}
		}
		return nil
	}, false)
	return chunks, err
}

// ChunksForDocument returns a document's chunks ordered by position.
func (r *ChunkRepository) ChunksForDocument(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, key := range scanKeys(tx, makePartialDocumentChunkKey(documentID)) {
			id := chunkIDFromDocumentChunkKey(documentID, key)
			chunk, err := readValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk != nil {
				chunks = append(chunks, chunk)
			}
		}
		return nil
	}, false)
	return chunks, err
}

// DeleteChunksForDocument removes every chunk of a document and returns
// the removed chunk ids.
func (r *ChunkRepository) DeleteChunksForDocument(ctx context.Context, documentID string) ([]string, error) {
	var keys [][]byte
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		keys = scanKeys(tx, makePartialDocumentChunkKey(documentID))
		return nil
	}, false)
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	deleted := make([]string, 0, len(keys))
	err = r.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for _, key := range keys {
			id := chunkIDFromDocumentChunkKey(documentID, key)
			if err := wb.Delete(makeChunkKey(id)); err != nil {
				return err
			}
			if err := wb.Delete(key); err != nil {
				return err
			}
			deleted = append(deleted, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
