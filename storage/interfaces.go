package storage

import (
	"context"

	"github.com/poiesic/docportal/core"
)

// DocumentRepository persists Document records.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	// SaveDocument inserts or replaces a document.
	// Sets UpdatedAt, and IngestedAt if it is zero.
	SaveDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// ListDocuments returns every document ordered by IngestedAt, then ID.
	ListDocuments(ctx context.Context) ([]*core.Document, error)

	// FindDocumentsBySource returns the documents ingested from sourceURI.
	FindDocumentsBySource(ctx context.Context, sourceURI string) ([]*core.Document, error)

	// DeleteDocument removes a document record. Chunks are not touched.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id string) error
}

// ChunkRepository persists chunk text and spans. Vectors live in the
// vector index, keyed by the same chunk IDs.
type ChunkRepository interface {
	// SaveChunks inserts or replaces chunks.
	SaveChunks(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunks retrieves chunks by ID.
	// Returns only the chunks that exist (no error for missing chunks).
	GetChunks(ctx context.Context, ids ...string) ([]*core.Chunk, error)

	// ChunksForDocument returns a document's chunks ordered by position.
	ChunksForDocument(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// DeleteChunksForDocument removes every chunk of a document and
	// returns the removed IDs.
	DeleteChunksForDocument(ctx context.Context, documentID string) ([]string, error)
}

// SessionRepository persists conversation sessions.
type SessionRepository interface {
	// SaveSession inserts or replaces a session.
	SaveSession(ctx context.Context, session *core.Session) error

	// GetSession retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*core.Session, error)

	// ListSessions returns every session ordered by CreatedAt, then ID.
	ListSessions(ctx context.Context) ([]*core.Session, error)

	// DeleteSession removes a session.
	// Returns ErrNotFound if the session doesn't exist.
	DeleteSession(ctx context.Context, id string) error
}
