package ingestion

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrVectorIndexRequired is returned when a vector index is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrExtractorRequired is returned when a text extractor is not provided.
	ErrExtractorRequired = errors.New("extractor required")

	// errVectorCountMismatch is reported when the index holds fewer vectors
	// than the document has chunks after every batch succeeded.
	errVectorCountMismatch = errors.New("vector count mismatch")

	// errChunkCountMismatch is reported when chunk records went missing
	// while the document was being indexed.
	errChunkCountMismatch = errors.New("chunk record count mismatch")

	// errDocumentChanged is reported when the document record was deleted
	// or changed state while it was being indexed.
	errDocumentChanged = errors.New("document changed during ingestion")
)
