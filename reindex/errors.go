package reindex

import "errors"

var (
	ErrDocumentRepositoryRequired = errors.New("document repository is required")
	ErrChunkRepositoryRequired    = errors.New("chunk repository is required")
	ErrVectorIndexRequired        = errors.New("vector index is required")
	ErrEmbedderRequired           = errors.New("embedder is required")
)
