package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Fails with core.ErrEmbeddingUnavailable when the backend cannot be reached.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts,
	// all with the same dimensionality.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces model output for an assembled prompt.
// Implementations must be thread-safe for concurrent use. Calls are not
// assumed idempotent and are never retried by the implementation.
type Generator interface {
	// Generate returns the model's answer to prompt.
	// Fails with core.ErrGenerationUnavailable or core.ErrGenerationRefused.
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
}

// GenerateParams tunes a single generation call. Zero values mean
// "use the backend default".
type GenerateParams struct {
	// Temperature controls sampling randomness.
	Temperature float64

	// MaxTokens caps the length of the answer.
	MaxTokens int

	// System is an optional system instruction sent ahead of the prompt.
	System string

	// Stop lists sequences that end generation.
	Stop []string
}

// Analysis is a model-derived description of a document.
type Analysis struct {
	// Title is a short descriptive title.
	Title string

	// Summary is a few sentences covering the document's content.
	Summary string

	// Topics are lowercase key topics, most important first.
	Topics []string
}

// Analyzer derives a structured Analysis from a document's text.
// Implementations must be thread-safe for concurrent use.
type Analyzer interface {
	// Analyze describes text. Fails with core.ErrGenerationUnavailable,
	// core.ErrGenerationRefused, or core.ErrAnalysisFailed when the model
	// output cannot be parsed.
	Analyze(ctx context.Context, text string) (*Analysis, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Embedder and Generator instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the text generation service.
	Generator() Generator

	// Analyzer returns the document analysis service.
	Analyzer() Analyzer

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
