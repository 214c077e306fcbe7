package core

import (
	"errors"
	"fmt"
)

// Error classes. Every error surfaced by the pipeline, retriever, session
// manager or comparator matches exactly one of these via errors.Is.
var (
	// ErrValidation indicates bad input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrTransientUnavailable indicates a backend that may recover.
	// Retried with bounded exponential backoff.
	ErrTransientUnavailable = errors.New("backend temporarily unavailable")

	// ErrPipelineFailed indicates the retry budget was exhausted.
	ErrPipelineFailed = errors.New("pipeline failed")

	// ErrConsistencyViolation indicates partially indexed state was detected or
	// could not be rolled back. Fatal for the affected document.
	ErrConsistencyViolation = errors.New("consistency violation")

	// ErrSessionClosed indicates a turn was appended to a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// Validation errors.
var (
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrValidation)
	ErrEmptyDocument     = fmt.Errorf("%w: empty document", ErrValidation)
	ErrTooFewDocuments   = fmt.Errorf("%w: at least two distinct documents are required", ErrValidation)
	ErrInvalidRole       = fmt.Errorf("%w: invalid role", ErrValidation)
	ErrEmptyText         = fmt.Errorf("%w: text cannot be empty", ErrValidation)
	ErrBudgetTooSmall    = fmt.Errorf("%w: budget too small", ErrValidation)
	ErrInvalidConfig     = fmt.Errorf("%w: invalid configuration", ErrValidation)
	ErrInvalidTopK       = fmt.Errorf("%w: top_k must be positive", ErrValidation)
	ErrDocumentNotReady  = fmt.Errorf("%w: document not ready", ErrValidation)
	ErrDocumentNotFound  = fmt.Errorf("%w: document not found", ErrValidation)
	ErrSessionNotFound   = fmt.Errorf("%w: session not found", ErrValidation)
)

// External collaborator conditions.
var (
	ErrEmbeddingUnavailable  = fmt.Errorf("%w: embedding gateway", ErrTransientUnavailable)
	ErrIndexUnavailable      = fmt.Errorf("%w: vector index", ErrTransientUnavailable)
	ErrGenerationUnavailable = fmt.Errorf("%w: generation gateway", ErrTransientUnavailable)

	// ErrExtractionFailed indicates the extractor could not read a supported format.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrAnalysisFailed indicates the model's document analysis could not be parsed.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrGenerationRefused indicates the model declined to answer (content policy).
	ErrGenerationRefused = errors.New("generation refused")

	// ErrRetrievalUnavailable indicates the retriever could not reach the
	// embedding gateway or the vector index. Distinct from an empty result.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// ErrMalformedRecord indicates stored bytes that do not decode to a model.
var ErrMalformedRecord = errors.New("malformed record")

// IsRetryable reports whether err is a transient condition worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrGenerationRefused) {
		return false
	}
	return errors.Is(err, ErrTransientUnavailable)
}
