package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
	"github.com/poiesic/docportal/metrics"
	"github.com/poiesic/docportal/retry"
	"github.com/poiesic/docportal/storage"
)

const (
	DefaultOverFetch     = 2
	DefaultDenseWeight   = 0.75
	DefaultLexicalWeight = 0.25
	DefaultDedupOverlap  = 0.5

	// maxWidenings bounds how often a short vector query window doubles.
	maxWidenings = 4
)

// Retriever ranks chunks of ready documents against a query.
type Retriever struct {
	vectors       index.VectorIndex
	chunks        storage.ChunkRepository
	documents     storage.DocumentRepository
	embedder      ai.Embedder
	lexical       LexicalScorer
	denseWeight   float32
	lexicalWeight float32
	overFetch     int
	dedupOverlap  float64
	policy        retry.Policy
	logger        *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithOverFetch sets how many candidates per requested result are fetched
// from the vector index before deduplication. Default is 2.
func WithOverFetch(factor int) Option {
	return func(r *Retriever) error {
		if factor < 1 {
			return fmt.Errorf("%w: over-fetch factor must be at least 1, got %d", core.ErrInvalidConfig, factor)
		}
		r.overFetch = factor
		return nil
	}
}

// WithWeights sets the dense and lexical fusion weights.
func WithWeights(dense, lexical float64) Option {
	return func(r *Retriever) error {
		if dense < 0 || lexical < 0 || dense+lexical == 0 {
			return fmt.Errorf("%w: fusion weights must be non-negative and not both zero", core.ErrInvalidConfig)
		}
		r.denseWeight = float32(dense)
		r.lexicalWeight = float32(lexical)
		return nil
	}
}

// WithLexicalScorer sets the secondary keyword signal. A nil scorer
// disables fusion and ranks by dense similarity alone.
// Default is KeywordScorer.
func WithLexicalScorer(scorer LexicalScorer) Option {
	return func(r *Retriever) error {
		r.lexical = scorer
		return nil
	}
}

// WithDedupOverlap sets the span overlap, as a fraction of the shorter
// chunk, above which two chunks of one document collapse. Default is 0.5.
func WithDedupOverlap(fraction float64) Option {
	return func(r *Retriever) error {
		if fraction < 0 || fraction > 1 {
			return fmt.Errorf("%w: dedup overlap must be in [0, 1], got %v", core.ErrInvalidConfig, fraction)
		}
		r.dedupOverlap = fraction
		return nil
	}
}

// WithRetryPolicy sets the retry policy for the query embedding and index
// calls. Default is retry.DefaultPolicy().
func WithRetryPolicy(policy retry.Policy) Option {
	return func(r *Retriever) error {
		if policy.MaxAttempts < 1 {
			return fmt.Errorf("%w: %w", core.ErrInvalidConfig, retry.ErrInvalidMaxAttempts)
		}
		r.policy = policy
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(
	vectors index.VectorIndex,
	chunks storage.ChunkRepository,
	documents storage.DocumentRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Retriever, error) {
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		vectors:       vectors,
		chunks:        chunks,
		documents:     documents,
		embedder:      embedder,
		lexical:       KeywordScorer{},
		denseWeight:   DefaultDenseWeight,
		lexicalWeight: DefaultLexicalWeight,
		overFetch:     DefaultOverFetch,
		dedupOverlap:  DefaultDedupOverlap,
		policy:        retry.DefaultPolicy(),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retrieval")

	return r, nil
}

// Retrieve returns up to topK chunks ranked by fused score.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter index.Filter) (*core.RetrievalResult, error) {
	return r.RetrieveWithMonitor(ctx, query, topK, filter, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each stage.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, topK int, filter index.Filter, monitor Monitor) (*core.RetrievalResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.ErrEmptyText
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidTopK, topK)
	}

	start := time.Now()
	monitor.Start(query, topK)

	result, err := r.retrieve(ctx, query, topK, filter, monitor)
	metrics.RetrievalsTotal.WithLabelValues(metrics.Status(err)).Inc()
	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	monitor.Finish(result)
	r.logger.Debug("retrieved", "topK", topK, "results", len(result.Chunks), "elapsed", time.Since(start))
	return result, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, topK int, filter index.Filter, monitor Monitor) (*core.RetrievalResult, error) {
	result := &core.RetrievalResult{Query: query, Chunks: []*core.ScoredChunk{}}

	ready := newReadiness(r.documents)
	if len(filter.DocumentIDs) > 0 {
		allowed := make([]string, 0, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			ok, err := ready.check(ctx, id)
			if err != nil {
				return nil, r.unavailable("document lookup", err)
			}
			if ok {
				allowed = append(allowed, id)
			}
		}
		if len(allowed) == 0 {
			return result, nil
		}
		filter = index.Filter{DocumentIDs: allowed}
	}

	var vector []float32
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		vector, err = r.embedder.EmbedText(ctx, query)
		return err
	})
	if err != nil {
		return nil, r.unavailable("query embedding", err)
	}

	// Chunks of pending or failed documents take slots in the window, so
	// it widens until topK ready chunks survive or the index runs out.
	window := topK * r.overFetch
	var (
		scored    []*core.ScoredChunk
		processed int
	)
	for widenings := 0; ; widenings++ {
		var matches []index.Match
		err = retry.Do(ctx, r.policy, func(ctx context.Context) error {
			var err error
			matches, err = r.vectors.Query(ctx, vector, window, filter)
			return err
		})
		if err != nil {
			return nil, r.unavailable("vector query", err)
		}
		if processed < len(matches) {
			fresh := matches[processed:]
			monitor.AfterVectorQuery(fresh)
			more, err := r.scoreMatches(ctx, query, fresh, processed, ready, monitor)
			if err != nil {
				return nil, err
			}
			scored = append(scored, more...)
			processed = len(matches)
		}

		sortScored(scored)
		if len(r.dedup(scored, &noopMonitor{})) >= topK || len(matches) < window || widenings == maxWidenings {
			break
		}
		window *= 2
		r.logger.Debug("widening vector query", "window", window, "scored", len(scored))
	}

	kept := r.dedup(scored, monitor)
	if len(kept) > topK {
		kept = kept[:topK]
	}
	result.Chunks = kept
	return result, nil
}

// scoreMatches loads the chunks behind matches and scores those of ready
// documents. offset is the dense rank of matches[0] minus one.
func (r *Retriever) scoreMatches(ctx context.Context, query string, matches []index.Match, offset int, ready *readiness, monitor Monitor) ([]*core.ScoredChunk, error) {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	chunks, err := r.chunks.GetChunks(ctx, ids...)
	if err != nil {
		return nil, r.unavailable("chunk lookup", err)
	}
	monitor.AfterChunkRetrieval(chunks)

	byID := make(map[string]*core.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	scored := make([]*core.ScoredChunk, 0, len(matches))
	for i, m := range matches {
		chunk, ok := byID[m.ID]
		if !ok {
			// Vector without a chunk record: a delete or rollback in progress.
			monitor.Skipped(m.ID, "missing chunk")
			continue
		}
		isReady, err := ready.check(ctx, chunk.DocumentID)
		if err != nil {
			return nil, r.unavailable("document lookup", err)
		}
		if !isReady {
			monitor.Skipped(m.ID, "document not ready")
			continue
		}
		scored = append(scored, r.score(query, chunk, m.Score, offset+i+1))
	}
	return scored, nil
}

// score fuses the dense and lexical signals for one chunk.
func (r *Retriever) score(query string, chunk *core.Chunk, dense float32, rank int) *core.ScoredChunk {
	sc := &core.ScoredChunk{
		Chunk:      chunk,
		Score:      dense,
		DenseScore: dense,
		DenseRank:  rank,
	}
	if r.lexical == nil {
		return sc
	}
	sc.LexicalScore = r.lexical.Score(query, chunk.Text)
	sc.Score = r.denseWeight*dense + r.lexicalWeight*sc.LexicalScore
	return sc
}

// dedup drops chunks whose span overlaps an already kept, higher-ranked
// chunk of the same document by more than the configured fraction.
// scored must already be in rank order.
func (r *Retriever) dedup(scored []*core.ScoredChunk, monitor Monitor) []*core.ScoredChunk {
	kept := make([]*core.ScoredChunk, 0, len(scored))
	for _, candidate := range scored {
		var collapsedInto *core.ScoredChunk
		for _, k := range kept {
			if k.Chunk.DocumentID != candidate.Chunk.DocumentID {
				continue
			}
			if overlapFraction(k.Chunk.Span, candidate.Chunk.Span) > r.dedupOverlap {
				collapsedInto = k
				break
			}
		}
		if collapsedInto != nil {
			monitor.Collapsed(candidate, collapsedInto)
			continue
		}
		kept = append(kept, candidate)
	}
	return kept
}

// overlapFraction is the shared span length over the shorter span's length.
func overlapFraction(a, b core.CharSpan) float64 {
	shorter := min(a.Len(), b.Len())
	if shorter == 0 {
		return 0
	}
	return float64(a.Overlap(b)) / float64(shorter)
}

// sortScored orders by fused score descending. Ties go to the earlier
// position, then document id, then chunk id.
func sortScored(scored []*core.ScoredChunk) {
	slices.SortStableFunc(scored, func(a, b *core.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if a.Chunk.Position != b.Chunk.Position {
			return a.Chunk.Position - b.Chunk.Position
		}
		if c := strings.Compare(a.Chunk.DocumentID, b.Chunk.DocumentID); c != 0 {
			return c
		}
		return strings.Compare(a.Chunk.ID, b.Chunk.ID)
	})
}

func (r *Retriever) unavailable(stage string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.logger.Error("retrieval failed", "stage", stage, "err", err)
	return fmt.Errorf("%w: %s: %w", core.ErrRetrievalUnavailable, stage, err)
}

// readiness memoizes document status lookups for one query.
type readiness struct {
	documents storage.DocumentRepository
	seen      map[string]bool
}

func newReadiness(documents storage.DocumentRepository) *readiness {
	return &readiness{documents: documents, seen: make(map[string]bool)}
}

func (rd *readiness) check(ctx context.Context, id string) (bool, error) {
	if ok, found := rd.seen[id]; found {
		return ok, nil
	}
	doc, err := rd.documents.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		rd.seen[id] = false
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rd.seen[id] = doc.IsReady()
	return rd.seen[id], nil
}
