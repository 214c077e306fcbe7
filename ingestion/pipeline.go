package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/chunker"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/extract"
	"github.com/poiesic/docportal/index"
	"github.com/poiesic/docportal/metrics"
	"github.com/poiesic/docportal/retry"
	"github.com/poiesic/docportal/storage"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of chunks embedded and upserted per call.
const DefaultBatchSize = 16

// Pipeline orchestrates the ingestion of documents.
// It is safe for concurrent use.
type Pipeline struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	vectors   index.VectorIndex
	extractor extract.Extractor
	embedder  ai.Embedder
	chunker   *chunker.Chunker
	pool      *ants.Pool
	batchSize int
	policy    retry.Policy
	limiter   *rate.Limiter
	flights   singleflight.Group
	locks     documentLocks
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent batch processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many chunks go into one embed/upsert call.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: batch size must be positive, got %d", core.ErrInvalidConfig, size)
		}
		p.batchSize = size
		return nil
	}
}

// WithRetryPolicy sets the per-batch retry policy.
// Default is retry.DefaultPolicy().
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts < 1 {
			return fmt.Errorf("%w: %w", core.ErrInvalidConfig, retry.ErrInvalidMaxAttempts)
		}
		p.policy = policy
		return nil
	}
}

// WithRateLimit caps embedding calls at perSecond with the given burst.
// A non-positive perSecond disables limiting, which is the default.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pipeline) error {
		if perSecond <= 0 {
			p.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithChunker sets the chunker. Default uses chunker.DefaultConfig().
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	vectors index.VectorIndex,
	extractor extract.Extractor,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		documents: documents,
		chunks:    chunks,
		vectors:   vectors,
		extractor: extractor,
		embedder:  embedder,
		pool:      pool,
		batchSize: DefaultBatchSize,
		policy:    retry.DefaultPolicy(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	if p.chunker == nil {
		p.chunker, err = chunker.New(chunker.DefaultConfig(), chunker.WithLogger(p.logger))
		if err != nil {
			p.Release()
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	return p, nil
}

// IngestOptions holds optional parameters for ingestion.
type IngestOptions struct {
	Metadata map[string]string // Optional metadata attached to the document

	// ReplaceSource deletes other documents with the same source URI once
	// this one is ready.
	ReplaceSource bool
}

// Ingest indexes a document and returns it in the ready state.
//
// The document id is the content hash of data. A document that is already
// ready is returned unchanged without any work. Concurrent calls for the
// same bytes share one run. On failure the document is left failed with no
// chunks retrievable; exhausted retries are reported as core.ErrPipelineFailed.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, format, sourceURI string, opts *IngestOptions) (*core.Document, error) {
	if len(data) == 0 {
		return nil, core.ErrEmptyDocument
	}
	if opts == nil {
		opts = &IngestOptions{}
	}
	id := core.DocumentID(data)

	existing, err := p.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsReady() {
		metrics.IngestionsTotal.WithLabelValues("cached").Inc()
		p.logger.Debug("document already ready", "document", id)
		return existing, nil
	}

	for {
		ch := p.flights.DoChan(id, func() (any, error) {
			return p.ingest(ctx, id, data, format, sourceURI, opts)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			// The shared run belonged to a caller that gave up; go again
			// under our own context.
			if res.Err != nil && res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			doc := *res.Val.(*core.Document)
			return &doc, nil
		}
	}
}

// ingest is the body of one in-flight run for a document id. It holds the
// document lock for the indexing work; replacing older documents from the
// same source happens after the lock is released.
func (p *Pipeline) ingest(ctx context.Context, id string, data []byte, format, sourceURI string, opts *IngestOptions) (*core.Document, error) {
	unlock, err := p.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, replace, err := p.ingestLocked(ctx, id, data, format, sourceURI, opts)
	unlock()
	if err != nil {
		return nil, err
	}

	if replace && opts.ReplaceSource && sourceURI != "" {
		p.replaceSource(ctx, doc)
	}
	return doc, nil
}

// ingestLocked indexes the document. replace is false when the document
// was already ready and no work was done.
func (p *Pipeline) ingestLocked(ctx context.Context, id string, data []byte, format, sourceURI string, opts *IngestOptions) (doc *core.Document, replace bool, err error) {
	start := time.Now()
	logger := p.logger.With("document", id)

	// A run that finished while we waited for the lock may have done the
	// work already.
	existing, err := p.lookup(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if existing.IsReady() {
		metrics.IngestionsTotal.WithLabelValues("cached").Inc()
		return existing, false, nil
	}

	text, err := p.extractor.Extract(ctx, data, format)
	if err != nil {
		metrics.IngestionsTotal.WithLabelValues("failed").Inc()
		return nil, false, err
	}
	chunks := p.chunker.Chunk(id, text)
	if len(chunks) == 0 {
		metrics.IngestionsTotal.WithLabelValues("failed").Inc()
		return nil, false, core.ErrEmptyDocument
	}

	if existing != nil {
		if err := p.purge(ctx, id); err != nil {
			metrics.IngestionsTotal.WithLabelValues("failed").Inc()
			return nil, false, err
		}
	}

	doc = &core.Document{
		ID:        id,
		SourceURI: sourceURI,
		Format:    format,
		Status:    core.StatusPending,
		Metadata:  opts.Metadata,
	}
	if existing != nil {
		doc.IngestedAt = existing.IngestedAt
	}
	if err := p.documents.SaveDocument(ctx, doc); err != nil {
		metrics.IngestionsTotal.WithLabelValues("failed").Inc()
		return nil, false, err
	}

	refs := make([]*core.Chunk, len(chunks))
	ids := make([]string, len(chunks))
	degraded := 0
	for i := range chunks {
		refs[i] = &chunks[i]
		ids[i] = chunks[i].ID
		if chunks[i].Degraded {
			degraded++
		}
	}
	if degraded > 0 {
		logger.Warn("document contains force-split chunks", "degraded", degraded)
	}

	if err := p.index(ctx, doc, refs, ids); err != nil {
		metrics.IngestionsTotal.WithLabelValues("failed").Inc()
		return nil, false, p.rollback(ctx, doc, ids, err)
	}

	metrics.IngestionsTotal.WithLabelValues("ready").Inc()
	metrics.IngestionDuration.Observe(time.Since(start).Seconds())
	metrics.ChunksIndexedTotal.Add(float64(len(chunks)))
	logger.Info("document ready", "source", sourceURI, "chunks", len(chunks), "elapsed", time.Since(start))
	return doc, true, nil
}

// index writes chunk records, then vectors, verifies the vectors landed
// and marks the document ready.
func (p *Pipeline) index(ctx context.Context, doc *core.Document, chunks []*core.Chunk, ids []string) error {
	if err := p.chunks.SaveChunks(ctx, chunks...); err != nil {
		return err
	}
	if err := p.upsertBatches(ctx, chunks); err != nil {
		return err
	}

	stored, err := p.vectors.Vectors(ctx, ids...)
	if err != nil {
		return err
	}
	if len(stored) != len(ids) {
		return fmt.Errorf("%w: %w: expected %d, found %d", core.ErrConsistencyViolation, errVectorCountMismatch, len(ids), len(stored))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.verify(ctx, doc.ID, len(chunks)); err != nil {
		return err
	}

	doc.Status = core.StatusReady
	doc.ChunkCount = len(chunks)
	doc.Error = ""
	return p.documents.SaveDocument(ctx, doc)
}

// verify checks that the document is still pending and that every chunk
// record is in place before the document is marked ready.
func (p *Pipeline) verify(ctx context.Context, id string, want int) error {
	current, err := p.lookup(ctx, id)
	if err != nil {
		return err
	}
	if current == nil || current.Status != core.StatusPending {
		return fmt.Errorf("%w: %w", core.ErrConsistencyViolation, errDocumentChanged)
	}
	records, err := p.chunks.ChunksForDocument(ctx, id)
	if err != nil {
		return err
	}
	if len(records) != want {
		return fmt.Errorf("%w: %w: expected %d, found %d", core.ErrConsistencyViolation, errChunkCountMismatch, want, len(records))
	}
	return nil
}

// rollback removes everything written for doc and marks it failed. It runs
// detached from ctx so a cancelled caller still gets a clean store.
func (p *Pipeline) rollback(ctx context.Context, doc *core.Document, ids []string, cause error) error {
	rctx := context.WithoutCancel(ctx)
	logger := p.logger.With("document", doc.ID)
	logger.Warn("rolling back ingestion", "chunks", len(ids), "err", cause)

	var errs []error
	if err := retry.Do(rctx, p.retryPolicy("delete"), func(ctx context.Context) error {
		return p.vectors.Delete(ctx, ids...)
	}); err != nil {
		errs = append(errs, err)
	}
	if _, err := p.chunks.DeleteChunksForDocument(rctx, doc.ID); err != nil {
		errs = append(errs, err)
	}
	// A document deleted underneath us stays deleted.
	if current, err := p.lookup(rctx, doc.ID); err != nil || current != nil {
		doc.Status = core.StatusFailed
		doc.ChunkCount = 0
		doc.Error = cause.Error()
		if err := p.documents.SaveDocument(rctx, doc); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		metrics.RollbacksTotal.WithLabelValues("inconsistent").Inc()
		rbErr := errors.Join(errs...)
		logger.Error("rollback failed, document may be inconsistent", "cause", cause, "err", rbErr)
		return fmt.Errorf("%w: rollback of %s failed: %w", core.ErrConsistencyViolation, doc.ID, errors.Join(cause, rbErr))
	}
	metrics.RollbacksTotal.WithLabelValues("ok").Inc()

	switch {
	case isContextErr(cause):
		return cause
	case core.IsRetryable(cause):
		return fmt.Errorf("%w: %w", core.ErrPipelineFailed, cause)
	default:
		return cause
	}
}

// purge deletes stale chunks left by an earlier failed attempt.
func (p *Pipeline) purge(ctx context.Context, id string) error {
	stale, err := p.chunks.ChunksForDocument(ctx, id)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ID
	}
	p.logger.Debug("purging stale chunks", "document", id, "chunks", len(ids))
	if err := retry.Do(ctx, p.retryPolicy("delete"), func(ctx context.Context) error {
		return p.vectors.Delete(ctx, ids...)
	}); err != nil {
		if core.IsRetryable(err) {
			return fmt.Errorf("%w: %w", core.ErrPipelineFailed, err)
		}
		return err
	}
	_, err = p.chunks.DeleteChunksForDocument(ctx, id)
	return err
}

// replaceSource deletes the older documents ingested from doc's source.
// Failures are logged; the new document stays ready either way.
func (p *Pipeline) replaceSource(ctx context.Context, doc *core.Document) {
	others, err := p.documents.FindDocumentsBySource(ctx, doc.SourceURI)
	if err != nil {
		p.logger.Warn("unable to find documents to replace", "source", doc.SourceURI, "err", err)
		return
	}
	for _, other := range others {
		if other.ID == doc.ID {
			continue
		}
		if err := p.Delete(ctx, other.ID); err != nil && !errors.Is(err, core.ErrDocumentNotFound) {
			p.logger.Warn("unable to delete replaced document", "document", other.ID, "err", err)
			continue
		}
		p.logger.Info("replaced document", "old", other.ID, "new", doc.ID, "source", doc.SourceURI)
	}
}

// Delete removes a document, its chunk records and its vectors.
// The document is marked failed first so retrieval stops returning it
// even if a later step fails; calling Delete again finishes the job.
// Delete waits for an in-flight ingestion of the same document to finish.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	_, err, _ := p.flights.Do("delete/"+id, func() (any, error) {
		unlock, err := p.locks.acquire(ctx, id)
		if err != nil {
			return nil, err
		}
		defer unlock()
		return nil, p.delete(ctx, id)
	})
	return err
}

func (p *Pipeline) delete(ctx context.Context, id string) error {
	doc, err := p.lookup(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}

	if doc.Status != core.StatusFailed {
		doc.Status = core.StatusFailed
		doc.Error = "deleting"
		if err := p.documents.SaveDocument(ctx, doc); err != nil {
			return err
		}
	}
	if err := p.purge(ctx, id); err != nil {
		return err
	}
	if err := p.documents.DeleteDocument(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	p.logger.Info("document deleted", "document", id)
	return nil
}

// lookup returns the stored document or nil when there is none.
func (p *Pipeline) lookup(ctx context.Context, id string) (*core.Document, error) {
	doc, err := p.documents.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

func (p *Pipeline) retryPolicy(operation string) retry.Policy {
	policy := p.policy
	policy.OnRetry = func(attempt int, err error) {
		metrics.RetriesTotal.WithLabelValues(operation).Inc()
		p.logger.Warn("retrying", "operation", operation, "attempt", attempt, "err", err)
	}
	return policy
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
