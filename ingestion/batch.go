package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
	"github.com/poiesic/docportal/metrics"
	"github.com/poiesic/docportal/retry"
)

// upsertBatches embeds and upserts chunks in batches on the worker pool.
// The first failing batch cancels the rest and its error is returned.
func (p *Pipeline) upsertBatches(ctx context.Context, chunks []*core.Chunk) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel(err)
		})
	}

	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))
		batch := chunks[start:end]

		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			if err := p.processBatch(ctx, batch); err != nil {
				fail(err)
			}
		}); err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return context.Cause(ctx)
}

// processBatch embeds one batch and upserts the resulting records,
// retrying the pair as a unit. Upserts are keyed by chunk id, so a retry
// after a partial write overwrites rather than duplicates.
func (p *Pipeline) processBatch(ctx context.Context, batch []*core.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	err := retry.Do(ctx, p.retryPolicy("embed_upsert"), func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		vectors, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("%w: embedding result mismatch, expected %d, received %d",
				core.ErrEmbeddingUnavailable, len(batch), len(vectors))
		}
		return p.vectors.Upsert(ctx, records(batch, vectors)...)
	})
	metrics.EmbeddingBatchesTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		p.logger.Debug("batch failed", "document", batch[0].DocumentID, "from", batch[0].Position, "size", len(batch), "err", err)
		return err
	}
	p.logger.Debug("batch indexed", "document", batch[0].DocumentID, "from", batch[0].Position, "size", len(batch))
	return nil
}

func records(batch []*core.Chunk, vectors [][]float32) []index.Record {
	out := make([]index.Record, len(batch))
	for i, c := range batch {
		out[i] = index.Record{
			ID:     c.ID,
			Vector: vectors[i],
			Metadata: index.Metadata{
				DocumentID: c.DocumentID,
				Position:   c.Position,
				Start:      c.Span.Start,
				End:        c.Span.End,
			},
		}
	}
	return out
}
