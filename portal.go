// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package docportal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/ai/openai"
	"github.com/poiesic/docportal/chunker"
	"github.com/poiesic/docportal/compare"
	"github.com/poiesic/docportal/config"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/extract"
	"github.com/poiesic/docportal/index"
	"github.com/poiesic/docportal/index/valkey"
	"github.com/poiesic/docportal/ingestion"
	"github.com/poiesic/docportal/reindex"
	"github.com/poiesic/docportal/retrieval"
	"github.com/poiesic/docportal/session"
	"github.com/poiesic/docportal/storage"
	"github.com/poiesic/docportal/storage/badger"
)

// Portal owns the storage backend, vector index and AI provider, and
// builds the components that share them.
type Portal struct {
	config    *config.Config
	repos     *badger.Repositories
	vectors   index.VectorIndex
	valkey    *valkey.Index
	provider  ai.AIProvider
	extractor *extract.Registry
	logger    *slog.Logger // handed to components
	log       *slog.Logger
}

// Option configures a Portal.
type Option func(*Portal) error

// WithProvider supplies the AI provider instead of building an
// OpenAI-compatible one from the configuration.
func WithProvider(provider ai.AIProvider) Option {
	return func(p *Portal) error {
		p.provider = provider
		return nil
	}
}

// WithVectorIndex supplies the vector index instead of the configured backend.
func WithVectorIndex(vectors index.VectorIndex) Option {
	return func(p *Portal) error {
		p.vectors = vectors
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Portal) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// Open opens storage and connects the vector index and AI provider
// described by cfg. A nil cfg uses config.Default().
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Portal, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Portal{
		config:    cfg,
		extractor: extract.NewRegistry(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.log = p.logger.With("component", "portal")

	backend, err := badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	p.repos = badger.NewRepositories(backend)

	if p.vectors == nil {
		if err := p.openIndex(ctx); err != nil {
			backend.Close()
			return nil, err
		}
	}

	if p.provider == nil {
		provider, err := openai.NewProvider(cfg.AIConfig())
		if err != nil {
			p.closeIndex()
			backend.Close()
			return nil, fmt.Errorf("failed to create AI provider: %w", err)
		}
		p.provider = provider
	}

	p.log.Debug("portal opened", "storage", cfg.Storage.Path, "index", cfg.Index.Backend)
	return p, nil
}

func (p *Portal) openIndex(ctx context.Context) error {
	switch p.config.Index.Backend {
	case config.BackendValkey:
		idx, err := valkey.New(p.config.ValkeyConfig(), valkey.WithLogger(p.logger))
		if err != nil {
			return err
		}
		if err := idx.EnsureIndex(ctx); err != nil {
			idx.Close()
			return err
		}
		p.valkey = idx
		p.vectors = idx
	default:
		p.vectors = p.repos.Vectors
	}
	return nil
}

func (p *Portal) closeIndex() {
	if p.valkey != nil {
		p.valkey.Close()
		p.valkey = nil
	}
}

// Close releases the provider, the index connection and storage.
func (p *Portal) Close() error {
	var errs []error
	if err := p.provider.Close(); err != nil {
		p.log.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	p.closeIndex()
	if err := p.repos.Close(); err != nil {
		p.log.Error("error closing storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the portal was opened with.
func (p *Portal) Config() *config.Config {
	return p.config
}

// Documents returns the document repository.
func (p *Portal) Documents() storage.DocumentRepository {
	return p.repos.Documents
}

// Chunks returns the chunk repository.
func (p *Portal) Chunks() storage.ChunkRepository {
	return p.repos.Chunks
}

// Sessions returns the session repository.
func (p *Portal) Sessions() storage.SessionRepository {
	return p.repos.Sessions
}

// Vectors returns the vector index in use.
func (p *Portal) Vectors() index.VectorIndex {
	return p.vectors
}

// Provider returns the AI provider.
func (p *Portal) Provider() ai.AIProvider {
	return p.provider
}

// Analyze asks the provider's analyzer for a title, summary and topics of
// a ready document. The result is computed on demand and not stored.
func (p *Portal) Analyze(ctx context.Context, documentID string) (*ai.Analysis, error) {
	doc, err := p.repos.Documents.GetDocument(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}
	if !doc.IsReady() {
		return nil, fmt.Errorf("%w: %s is %s", core.ErrDocumentNotReady, documentID, doc.Status)
	}

	chunks, err := p.repos.Chunks.ChunksForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return p.provider.Analyzer().Analyze(ctx, documentText(chunks))
}

// documentText stitches chunk texts back together in position order,
// dropping the part of each chunk that overlaps its predecessor.
func documentText(chunks []*core.Chunk) string {
	var sb strings.Builder
	prevEnd := 0
	for i, c := range chunks {
		switch {
		case i == 0:
			sb.WriteString(c.Text)
		case c.Span.Start >= prevEnd:
			sb.WriteString("\n\n")
			sb.WriteString(c.Text)
		default:
			if skip := prevEnd - c.Span.Start; skip < len(c.Text) {
				sb.WriteString(c.Text[skip:])
			}
		}
		prevEnd = max(prevEnd, c.Span.End)
	}
	return sb.String()
}

// NewPipeline builds an ingestion pipeline from the ingestion and chunking
// sections. opts are applied after the configured ones.
func (p *Portal) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	chunkConfig, err := p.config.ChunkerConfig()
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(chunkConfig, chunker.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}

	ic := p.config.Ingestion
	base := []ingestion.Option{
		ingestion.WithLogger(p.logger),
		ingestion.WithChunker(ch),
		ingestion.WithPoolSize(ic.PoolSize),
		ingestion.WithBatchSize(ic.BatchSize),
		ingestion.WithRetryPolicy(ic.Retry.Policy()),
	}
	if ic.RateLimit > 0 {
		base = append(base, ingestion.WithRateLimit(ic.RateLimit, ic.RateBurst))
	}
	return ingestion.NewPipeline(p.repos.Documents, p.repos.Chunks, p.vectors, p.extractor,
		p.provider.Embedder(), append(base, opts...)...)
}

// NewRetriever builds a retriever from the retrieval section.
func (p *Portal) NewRetriever(opts ...retrieval.Option) (*retrieval.Retriever, error) {
	rc := p.config.Retrieval
	base := []retrieval.Option{
		retrieval.WithLogger(p.logger),
		retrieval.WithOverFetch(rc.OverFetch),
		retrieval.WithWeights(rc.DenseWeight, rc.LexicalWeight),
		retrieval.WithDedupOverlap(rc.DedupOverlap),
		retrieval.WithRetryPolicy(rc.Retry.Policy()),
	}
	if rc.DisableLexical {
		base = append(base, retrieval.WithLexicalScorer(nil))
	}
	return retrieval.NewRetriever(p.vectors, p.repos.Chunks, p.repos.Documents,
		p.provider.Embedder(), append(base, opts...)...)
}

// NewManager builds a session manager from the session section. Token
// budgets are counted with the generation model's tokenizer.
func (p *Portal) NewManager(opts ...session.Option) (*session.Manager, error) {
	sc := p.config.Session
	base := []session.Option{
		session.WithLogger(p.logger),
		session.WithCounter(session.NewCounter(sc.Unit, p.config.AI.GenerationModel)),
		session.WithHistoryWindow(sc.HistoryWindow),
	}
	if sc.MinContextChunks != nil {
		base = append(base, session.WithMinContextChunks(*sc.MinContextChunks))
	}
	return session.NewManager(p.repos.Sessions, append(base, opts...)...)
}

// NewChat builds the question answering loop over manager with a
// retriever from the retrieval section.
func (p *Portal) NewChat(manager *session.Manager, opts ...session.ChatOption) (*session.Chat, error) {
	retriever, err := p.NewRetriever()
	if err != nil {
		return nil, err
	}
	base := []session.ChatOption{
		session.WithChatLogger(p.logger),
		session.WithTopK(p.config.Retrieval.TopK),
		session.WithBudget(p.config.Session.Budget),
	}
	return session.NewChat(manager, retriever, p.provider.Generator(), append(base, opts...)...)
}

// NewComparator builds a comparator from the compare section.
func (p *Portal) NewComparator(opts ...compare.Option) (*compare.Comparator, error) {
	cc := p.config.Compare
	base := []compare.Option{
		compare.WithLogger(p.logger),
		compare.WithThresholds(cc.MatchThreshold, cc.OverlapThreshold),
	}
	return compare.NewComparator(p.repos.Documents, p.repos.Chunks, p.vectors, append(base, opts...)...)
}

// NewReindexer builds a reindexer that re-embeds with the current
// provider. progress receives the progress line, nil for none.
func (p *Portal) NewReindexer(cfg *reindex.Config, progress io.Writer) (*reindex.Reindexer, error) {
	if cfg == nil {
		cfg = reindex.DefaultConfig()
		cfg.Retry = p.config.Ingestion.Retry.Policy()
	}
	return reindex.NewReindexer(p.repos.Documents, p.repos.Chunks, p.vectors, p.provider.Embedder(),
		cfg, progress, reindex.WithLogger(p.logger))
}
