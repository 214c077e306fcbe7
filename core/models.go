package core

import (
	"time"
)

// DocumentStatus is the lifecycle state of an ingested document.
type DocumentStatus string

const (
	// StatusPending marks a document whose ingestion is in progress.
	StatusPending DocumentStatus = "pending"
	// StatusReady marks a fully indexed, immutable document.
	StatusReady DocumentStatus = "ready"
	// StatusFailed marks a document whose last ingestion attempt failed.
	// None of its chunks are retrievable.
	StatusFailed DocumentStatus = "failed"
)

// Document is an ingested source. Its ID is the content hash of the raw bytes,
// so identical bytes always map to the same Document.
type Document struct {
	ID         string
	SourceURI  string
	Format     string
	Status     DocumentStatus
	ChunkCount int
	Error      string // Last failure, empty unless Status is StatusFailed
	Metadata   map[string]string
	IngestedAt time.Time
	UpdatedAt  time.Time
}

// IsReady reports whether the document is fully indexed.
func (d *Document) IsReady() bool {
	return d != nil && d.Status == StatusReady
}

// CharSpan is a half-open [Start, End) byte range into a document's normalized text.
type CharSpan struct {
	Start int
	End   int
}

// Len returns the length of the span.
func (s CharSpan) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Overlap returns the number of bytes shared by s and o.
func (s CharSpan) Overlap(o CharSpan) int {
	start := max(s.Start, o.Start)
	end := min(s.End, o.End)
	if end <= start {
		return 0
	}
	return end - start
}

// Chunk is a bounded span of a document's normalized text.
// The vector for a chunk lives in the vector index under the chunk ID.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Position   int // Ordinal within the document, starting at 0
	Span       CharSpan
	Degraded   bool // Set when a boundary unit had to be force-split
}

// ScoredChunk is a single ranked retrieval hit.
type ScoredChunk struct {
	Chunk        *Chunk
	Score        float32 // Fused relevance score used for ranking
	DenseScore   float32 // Vector similarity contribution
	LexicalScore float32 // Keyword overlap contribution, 0 when no lexical signal is configured
	DenseRank    int     // 1-based rank in the vector index response
}

// RetrievalResult is the ranked, deduplicated context for one query.
// It is never persisted.
type RetrievalResult struct {
	Query  string
	Chunks []*ScoredChunk
}

// ChunkIDs returns the chunk ids in rank order.
func (r *RetrievalResult) ChunkIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a session.
// Citations are non-owning references to the chunks that grounded an assistant turn.
type Turn struct {
	Role      Role
	Text      string
	Citations []string
	CreatedAt time.Time
}

// SessionState is the state of a conversation.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionClosed SessionState = "closed"
)

// BudgetUsage records how a prompt's budget was spent.
type BudgetUsage struct {
	Budget        int
	Scaffold      int
	History       int
	Context       int
	Total         int
	DroppedTurns  int
	DroppedChunks int
}

// Ledger is the running budget account of a session.
type Ledger struct {
	Prompts    int         // Number of prompts assembled
	TotalUnits int         // Sum of Total over all assembled prompts
	Last       BudgetUsage // Usage of the most recently assembled prompt
}

// Session is a stateful conversation. It owns its turns exclusively.
type Session struct {
	ID               string
	State            SessionState
	DocumentIDs      []string // Optional grounding scope; empty means all documents
	Turns            []Turn
	PendingCitations []string // Chunks of the last assembled prompt, consumed by the next assistant turn
	Ledger           Ledger
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         time.Time
}

// IsClosed reports whether the session no longer accepts turns.
func (s *Session) IsClosed() bool {
	return s.State == SessionClosed
}

// ChunkRef identifies a chunk within a comparison.
type ChunkRef struct {
	DocumentID string
	ChunkID    string
	Position   int
}

// ChunkGroup is a cluster of chunks from two or more documents.
type ChunkGroup struct {
	Chunks []ChunkRef
	// Similarity is the weakest pairwise link that joined the group.
	Similarity float32
}

// ComparisonResult partitions the chunks of the compared documents.
// Every chunk appears in exactly one of Matched, Overlapping or Unique.
type ComparisonResult struct {
	DocumentIDs []string
	Matched     []ChunkGroup
	Overlapping []ChunkGroup
	Unique      map[string][]ChunkRef // Keyed by document id
}
