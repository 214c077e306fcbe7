package retrieval

import (
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
)

// Monitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(query string, topK int)
	AfterVectorQuery(matches []index.Match)
	AfterChunkRetrieval(chunks []*core.Chunk)
	Skipped(chunkID string, reason string)
	Collapsed(dropped, kept *core.ScoredChunk)
	Finish(result *core.RetrievalResult)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ int)               {}
func (n *noopMonitor) AfterVectorQuery(_ []index.Match)    {}
func (n *noopMonitor) AfterChunkRetrieval(_ []*core.Chunk) {}
func (n *noopMonitor) Skipped(_ string, _ string)          {}
func (n *noopMonitor) Collapsed(_, _ *core.ScoredChunk)    {}
func (n *noopMonitor) Finish(_ *core.RetrievalResult)      {}
