package compare

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
	"github.com/poiesic/docportal/metrics"
	"github.com/poiesic/docportal/storage"
)

const (
	DefaultMatchThreshold   = 0.92
	DefaultOverlapThreshold = 0.75
)

// Comparator partitions the chunks of ready documents into matched,
// overlapping and unique groups.
type Comparator struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	vectors   index.VectorIndex
	match     float32
	overlap   float32
	logger    *slog.Logger
}

// Option configures a Comparator.
type Option func(*Comparator) error

// WithThresholds sets the similarity bands: pairs >= match are matched,
// pairs in [overlap, match) are overlapping.
func WithThresholds(match, overlap float64) Option {
	return func(c *Comparator) error {
		if overlap <= 0 || overlap > match || match > 1 {
			return fmt.Errorf("%w: thresholds need 0 < overlap <= match <= 1, got match=%v overlap=%v",
				core.ErrInvalidConfig, match, overlap)
		}
		c.match = float32(match)
		c.overlap = float32(overlap)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Comparator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewComparator creates a comparator.
func NewComparator(documents storage.DocumentRepository, chunks storage.ChunkRepository, vectors index.VectorIndex, opts ...Option) (*Comparator, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	c := &Comparator{
		documents: documents,
		chunks:    chunks,
		vectors:   vectors,
		match:     DefaultMatchThreshold,
		overlap:   DefaultOverlapThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "compare")
	return c, nil
}

// node is one chunk with its vector.
type node struct {
	ref    core.ChunkRef
	vector []float32
}

// edge is a cross-document chunk pair at or above the overlap threshold.
type edge struct {
	a, b int
	sim  float32
}

// Compare aligns the chunks of documentIDs. Every document must be ready.
func (c *Comparator) Compare(ctx context.Context, documentIDs []string) (*core.ComparisonResult, error) {
	result, err := c.compare(ctx, documentIDs)
	metrics.ComparisonsTotal.WithLabelValues(metrics.Status(err)).Inc()
	return result, err
}

func (c *Comparator) compare(ctx context.Context, documentIDs []string) (*core.ComparisonResult, error) {
	ids, err := core.ValidateDocumentIDs(documentIDs)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)

	for _, id := range ids {
		doc, err := c.documents.GetDocument(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		if !doc.IsReady() {
			return nil, fmt.Errorf("%w: %s is %s", core.ErrDocumentNotReady, id, doc.Status)
		}
	}

	nodes, err := c.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	edges := c.edges(nodes)
	matched, inMatch := cluster(nodes, edges, c.match, nil)
	overlapping, inOverlap := cluster(nodes, edges, c.overlap, inMatch)

	result := &core.ComparisonResult{
		DocumentIDs: ids,
		Matched:     matched,
		Overlapping: overlapping,
		Unique:      make(map[string][]core.ChunkRef, len(ids)),
	}
	for _, id := range ids {
		result.Unique[id] = []core.ChunkRef{}
	}
	for i, n := range nodes {
		if !inMatch[i] && !inOverlap[i] {
			result.Unique[n.ref.DocumentID] = append(result.Unique[n.ref.DocumentID], n.ref)
		}
	}

	c.logger.Debug("compared documents", "documents", len(ids), "chunks", len(nodes),
		"matched", len(matched), "overlapping", len(overlapping))
	return result, nil
}

// load reads every chunk of ids, in document then position order, with
// its stored vector.
func (c *Comparator) load(ctx context.Context, ids []string) ([]node, error) {
	var nodes []node
	var chunkIDs []string
	for _, id := range ids {
		chunks, err := c.chunks.ChunksForDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			nodes = append(nodes, node{ref: core.ChunkRef{DocumentID: id, ChunkID: ch.ID, Position: ch.Position}})
			chunkIDs = append(chunkIDs, ch.ID)
		}
	}
	if len(chunkIDs) == 0 {
		return nodes, nil
	}

	vectors, err := c.vectors.Vectors(ctx, chunkIDs...)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		v, ok := vectors[nodes[i].ref.ChunkID]
		if !ok {
			c.logger.Error("ready document is missing a vector", "document", nodes[i].ref.DocumentID, "chunk", nodes[i].ref.ChunkID)
			return nil, fmt.Errorf("%w: no vector for chunk %s of %s",
				core.ErrConsistencyViolation, nodes[i].ref.ChunkID, nodes[i].ref.DocumentID)
		}
		nodes[i].vector = v
	}
	return nodes, nil
}

// edges returns every cross-document pair at or above the overlap
// threshold, strongest first.
func (c *Comparator) edges(nodes []node) []edge {
	var edges []edge
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if nodes[i].ref.DocumentID == nodes[j].ref.DocumentID {
				continue
			}
			if sim := index.Cosine(nodes[i].vector, nodes[j].vector); sim >= c.overlap {
				edges = append(edges, edge{a: i, b: j, sim: sim})
			}
		}
	}
	slices.SortStableFunc(edges, func(x, y edge) int {
		if c := cmp.Compare(y.sim, x.sim); c != 0 {
			return c
		}
		if c := cmp.Compare(x.a, y.a); c != 0 {
			return c
		}
		return cmp.Compare(x.b, y.b)
	})
	return edges
}

// cluster joins nodes linked by edges at or above threshold, skipping
// nodes marked in exclude. It returns the groups and the nodes they hold.
func cluster(nodes []node, edges []edge, threshold float32, exclude []bool) ([]core.ChunkGroup, []bool) {
	uf := newUnionFind(len(nodes))
	weakest := make(map[int]float32)
	for _, e := range edges {
		if e.sim < threshold {
			break
		}
		if exclude != nil && (exclude[e.a] || exclude[e.b]) {
			continue
		}
		// Edges arrive strongest first, so the last union is the weakest link.
		if root, joined := uf.union(e.a, e.b); joined {
			weakest[root] = e.sim
		}
	}

	members := make(map[int][]int)
	for i := range nodes {
		if exclude != nil && exclude[i] {
			continue
		}
		root := uf.find(i)
		members[root] = append(members[root], i)
	}

	in := make([]bool, len(nodes))
	var groups []core.ChunkGroup
	for root, idx := range members {
		if len(idx) < 2 {
			continue
		}
		refs := make([]core.ChunkRef, len(idx))
		for k, i := range idx {
			refs[k] = nodes[i].ref
			in[i] = true
		}
		groups = append(groups, core.ChunkGroup{Chunks: refs, Similarity: weakest[root]})
	}

	// Node order is document then position, so each group's refs are
	// already sorted; order groups by their first ref.
	slices.SortFunc(groups, func(x, y core.ChunkGroup) int {
		return compareRefs(x.Chunks[0], y.Chunks[0])
	})
	return groups, in
}

func compareRefs(a, b core.ChunkRef) int {
	if c := cmp.Compare(a.DocumentID, b.DocumentID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkID, b.ChunkID)
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// union merges the sets of a and b and returns the new root, or false when
// they were already joined.
func (uf *unionFind) union(a, b int) (int, bool) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return ra, false
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	return ra, true
}
