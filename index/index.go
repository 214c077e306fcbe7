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

package index

import (
	"context"
	"math"
	"slices"
)

// Metadata travels with every vector so matches can be traced back to
// their chunk without a second lookup.
type Metadata struct {
	DocumentID string `json:"document_id"`
	Position   int    `json:"position"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Record is one vector keyed by chunk id.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is a nearest-neighbor hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Filter restricts a query. An empty filter matches everything.
type Filter struct {
	DocumentIDs []string
}

// Allows reports whether a vector owned by documentID passes the filter.
func (f Filter) Allows(documentID string) bool {
	return len(f.DocumentIDs) == 0 || slices.Contains(f.DocumentIDs, documentID)
}

// VectorIndex stores chunk vectors and answers nearest-neighbor queries.
// It is a shared store: implementations must tolerate concurrent callers
// and report backend failures wrapped in core.ErrIndexUnavailable.
type VectorIndex interface {
	// Upsert writes records, replacing any with the same id.
	Upsert(ctx context.Context, records ...Record) error

	// Query returns up to topK matches ordered by descending score.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)

	// Delete removes the given ids. Missing ids are not an error.
	Delete(ctx context.Context, ids ...string) error

	// Vectors returns the stored vectors for ids. Missing ids are absent
	// from the result.
	Vectors(ctx context.Context, ids ...string) (map[string][]float32, error)
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// SortMatches orders matches by descending score, then ascending id.
func SortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
