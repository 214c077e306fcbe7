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

// Package retrieval ranks indexed chunks against a query.
//
// The Retriever runs a multi-stage algorithm:
//   - Dense search: the query is embedded and the vector index is asked for
//     more candidates than requested (the over-fetch factor)
//   - Lexical scoring: an optional keyword signal fused with the dense score
//     by a weighted sum
//   - Deduplication: chunks of one document whose spans overlap beyond a
//     configured fraction collapse to the best-scoring one
//
// Only chunks of ready documents are ever returned. Backend failures are
// reported as core.ErrRetrievalUnavailable, never as an empty result.
package retrieval
