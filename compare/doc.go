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

// Package compare aligns the chunks of two or more ingested documents.
//
// Chunk vectors are read back from the vector index, never re-embedded.
// Cross-document chunk pairs at or above the match threshold are clustered
// into matched groups; of the remaining chunks, pairs at or above the
// overlap threshold form overlapping groups. Everything else is unique to
// its document. The result does not depend on the order of the input ids.
package compare
