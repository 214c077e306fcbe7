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


// Package storage provides the storage abstraction layer for docportal.
//
// This package defines repository interfaces that decouple persistence from
// ingestion, retrieval and session logic. Document and Session records must
// survive process restarts; the badger sub-package provides the on-disk
// implementation and an in-memory variant for tests.
//
// # Architecture
//
//   - DocumentRepository: document records and the source index
//   - ChunkRepository: chunk text and spans, ordered per document
//   - SessionRepository: conversation sessions with their turns
//
// Vectors are not stored here; they belong to an index.VectorIndex keyed by
// chunk ID.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	docs := badger.NewDocumentRepository(backend)
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
