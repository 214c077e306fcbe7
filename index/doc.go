// Package index defines the vector index capability used by ingestion,
// retrieval and comparison.
//
// Two implementations exist: storage/badger.VectorIndex keeps vectors in the
// local badger database and scans them, and index/valkey talks to a shared
// Valkey or Redis server with the search module loaded.
package index
