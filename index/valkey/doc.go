// Package valkey implements index.VectorIndex on Valkey or Redis with the
// search module.
//
// Each chunk is a hash under Config.Prefix + chunk id holding the FLOAT32
// little-endian vector and its metadata. Queries use FT.SEARCH KNN with an
// optional TAG pre-filter on document_id. Scores are reported as cosine
// similarity (1 - distance).
package valkey
