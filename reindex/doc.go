// Package reindex re-embeds the chunks of every ready document with the
// currently configured embedder, for example after switching embedding
// models.
//
// Chunks are processed in batches with retry and exponential backoff, and
// progress is reported as it goes. Vectors are upserted under the same
// chunk ids, so retrieval keeps working throughout.
package reindex
