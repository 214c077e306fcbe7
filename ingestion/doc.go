// Package ingestion turns raw document bytes into indexed, retrievable chunks.
//
// The Pipeline runs extract → chunk → embed → upsert for one document:
//   - Document ids are content hashes, so re-ingesting identical bytes is a cache hit
//   - Embedding and upsert run in batches on a worker pool, each batch retried with backoff
//   - A failure or cancellation rolls back every chunk written for the document
//     before the error is returned, leaving it in the failed state
//   - Concurrent ingestions of the same document share a single run
//
// A document becomes visible to retrieval only once it is marked ready.
package ingestion
