// Package chunker splits normalized document text into overlapping passages.
//
// Text is tiled into boundary units (sentences or paragraphs). Units are
// accumulated greedily until the next unit would exceed MaxChunkChars; the
// next chunk then starts by repeating the trailing units of the previous one,
// up to OverlapFraction of MaxChunkChars. A unit that alone exceeds the limit
// is force-split at the character limit and the chunk is flagged Degraded.
//
// Chunk ids are derived with core.ChunkID, so chunking is deterministic and
// re-ingestion of unchanged content produces identical ids.
package chunker
