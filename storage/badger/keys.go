package badger

import (
	"encoding/binary"
)

// Key prefixes for different data types
const (
	documentPrefix       = "doc:"
	documentSourcePrefix = "docsrc:"
	chunkPrefix          = "chk:"
	documentChunkPrefix  = "dchk:"
	sessionPrefix        = "ses:"
	vectorPrefix         = "vec:"
)

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

// makeDocumentSourceKey generates a composite key for the source index.
// Format: prefix:sourceURI\x00documentID
func makeDocumentSourceKey(sourceURI, id string) []byte {
	return append(makePartialDocumentSourceKey(sourceURI), id...)
}

// makePartialDocumentSourceKey generates a partial key for source lookups.
// The NUL terminator keeps one URI from matching another it prefixes.
func makePartialDocumentSourceKey(sourceURI string) []byte {
	return []byte(documentSourcePrefix + sourceURI + "\x00")
}

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id string) []byte {
	return []byte(chunkPrefix + id)
}

// makeDocumentChunkKey generates a composite key for the per-document chunk index.
// Format: prefix:documentID:position:chunkID
func makeDocumentChunkKey(documentID string, position int, chunkID string) []byte {
	prefix := makePartialDocumentChunkKey(documentID)
	buf := make([]byte, len(prefix)+8+len(chunkID))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort follows position
	binary.BigEndian.PutUint64(buf[offset:], uint64(position))
	offset += 8
	copy(buf[offset:], chunkID)
	return buf
}

// makePartialDocumentChunkKey generates a partial key for a document's chunks.
func makePartialDocumentChunkKey(documentID string) []byte {
	return []byte(documentChunkPrefix + documentID + ":")
}

// chunkIDFromDocumentChunkKey extracts the chunk ID from an index key.
func chunkIDFromDocumentChunkKey(documentID string, key []byte) string {
	return string(key[len(makePartialDocumentChunkKey(documentID))+8:])
}

// makeSessionKey generates a key for a session by ID.
func makeSessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

// makeVectorKey generates a key for a chunk vector.
func makeVectorKey(chunkID string) []byte {
	return []byte(vectorPrefix + chunkID)
}
