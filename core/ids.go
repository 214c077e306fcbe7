package core

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// idSize is the digest size in bytes of document and chunk ids.
const idSize = 32

// DocumentID derives a document id from its raw bytes using BLAKE2b-256.
// Identical bytes always produce identical ids.
func DocumentID(data []byte) string {
	h, _ := blake2b.New(idSize, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkID derives a chunk id from its owning document, normalized text and position.
//
// The digest input is the concatenation of three fields, each written as an
// 8-byte big-endian length followed by the field bytes: the document id, the
// chunk text, and the position as an 8-byte big-endian unsigned integer.
// Any implementation sharing a vector index must reproduce this exactly.
func ChunkID(documentID, text string, position int) string {
	h, _ := blake2b.New(idSize, nil)
	writeField(h, []byte(documentID))
	writeField(h, []byte(text))
	var pos [8]byte
	binary.BigEndian.PutUint64(pos[:], uint64(position))
	writeField(h, pos[:])
	return hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeField(w byteWriter, field []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(field)))
	w.Write(n[:])
	w.Write(field)
}
