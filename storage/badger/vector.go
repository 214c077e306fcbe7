package badger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
)

// VectorIndex implements index.VectorIndex inside the badger database.
// Queries are a brute-force cosine scan, which suits single-process
// deployments with up to a few hundred thousand chunks.
type VectorIndex struct {
	backend *Backend
	logger  *slog.Logger
}

var _ index.VectorIndex = (*VectorIndex)(nil)

// vectorRecord is the stored form of an index.Record.
type vectorRecord struct {
	Vector   []float32
	Metadata index.Metadata
}

func encodeVectorRecord(r index.Record) []byte {
	m := r.Metadata
	size := core.Float32SliceMUS.Size(r.Vector) +
		ord.String.Size(m.DocumentID) +
		varint.Int.Size(m.Position) +
		varint.Int.Size(m.Start) +
		varint.Int.Size(m.End)
	buf := make([]byte, size)
	n := core.Float32SliceMUS.Marshal(r.Vector, buf)
	n += ord.String.Marshal(m.DocumentID, buf[n:])
	n += varint.Int.Marshal(m.Position, buf[n:])
	n += varint.Int.Marshal(m.Start, buf[n:])
	varint.Int.Marshal(m.End, buf[n:])
	return buf
}

func decodeVectorRecord(data []byte) (*vectorRecord, error) {
	rec := new(vectorRecord)
	var (
		n, n1 int
		err   error
	)
	if rec.Vector, n, err = core.Float32SliceMUS.Unmarshal(data); err != nil {
		return nil, err
	}
	if rec.Metadata.DocumentID, n1, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, err
	}
	n += n1
	for _, f := range []*int{&rec.Metadata.Position, &rec.Metadata.Start, &rec.Metadata.End} {
		if *f, n1, err = varint.Int.Unmarshal(data[n:]); err != nil {
			return nil, err
		}
		n += n1
	}
	return rec, nil
}

// NewVectorIndex creates a VectorIndex on the backend.
func NewVectorIndex(backend *Backend) *VectorIndex {
	return &VectorIndex{
		backend: backend,
		logger:  backend.logger.With("component", "badger-vector-index"),
	}
}

// Upsert writes records, replacing any with the same id.
func (v *VectorIndex) Upsert(ctx context.Context, records ...index.Record) error {
	if len(records) == 0 {
		return nil
	}
	err := v.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for _, r := range records {
			if err := wb.Set(makeVectorKey(r.ID), encodeVectorRecord(r)); err != nil {
				return err
			}
		}
		return nil
	})
	return unavailable("upsert", err)
}

// Query scans every stored vector and returns the topK most similar.
func (v *VectorIndex) Query(ctx context.Context, vector []float32, topK int, filter index.Filter) ([]index.Match, error) {
	if topK <= 0 {
		return nil, core.ErrInvalidTopK
	}

	var matches []index.Match
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			var rec *vectorRecord
			err := item.Value(func(val []byte) error {
				var err error
				rec, err = decodeVectorRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if !filter.Allows(rec.Metadata.DocumentID) {
				continue
			}
			matches = append(matches, index.Match{
				ID:       string(item.Key()[len(vectorPrefix):]),
				Score:    index.Cosine(vector, rec.Vector),
				Metadata: rec.Metadata,
			})
		}
		return nil
	}, false)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, unavailable("query", err)
	}

	index.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	v.logger.Debug("vector query", "candidates", len(matches), "top_k", topK)
	return matches, nil
}

// Delete removes the given ids.
func (v *VectorIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	err := v.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for _, id := range ids {
			if err := wb.Delete(makeVectorKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	return unavailable("delete", err)
}

// Vectors returns the stored vectors for ids.
func (v *VectorIndex) Vectors(ctx context.Context, ids ...string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			rec, err := readValue(tx, makeVectorKey(id), decodeVectorRecord)
			if err != nil {
				return err
			}
			if rec != nil {
				out[id] = rec.Vector
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, unavailable("vectors", err)
	}
	return out, nil
}

// Count returns the number of stored vectors.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		n = len(scanKeys(tx, []byte(vectorPrefix)))
		return nil
	}, false)
	return n, err
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", core.ErrIndexUnavailable, op, err)
}
