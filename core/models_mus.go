package core

import (
	"maps"
	"slices"
	"time"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Serializers for the persisted models. Field order is the wire order;
// append new fields at the end of a struct's Marshal, Unmarshal, Size and
// Skip together.
var (
	DocumentMUS    = documentMUS{}
	ChunkMUS       = chunkMUS{}
	SessionMUS     = sessionMUS{}
	TurnMUS        = turnMUS{}
	BudgetUsageMUS = budgetUsageMUS{}
	LedgerMUS      = ledgerMUS{}

	StringSliceMUS  = stringSliceMUS{}
	StringMapMUS    = stringMapMUS{}
	Float32SliceMUS = float32SliceMUS{}
	TimeMUS         = timeMUS{}
)

var (
	_ mus.Serializer[Document]          = DocumentMUS
	_ mus.Serializer[Chunk]             = ChunkMUS
	_ mus.Serializer[Session]           = SessionMUS
	_ mus.Serializer[Turn]              = TurnMUS
	_ mus.Serializer[BudgetUsage]       = BudgetUsageMUS
	_ mus.Serializer[Ledger]            = LedgerMUS
	_ mus.Serializer[[]string]          = StringSliceMUS
	_ mus.Serializer[map[string]string] = StringMapMUS
	_ mus.Serializer[[]float32]         = Float32SliceMUS
	_ mus.Serializer[time.Time]         = TimeMUS
)

type unmarshaller[T any] interface {
	Unmarshal(bs []byte) (v T, n int, err error)
}

type skipper interface {
	Skip(bs []byte) (n int, err error)
}

// reader walks a byte slice field by field and stops at the first error.
type reader struct {
	bs  []byte
	n   int
	err error
}

func read[T any](r *reader, u unmarshaller[T]) (v T) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = u.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func skip(r *reader, s skipper) {
	if r.err != nil {
		return
	}
	var n int
	n, r.err = s.Skip(r.bs[r.n:])
	r.n += n
}

// readLength reads a collection length and bounds it by the bytes left,
// since every element occupies at least one byte.
func readLength(r *reader) int {
	length := read[int](r, varint.Int)
	if r.err != nil {
		return 0
	}
	if length < 0 || length > len(r.bs)-r.n {
		r.err = ErrMalformedRecord
		return 0
	}
	return length
}

// --- time ---

type timeMUS struct{}

// Times are stored as UTC Unix microseconds; the zero time is stored as 0.
func (timeMUS) Marshal(v time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(unixMicro(v), bs)
}

func (timeMUS) Unmarshal(bs []byte) (v time.Time, n int, err error) {
	usec, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || usec == 0 {
		return
	}
	return time.UnixMicro(usec).UTC(), n, nil
}

func (timeMUS) Size(v time.Time) (size int) {
	return varint.Int64.Size(unixMicro(v))
}

func (timeMUS) Skip(bs []byte) (n int, err error) {
	return varint.Int64.Skip(bs)
}

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// --- collections ---

type stringSliceMUS struct{}

func (stringSliceMUS) Marshal(v []string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, s := range v {
		n += ord.String.Marshal(s, bs[n:])
	}
	return
}

func (stringSliceMUS) Unmarshal(bs []byte) (v []string, n int, err error) {
	r := &reader{bs: bs}
	length := readLength(r)
	if length > 0 {
		v = make([]string, 0, length)
		for range length {
			s := read[string](r, ord.String)
			if r.err != nil {
				break
			}
			v = append(v, s)
		}
	}
	if r.err != nil {
		return nil, r.n, r.err
	}
	return v, r.n, nil
}

func (stringSliceMUS) Size(v []string) (size int) {
	size = varint.Int.Size(len(v))
	for _, s := range v {
		size += ord.String.Size(s)
	}
	return
}

func (stringSliceMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	length := readLength(r)
	for range length {
		skip(r, ord.String)
	}
	return r.n, r.err
}

type stringMapMUS struct{}

// Keys are written in sorted order so equal maps encode to equal bytes.
func (stringMapMUS) Marshal(v map[string]string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, k := range slices.Sorted(maps.Keys(v)) {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v[k], bs[n:])
	}
	return
}

func (stringMapMUS) Unmarshal(bs []byte) (v map[string]string, n int, err error) {
	r := &reader{bs: bs}
	length := readLength(r)
	if length > 0 {
		v = make(map[string]string, length)
		for range length {
			k := read[string](r, ord.String)
			val := read[string](r, ord.String)
			if r.err != nil {
				break
			}
			v[k] = val
		}
	}
	if r.err != nil {
		return nil, r.n, r.err
	}
	return v, r.n, nil
}

func (stringMapMUS) Size(v map[string]string) (size int) {
	size = varint.Int.Size(len(v))
	for k, val := range v {
		size += ord.String.Size(k) + ord.String.Size(val)
	}
	return
}

func (stringMapMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	length := readLength(r)
	for range 2 * length {
		skip(r, ord.String)
	}
	return r.n, r.err
}

// float32SliceMUS stores vectors as fixed-width floats.
type float32SliceMUS struct{}

func (float32SliceMUS) Marshal(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return
}

func (float32SliceMUS) Unmarshal(bs []byte) (v []float32, n int, err error) {
	r := &reader{bs: bs}
	length := readLength(r)
	if length > 0 {
		v = make([]float32, length)
		for i := range v {
			v[i] = read[float32](r, raw.Float32)
		}
	}
	if r.err != nil {
		return nil, r.n, r.err
	}
	return v, r.n, nil
}

func (float32SliceMUS) Size(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return
}

func (float32SliceMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	length := readLength(r)
	for range length {
		skip(r, raw.Float32)
	}
	return r.n, r.err
}

// --- Document ---

type documentMUS struct{}

func (documentMUS) Marshal(v Document, bs []byte) (n int) {
	n = ord.String.Marshal(v.ID, bs)
	n += ord.String.Marshal(v.SourceURI, bs[n:])
	n += ord.String.Marshal(v.Format, bs[n:])
	n += ord.String.Marshal(string(v.Status), bs[n:])
	n += varint.Int.Marshal(v.ChunkCount, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += StringMapMUS.Marshal(v.Metadata, bs[n:])
	n += TimeMUS.Marshal(v.IngestedAt, bs[n:])
	return n + TimeMUS.Marshal(v.UpdatedAt, bs[n:])
}

func (documentMUS) Unmarshal(bs []byte) (v Document, n int, err error) {
	r := &reader{bs: bs}
	v.ID = read[string](r, ord.String)
	v.SourceURI = read[string](r, ord.String)
	v.Format = read[string](r, ord.String)
	v.Status = DocumentStatus(read[string](r, ord.String))
	v.ChunkCount = read[int](r, varint.Int)
	v.Error = read[string](r, ord.String)
	v.Metadata = read[map[string]string](r, StringMapMUS)
	v.IngestedAt = read[time.Time](r, TimeMUS)
	v.UpdatedAt = read[time.Time](r, TimeMUS)
	return v, r.n, r.err
}

func (documentMUS) Size(v Document) (size int) {
	size = ord.String.Size(v.ID)
	size += ord.String.Size(v.SourceURI)
	size += ord.String.Size(v.Format)
	size += ord.String.Size(string(v.Status))
	size += varint.Int.Size(v.ChunkCount)
	size += ord.String.Size(v.Error)
	size += StringMapMUS.Size(v.Metadata)
	size += TimeMUS.Size(v.IngestedAt)
	return size + TimeMUS.Size(v.UpdatedAt)
}

func (documentMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	for range 4 {
		skip(r, ord.String)
	}
	skip(r, varint.Int)
	skip(r, ord.String)
	skip(r, StringMapMUS)
	skip(r, TimeMUS)
	skip(r, TimeMUS)
	return r.n, r.err
}

// --- Chunk ---

type chunkMUS struct{}

func (chunkMUS) Marshal(v Chunk, bs []byte) (n int) {
	n = ord.String.Marshal(v.ID, bs)
	n += ord.String.Marshal(v.DocumentID, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += varint.Int.Marshal(v.Position, bs[n:])
	n += varint.Int.Marshal(v.Span.Start, bs[n:])
	n += varint.Int.Marshal(v.Span.End, bs[n:])
	return n + ord.Bool.Marshal(v.Degraded, bs[n:])
}

func (chunkMUS) Unmarshal(bs []byte) (v Chunk, n int, err error) {
	r := &reader{bs: bs}
	v.ID = read[string](r, ord.String)
	v.DocumentID = read[string](r, ord.String)
	v.Text = read[string](r, ord.String)
	v.Position = read[int](r, varint.Int)
	v.Span.Start = read[int](r, varint.Int)
	v.Span.End = read[int](r, varint.Int)
	v.Degraded = read[bool](r, ord.Bool)
	return v, r.n, r.err
}

func (chunkMUS) Size(v Chunk) (size int) {
	size = ord.String.Size(v.ID)
	size += ord.String.Size(v.DocumentID)
	size += ord.String.Size(v.Text)
	size += varint.Int.Size(v.Position)
	size += varint.Int.Size(v.Span.Start)
	size += varint.Int.Size(v.Span.End)
	return size + ord.Bool.Size(v.Degraded)
}

func (chunkMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	for range 3 {
		skip(r, ord.String)
	}
	for range 3 {
		skip(r, varint.Int)
	}
	skip(r, ord.Bool)
	return r.n, r.err
}

// --- Session ---

type turnMUS struct{}

func (turnMUS) Marshal(v Turn, bs []byte) (n int) {
	n = ord.String.Marshal(string(v.Role), bs)
	n += ord.String.Marshal(v.Text, bs[n:])
	n += StringSliceMUS.Marshal(v.Citations, bs[n:])
	return n + TimeMUS.Marshal(v.CreatedAt, bs[n:])
}

func (turnMUS) Unmarshal(bs []byte) (v Turn, n int, err error) {
	r := &reader{bs: bs}
	v.Role = Role(read[string](r, ord.String))
	v.Text = read[string](r, ord.String)
	v.Citations = read[[]string](r, StringSliceMUS)
	v.CreatedAt = read[time.Time](r, TimeMUS)
	return v, r.n, r.err
}

func (turnMUS) Size(v Turn) (size int) {
	size = ord.String.Size(string(v.Role))
	size += ord.String.Size(v.Text)
	size += StringSliceMUS.Size(v.Citations)
	return size + TimeMUS.Size(v.CreatedAt)
}

func (turnMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	skip(r, ord.String)
	skip(r, ord.String)
	skip(r, StringSliceMUS)
	skip(r, TimeMUS)
	return r.n, r.err
}

type budgetUsageMUS struct{}

func (budgetUsageMUS) fields(v *BudgetUsage) []*int {
	return []*int{&v.Budget, &v.Scaffold, &v.History, &v.Context, &v.Total, &v.DroppedTurns, &v.DroppedChunks}
}

func (s budgetUsageMUS) Marshal(v BudgetUsage, bs []byte) (n int) {
	for _, f := range s.fields(&v) {
		n += varint.Int.Marshal(*f, bs[n:])
	}
	return
}

func (s budgetUsageMUS) Unmarshal(bs []byte) (v BudgetUsage, n int, err error) {
	r := &reader{bs: bs}
	for _, f := range s.fields(&v) {
		*f = read[int](r, varint.Int)
	}
	return v, r.n, r.err
}

func (s budgetUsageMUS) Size(v BudgetUsage) (size int) {
	for _, f := range s.fields(&v) {
		size += varint.Int.Size(*f)
	}
	return
}

func (s budgetUsageMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	for range s.fields(&BudgetUsage{}) {
		skip(r, varint.Int)
	}
	return r.n, r.err
}

type ledgerMUS struct{}

func (ledgerMUS) Marshal(v Ledger, bs []byte) (n int) {
	n = varint.Int.Marshal(v.Prompts, bs)
	n += varint.Int.Marshal(v.TotalUnits, bs[n:])
	return n + BudgetUsageMUS.Marshal(v.Last, bs[n:])
}

func (ledgerMUS) Unmarshal(bs []byte) (v Ledger, n int, err error) {
	r := &reader{bs: bs}
	v.Prompts = read[int](r, varint.Int)
	v.TotalUnits = read[int](r, varint.Int)
	v.Last = read[BudgetUsage](r, BudgetUsageMUS)
	return v, r.n, r.err
}

func (ledgerMUS) Size(v Ledger) (size int) {
	size = varint.Int.Size(v.Prompts)
	size += varint.Int.Size(v.TotalUnits)
	return size + BudgetUsageMUS.Size(v.Last)
}

func (ledgerMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	skip(r, varint.Int)
	skip(r, varint.Int)
	skip(r, BudgetUsageMUS)
	return r.n, r.err
}

type sessionMUS struct{}

func (sessionMUS) Marshal(v Session, bs []byte) (n int) {
	n = ord.String.Marshal(v.ID, bs)
	n += ord.String.Marshal(string(v.State), bs[n:])
	n += StringSliceMUS.Marshal(v.DocumentIDs, bs[n:])
	n += varint.Int.Marshal(len(v.Turns), bs[n:])
	for _, t := range v.Turns {
		n += TurnMUS.Marshal(t, bs[n:])
	}
	n += StringSliceMUS.Marshal(v.PendingCitations, bs[n:])
	n += LedgerMUS.Marshal(v.Ledger, bs[n:])
	n += TimeMUS.Marshal(v.CreatedAt, bs[n:])
	n += TimeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n + TimeMUS.Marshal(v.ClosedAt, bs[n:])
}

func (sessionMUS) Unmarshal(bs []byte) (v Session, n int, err error) {
	r := &reader{bs: bs}
	v.ID = read[string](r, ord.String)
	v.State = SessionState(read[string](r, ord.String))
	v.DocumentIDs = read[[]string](r, StringSliceMUS)
	if turns := readLength(r); turns > 0 {
		v.Turns = make([]Turn, 0, turns)
		for range turns {
			t := read[Turn](r, TurnMUS)
			if r.err != nil {
				break
			}
			v.Turns = append(v.Turns, t)
		}
	}
	v.PendingCitations = read[[]string](r, StringSliceMUS)
	v.Ledger = read[Ledger](r, LedgerMUS)
	v.CreatedAt = read[time.Time](r, TimeMUS)
	v.UpdatedAt = read[time.Time](r, TimeMUS)
	v.ClosedAt = read[time.Time](r, TimeMUS)
	return v, r.n, r.err
}

func (sessionMUS) Size(v Session) (size int) {
	size = ord.String.Size(v.ID)
	size += ord.String.Size(string(v.State))
	size += StringSliceMUS.Size(v.DocumentIDs)
	size += varint.Int.Size(len(v.Turns))
	for _, t := range v.Turns {
		size += TurnMUS.Size(t)
	}
	size += StringSliceMUS.Size(v.PendingCitations)
	size += LedgerMUS.Size(v.Ledger)
	size += TimeMUS.Size(v.CreatedAt)
	size += TimeMUS.Size(v.UpdatedAt)
	return size + TimeMUS.Size(v.ClosedAt)
}

func (sessionMUS) Skip(bs []byte) (n int, err error) {
	r := &reader{bs: bs}
	skip(r, ord.String)
	skip(r, ord.String)
	skip(r, StringSliceMUS)
	turns := readLength(r)
	for range turns {
		skip(r, TurnMUS)
	}
	skip(r, StringSliceMUS)
	skip(r, LedgerMUS)
	for range 3 {
		skip(r, TimeMUS)
	}
	return r.n, r.err
}
