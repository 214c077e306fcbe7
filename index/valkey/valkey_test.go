package valkey

import (
	"context"
	"testing"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
)

func testIndex(t *testing.T, c rueidis.Client) *Index {
	t.Helper()
	idx, err := newIndex(c, Config{Addrs: []string{"x"}, Dimensions: 2})
	require.NoError(t, err)
	return idx
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, "docportal-chunks", cfg.IndexName)
	assert.Equal(t, "chunk:", cfg.Prefix)
	assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)

	cfg.Addrs = []string{"localhost:6379"}
	assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
	cfg.Dimensions = 8
	assert.NoError(t, cfg.Validate())
}

func TestBuildCreateArgs(t *testing.T) {
	cfg := Config{Dimensions: 4, M: 16}
	cfg.ApplyDefaults()
	args := buildCreateArgs(cfg)
	assert.Equal(t, []string{
		"docportal-chunks", "ON", "HASH", "PREFIX", "1", "chunk:", "SCHEMA",
		"document_id", "TAG", "position", "NUMERIC",
		"vector", "VECTOR", "HNSW", "8",
		"TYPE", "FLOAT32", "DIM", "4", "DISTANCE_METRIC", "COSINE", "M", "16",
	}, args)
}

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, "", buildFilter(index.Filter{}))
	assert.Equal(t, "@document_id:{ab | c\\-d}", buildFilter(index.Filter{DocumentIDs: []string{"ab", "c-d"}}))
}

func TestBuildKNNArgs(t *testing.T) {
	args := buildKNNArgs("idx", []float32{1}, 3, index.Filter{DocumentIDs: []string{"a"}})
	assert.Equal(t, "idx", args[0])
	assert.Equal(t, "(@document_id:{a})=>[KNN 3 @vector $BLOB]", args[1])
	assert.Contains(t, args, "DIALECT")

	args = buildKNNArgs("idx", []float32{1}, 3, index.Filter{})
	assert.Equal(t, "*=>[KNN 3 @vector $BLOB]", args[1])
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	got, err := bytesToVector([]byte(vectorToBytes(v)))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = bytesToVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errMalformedVector)
}

func TestQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[1] == "docportal-chunks"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("chunk:c1"),
			mock.RedisArray(
				mock.RedisString("document_id"), mock.RedisString("d1"),
				mock.RedisString("position"), mock.RedisString("0"),
				mock.RedisString("span_start"), mock.RedisString("0"),
				mock.RedisString("span_end"), mock.RedisString("10"),
				mock.RedisString("__vector_score"), mock.RedisString("0.4"),
			),
			mock.RedisString("chunk:c2"),
			mock.RedisArray(
				mock.RedisString("document_id"), mock.RedisString("d1"),
				mock.RedisString("position"), mock.RedisString("1"),
				mock.RedisString("span_start"), mock.RedisString("8"),
				mock.RedisString("span_end"), mock.RedisString("20"),
				mock.RedisString("__vector_score"), mock.RedisString("0.1"),
			),
		)))

	matches, err := testIndex(t, c).Query(context.Background(), []float32{1, 0}, 5, index.Filter{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c2", matches[0].ID)
	assert.InDelta(t, 0.9, matches[0].Score, 1e-6)
	assert.Equal(t, index.Metadata{DocumentID: "d1", Position: 1, Start: 8, End: 20}, matches[0].Metadata)
	assert.Equal(t, "c1", matches[1].ID)
}

func TestQuery_Unavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	_, err := testIndex(t, c).Query(context.Background(), []float32{1, 0}, 5, index.Filter{})
	assert.ErrorIs(t, err, core.ErrIndexUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, core.IsRetryable(err))
}

func TestQuery_InvalidTopK(t *testing.T) {
	_, err := testIndex(t, nil).Query(context.Background(), []float32{1}, 0, index.Filter{})
	assert.ErrorIs(t, err, core.ErrInvalidTopK)
}

func TestUpsert(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(5)),
			mock.Result(mock.RedisInt64(5)),
		})

	err := testIndex(t, c).Upsert(context.Background(),
		index.Record{ID: "a", Vector: []float32{1, 0}},
		index.Record{ID: "b", Vector: []float32{0, 1}},
	)
	assert.NoError(t, err)
}

func TestUpsert_WrongDimensions(t *testing.T) {
	err := testIndex(t, nil).Upsert(context.Background(), index.Record{ID: "a", Vector: []float32{1}})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestVectors(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisBlobString(vectorToBytes([]float32{1, 2}))),
			mock.Result(mock.RedisNil()),
		})

	vecs, err := testIndex(t, c).Vectors(context.Background(), "a", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{"a": {1, 2}}, vecs)
}

func TestDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "chunk:a", "chunk:b")).
		Return(mock.Result(mock.RedisInt64(2)))

	assert.NoError(t, testIndex(t, c).Delete(context.Background(), "a", "b"))
	assert.NoError(t, testIndex(t, nil).Delete(context.Background()))
}

func TestEnsureIndex_Exists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.CREATE" })).
		Return(mock.Result(mock.RedisError("Index already exists")))

	assert.NoError(t, testIndex(t, c).EnsureIndex(context.Background()))
}
