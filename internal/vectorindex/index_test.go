package vectorindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panoptigo/gateway/internal/vectorindex"
)

func TestIndex_UpsertThenSearch_ReturnsNearestFirst(t *testing.T) {
	idx := vectorindex.New()

	require.NoError(t, idx.Upsert("clip", 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert("clip", 2, []float32{0, 1, 0}))
	require.NoError(t, idx.Upsert("clip", 3, []float32{0.9, 0.1, 0}))

	neighbors, err := idx.Search("clip", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, int64(1), neighbors[0].ItemDataID)
	assert.Equal(t, 1, neighbors[0].Rank)
	assert.Equal(t, int64(3), neighbors[1].ItemDataID)
	assert.Equal(t, 2, neighbors[1].Rank)
}

func TestIndex_Search_UnknownSetter_ReturnsEmpty(t *testing.T) {
	idx := vectorindex.New()
	neighbors, err := idx.Search("missing-setter", []float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}

func TestIndex_Upsert_DimensionMismatch_Errors(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.Upsert("clip", 1, []float32{1, 0, 0}))
	err := idx.Upsert("clip", 2, []float32{1, 0})
	assert.Error(t, err)
}

func TestIndex_Remove_ExcludesFromFutureSearches(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.Upsert("clip", 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert("clip", 2, []float32{0, 1, 0}))

	idx.Remove("clip", 1)

	neighbors, err := idx.Search("clip", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	for _, n := range neighbors {
		assert.NotEqual(t, int64(1), n.ItemDataID)
	}
}
