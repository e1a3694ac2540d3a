package suggest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panoptigo/gateway/internal/suggest"
)

func TestSuggest_PrefixMatchReturnsTagCandidates(t *testing.T) {
	idx, err := suggest.Open("")
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.IndexEntries(ctx, []suggest.Entry{
		{ID: "tag:alice", Kind: suggest.KindTag, Term: "alice"},
		{ID: "tag:alicia", Kind: suggest.KindTag, Term: "alicia"},
		{ID: "tag:bob", Kind: suggest.KindTag, Term: "bob"},
	}))

	results, err := idx.Suggest(ctx, suggest.KindTag, "ali", 10)
	require.NoError(t, err)

	terms := make([]string, len(results))
	for i, r := range results {
		terms[i] = r.Term
	}
	assert.ElementsMatch(t, []string{"alice", "alicia"}, terms)
}

func TestSuggest_FuzzyFallbackCatchesTypo(t *testing.T) {
	idx, err := suggest.Open("")
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.IndexEntries(ctx, []suggest.Entry{
		{ID: "tag:landscape", Kind: suggest.KindTag, Term: "landscape"},
	}))

	results, err := idx.Suggest(ctx, suggest.KindTag, "lanscape", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "landscape", results[0].Term)
}

func TestSuggest_KindIsolatesPathFromTagMatches(t *testing.T) {
	idx, err := suggest.Open("")
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.IndexEntries(ctx, []suggest.Entry{
		{ID: "tag:photo", Kind: suggest.KindTag, Term: "photo"},
		{ID: "path:photo", Kind: suggest.KindPath, Term: "photo/album"},
	}))

	results, err := idx.Suggest(ctx, suggest.KindPath, "photo", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, suggest.KindPath, r.Kind)
	}
}
