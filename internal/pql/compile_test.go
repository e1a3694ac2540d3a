package pql_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panoptigo/gateway/internal/pql"
	"github.com/panoptigo/gateway/internal/pqlmodel"
)

func TestCompile_MatchByPathPrefix(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.Match{
			And: []pqlmodel.MatchClause{
				{Column: pqlmodel.ColumnPath, Comparator: pqlmodel.CmpStartsWith, Operand: "/music/"},
			},
		},
		Select:   []pqlmodel.Column{pqlmodel.ColumnPath},
		PageSize: 50,
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "LIKE ? || '%'")
	assert.Equal(t, []any{"/music/"}, compiled.Args)
	assert.False(t, compiled.CheckPath)
	assert.Contains(t, compiled.AliasMap, "path")
}

func TestCompile_PartitionByItem_DedupsToOneRowPerItem(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity:      pqlmodel.EntityFile,
		PartitionBy: []pqlmodel.Column{pqlmodel.ColumnItemID},
		PageSize:    20,
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "ROW_NUMBER() OVER (PARTITION BY")
	assert.Contains(t, compiled.SQL, "partition_row_num = 1")
}

func TestCompile_InBookmarks_WildcardUser(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.InBookmarks{
			User:            "alice",
			IncludeWildcard: true,
			Namespaces:      []string{"default"},
		},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "b.user = ? OR b.user = '*'")
	assert.Equal(t, []any{"alice", "default"}, compiled.Args)
}

func TestCompile_MatchTextOnFileEntity_RejectsTextColumn(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Select: []pqlmodel.Column{pqlmodel.ColumnTextContent},
	}

	_, err := pql.Compile(query)
	assert.Error(t, err)
}

func TestCompile_MatchTextFilter_RequiresTextEntity(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.MatchText{Query: "invoice"},
	}

	_, err := pql.Compile(query)
	assert.Error(t, err)
}

func TestCompile_Count_SuppressesSelectAndOrdering(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Count:  true,
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "COUNT(*) AS count")
	assert.NotContains(t, compiled.SQL, "ORDER BY")
	assert.NotContains(t, compiled.SQL, "LIMIT")
}

func TestCompile_CountWithPartitionBy_CountsDistinctKeys(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity:      pqlmodel.EntityFile,
		Count:       true,
		PartitionBy: []pqlmodel.Column{pqlmodel.ColumnItemID},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "COUNT(DISTINCT")
}

func TestCompile_Determinism_SameQueryProducesSameSQL(t *testing.T) {
	build := func() pqlmodel.PqlQuery {
		return pqlmodel.PqlQuery{
			Entity: pqlmodel.EntityFile,
			Filter: pqlmodel.And{Children: []pqlmodel.Node{
				pqlmodel.Match{And: []pqlmodel.MatchClause{
					{Column: pqlmodel.ColumnSize, Comparator: pqlmodel.CmpGt, Operand: int64(1024)},
				}},
				pqlmodel.MatchTags{Tags: []string{"cat", "dog"}, Mode: pqlmodel.TagMatchAllTags},
			}},
			Select: []pqlmodel.Column{pqlmodel.ColumnPath, pqlmodel.ColumnSize},
		}
	}

	first, err := pql.Compile(build())
	require.NoError(t, err)
	second, err := pql.Compile(build())
	require.NoError(t, err)

	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Args, second.Args)
}

func TestCompile_MatchTags_AllSettersAllTags_UsesCompositeHaving(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.MatchTags{
			Tags:    []string{"cat", "dog"},
			Setters: []string{"vision-model"},
			Mode:    pqlmodel.TagMatchAllSettersAllTags,
		},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "HAVING COUNT(DISTINCT (setters.id || '-' || tags.name)) = 2")
	assert.NotContains(t, compiled.SQL, "GROUP BY ctx.file_id, ctx.item_id, (setters.id")
}

func TestCompile_OrderByRandom_UsesRandomFunction(t *testing.T) {
	dir := pqlmodel.DirAsc
	query := pqlmodel.PqlQuery{
		Entity:  pqlmodel.EntityFile,
		OrderBy: []pqlmodel.OrderArgs{{OrderBy: pqlmodel.OrderByRandom, Order: &dir, Priority: 1}},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "RANDOM()")
}

func TestCompile_MatchPath_SetsCheckPath(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.MatchPath{Query: "invoice*"},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.True(t, compiled.CheckPath)
}

func TestCompile_EmptyAnd_ReturnsDomainError(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.And{Children: nil},
	}

	_, err := pql.Compile(query)
	assert.Error(t, err)
}

func TestCompile_SimilarTo_ResolvedNeighbors_SeedsValuesCTE(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.SimilarTo{
			TargetSha256: "abc123",
			Setter:       "clip",
			TopK:         3,
			Neighbors: []pqlmodel.RankedItemData{
				{ItemDataID: 10, Rank: 1},
				{ItemDataID: 11, Rank: 2},
			},
		},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "VALUES")
	assert.Equal(t, []any{int64(10), 1, int64(11), 2}, compiled.Args)
}

func TestCompile_SimilarTo_NoNeighbors_ProducesEmptyResult(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.SimilarTo{TargetSha256: "abc123", Setter: "clip"},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "WHERE 0")
}

func TestCompile_BindOrderMatchesPlaceholderOrder(t *testing.T) {
	query := pqlmodel.PqlQuery{
		Entity: pqlmodel.EntityFile,
		Filter: pqlmodel.Match{
			And: []pqlmodel.MatchClause{
				{Column: pqlmodel.ColumnSize, Comparator: pqlmodel.CmpGt, Operand: int64(100)},
				{Column: pqlmodel.ColumnMimeType, Comparator: pqlmodel.CmpEq, Operand: "image/png"},
			},
		},
	}

	compiled, err := pql.Compile(query)
	require.NoError(t, err)

	placeholders := strings.Count(compiled.SQL, "?")
	assert.Equal(t, len(compiled.Args), placeholders)
	assert.Equal(t, []any{int64(100), "image/png"}, compiled.Args)
}
