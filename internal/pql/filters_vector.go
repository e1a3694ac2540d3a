package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// neighborsCTE seeds a VALUES table from preprocessing-resolved nearest
// neighbors and joins it to context through item_data, producing order_rank
// from the 1-based rank preprocessing already computed. The compiler never
// touches the vector index itself — by the time a node reaches here,
// Neighbors is already resolved.
func neighborsCTE(s *queryState, label string, neighbors []pqlmodel.RankedItemData, sort *pqlmodel.SortOptions, context cteRef) cteRef {
	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")

	if len(neighbors) == 0 {
		sql := fmt.Sprintf("SELECT %s, NULL AS order_rank FROM %s ctx WHERE 0", selCols, context.name)
		name := s.nextCTEName(label)
		return s.register(name, sql)
	}

	rows := make([]string, len(neighbors))
	for i, nb := range neighbors {
		rows[i] = fmt.Sprintf("(%s, %s)", s.bind(nb.ItemDataID), s.bind(nb.Rank))
	}
	valuesName := s.nextCTEName(label + "_values")
	valuesSQL := fmt.Sprintf(
		"SELECT column1 AS data_id, column2 AS order_rank FROM (VALUES %s)",
		joinStrings(rows, ", "),
	)
	valuesRef := s.register(valuesName, valuesSQL)

	rankCol := ""
	if sort != nil {
		rankCol = ", nb.order_rank AS order_rank"
	}

	sql := fmt.Sprintf(
		"SELECT %s%s FROM %s ctx\n"+
			"JOIN item_data d ON d.item_id = ctx.item_id\n"+
			"JOIN %s nb ON nb.data_id = d.id",
		selCols, rankCol, context.name, valuesRef.name,
	)
	name := s.nextCTEName(label)
	ref := s.register(name, sql)
	return finishSortable(s, ref, sort, pqlmodel.DirAsc)
}

func compileSimilarTo(s *queryState, n pqlmodel.SimilarTo, context cteRef) (cteRef, error) {
	return neighborsCTE(s, "similar_to", n.Neighbors, n.Sort, context), nil
}

func compileSemanticTextSearch(s *queryState, n pqlmodel.SemanticTextSearch, context cteRef) (cteRef, error) {
	return neighborsCTE(s, "semantic_text", n.Neighbors, n.Sort, context), nil
}

func compileSemanticImageSearch(s *queryState, n pqlmodel.SemanticImageSearch, context cteRef) (cteRef, error) {
	return neighborsCTE(s, "semantic_image", n.Neighbors, n.Sort, context), nil
}
