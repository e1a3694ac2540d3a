package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// compileProcessedBy keeps rows where item_data carries at least one row
// produced by the named setter. Never sortable: existence has no rank.
func compileProcessedBy(s *queryState, n pqlmodel.ProcessedBy, context cteRef) (cteRef, error) {
	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")

	sql := fmt.Sprintf(
		"SELECT %s FROM %s ctx\n"+
			"WHERE EXISTS (\n"+
			"  SELECT 1 FROM item_data d\n"+
			"  JOIN setters ON setters.id = d.setter_id\n"+
			"  WHERE d.item_id = ctx.item_id AND setters.name = %s\n"+
			")",
		selCols, context.name, s.bind(n.Setter),
	)
	name := s.nextCTEName("processed_by")
	ref := s.register(name, sql)
	return ref, nil
}

// compileHasUnprocessedData finds origin item_data rows of the given types
// that lack a derived row produced by the named setter — i.e. work the
// extraction pipeline has not yet done for that setter.
func compileHasUnprocessedData(s *queryState, n pqlmodel.HasUnprocessedData, context cteRef) (cteRef, error) {
	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")

	var vals []any
	for _, t := range n.DataTypes {
		vals = append(vals, t)
	}
	typeList := s.bindAll(vals)

	sql := fmt.Sprintf(
		"SELECT %s FROM %s ctx\n"+
			"JOIN item_data origin ON origin.item_id = ctx.item_id AND origin.data_type IN (%s)\n"+
			"WHERE NOT EXISTS (\n"+
			"  SELECT 1 FROM item_data derived\n"+
			"  JOIN setters ON setters.id = derived.setter_id\n"+
			"  WHERE derived.source_id = origin.id AND setters.name = %s\n"+
			")",
		selCols, context.name, typeList, s.bind(n.Setter),
	)
	name := s.nextCTEName("unprocessed")
	ref := s.register(name, sql)
	return ref, nil
}
