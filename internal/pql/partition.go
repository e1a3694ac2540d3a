package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// physicalJoinSQL renders the files/items (and, for EntityText, item_data)
// joins against ref under the given alias, so an expression in the same
// SELECT can reference Column-enum physical columns (f.path, i.duration,
// d.language, ...) directly — these joins must live in the same statement
// as the expression using them, not behind a separate CTE boundary, since a
// CTE only exposes the columns it explicitly projects.
func physicalJoinSQL(alias string, entity pqlmodel.EntityType) string {
	joins := fmt.Sprintf("\nJOIN files f ON f.id = %s.file_id\nJOIN items i ON i.id = %s.item_id", alias, alias)
	if entity == pqlmodel.EntityText {
		joins += fmt.Sprintf("\nJOIN item_data d ON d.id = %s.data_id", alias)
	}
	return joins
}

// applyPartitionBy dedups rows to one per distinct combination of
// partitionBy columns, keeping the first row under orderClause (SQLite's
// otherwise-unspecified order breaks ties when orderClause is empty).
// ref.* is preserved so any order_rank/fused rank columns buildOrdering
// already produced survive into the outer SELECT's ORDER BY.
func applyPartitionBy(s *queryState, entity pqlmodel.EntityType, ref cteRef, partitionBy []pqlmodel.Column, orderClause string) (cteRef, error) {
	if len(partitionBy) == 0 {
		return ref, nil
	}

	var partitionCols []string
	for _, c := range partitionBy {
		physical, err := columnSQL(c)
		if err != nil {
			return cteRef{}, err
		}
		partitionCols = append(partitionCols, physical)
	}

	over := "PARTITION BY " + joinStrings(partitionCols, ", ")
	if orderClause != "" {
		over += " ORDER BY " + orderClause
	}

	sql := fmt.Sprintf(
		"SELECT ref.*, ROW_NUMBER() OVER (%s) AS partition_row_num FROM %s ref%s",
		over, ref.name, physicalJoinSQL("ref", entity),
	)
	dedupName := s.nextCTEName("partitioned")
	dedup := s.register(dedupName, sql)

	finalSQL := fmt.Sprintf("SELECT * FROM %s WHERE partition_row_num = 1", dedup.name)
	name := s.nextCTEName("partition_filtered")
	return s.register(name, finalSQL), nil
}

// countSQL builds the terminal COUNT query. With partitionBy it counts
// distinct partition-key combinations (columns concatenated with a unit
// separator, matching SQLite's lack of multi-column COUNT(DISTINCT a, b));
// otherwise it is a plain COUNT(*).
func countSQL(entity pqlmodel.EntityType, ref cteRef, partitionBy []pqlmodel.Column) (string, error) {
	if len(partitionBy) == 0 {
		return fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", ref.name), nil
	}
	var partitionCols []string
	for _, c := range partitionBy {
		physical, err := columnSQL(c)
		if err != nil {
			return "", err
		}
		partitionCols = append(partitionCols, physical)
	}
	concat := joinStrings(partitionCols, " || '\x1f' || ")
	sql := fmt.Sprintf(
		"SELECT COUNT(DISTINCT (%s)) AS count FROM %s ref%s",
		concat, ref.name, physicalJoinSQL("ref", entity),
	)
	return sql, nil
}
