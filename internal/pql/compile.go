// Package pql compiles a pqlmodel.PqlQuery into a parameterized SQLite
// statement: a WITH clause of CTEs built bottom-up from the filter tree,
// plus an outer SELECT carrying pagination, ordering, partition dedup, and
// (in count mode) a terminal aggregate. The compiler performs no I/O and
// never returns anything but domain errors — see the corpus's Design Note
// "PQL compilation errors are not SQL errors".
package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// CompiledQuery is everything a caller needs to execute the compiled
// statement: the rendered SQL, its positional bind arguments in order, a
// map from caller-facing output alias to the physical column it came from,
// and whether the source tree ever matched against file path/filename
// (callers use this to decide whether a path-based permission recheck is
// required before returning rows — see internal/policy).
type CompiledQuery struct {
	SQL       string
	Args      []any
	AliasMap  map[string]string
	CheckPath bool
}

// Compile turns a validated PqlQuery into a CompiledQuery. It never touches
// a database connection: SimilarTo/SemanticTextSearch/SemanticImageSearch
// nodes must already carry their resolved Neighbors by the time they reach
// here (see pqlmodel.RankedItemData) — resolving them against the vector
// index is the caller's preprocessing responsibility.
func Compile(query pqlmodel.PqlQuery) (*CompiledQuery, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	s := newQueryState(query.Entity)
	root := rootCTE(s)

	ctx := root
	if query.Filter != nil {
		var err error
		ctx, err = process(s, query.Filter, root)
		if err != nil {
			return nil, err
		}
	}

	if query.Count {
		count, err := countSQL(query.Entity, ctx, query.PartitionBy)
		if err != nil {
			return nil, err
		}
		sql := fmt.Sprintf("WITH %s\n%s", s.withClause(), count)
		return &CompiledQuery{SQL: sql, Args: s.args, AliasMap: map[string]string{"count": "count"}, CheckPath: checkPath(query.Filter)}, nil
	}

	ordered, orderClause := buildOrdering(s, ctx, query.OrderBy)

	final, err := applyPartitionBy(s, query.Entity, ordered, query.PartitionBy, orderClause)
	if err != nil {
		return nil, err
	}

	selCols, aliasMap, err := finalSelectList(query, final.name)
	if err != nil {
		return nil, err
	}

	physicalJoins := "\nJOIN files f ON f.id = final.file_id\nJOIN items i ON i.id = final.item_id"
	if query.Entity == pqlmodel.EntityText {
		physicalJoins += "\nJOIN item_data d ON d.id = final.data_id"
	}

	sql := fmt.Sprintf("SELECT %s FROM %s final%s", selCols, final.name, physicalJoins)
	if orderClause != "" {
		sql += "\nORDER BY " + orderClause
	}
	if query.PageSize > 0 {
		sql += fmt.Sprintf("\nLIMIT %d OFFSET %d", query.PageSize, query.Page*query.PageSize)
	}
	sql = fmt.Sprintf("WITH %s\n%s", s.withClause(), sql)

	return &CompiledQuery{SQL: sql, Args: s.args, AliasMap: aliasMap, CheckPath: checkPath(query.Filter)}, nil
}

// validateQuery rejects queries whose Select/OrderBy/PartitionBy reference
// Text-only columns against a File-entity query — the one static check the
// compiler performs before any SQL is built, per the corpus's Design Note
// "Filter validity depends on entity type".
func validateQuery(query pqlmodel.PqlQuery) error {
	if query.Entity == pqlmodel.EntityText {
		return nil
	}
	for _, c := range query.Select {
		if pqlmodel.IsTextColumn(c) {
			return errTextColumnInFile
		}
	}
	for c := range query.SelectAs {
		if pqlmodel.IsTextColumn(c) {
			return errTextColumnInFile
		}
	}
	for _, c := range query.PartitionBy {
		if pqlmodel.IsTextColumn(c) {
			return errTextColumnInFile
		}
	}
	return nil
}

// finalSelectList renders the outermost projected columns: identity columns
// sourced from fromName (the post-ordering/partition CTE) plus every
// caller-requested Select column, sourced from the files/items/item_data
// joins Compile adds alongside fromName, under its SelectAs alias (or
// default name).
func finalSelectList(query pqlmodel.PqlQuery, fromName string) (string, map[string]string, error) {
	aliasMap := map[string]string{}
	cols := []string{fromName + ".file_id AS file_id", fromName + ".item_id AS item_id"}
	aliasMap["file_id"] = "file_id"
	aliasMap["item_id"] = "item_id"
	if query.Entity == pqlmodel.EntityText {
		cols = append(cols, fromName+".data_id AS data_id")
		aliasMap["data_id"] = "data_id"
	}

	for _, c := range query.Select {
		alias := defaultColumnAlias(c)
		if a, ok := query.SelectAs[c]; ok {
			alias = a
		}
		physical, err := columnSQL(c)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, fmt.Sprintf("%s AS %s", physical, alias))
		aliasMap[alias] = physical
	}

	return joinStrings(cols, ", "), aliasMap, nil
}

func defaultColumnAlias(c pqlmodel.Column) string {
	switch c {
	case pqlmodel.ColumnPath:
		return "path"
	case pqlmodel.ColumnFilename:
		return "filename"
	case pqlmodel.ColumnSha256:
		return "sha256"
	case pqlmodel.ColumnMd5:
		return "md5"
	case pqlmodel.ColumnMimeType:
		return "mime_type"
	case pqlmodel.ColumnSize:
		return "size"
	case pqlmodel.ColumnWidth:
		return "width"
	case pqlmodel.ColumnHeight:
		return "height"
	case pqlmodel.ColumnDuration:
		return "duration"
	case pqlmodel.ColumnTimeAdded:
		return "time_added"
	case pqlmodel.ColumnLastModified:
		return "last_modified"
	case pqlmodel.ColumnTextContent:
		return "text"
	case pqlmodel.ColumnTextLanguage:
		return "language"
	case pqlmodel.ColumnTextConfidence:
		return "confidence"
	case pqlmodel.ColumnTextLength:
		return "text_length"
	default:
		return "value"
	}
}

// checkPath reports whether the filter tree contains a MatchPath node,
// walking And/Or/Not the same way process does. Callers use this to decide
// whether results need a path-permission recheck (internal/policy) before
// they leave the gateway, since a MATCH over files_fts can surface rows a
// ruleset's path allowlist would otherwise have excluded pre-filter.
func checkPath(node pqlmodel.Node) bool {
	switch n := node.(type) {
	case nil:
		return false
	case pqlmodel.MatchPath:
		return true
	case pqlmodel.And:
		for _, c := range n.Children {
			if checkPath(c) {
				return true
			}
		}
	case pqlmodel.Or:
		for _, c := range n.Children {
			if checkPath(c) {
				return true
			}
		}
	case pqlmodel.Not:
		return checkPath(n.Child)
	}
	return false
}
