package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// compileMatchPath applies an FTS5 MATCH over the path/filename virtual
// table (files_fts), optionally dropping the MATCH clause entirely in
// filter_only mode while still joining bm25 rank when sortable.
func compileMatchPath(s *queryState, n pqlmodel.MatchPath, context cteRef) (cteRef, error) {
	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")

	rankCol := ""
	if n.Sort != nil {
		rankCol = ", bm25(files_fts) AS order_rank"
	}

	where := ""
	if !n.FilterOnly {
		where = fmt.Sprintf("\nWHERE files_fts MATCH %s", s.bind(n.Query))
	}

	sql := fmt.Sprintf(
		"SELECT %s%s FROM %s ctx\nJOIN files_fts ON files_fts.rowid = ctx.file_id%s",
		selCols, rankCol, context.name, where,
	)
	name := s.nextCTEName("path")
	ref := s.register(name, sql)
	ref = finishSortable(s, ref, n.Sort, pqlmodel.DirAsc)
	return ref, nil
}
