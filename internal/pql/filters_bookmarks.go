package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// compileInBookmarks joins against the user_data DB's bookmarks table
// (attached under schema alias user_data), honoring the '*' wildcard
// owner and optional namespace filter, orderable by MAX(time_added).
func compileInBookmarks(s *queryState, n pqlmodel.InBookmarks, context cteRef) (cteRef, error) {
	userPred := fmt.Sprintf("b.user = %s", s.bind(n.User))
	if n.IncludeWildcard {
		userPred = fmt.Sprintf("(%s OR b.user = '*')", userPred)
	}
	where := []string{userPred}
	if len(n.Namespaces) > 0 {
		var vals []any
		for _, ns := range n.Namespaces {
			vals = append(vals, ns)
		}
		where = append(where, "b.namespace IN ("+s.bindAll(vals)+")")
	}

	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")
	rankCol := ""
	groupBy := ""
	if n.Sort != nil {
		rankCol = ", MAX(b.time_added) AS order_rank"
		groupBy = "\nGROUP BY " + identityColumnList(cols, "ctx")
	}

	sql := fmt.Sprintf(
		"SELECT %s%s FROM %s ctx\n"+
			"JOIN items i ON i.id = ctx.item_id\n"+
			"JOIN user_data.bookmarks b ON b.sha256 = i.sha256\n"+
			"WHERE %s%s",
		selCols, rankCol, context.name, joinStrings(where, " AND "), groupBy,
	)
	name := s.nextCTEName("bookmarks")
	ref := s.register(name, sql)
	ref = finishSortable(s, ref, n.Sort, pqlmodel.DirDesc)
	return ref, nil
}
