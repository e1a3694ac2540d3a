package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// finishSortable applies sort-bound cursoring (Gt/Lt on order_rank) by
// wrapping ref in a new CTE, queues the filter's order_rank for the final
// ORDER BY assembly, and returns the (possibly wrapped) ref callers should
// treat as this filter's result. ref's own SELECT must already project an
// `order_rank` column. If sort is nil the filter produced no ranking and
// ref is returned unchanged.
func finishSortable(s *queryState, ref cteRef, sort *pqlmodel.SortOptions, dir pqlmodel.Direction) cteRef {
	if sort == nil {
		return ref
	}

	result := ref
	if sort.Gt != nil || sort.Lt != nil {
		where := ""
		if sort.Gt != nil {
			where = fmt.Sprintf("order_rank > %s", s.bind(*sort.Gt))
		}
		if sort.Lt != nil {
			if where != "" {
				where += " AND "
			}
			where += fmt.Sprintf("order_rank < %s", s.bind(*sort.Lt))
		}
		sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", ref.name, where)
		name := s.nextCTEName("cursor")
		result = s.register(name, sql)
	}

	s.addOrder(result, dir, sort.Priority, sort.Rrf)
	return result
}
