package pql

import "github.com/panoptigo/gateway/internal/pqlmodel"

// rootCTE builds the unfiltered identity source: every file joined to its
// item, and — for EntityText — every item_data row of type 'text' joined
// in too. This is the context a bare PqlQuery{Filter: nil} resolves
// against, and the shared root an Or composite chains its children from.
func rootCTE(s *queryState) cteRef {
	var sql string
	if s.entity == pqlmodel.EntityText {
		sql = "SELECT f.id AS file_id, f.item_id AS item_id, d.id AS data_id\n" +
			"FROM files f\n" +
			"JOIN item_data d ON d.item_id = f.item_id AND d.type = 'text'"
	} else {
		sql = "SELECT f.id AS file_id, f.item_id AS item_id\n" +
			"FROM files f"
	}
	name := s.nextCTEName("root")
	return s.register(name, sql)
}

// selectIdentity renders "SELECT <identity columns> FROM <cte>" for the
// given context, used by Or's UNION branches and by And's chaining joins.
func selectIdentity(s *queryState, ctx cteRef) string {
	cols := identityColumns(s.entity)
	out := "SELECT "
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	out += " FROM " + ctx.name
	return out
}
