package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// compileMatch builds one CTE applying and_/or_/not_ comparison clauses
// over primitive columns, joined (INNER JOIN) against the parent context
// on identity columns. Match never produces an order_rank column.
func compileMatch(s *queryState, n pqlmodel.Match, context cteRef) (cteRef, error) {
	var whereParts []string

	if len(n.And) > 0 {
		clause, err := compileClauseGroup(s, n.And, " AND ")
		if err != nil {
			return cteRef{}, err
		}
		whereParts = append(whereParts, "("+clause+")")
	}
	if len(n.Or) > 0 {
		clause, err := compileClauseGroup(s, n.Or, " OR ")
		if err != nil {
			return cteRef{}, err
		}
		whereParts = append(whereParts, "("+clause+")")
	}
	if len(n.Not) > 0 {
		clause, err := compileClauseGroup(s, n.Not, " AND ")
		if err != nil {
			return cteRef{}, err
		}
		whereParts = append(whereParts, "NOT ("+clause+")")
	}

	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")

	where := ""
	if len(whereParts) > 0 {
		where = "\nWHERE " + joinStrings(whereParts, " AND ")
	}

	dataJoin := ""
	if s.entity == pqlmodel.EntityText {
		dataJoin = "\nJOIN item_data d ON d.id = ctx.data_id"
	}

	sql := fmt.Sprintf(
		"SELECT %s FROM %s ctx\nJOIN files f ON f.id = ctx.file_id\nJOIN items i ON i.id = ctx.item_id%s%s",
		selCols, context.name, dataJoin, where,
	)
	name := s.nextCTEName("match")
	return s.register(name, sql), nil
}

// compileClauseGroup renders a list of match clauses joined by glue.
func compileClauseGroup(s *queryState, clauses []pqlmodel.MatchClause, glue string) (string, error) {
	var parts []string
	for _, c := range clauses {
		col, err := columnSQL(c.Column)
		if err != nil {
			return "", err
		}
		expr, err := comparatorSQL(s, c.Comparator, col, c.Operand)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	return joinStrings(parts, glue), nil
}

func selectList(cols []string, alias string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c + " AS " + c
	}
	return out
}

func joinStrings(parts []string, glue string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += glue
		}
		out += p
	}
	return out
}
