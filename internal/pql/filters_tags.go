package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// compileMatchTags applies set logic over tag name/namespace/setter/
// confidence with one of three grouping modes:
//   - TagMatchAny: no HAVING clause, any matching tag qualifies (DISTINCT).
//   - TagMatchAllTags: GROUP BY identity, HAVING COUNT(DISTINCT tag_name) = len(Tags).
//   - TagMatchAllSettersAllTags: GROUP BY identity, HAVING
//     COUNT(DISTINCT setter_id||'-'||tag_name) = len(Setters)*len(Tags),
//     i.e. every (setter, tag) pair present.
//
// When Sort is set, the CTE projects MAX(tags_items.confidence) per
// identity as order_rank (grouping by identity in TagMatchAny too).
func compileMatchTags(s *queryState, n pqlmodel.MatchTags, context cteRef) (cteRef, error) {
	var where []string
	if len(n.Tags) > 0 {
		var vals []any
		for _, t := range n.Tags {
			vals = append(vals, t)
		}
		where = append(where, "tags.name IN ("+s.bindAll(vals)+")")
	}
	if n.NamespacePrefix != "" {
		where = append(where, fmt.Sprintf("tags.namespace LIKE %s || '%%'", s.bind(n.NamespacePrefix)))
	}
	if len(n.Setters) > 0 {
		var vals []any
		for _, v := range n.Setters {
			vals = append(vals, v)
		}
		where = append(where, "setters.name IN ("+s.bindAll(vals)+")")
	}
	if n.MinConfidence != nil {
		where = append(where, fmt.Sprintf("tags_items.confidence >= %s", s.bind(*n.MinConfidence)))
	}

	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")
	whereClause := ""
	if len(where) > 0 {
		whereClause = "\nWHERE " + joinStrings(where, " AND ")
	}

	joinSQL := fmt.Sprintf(
		"FROM %s ctx\n"+
			"JOIN tags_items ON tags_items.item_id = ctx.item_id\n"+
			"JOIN tags ON tags.id = tags_items.tag_id\n"+
			"JOIN setters ON setters.id = tags_items.setter_id%s",
		context.name, whereClause,
	)

	rank := ""
	if n.Sort != nil {
		rank = ", MAX(tags_items.confidence) AS order_rank"
	}

	var sql string
	switch n.Mode {
	case pqlmodel.TagMatchAllTags:
		sql = fmt.Sprintf(
			"SELECT %s%s\n%s\nGROUP BY %s\nHAVING COUNT(DISTINCT tags.name) = %d",
			selCols, rank, joinSQL, identityColumnList(cols, "ctx"), len(n.Tags),
		)
	case pqlmodel.TagMatchAllSettersAllTags:
		want := len(n.Setters) * len(n.Tags)
		sql = fmt.Sprintf(
			"SELECT %s%s\n%s\nGROUP BY %s\nHAVING COUNT(DISTINCT (setters.id || '-' || tags.name)) = %d",
			selCols, rank, joinSQL, identityColumnList(cols, "ctx"), want,
		)
	default: // TagMatchAny
		if rank != "" {
			sql = fmt.Sprintf("SELECT %s%s\n%s\nGROUP BY %s", selCols, rank, joinSQL, identityColumnList(cols, "ctx"))
		} else {
			sql = fmt.Sprintf("SELECT DISTINCT %s\n%s", selCols, joinSQL)
		}
	}

	name := s.nextCTEName("tags")
	ref := s.register(name, sql)
	ref = finishSortable(s, ref, n.Sort, pqlmodel.DirDesc)
	return ref, nil
}

func identityColumnList(cols []string, alias string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}
