package pql

import (
	"fmt"
	"sort"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// orderGroup collects every filter-originated order_rank source sharing one
// priority level; same-priority sources are fused into a single composite
// rank rather than chained as ORDER BY tiebreakers.
type orderGroup struct {
	priority int
	entries  []orderByFilter
}

// groupOrderEntries buckets queryState.orderList by priority, highest first.
func groupOrderEntries(list []orderByFilter) []orderGroup {
	byPriority := map[int][]orderByFilter{}
	for _, e := range list {
		byPriority[e.priority] = append(byPriority[e.priority], e)
	}
	var groups []orderGroup
	for p, entries := range byPriority {
		groups = append(groups, orderGroup{priority: p, entries: entries})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].priority > groups[j].priority })
	return groups
}

// fusedExpr renders one priority group's composite rank expression. When any
// member carries RRF parameters the whole group fuses via weighted
// reciprocal-rank-sum (always "higher is better", so the caller orders it
// descending); otherwise it falls back to MIN/MAX+COALESCE over the raw
// order_rank columns, oriented by the group's (shared) direction.
func fusedExpr(entries []orderByFilter, colName func(int) string) (expr string, desc bool) {
	hasRrf := false
	for _, e := range entries {
		if e.rrf != nil {
			hasRrf = true
			break
		}
	}
	if hasRrf {
		terms := make([]string, len(entries))
		for i, e := range entries {
			rrf := pqlmodel.DefaultRrf()
			if e.rrf != nil {
				rrf = *e.rrf
			}
			terms[i] = fmt.Sprintf(
				"(%f / (%f + COALESCE(%s, %s)))",
				rrf.Weight, rrf.K, colName(i), veryLargeNumber,
			)
		}
		return joinStrings(terms, " + "), true
	}

	dir := entries[0].dir
	if dir == pqlmodel.DirAsc {
		cols := make([]string, len(entries))
		for i := range entries {
			cols[i] = fmt.Sprintf("COALESCE(%s, %s)", colName(i), veryLargeNumber)
		}
		return "MIN(" + joinStrings(cols, ", ") + ")", false
	}
	cols := make([]string, len(entries))
	for i := range entries {
		cols[i] = fmt.Sprintf("COALESCE(%s, %s)", colName(i), verySmallNumber)
	}
	return "MAX(" + joinStrings(cols, ", ") + ")", true
}

// plainColumnSQL maps a caller OrderByField to its source expression over
// the files/items join ordering.go adds to the fused CTE. OrderByRandom is
// intentionally non-deterministic: it must never be treated as stable
// across pages, matching the caller's expectation that Random defeats
// cursoring.
func plainColumnSQL(field pqlmodel.OrderByField) string {
	switch field {
	case pqlmodel.OrderByLastModified:
		return "f.last_modified"
	case pqlmodel.OrderByTimeAdded:
		return "i.time_added"
	case pqlmodel.OrderBySize:
		return "f.size"
	case pqlmodel.OrderByDuration:
		return "i.duration"
	case pqlmodel.OrderByPath:
		return "f.path"
	case pqlmodel.OrderByRandom:
		return "RANDOM()"
	default:
		return "f.last_modified"
	}
}

func defaultDirection(field pqlmodel.OrderByField) pqlmodel.Direction {
	if field == pqlmodel.OrderByPath {
		return pqlmodel.DirAsc
	}
	return pqlmodel.DirDesc
}

// buildOrdering joins every queued filter order source onto base, fuses
// same-priority groups, and returns the CTE carrying the fused/plain rank
// columns alongside an ORDER BY clause text for the outermost SELECT.
// Priority governs precedence: higher values sort earlier. When no ordering
// was requested at all, base is returned unchanged with an empty clause —
// callers fall back to whatever SQLite's natural row order happens to be.
func buildOrdering(s *queryState, base cteRef, orderArgs []pqlmodel.OrderArgs) (cteRef, string) {
	groups := groupOrderEntries(s.orderList)
	if len(groups) == 0 && len(orderArgs) == 0 {
		return base, ""
	}

	cols := identityColumns(s.entity)
	selCols := selectList(cols, "base")
	joins := "\nJOIN files f ON f.id = base.file_id\nJOIN items i ON i.id = base.item_id"

	type groupCol struct {
		group orderGroup
		alias string
		expr  string
		desc  bool
	}
	var groupCols []groupCol

	for gi, g := range groups {
		for ei, e := range g.entries {
			alias := fmt.Sprintf("r%d_%d", gi, ei)
			joins += fmt.Sprintf("\nLEFT JOIN %s %s ON %s", e.cte.name, alias, joinAliased(cols, "base", alias))
		}
		colName := func(i int) string { return fmt.Sprintf("r%d_%d.order_rank", gi, i) }
		expr, desc := fusedExpr(g.entries, colName)
		groupCols = append(groupCols, groupCol{group: g, alias: fmt.Sprintf("fused_%d", gi), expr: expr, desc: desc})
		selCols += fmt.Sprintf(", %s AS %s", expr, groupCols[len(groupCols)-1].alias)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s base%s", selCols, base.name, joins)
	name := s.nextCTEName("ordered")
	ref := s.register(name, sql)

	type orderEntry struct {
		priority int
		column   string
		desc     bool
	}
	var entries []orderEntry
	for _, gc := range groupCols {
		entries = append(entries, orderEntry{priority: gc.group.priority, column: gc.alias, desc: gc.desc})
	}
	for _, oa := range orderArgs {
		dir := defaultDirection(oa.OrderBy)
		if oa.Order != nil {
			dir = *oa.Order
		}
		entries = append(entries, orderEntry{
			priority: oa.Priority,
			column:   plainColumnSQL(oa.OrderBy),
			desc:     dir == pqlmodel.DirDesc,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })

	clause := ""
	for i, e := range entries {
		if i > 0 {
			clause += ", "
		}
		clause += e.column
		if e.desc {
			clause += " DESC"
		} else {
			clause += " ASC"
		}
	}

	return ref, clause
}
