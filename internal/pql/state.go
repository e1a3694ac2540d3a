package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

const (
	veryLargeNumber = "9223372036854775805"
	verySmallNumber = "-9223372036854775805"
)

// cteRef names a registered common table expression. Filters and
// combinators never build fully-qualified SQL by hand past this point;
// they compose cteRefs and let the state track definition order.
type cteRef struct {
	name string
}

// cteDef is one WITH-clause entry in definition order.
type cteDef struct {
	name string
	sql  string // a full SELECT statement, no trailing semicolon
}

// extraColumn is a (cte, column, alias) triple surfaced to the caller via
// the compiled query's alias map.
type extraColumn struct {
	cte    cteRef
	column string
	alias  string
}

// orderByFilter is one order_rank-producing registration from a leaf
// filter, queued until the final ORDER BY assembly pass.
type orderByFilter struct {
	cte      cteRef
	dir      pqlmodel.Direction
	priority int
	rrf      *pqlmodel.Rrf
}

// queryState threads through the whole compilation: a counter for stable
// CTE naming, the ordered list of registered CTEs, the pending order-by
// list, the pending extra-column list, and the entity flag. Mirrors the
// original system's QueryState exactly (see DESIGN.md).
type queryState struct {
	ctes        []cteDef
	cteCounter  int
	orderList   []orderByFilter
	extraCols   []extraColumn
	entity      pqlmodel.EntityType
	itemDataRef bool // true once a Text-entity leaf filter has registered a data_id column

	// args accumulates bind values in the exact order their '?'
	// placeholders appear across the rendered WITH clause + outer SELECT,
	// since CTEs are registered and their placeholders emitted in a
	// single-threaded, strictly sequential compilation pass.
	args []any
}

func newQueryState(entity pqlmodel.EntityType) *queryState {
	return &queryState{entity: entity}
}

// nextCTEName returns a fresh, collision-free CTE name with the given
// suffix (e.g. "match", "or", "tags").
func (s *queryState) nextCTEName(suffix string) string {
	name := fmt.Sprintf("n%d_%s", s.cteCounter, suffix)
	s.cteCounter++
	return name
}

// register adds a CTE definition to the state and returns its ref.
func (s *queryState) register(name, sql string) cteRef {
	s.ctes = append(s.ctes, cteDef{name: name, sql: sql})
	return cteRef{name: name}
}

// addOrder queues a filter-originated order_rank registration.
func (s *queryState) addOrder(ref cteRef, dir pqlmodel.Direction, priority int, rrf *pqlmodel.Rrf) {
	s.orderList = append(s.orderList, orderByFilter{cte: ref, dir: dir, priority: priority, rrf: rrf})
}

// addExtraColumn queues a (cte, column, alias) triple for the outer select.
func (s *queryState) addExtraColumn(ref cteRef, column, alias string) {
	s.extraCols = append(s.extraCols, extraColumn{cte: ref, column: column, alias: alias})
}

// bind appends a value to the positional argument list and returns "?".
func (s *queryState) bind(value any) string {
	s.args = append(s.args, value)
	return "?"
}

// bindAll appends every value in values and returns a "?, ?, ..." list.
func (s *queryState) bindAll(values []any) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += s.bind(v)
	}
	return out
}

// withClause renders every registered CTE as a single `WITH` clause body
// (without the leading "WITH" keyword), in definition order.
func (s *queryState) withClause() string {
	if len(s.ctes) == 0 {
		return ""
	}
	out := ""
	for i, d := range s.ctes {
		if i > 0 {
			out += ",\n"
		}
		out += fmt.Sprintf("%s AS (\n%s\n)", d.name, d.sql)
	}
	return out
}

func identityColumns(entity pqlmodel.EntityType) []string {
	if entity == pqlmodel.EntityText {
		return []string{"file_id", "item_id", "data_id"}
	}
	return []string{"file_id", "item_id"}
}
