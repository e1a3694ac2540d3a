package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// process compiles one node of the filter tree against the given parent
// context, returning the CTE that represents its result. This is the
// single recursive entry point every combinator and leaf filter goes
// through — see Design Note "Cyclic/recursive query nodes".
func process(s *queryState, node pqlmodel.Node, context cteRef) (cteRef, error) {
	switch n := node.(type) {
	case pqlmodel.And:
		return processAnd(s, n, context)
	case pqlmodel.Or:
		return processOr(s, n, context)
	case pqlmodel.Not:
		return processNot(s, n, context)
	case pqlmodel.Match:
		return compileMatch(s, n, context)
	case pqlmodel.MatchPath:
		return compileMatchPath(s, n, context)
	case pqlmodel.MatchText:
		return compileMatchText(s, n, context)
	case pqlmodel.MatchTags:
		return compileMatchTags(s, n, context)
	case pqlmodel.InBookmarks:
		return compileInBookmarks(s, n, context)
	case pqlmodel.ProcessedBy:
		return compileProcessedBy(s, n, context)
	case pqlmodel.HasUnprocessedData:
		return compileHasUnprocessedData(s, n, context)
	case pqlmodel.SimilarTo:
		return compileSimilarTo(s, n, context)
	case pqlmodel.SemanticTextSearch:
		return compileSemanticTextSearch(s, n, context)
	case pqlmodel.SemanticImageSearch:
		return compileSemanticImageSearch(s, n, context)
	default:
		return cteRef{}, invalid("unsupported filter node type %T", node)
	}
}

// processAnd chains children sequentially: each child receives the
// previous child's CTE as its filtering context.
func processAnd(s *queryState, n pqlmodel.And, context cteRef) (cteRef, error) {
	if len(n.Children) == 0 {
		return cteRef{}, errEmptyAnd
	}
	current := context
	var err error
	for _, child := range n.Children {
		current, err = process(s, child, current)
		if err != nil {
			return cteRef{}, err
		}
	}
	return current, nil
}

// processOr unions children under the shared root context, each branch
// filtered independently against the same starting point.
func processOr(s *queryState, n pqlmodel.Or, context cteRef) (cteRef, error) {
	if len(n.Children) == 0 {
		return cteRef{}, errEmptyOr
	}
	first, err := process(s, n.Children[0], context)
	if err != nil {
		return cteRef{}, err
	}
	sql := selectIdentity(s, first)
	for _, child := range n.Children[1:] {
		childCTE, err := process(s, child, context)
		if err != nil {
			return cteRef{}, err
		}
		sql += "\nUNION\n" + selectIdentity(s, childCTE)
	}
	name := s.nextCTEName("or")
	return s.register(name, sql), nil
}

// processNot LEFT JOINs the child on identity columns and keeps rows
// where the join produced no match — the anti-join idiom.
func processNot(s *queryState, n pqlmodel.Not, context cteRef) (cteRef, error) {
	childCTE, err := process(s, n.Child, context)
	if err != nil {
		return cteRef{}, err
	}
	cols := identityColumns(s.entity)
	selCols := ""
	nullCheck := ""
	for i, c := range cols {
		if i > 0 {
			selCols += ", "
		}
		selCols += "ctx." + c + " AS " + c
		if i > 0 {
			nullCheck += " AND "
		}
		nullCheck += "child." + c + " IS NULL"
	}
	sql := fmt.Sprintf(
		"SELECT %s FROM %s ctx\nLEFT JOIN %s child ON %s\nWHERE %s",
		selCols, context.name, childCTE.name, joinAliased(cols, "ctx", "child"), nullCheck,
	)
	name := s.nextCTEName("not")
	return s.register(name, sql), nil
}

func joinAliased(cols []string, left, right string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += " AND "
		}
		out += left + "." + c + " = " + right + "." + c
	}
	return out
}
