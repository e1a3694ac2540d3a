package pql

import (
	"fmt"

	"github.com/panoptigo/gateway/internal/pqlmodel"
)

const (
	defaultSnippetStartTag  = "<b>"
	defaultSnippetEndTag    = "</b>"
	defaultSnippetEllipsis  = "..."
	defaultSnippetMaxTokens = 30
)

// compileMatchText applies an FTS5 MATCH over extracted_text, with
// setter/language/confidence/length filters, optional filter_only mode,
// and optional per-file best-snippet dedup via a ROW_NUMBER window.
func compileMatchText(s *queryState, n pqlmodel.MatchText, context cteRef) (cteRef, error) {
	if s.entity != pqlmodel.EntityText {
		return cteRef{}, errTextColumnInFile
	}

	var where []string
	if !n.FilterOnly && n.Query != "" {
		where = append(where, fmt.Sprintf("extracted_text_fts MATCH %s", s.bind(n.Query)))
	}
	if len(n.Setters) > 0 {
		var vals []any
		for _, v := range n.Setters {
			vals = append(vals, v)
		}
		where = append(where, "setters.name IN ("+s.bindAll(vals)+")")
	}
	if len(n.Languages) > 0 {
		var vals []any
		for _, v := range n.Languages {
			vals = append(vals, v)
		}
		where = append(where, "d.language IN ("+s.bindAll(vals)+")")
	}
	if n.MinLanguageConfidence != nil {
		where = append(where, fmt.Sprintf("d.language_confidence >= %s", s.bind(*n.MinLanguageConfidence)))
	}
	if n.MinConfidence != nil {
		where = append(where, fmt.Sprintf("d.confidence >= %s", s.bind(*n.MinConfidence)))
	}
	if n.MinLength != nil {
		where = append(where, fmt.Sprintf("length(d.text) >= %s", s.bind(*n.MinLength)))
	}
	if n.MaxLength != nil {
		where = append(where, fmt.Sprintf("length(d.text) <= %s", s.bind(*n.MaxLength)))
	}

	cols := identityColumns(s.entity)
	selCols := selectList(cols, "ctx")
	rankCol := ""
	if n.Sort != nil {
		rankCol = ", bm25(extracted_text_fts) AS order_rank"
	}

	snippetCol := ""
	if n.SelectSnippet {
		startTag, endTag, ellipsis, maxTokens := n.SnippetStartTag, n.SnippetEndTag, n.SnippetEllipsis, n.SnippetMaxTokens
		if startTag == "" {
			startTag = defaultSnippetStartTag
		}
		if endTag == "" {
			endTag = defaultSnippetEndTag
		}
		if ellipsis == "" {
			ellipsis = defaultSnippetEllipsis
		}
		if maxTokens == 0 {
			maxTokens = defaultSnippetMaxTokens
		}
		snippetCol = fmt.Sprintf(
			", snippet(extracted_text_fts, -1, %s, %s, %s, %s) AS snippet",
			s.bind(startTag), s.bind(endTag), s.bind(ellipsis), s.bind(maxTokens),
		)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "\nWHERE " + joinStrings(where, " AND ")
	}

	innerSQL := fmt.Sprintf(
		"SELECT %s%s%s FROM %s ctx\n"+
			"JOIN item_data d ON d.id = ctx.data_id\n"+
			"JOIN setters ON setters.id = d.setter_id\n"+
			"JOIN extracted_text_fts ON extracted_text_fts.rowid = d.id%s",
		selCols, rankCol, snippetCol, context.name, whereClause,
	)

	var ref cteRef
	if n.SelectSnippet {
		dedupName := s.nextCTEName("text_dedup")
		dedupSQL := fmt.Sprintf(
			"SELECT *, ROW_NUMBER() OVER (PARTITION BY file_id ORDER BY order_rank ASC) AS snippet_rn\n"+
				"FROM (\n%s\n)", innerSQL,
		)
		inner := s.register(dedupName, dedupSQL)
		outerName := s.nextCTEName("text")
		outerSQL := fmt.Sprintf("SELECT * FROM %s WHERE snippet_rn = 1", inner.name)
		ref = s.register(outerName, outerSQL)
	} else {
		name := s.nextCTEName("text")
		ref = s.register(name, innerSQL)
	}

	ref = finishSortable(s, ref, n.Sort, pqlmodel.DirAsc)
	return ref, nil
}
