package pql

import "github.com/panoptigo/gateway/internal/pqlmodel"

// columnSQL maps the closed Column enum to its physical table.column
// reference. A column outside the enum yields errUnknownColumn, a domain
// *Error like every other compilation failure.
func columnSQL(col pqlmodel.Column) (string, error) {
	switch col {
	case pqlmodel.ColumnFileID:
		return "f.id", nil
	case pqlmodel.ColumnItemID:
		return "f.item_id", nil
	case pqlmodel.ColumnDataID:
		return "d.id", nil
	case pqlmodel.ColumnPath:
		return "f.path", nil
	case pqlmodel.ColumnFilename:
		return "f.filename", nil
	case pqlmodel.ColumnSha256:
		return "i.sha256", nil
	case pqlmodel.ColumnMd5:
		return "f.md5", nil
	case pqlmodel.ColumnMimeType:
		return "f.mime_type", nil
	case pqlmodel.ColumnSize:
		return "f.size", nil
	case pqlmodel.ColumnWidth:
		return "i.width", nil
	case pqlmodel.ColumnHeight:
		return "i.height", nil
	case pqlmodel.ColumnDuration:
		return "i.duration", nil
	case pqlmodel.ColumnTimeAdded:
		return "f.time_added", nil
	case pqlmodel.ColumnLastModified:
		return "f.last_modified", nil
	case pqlmodel.ColumnTextContent:
		return "d.text", nil
	case pqlmodel.ColumnTextLanguage:
		return "d.language", nil
	case pqlmodel.ColumnTextConfidence:
		return "d.confidence", nil
	case pqlmodel.ColumnTextLength:
		return "length(d.text)", nil
	default:
		return "", errUnknownColumn
	}
}

// comparatorSQL renders one comparison clause, binding operand(s) through
// s so the final statement carries only positional placeholders.
func comparatorSQL(s *queryState, cmp pqlmodel.Comparator, col string, operand any) (string, error) {
	switch cmp {
	case pqlmodel.CmpEq:
		return col + " = " + s.bind(operand), nil
	case pqlmodel.CmpNeq:
		return col + " != " + s.bind(operand), nil
	case pqlmodel.CmpGt:
		return col + " > " + s.bind(operand), nil
	case pqlmodel.CmpGte:
		return col + " >= " + s.bind(operand), nil
	case pqlmodel.CmpLt:
		return col + " < " + s.bind(operand), nil
	case pqlmodel.CmpLte:
		return col + " <= " + s.bind(operand), nil
	case pqlmodel.CmpStartsWith:
		return col + " LIKE " + s.bind(operand) + " || '%'", nil
	case pqlmodel.CmpNotStartsWith:
		return col + " NOT LIKE " + s.bind(operand) + " || '%'", nil
	case pqlmodel.CmpEndsWith:
		return col + " LIKE '%' || " + s.bind(operand), nil
	case pqlmodel.CmpNotEndsWith:
		return col + " NOT LIKE '%' || " + s.bind(operand), nil
	case pqlmodel.CmpContains:
		return col + " LIKE '%' || " + s.bind(operand) + " || '%'", nil
	case pqlmodel.CmpNotContains:
		return col + " NOT LIKE '%' || " + s.bind(operand) + " || '%'", nil
	case pqlmodel.CmpIn, pqlmodel.CmpNin:
		values, ok := operand.([]any)
		if !ok || len(values) == 0 {
			return "", errEmptyIn
		}
		op := "IN"
		if cmp == pqlmodel.CmpNin {
			op = "NOT IN"
		}
		return col + " " + op + " (" + s.bindAll(values) + ")", nil
	default:
		return "", errComparatorOperand
	}
}
