package schema

import (
	"strings"

	"xer/internal/value"
)

// SynthesizeColumns types the fields of a table that has no definition,
// guessing from the field name. A name equal to "seq_num" or containing
// "id" becomes Integer, one containing "date" becomes Timestamp, anything
// else is Text. Blank and repeated names are skipped.
//
// The guess is best effort: "void_id_reason" becomes Integer.
func SynthesizeColumns(fields []string) []Column {
	cols := make([]Column, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		cols = append(cols, Column{Name: f, Type: guessType(f)})
	}
	return cols
}

func guessType(field string) value.Type {
	n := strings.ToLower(field)
	switch {
	case n == "seq_num" || strings.Contains(n, "id"):
		return value.Integer
	case strings.Contains(n, "date"):
		return value.Timestamp
	default:
		return value.Text
	}
}
