package schema

import (
	"strconv"

	"github.com/zeebo/xxh3"
)

// Fingerprint hashes the table, column and relation layout (not the rows).
// Two models with the same fingerprint write the same %T/%F lines.
func (m *Model) Fingerprint() uint64 {
	h := xxh3.New()
	for _, t := range m.tables {
		h.WriteString("T")
		h.WriteString(t.Name)
		for _, c := range t.columns {
			h.WriteString("\x00")
			h.WriteString(c.Name)
			h.WriteString(":")
			h.WriteString(c.Type.String())
			h.WriteString(":")
			h.WriteString(c.Kind.String())
			if c.Excluded {
				h.WriteString(":x")
			}
		}
		h.WriteString("\x00PK")
		for _, k := range t.primaryKey {
			h.WriteString(k)
			h.WriteString(",")
		}
	}
	for _, r := range m.relations {
		h.WriteString("R")
		h.WriteString(r.Name + "|" + r.Parent + "|" + r.Child + "|")
		h.WriteString(strconv.Itoa(len(r.ParentColumns)))
		for i := range r.ParentColumns {
			h.WriteString(r.ParentColumns[i] + "=" + r.ChildColumns[i] + ",")
		}
	}
	return h.Sum64()
}

// ContentHash hashes every stored value of every row in order. Two loads of
// the same input must give the same hash.
func (t *Table) ContentHash() uint64 {
	h := xxh3.New()
	var num [20]byte
	for _, r := range t.rows {
		for _, v := range r {
			if k, ok := v.Key(); ok {
				h.Write(strconv.AppendInt(num[:0], int64(v.Type()), 10))
				h.WriteString(k)
			}
			h.WriteString("\x1f")
		}
		h.WriteString("\x1e")
	}
	return h.Sum64()
}
