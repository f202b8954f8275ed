// Package xer reads the tab-delimited, section-marked exchange format: a
// decoding line reader, the quote-aware tokenizer that joins physical lines
// into logical records, and the section markers that drive the loader.
package xer

import "sync"

// Marker identifies what a logical line is.
type Marker uint8

const (
	MarkerNone   Marker = iota
	MarkerTable         // %T
	MarkerFields        // %F
	MarkerRecord        // %R
	MarkerEnd           // %E
)

// Marker prefixes as they appear in the first field of a line.
const (
	PrefixTable  = "%T"
	PrefixFields = "%F"
	PrefixRecord = "%R"
	PrefixEnd    = "%E"

	// HeaderPrefix starts the file header line written before the first table.
	HeaderPrefix = "ERMHDR"
)

func (m Marker) String() string {
	switch m {
	case MarkerTable:
		return PrefixTable
	case MarkerFields:
		return PrefixFields
	case MarkerRecord:
		return PrefixRecord
	case MarkerEnd:
		return PrefixEnd
	default:
		return "none"
	}
}

// Classify reads the marker from the first two characters of the first
// field, case sensitively. Anything else (the ERMHDR header, blank lines,
// "%t") is MarkerNone.
func Classify(fields []string) Marker {
	if len(fields) == 0 {
		return MarkerNone
	}
	f := fields[0]
	if len(f) < 2 || f[0] != '%' {
		return MarkerNone
	}
	switch f[:2] {
	case PrefixTable:
		return MarkerTable
	case PrefixFields:
		return MarkerFields
	case PrefixRecord:
		return MarkerRecord
	case PrefixEnd:
		return MarkerEnd
	}
	return MarkerNone
}

// Record is one logical line: its marker, the field strings after the marker
// field, and the physical line number it started on.
//
// Records are pooled. The consumer that finishes with a record calls Free
// and must not touch it afterwards.
type Record struct {
	Marker Marker
	Line   int
	Fields []string
}

var recordPool sync.Pool

// GetRecord returns an empty pooled record with room for n fields.
func GetRecord(n int) *Record {
	if v := recordPool.Get(); v != nil {
		r := v.(*Record)
		if cap(r.Fields) < n {
			r.Fields = make([]string, 0, n)
		}
		r.Fields = r.Fields[:0]
		r.Marker = MarkerNone
		r.Line = 0
		return r
	}
	return &Record{Fields: make([]string, 0, n)}
}

// Free clears the record and returns it to the pool.
func (r *Record) Free() {
	for i := range r.Fields {
		r.Fields[i] = ""
	}
	r.Fields = r.Fields[:0]
	recordPool.Put(r)
}
