package xer

import "strings"

const (
	tab   = '\t'
	quote = '"'
	cr    = '\r'
	lf    = '\n'
)

type quoteState uint8

const (
	outsideQuote quoteState = iota
	insideQuote
	maybeClosingQuote
)

// LineSource yields physical lines with their terminators ("\n" or "\r\n")
// still attached. The last line of a file may have none.
type LineSource interface {
	Next() (line string, ok bool)
	Line() int
}

// Tokenizer splits physical lines into logical records. A quote left open at
// the end of a physical line pulls in the next one, and the line terminator
// becomes part of the field.
//
// Quoting rules:
//   - Outside quotes, TAB ends a field, '"' opens a quote, CR and LF are
//     dropped, and everything else is kept.
//   - Inside quotes every character is kept except '"', which may close it.
//   - A '"' right after a possible close is a literal quote. Any other
//     character closes the quote and is handled as outside.
type Tokenizer struct {
	src       LineSource
	buf       strings.Builder
	fields    []string
	anomalies int
}

// NewTokenizer reads lines from src.
func NewTokenizer(src LineSource) *Tokenizer {
	return &Tokenizer{src: src, fields: make([]string, 0, 64)}
}

// Anomalies counts records that ended inside an open quote at end of input.
// They are emitted best-effort and never fail the read.
func (t *Tokenizer) Anomalies() int { return t.anomalies }

// Next returns the fields of the next logical line. The returned slice is
// reused by the following call; copy what must outlive it. The second value
// is the physical line number the record started on.
func (t *Tokenizer) Next() ([]string, int, bool) {
	line, ok := t.src.Next()
	if !ok {
		return nil, 0, false
	}
	start := t.src.Line()
	t.fields = t.fields[:0]
	t.buf.Reset()
	state := outsideQuote

	for {
		for _, c := range line {
			state = t.step(state, c)
		}
		if state != insideQuote {
			break
		}
		next, ok := t.src.Next()
		if !ok {
			t.anomalies++
			break
		}
		line = next
	}
	t.fields = append(t.fields, t.buf.String())
	return t.fields, start, true
}

func (t *Tokenizer) step(state quoteState, c rune) quoteState {
	switch state {
	case insideQuote:
		if c == quote {
			return maybeClosingQuote
		}
		t.buf.WriteRune(c)
		return insideQuote
	case maybeClosingQuote:
		if c == quote {
			t.buf.WriteRune(quote)
			return insideQuote
		}
		return t.step(outsideQuote, c)
	default:
		switch c {
		case tab:
			t.fields = append(t.fields, t.buf.String())
			t.buf.Reset()
		case quote:
			return insideQuote
		case cr, lf:
		default:
			t.buf.WriteRune(c)
		}
		return outsideQuote
	}
}

// NextRecord is Next wrapped into a pooled Record: the marker is classified
// and stripped from the fields.
func (t *Tokenizer) NextRecord() (*Record, bool) {
	fields, line, ok := t.Next()
	if !ok {
		return nil, false
	}
	rec := GetRecord(len(fields))
	rec.Line = line
	rec.Marker = Classify(fields)
	if rec.Marker != MarkerNone {
		fields = fields[1:]
	}
	rec.Fields = append(rec.Fields, fields...)
	return rec, true
}

// sliceSource serves in-memory lines, adding "\n" between them.
type sliceSource struct {
	lines []string
	i     int
}

func (s *sliceSource) Next() (string, bool) {
	if s.i >= len(s.lines) {
		return "", false
	}
	l := s.lines[s.i]
	s.i++
	if s.i < len(s.lines) {
		l += "\n"
	}
	return l, true
}

func (s *sliceSource) Line() int { return s.i }

// Tokenize splits already newline-stripped lines into records, joining lines
// with "\n" when a quoted field spans them.
func Tokenize(lines []string) [][]string {
	tk := NewTokenizer(&sliceSource{lines: lines})
	var out [][]string
	for {
		fields, _, ok := tk.Next()
		if !ok {
			return out
		}
		out = append(out, append([]string(nil), fields...))
	}
}
