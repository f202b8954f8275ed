// Package writer serializes a schema model back into the exchange format:
// a header line, one %T/%F/%R group per table in model order, and a
// trailing %E.
package writer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"time"

	"xer/internal/config"
	"xer/internal/metrics"
	"xer/internal/parser/xer"
	"xer/internal/schema"
	"xer/internal/value"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	DefaultVersion  = "19.12"
	DefaultProduct  = "XerBuilder"
	DefaultCurrency = "RUB"

	lineEnd = "\r\n"
)

// Header is the content of the ERMHDR line.
type Header struct {
	Version  string
	Date     time.Time
	User     string
	FullName string
	Product  string
	Currency string
}

// fill sets defaults for empty fields.
func (h Header) fill(now time.Time) Header {
	if h.Version == "" {
		h.Version = DefaultVersion
	}
	if h.Date.IsZero() {
		h.Date = now
	}
	if h.User == "" || h.FullName == "" {
		name, full := currentUser()
		if h.User == "" {
			h.User = name
		}
		if h.FullName == "" {
			h.FullName = full
		}
	}
	if h.Product == "" {
		h.Product = DefaultProduct
	}
	if h.Currency == "" {
		h.Currency = DefaultCurrency
	}
	return h
}

func (h Header) line() string {
	return strings.Join([]string{
		xer.HeaderPrefix,
		h.Version,
		h.Date.Format("2006-01-02"),
		"Project",
		h.User,
		h.FullName,
		h.Product,
		"Project Management",
		h.Currency,
	}, "\t")
}

func currentUser() (name, full string) {
	if u, err := user.Current(); err == nil {
		full = u.Name
		name = u.Username
	}
	if name == "" {
		name = os.Getenv("USER")
	}
	if full == "" {
		full = name
	}
	return name, full
}

// Options tune a Writer.
type Options struct {
	Escape            EscapeMode
	RemoveEmptyTables bool
	// IncludeDerived also writes derived columns as plain fields.
	IncludeDerived bool
	// Encoding is the output code page; empty means windows-1251.
	Encoding  string
	Separator value.Separator
	Header    Header

	Job    string
	Logger *slog.Logger
	// Now is used for the header date; defaults to time.Now.
	Now func() time.Time
}

// FromConfig maps the write section of a configuration onto Options.
func FromConfig(wc config.WriteConfig, sep value.Separator) (Options, error) {
	mode, err := ParseEscapeMode(wc.Escape)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Escape:            mode,
		RemoveEmptyTables: wc.RemoveEmptyTables,
		IncludeDerived:    wc.IncludeDerived,
		Encoding:          wc.Encoding,
		Separator:         sep,
		Header: Header{
			Version:  wc.Version,
			User:     wc.User,
			FullName: wc.FullName,
			Product:  wc.Product,
			Currency: wc.Currency,
		},
	}, nil
}

// Writer writes models in the exchange format.
type Writer struct {
	opts Options
	enc  encoding.Encoding
	log  *slog.Logger
}

// New validates opts and returns a Writer.
func New(opts Options) (*Writer, error) {
	enc, err := xer.LookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Job == "" {
		opts.Job = "xer"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Writer{opts: opts, enc: enc, log: log}, nil
}

// Stats summarizes one Write.
type Stats struct {
	Tables int
	Rows   int
	// Diagnostics lists sanitized fields as "table/field: original/sanitized".
	Diagnostics []string
}

// Write serializes m to dst. Partial output is left in dst on error.
func (w *Writer) Write(m *schema.Model, dst io.Writer) (Stats, error) {
	var st Stats
	if m == nil {
		return st, errors.New("writer: nil model")
	}

	var out io.Writer = dst
	var tw io.WriteCloser
	if w.enc != unicode.UTF8 {
		tw = transform.NewWriter(dst, encoding.ReplaceUnsupported(w.enc.NewEncoder()))
		out = tw
	}
	bw := bufio.NewWriterSize(out, 1<<16)

	h := w.opts.Header.fill(w.opts.Now())
	bw.WriteString(h.line())
	bw.WriteString(lineEnd)

	var sb strings.Builder
	for _, t := range m.Tables() {
		if w.opts.RemoveEmptyTables && t.Len() == 0 {
			continue
		}
		cols := w.columns(t)

		bw.WriteString(xer.PrefixTable + "\t" + t.Name + lineEnd)
		bw.WriteString(xer.PrefixFields)
		for _, c := range cols {
			bw.WriteByte('\t')
			bw.WriteString(c.Name)
		}
		bw.WriteString(lineEnd)

		for i := 0; i < t.Len(); i++ {
			sb.Reset()
			sb.WriteString(xer.PrefixRecord)
			for _, c := range cols {
				v, err := t.ColumnValue(i, c)
				if err != nil {
					return st, fmt.Errorf("writer: %s row %d: %w", t.Name, i, err)
				}
				sb.WriteByte('\t')
				sb.WriteString(w.field(t.Name, c.Name, v, &st))
			}
			sb.WriteString(lineEnd)
			if _, err := bw.WriteString(sb.String()); err != nil {
				return st, fmt.Errorf("writer: %s: %w", t.Name, err)
			}
			st.Rows++
		}
		st.Tables++
	}
	bw.WriteString(xer.PrefixEnd + lineEnd)

	if err := bw.Flush(); err != nil {
		return st, fmt.Errorf("writer: flush: %w", err)
	}
	if tw != nil {
		if err := tw.Close(); err != nil {
			return st, fmt.Errorf("writer: encode: %w", err)
		}
	}
	return st, nil
}

// columns lists what goes on the %F line: stored columns that are not
// excluded, plus derived ones when asked.
func (w *Writer) columns(t *schema.Table) []*schema.Column {
	var out []*schema.Column
	for _, c := range t.Columns() {
		if c.Excluded {
			continue
		}
		if c.Kind == schema.Derived && !w.opts.IncludeDerived {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (w *Writer) field(table, col string, v value.Value, st *Stats) string {
	if v.IsNull() {
		return ""
	}
	s, ok := v.Text()
	if !ok {
		return value.Format(v, w.opts.Separator)
	}
	clean, ok := sanitize(s)
	if !ok {
		st.Diagnostics = append(st.Diagnostics, fmt.Sprintf("%s/%s: %s/%s", table, col, s, clean))
	}
	return escape(clean, w.opts.Escape)
}

// Report is the outcome of BuildFile. OK is false on any failure.
type Report struct {
	OK          bool
	Path        string
	Tables      int
	Rows        int
	Errors      []string
	Diagnostics []string
	Elapsed     time.Duration
}

// BuildFile writes m to path. Every failure, panics included, ends up in
// the report rather than being returned.
func (w *Writer) BuildFile(m *schema.Model, path string) (rep Report) {
	start := time.Now()
	rep.Path = path
	defer func() {
		if r := recover(); r != nil {
			rep.OK = false
			rep.Errors = append(rep.Errors, fmt.Sprintf("writer: panic: %v", r))
		}
		rep.Elapsed = time.Since(start)
		var err error
		if !rep.OK {
			err = errors.New(strings.Join(rep.Errors, "; "))
			w.log.Error("write failed", "path", path, "err", err)
		} else {
			w.log.Info("file written", "path", path, "tables", rep.Tables, "rows", rep.Rows,
				"diagnostics", len(rep.Diagnostics), "elapsed", rep.Elapsed.Truncate(time.Millisecond))
		}
		metrics.RecordStep(w.opts.Job, "write", err, rep.Elapsed)
	}()

	if strings.TrimSpace(path) == "" {
		rep.Errors = append(rep.Errors, "writer: empty output path")
		return rep
	}
	f, err := os.Create(path)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("writer: create output: %v", err))
		return rep
	}
	st, err := w.Write(m, f)
	rep.Tables, rep.Rows, rep.Diagnostics = st.Tables, st.Rows, st.Diagnostics
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("writer: close output: %w", cerr)
	}
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	rep.OK = true
	return rep
}
