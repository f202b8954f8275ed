// Package engine drives a load: it reads the exchange file line by line,
// follows the %T/%F/%R/%E section markers, and hands each table's records
// to its own conversion pipeline so conversion overlaps with reading.
//
// Results are reported in table discovery order. Field and row problems are
// collected into the error log; only I/O failures, a missing schema or
// cancellation fail a load.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"xer/internal/logging"
	"xer/internal/metrics"
	"xer/internal/parser/xer"
	"xer/internal/schema"
	"xer/internal/transformer"
	"xer/internal/value"

	"github.com/google/uuid"
)

var (
	// ErrNoSchema is returned when an engine is built without a definition.
	ErrNoSchema = errors.New("engine: no schema definition")
	// ErrSchemaResolution marks a table section whose columns could not be
	// resolved or synthesized. The section is skipped.
	ErrSchemaResolution = errors.New("schema resolution failed")
	// ErrRecordBeforeFields marks a %R line that came before its section's
	// %F line. The record is logged and dropped.
	ErrRecordBeforeFields = errors.New("record before field list")
)

// DefaultIgnoredTables are skipped unless the ignore list is changed.
var DefaultIgnoredTables = []string{"OBS", "POBS", "RISKTYPE"}

// DerivedColumn is a derived column attached to Table after a load.
type DerivedColumn struct {
	Table  string
	Column schema.Column
}

// Options tune an engine.
type Options struct {
	// Job labels metrics.
	Job string
	// Encoding is the input code page; empty means windows-1251.
	Encoding string
	// Strict drops a row on its first coercion failure.
	Strict bool
	// QueueSize bounds each table's record queue.
	QueueSize int
	// CreateDerivedColumns attaches the definition's derived columns and
	// DerivedColumns once every table has finished converting.
	CreateDerivedColumns bool
	DerivedColumns       []DerivedColumn
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine loads files against one schema definition. Each load builds a
// fresh model, so an engine can be reused; it must not be shared by
// concurrent loads while its table lists are being changed.
type Engine struct {
	def  *schema.Definition
	reg  value.Registry
	opts Options

	ignored map[string]struct{}
	loaded  map[string]struct{}
}

// New returns an engine for def. Table names in def are the scheduled
// tables; anything else found in a file gets synthesized columns.
func New(def *schema.Definition, reg value.Registry, opts Options) (*Engine, error) {
	if def == nil {
		return nil, ErrNoSchema
	}
	if _, err := xer.LookupEncoding(opts.Encoding); err != nil {
		return nil, err
	}
	if opts.Job == "" {
		opts.Job = "xer"
	}
	e := &Engine{def: def, reg: reg, opts: opts}
	e.ResetIgnoredTables()
	return e, nil
}

// ResetIgnoredTables clears the loaded list and restores the default ignore
// list.
func (e *Engine) ResetIgnoredTables() {
	e.loaded = map[string]struct{}{}
	e.ignored = make(map[string]struct{}, len(DefaultIgnoredTables))
	for _, n := range DefaultIgnoredTables {
		e.ignored[n] = struct{}{}
	}
}

// ClearIgnoredTables empties the ignore list, defaults included.
func (e *Engine) ClearIgnoredTables() {
	e.ignored = map[string]struct{}{}
}

// SetIgnoredTables adds names to the ignore list and drops them from the
// loaded list.
func (e *Engine) SetIgnoredTables(names ...string) {
	for _, n := range names {
		delete(e.loaded, n)
		e.ignored[n] = struct{}{}
	}
}

// SetLoadedTables adds names to the loaded list and drops them from the
// ignore list. Once the loaded list is non-empty, every other table is
// ignored.
func (e *Engine) SetLoadedTables(names ...string) {
	for _, n := range names {
		delete(e.ignored, n)
		e.loaded[n] = struct{}{}
	}
}

// IgnoredTables returns the ignore list, sorted.
func (e *Engine) IgnoredTables() []string { return sortedKeys(e.ignored) }

// LoadedTables returns the loaded list, sorted.
func (e *Engine) LoadedTables() []string { return sortedKeys(e.loaded) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Result is the outcome of one load.
type Result struct {
	RunID string
	Model *schema.Model

	// Tables holds one entry per loaded table in discovery order. The
	// sections of a split table are merged. Ignored and skipped sections
	// are not listed.
	Tables []transformer.Result
	// Skipped lists sections that failed schema resolution.
	Skipped []string
	// ErrorLog is every table's error log merged in discovery order.
	ErrorLog []string

	Lines     int
	Bytes     int64
	Anomalies int  // quoted fields left open at end of input
	Truncated bool // reading stopped early once every wanted table was seen
	Elapsed   time.Duration
}

// OK reports whether the load logged no errors.
func (r *Result) OK() bool { return len(r.ErrorLog) == 0 }

// Table returns the result for the named section, if it was loaded.
func (r *Result) Table(name string) (transformer.Result, bool) {
	for _, t := range r.Tables {
		if t.Table == name {
			return t, true
		}
	}
	return transformer.Result{}, false
}

// LoadFile opens path and loads it.
func (e *Engine) LoadFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return e.Load(ctx, f)
}

// Load reads r to the end (or until every wanted table was seen) and
// returns the populated model. A non-nil Result is returned together with
// read and cancellation errors so partial work can be inspected.
func (e *Engine) Load(ctx context.Context, r io.Reader) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	log := logging.FromContext(ctx, e.opts.Logger)

	lr, err := xer.NewLineReader(r, e.opts.Encoding)
	if err != nil {
		return nil, err
	}
	m, err := e.def.Build(e.reg)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}

	l := &load{
		e:       e,
		log:     log,
		model:   m,
		ignored: e.effectiveIgnored(),
		res:     &Result{RunID: runID, Model: m},
	}
	l.wanted, l.remaining = e.wanted(l.ignored)

	tk := xer.NewTokenizer(lr)
	readErr := l.read(ctx, tk)
	l.closeSection()

	l.res.Lines = lr.Line()
	l.res.Bytes = lr.Bytes()
	l.res.Anomalies = tk.Anomalies()
	if readErr == nil {
		if err := lr.Err(); err != nil {
			readErr = fmt.Errorf("read input: %w", err)
		}
	}

	waitErr := l.wait(ctx)
	if readErr == nil {
		readErr = waitErr
	}

	if readErr == nil && e.opts.CreateDerivedColumns {
		if err := e.attachDerived(m); err != nil {
			readErr = fmt.Errorf("attach derived columns: %w", err)
		}
	}

	l.res.Elapsed = time.Since(start)
	rows := 0
	for _, t := range l.res.Tables {
		rows += t.Rows
	}
	metrics.RecordStep(e.opts.Job, "load", readErr, l.res.Elapsed)
	metrics.RecordRow(e.opts.Job, "rows", int64(rows))
	metrics.RecordRow(e.opts.Job, "row_errors", int64(len(l.res.ErrorLog)))
	log.Info("load finished",
		"tables", len(l.res.Tables),
		"rows", rows,
		"errors", len(l.res.ErrorLog),
		"lines", l.res.Lines,
		"truncated", l.res.Truncated,
		"elapsed", l.res.Elapsed.Truncate(time.Millisecond),
	)
	return l.res, readErr
}

// effectiveIgnored is the ignore set for one load: with a loaded list,
// every defined table outside it is ignored as well.
func (e *Engine) effectiveIgnored() map[string]struct{} {
	out := make(map[string]struct{}, len(e.ignored))
	for n := range e.ignored {
		out[n] = struct{}{}
	}
	if len(e.loaded) == 0 {
		return out
	}
	for _, n := range e.def.TableNames() {
		if _, ok := e.loaded[n]; !ok {
			out[n] = struct{}{}
		}
	}
	return out
}

// wanted lists the tables reading must reach before it can stop: defined
// tables that are not ignored and every name on the loaded list. Tables
// synthesized along the way never count. A count of -1 disables early
// termination.
func (e *Engine) wanted(ignored map[string]struct{}) (map[string]struct{}, int) {
	set := map[string]struct{}{}
	for _, n := range e.def.TableNames() {
		if _, ok := ignored[n]; !ok {
			set[n] = struct{}{}
		}
	}
	for n := range e.loaded {
		if _, ok := ignored[n]; !ok {
			set[n] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, -1
	}
	return set, len(set)
}

func (e *Engine) attachDerived(m *schema.Model) error {
	if err := e.def.AttachDerived(m); err != nil {
		return err
	}
	for _, d := range e.opts.DerivedColumns {
		t, ok := m.Table(d.Table)
		if !ok {
			return fmt.Errorf("%w: %s", schema.ErrTableNotFound, d.Table)
		}
		c := d.Column
		c.Kind = schema.Derived
		if err := schema.AttachDerived(m, t, c); err != nil {
			return err
		}
	}
	return nil
}
