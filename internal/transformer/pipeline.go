// Package transformer runs the per-table conversion stage of a load: raw
// records flow through a bounded channel into one worker per table, which
// coerces each field by its column type and appends the row to the table.
//
// Design goals:
//   - One consumer per table, so row order is input order without locking.
//   - Resolve field→column mapping and coercion functions once at the field
//     list, never per row.
//   - Field and row problems are logged and never stop the table.
package transformer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"xer/internal/parser/xer"
	"xer/internal/schema"
	"xer/internal/value"
)

var (
	// ErrRowRejected marks a row dropped in strict mode.
	ErrRowRejected = errors.New("row rejected")
	// ErrWidth marks a record carrying more fields than its field list.
	ErrWidth = errors.New("record wider than field list")
	// ErrNotStarted is returned when a record arrives before the field list.
	ErrNotStarted = errors.New("transformer: pipeline not started")
	// ErrClosed is returned when a record arrives after Close.
	ErrClosed = errors.New("transformer: pipeline closed")
)

const DefaultQueueSize = 1024

// Options tune a pipeline.
type Options struct {
	// Strict drops the whole row on the first field that fails coercion.
	Strict bool
	// QueueSize bounds the number of records waiting for conversion.
	QueueSize int
}

// RowError is one entry of a table's error log.
type RowError struct {
	Row   int // 1-based record number within the table, across sections
	Table string
	Field string
	Raw   string
	Err   error
}

// Error renders the log line format consumers grep for.
func (e RowError) Error() string {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("row:%d error:%s table:%s field:%s value:%s", e.Row, msg, e.Table, e.Field, e.Raw)
}

func (e RowError) Unwrap() error { return e.Err }

// Result is what a pipeline reports once its queue is drained.
type Result struct {
	Table     string
	Records   int // records received
	Rows      int // rows appended
	Dropped   int // records that did not become rows
	Errors    []RowError
	Unknown   []string // field-list names with no matching column
	Elapsed   time.Duration
	Completed bool // false when the load was cancelled mid-table
}

// Append folds the result of a later section of the same table into r.
func (r Result) Append(next Result) Result {
	r.Records += next.Records
	r.Rows += next.Rows
	r.Dropped += next.Dropped
	r.Errors = append(r.Errors, next.Errors...)
	for _, u := range next.Unknown {
		if !slices.Contains(r.Unknown, u) {
			r.Unknown = append(r.Unknown, u)
		}
	}
	r.Elapsed += next.Elapsed
	r.Completed = r.Completed && next.Completed
	return r
}

// Pipeline converts the records of one table section.
type Pipeline struct {
	table *schema.Table
	opts  Options

	in        chan *xer.Record
	done      chan struct{}
	closeOnce sync.Once
	started   bool
	closed    bool

	began time.Time
	base  int              // records of the table seen before this section
	plan  []*schema.Column // plan[i] is the column for field i, or nil
	res   Result
}

// New prepares a pipeline for t. Nothing runs until Start.
func New(t *schema.Table, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Pipeline{
		table: t,
		opts:  opts,
		in:    make(chan *xer.Record, opts.QueueSize),
		done:  make(chan struct{}),
		began: time.Now(),
		res:   Result{Table: t.Name},
	}
}

// Table is the table this pipeline fills.
func (p *Pipeline) Table() *schema.Table { return p.table }

// Started reports whether Start has run.
func (p *Pipeline) Started() bool { return p.started }

// Start compiles the field→column plan from the section's field list and
// launches the worker. Calling it twice is a no-op.
func (p *Pipeline) Start(ctx context.Context, fields []string) { p.StartAt(ctx, fields, 0) }

// StartAt is Start for a section whose table already saw base records, so
// error log row numbers continue from there.
func (p *Pipeline) StartAt(ctx context.Context, fields []string, base int) {
	if p.started {
		return
	}
	p.started = true
	p.base = base
	p.plan = make([]*schema.Column, len(fields))
	for i, f := range fields {
		c, ok := p.table.Column(f)
		if !ok || c.Kind != schema.Stored {
			if f != "" {
				p.res.Unknown = append(p.res.Unknown, f)
			}
			continue
		}
		p.plan[i] = c
	}
	go p.run(ctx)
}

// Enqueue hands a record to the worker, blocking while the queue is full.
// Ownership of rec passes to the pipeline, also on error.
func (p *Pipeline) Enqueue(ctx context.Context, rec *xer.Record) error {
	switch {
	case p.closed:
		rec.Free()
		return ErrClosed
	case !p.started:
		rec.Free()
		return ErrNotStarted
	}
	select {
	case p.in <- rec:
		return nil
	case <-ctx.Done():
		rec.Free()
		return ctx.Err()
	}
}

// Close marks the queue complete. A pipeline that never started completes
// immediately with no rows.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.closed = true
		close(p.in)
		if !p.started {
			p.res.Elapsed = time.Since(p.began)
			p.res.Completed = true
			close(p.done)
		}
	})
}

// Done is closed when the worker has drained its queue.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Wait blocks until the pipeline finishes and returns its result.
func (p *Pipeline) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return Result{Table: p.table.Name}, ctx.Err()
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	cancelled := false
	for rec := range p.in {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
		}
		if cancelled {
			// Keep draining so a blocked producer can finish.
			rec.Free()
			continue
		}
		p.res.Records++
		p.convert(p.base+p.res.Records, rec)
		rec.Free()
	}
	p.res.Elapsed = time.Since(p.began)
	p.res.Completed = !cancelled && ctx.Err() == nil
}

func (p *Pipeline) convert(n int, rec *xer.Record) {
	row := p.table.NewRow()
	fields := rec.Fields
	if len(fields) > len(p.plan) {
		// Trailing empty fields are common and harmless.
		for _, extra := range fields[len(p.plan):] {
			if extra != "" {
				p.logf(n, "", extra, fmt.Errorf("%w: %d > %d", ErrWidth, len(fields), len(p.plan)))
				break
			}
		}
		fields = fields[:len(p.plan)]
	}

	for i, raw := range fields {
		col := p.plan[i]
		if col == nil {
			continue
		}
		v, err := col.Coerce(raw)
		if err == nil {
			row[col.Slot()] = v
			continue
		}
		if p.opts.Strict {
			p.res.Dropped++
			p.logf(n, col.Name, raw, fmt.Errorf("%w: %w", ErrRowRejected, err))
			return
		}
		row[col.Slot()] = value.Null()
		p.logf(n, col.Name, raw, err)
	}
	p.table.Append(row)
	p.res.Rows++
}

func (p *Pipeline) logf(n int, field, raw string, err error) {
	p.res.Errors = append(p.res.Errors, RowError{
		Row:   n,
		Table: p.table.Name,
		Field: field,
		Raw:   raw,
		Err:   err,
	})
}
