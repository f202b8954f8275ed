package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"xer/internal/metrics"
	"xer/internal/parser/xer"
	"xer/internal/schema"
	"xer/internal/transformer"

	"golang.org/x/sync/errgroup"
)

type state uint8

const (
	stateIdle state = iota
	stateInTable
	stateIgnoring
	stateDone
)

func (s state) String() string {
	switch s {
	case stateInTable:
		return "in_table"
	case stateIgnoring:
		return "ignoring"
	case stateDone:
		return "done"
	default:
		return "idle"
	}
}

// section is one %T block being read.
type section struct {
	name  string
	pipe  *transformer.Pipeline
	entry int                    // index into load.entries, -1 until there is one
	early []transformer.RowError // records seen before the field list
}

// entry keeps discovery order across loaded and skipped sections.
type entry struct {
	pipe    *transformer.Pipeline
	skipped *transformer.RowError
	early   []transformer.RowError
}

// load is the state of one Engine.Load call. Only the reading goroutine
// touches it until wait.
type load struct {
	e     *Engine
	log   *slog.Logger
	model *schema.Model

	ignored map[string]struct{}
	// wanted holds the tables still to be seen before reading can stop;
	// remaining is its size, or -1 when early termination is off.
	wanted    map[string]struct{}
	remaining int
	records   map[string]int // %R lines routed to each table so far

	state   state
	cur     *section
	entries []entry
	last    map[string]*transformer.Pipeline // latest pipeline per table

	res *Result
}

func (l *load) read(ctx context.Context, tk *xer.Tokenizer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok := tk.NextRecord()
		if !ok {
			return nil
		}
		switch rec.Marker {
		case xer.MarkerTable:
			name := tableName(rec.Fields)
			rec.Free()
			l.closeSection()
			if l.remaining == 0 {
				l.res.Truncated = true
				l.state = stateDone
				l.log.Debug("every wanted table read; stopping", "next_table", name)
				return nil
			}
			l.openSection(name)
		case xer.MarkerFields:
			l.startSection(ctx, rec.Fields, rec.Line)
			rec.Free()
		case xer.MarkerRecord:
			if err := l.enqueue(ctx, rec); err != nil {
				return err
			}
		case xer.MarkerEnd:
			rec.Free()
			l.closeSection()
		default:
			// ERMHDR header, blank lines.
			rec.Free()
		}
	}
}

func (l *load) isIgnored(name string) bool {
	if _, ok := l.ignored[name]; ok {
		return true
	}
	if len(l.e.loaded) == 0 {
		return false
	}
	_, ok := l.e.loaded[name]
	return !ok
}

func tableName(fields []string) string {
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			return f
		}
	}
	return ""
}

func (l *load) openSection(name string) {
	if l.isIgnored(name) {
		l.state = stateIgnoring
		l.log.Debug("ignoring table", "table", name)
		return
	}
	if name == "" {
		l.skip(name, fmt.Errorf("%w: table marker without a name", ErrSchemaResolution))
		return
	}
	if _, ok := l.wanted[name]; ok {
		delete(l.wanted, name)
		l.remaining--
	}
	l.state = stateInTable
	l.cur = &section{name: name, entry: -1}
	if t, ok := l.model.Table(name); ok {
		l.newPipeline(t)
	}
}

// startSection resolves the table's columns from its field list, creating
// them for tables the schema does not define, and starts the pipeline.
func (l *load) startSection(ctx context.Context, fields []string, line int) {
	if l.state != stateInTable {
		l.log.Debug("field list outside a table", "line", line, "state", l.state.String())
		return
	}
	if l.cur.pipe != nil && l.cur.pipe.Started() {
		l.log.Warn("repeated field list ignored", "table", l.cur.name, "line", line)
		return
	}
	if l.cur.pipe == nil {
		cols := schema.SynthesizeColumns(fields)
		if len(cols) == 0 {
			l.skip(l.cur.name, fmt.Errorf("%w: %s has no usable field names", ErrSchemaResolution, l.cur.name))
			return
		}
		t, err := l.model.AddTable(l.cur.name, cols...)
		if err != nil {
			l.skip(l.cur.name, fmt.Errorf("%w: %w", ErrSchemaResolution, err))
			return
		}
		l.log.Debug("synthesized table", "table", t.Name, "columns", len(cols))
		l.newPipeline(t)
	}

	// A table split over several sections is filled one section at a time.
	if prev := l.last[l.cur.name]; prev != nil && prev != l.cur.pipe {
		select {
		case <-prev.Done():
		case <-ctx.Done():
		}
	}
	if l.last == nil {
		l.last = map[string]*transformer.Pipeline{}
	}
	l.last[l.cur.name] = l.cur.pipe
	l.cur.pipe.StartAt(ctx, fields, l.records[l.cur.name])
}

// newPipeline opens the section's pipeline and its entry.
func (l *load) newPipeline(t *schema.Table) {
	l.cur.pipe = transformer.New(t, transformer.Options{
		Strict:    l.e.opts.Strict,
		QueueSize: l.e.opts.QueueSize,
	})
	l.cur.entry = len(l.entries)
	l.entries = append(l.entries, entry{pipe: l.cur.pipe})
}

// enqueue passes rec to the open table. rec is owned by the callee.
func (l *load) enqueue(ctx context.Context, rec *xer.Record) error {
	if l.state != stateInTable {
		rec.Free()
		return nil
	}
	if l.records == nil {
		l.records = map[string]int{}
	}
	l.records[l.cur.name]++
	if l.cur.pipe == nil || !l.cur.pipe.Started() {
		l.cur.early = append(l.cur.early, transformer.RowError{
			Row:   l.records[l.cur.name],
			Table: l.cur.name,
			Raw:   strings.Join(rec.Fields, "\t"),
			Err:   fmt.Errorf("%w (line %d)", ErrRecordBeforeFields, rec.Line),
		})
		rec.Free()
		return nil
	}
	if err := l.cur.pipe.Enqueue(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("record not queued", "table", l.cur.name, "err", err)
	}
	return nil
}

func (l *load) skip(name string, err error) {
	l.log.Warn("table skipped", "table", name, "err", err)
	en := entry{skipped: &transformer.RowError{Table: name, Err: err}}
	if l.cur != nil {
		en.early = l.cur.early
		if l.cur.pipe != nil {
			l.cur.pipe.Close()
			l.entries[l.cur.entry].pipe = nil
		}
	}
	l.entries = append(l.entries, en)
	l.res.Skipped = append(l.res.Skipped, name)
	l.state = stateIgnoring
	l.cur = nil
}

// closeSection marks the open table's queue complete.
func (l *load) closeSection() {
	if l.cur != nil && l.state == stateInTable {
		switch {
		case l.cur.pipe != nil:
			l.entries[l.cur.entry].early = l.cur.early
			l.cur.pipe.Close()
		case len(l.cur.early) > 0:
			l.skip(l.cur.name, fmt.Errorf("%w: %s has records but no field list", ErrSchemaResolution, l.cur.name))
		}
	}
	l.cur = nil
	if l.state != stateDone {
		l.state = stateIdle
	}
}

// wait blocks until every pipeline has drained, then merges the sections
// of each table into one result and builds the error log in discovery order.
func (l *load) wait(ctx context.Context) error {
	results := make([]transformer.Result, len(l.entries))
	wctx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i, en := range l.entries {
		i, en := i, en
		if en.pipe == nil {
			continue
		}
		g.Go(func() error {
			r, err := en.pipe.Wait(wctx)
			if err != nil {
				return fmt.Errorf("table %s: %w", en.pipe.Table().Name, err)
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()

	// Sections of one table ran one after another, so appending them in
	// entry order keeps the table's log in record order.
	var logs [][]string
	pos := map[string]int{}
	for i, en := range l.entries {
		if en.skipped != nil {
			lines := []string{en.skipped.Error()}
			for _, re := range en.early {
				lines = append(lines, re.Error())
			}
			logs = append(logs, lines)
			continue
		}
		if en.pipe == nil {
			continue
		}
		r := results[i]
		if len(en.early) > 0 {
			r.Records += len(en.early)
			r.Dropped += len(en.early)
			r.Errors = append(slices.Clone(en.early), r.Errors...)
		}
		if j, ok := pos[r.Table]; ok {
			l.res.Tables[j] = l.res.Tables[j].Append(r)
			continue
		}
		pos[r.Table] = len(l.res.Tables)
		l.res.Tables = append(l.res.Tables, r)
		logs = append(logs, nil)
	}

	// Table results and skipped sections interleave in discovery order.
	ti := 0
	for _, lines := range logs {
		if lines != nil {
			l.res.ErrorLog = append(l.res.ErrorLog, lines...)
			continue
		}
		r := l.res.Tables[ti]
		ti++
		for _, re := range r.Errors {
			l.res.ErrorLog = append(l.res.ErrorLog, re.Error())
		}
	}

	for _, r := range l.res.Tables {
		if len(r.Unknown) > 0 {
			l.log.Warn("fields without a column", "table", r.Table, "fields", strings.Join(r.Unknown, ","))
		}
		l.log.Info("table loaded",
			"table", r.Table,
			"rows", r.Rows,
			"errors", len(r.Errors),
			"dropped", r.Dropped,
			"elapsed", r.Elapsed.Truncate(time.Microsecond),
		)
		metrics.RecordTable(l.e.opts.Job, r.Table, r.Rows, len(r.Errors), r.Elapsed)
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}
