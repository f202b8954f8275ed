package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"xer/internal/ddl"
	"xer/internal/metrics"
	"xer/internal/schema"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is used when ExportOptions.BatchSize is zero.
const DefaultBatchSize = 1000

// ExportOptions tune Export.
type ExportOptions struct {
	// Kind selects the registered dialect for CREATE TABLE.
	Kind            string
	TablePrefix     string
	BatchSize       int
	AutoCreateTable bool

	Job    string
	Logger *slog.Logger
}

// TableExport is the outcome for one table.
type TableExport struct {
	Table   string
	Target  string
	Rows    int64
	Batches int64
	Elapsed time.Duration
}

// Export copies every non-empty table of m into repo, in model order. Only
// stored columns that are not excluded are exported. Tables are created
// first when AutoCreateTable is set.
func Export(ctx context.Context, repo Repository, m *schema.Model, opts ExportOptions) ([]TableExport, error) {
	if repo == nil || m == nil {
		return nil, fmt.Errorf("export: repository and model are required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Job == "" {
		opts.Job = "xer"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	var dialect ddl.Dialect
	if opts.AutoCreateTable {
		d, ok := DialectFor(opts.Kind)
		if !ok {
			return nil, fmt.Errorf("export: no dialect registered for storage.kind=%s", opts.Kind)
		}
		dialect = d
	}

	start := time.Now()
	var out []TableExport
	err := func() error {
		for _, t := range m.Tables() {
			if t.Len() == 0 {
				continue
			}
			te, err := exportTable(ctx, repo, t, dialect, opts, log)
			if err != nil {
				return err
			}
			out = append(out, te)
		}
		return nil
	}()
	metrics.RecordStep(opts.Job, "export", err, time.Since(start))
	return out, err
}

func exportColumns(t *schema.Table) ([]*schema.Column, []string) {
	var cols []*schema.Column
	var names []string
	for _, c := range t.StoredColumns() {
		if c.Excluded {
			continue
		}
		cols = append(cols, c)
		names = append(names, c.Name)
	}
	return cols, names
}

func exportTable(ctx context.Context, repo Repository, t *schema.Table, d ddl.Dialect, opts ExportOptions, log *slog.Logger) (TableExport, error) {
	start := time.Now()
	target := opts.TablePrefix + t.Name
	te := TableExport{Table: t.Name, Target: target}
	cols, names := exportColumns(t)
	if len(cols) == 0 {
		return te, nil
	}

	if opts.AutoCreateTable {
		stmt, err := d.CreateTableSQL(ddl.FromTable(target, t, cols, d.MapType))
		if err != nil {
			return te, fmt.Errorf("export %s: %w", t.Name, err)
		}
		if err := repo.Exec(ctx, stmt); err != nil {
			return te, fmt.Errorf("export %s: create table: %w", t.Name, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	rows := make(chan []any, opts.BatchSize)
	g.Go(func() error {
		defer close(rows)
		for i := 0; i < t.Len(); i++ {
			r := make([]any, len(cols))
			for j, c := range cols {
				v, err := t.ColumnValue(i, c)
				if err != nil {
					return err
				}
				r[j] = v.Any()
			}
			select {
			case rows <- r:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	var st BatchStats
	g.Go(func() error {
		var err error
		st, err = LoadBatches(gctx, log.With("table", target), names, rows, opts.BatchSize,
			func(ctx context.Context, columns []string, batch [][]any) (int64, error) {
				return repo.CopyFrom(ctx, target, columns, batch)
			})
		return err
	})
	if err := g.Wait(); err != nil {
		return te, fmt.Errorf("export %s: %w", t.Name, err)
	}

	te.Rows, te.Batches, te.Elapsed = st.Rows, st.Batches, time.Since(start)
	metrics.RecordBatches(opts.Job, st.Batches)
	metrics.RecordRow(opts.Job, "exported", st.Rows)
	log.Info("table exported", "table", t.Name, "target", target, "rows", st.Rows,
		"batches", st.Batches, "elapsed", te.Elapsed.Truncate(time.Millisecond))
	return te, nil
}
