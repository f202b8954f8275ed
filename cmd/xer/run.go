package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"xer/internal/config"
	"xer/internal/datasource"
	"xer/internal/engine"
	"xer/internal/schema"
	"xer/internal/storage"
	"xer/internal/value"
	"xer/internal/writer"
)

// run loads cfg.Source, prints the summary to stdout, then rewrites to out
// and exports when asked. Field errors do not fail a run.
func run(ctx context.Context, cfg config.Config, out string, stdout io.Writer) error {
	log := slog.Default()

	def, err := schema.LoadDefinitionFile(cfg.Schema.Path)
	if err != nil {
		return err
	}
	eng, err := engine.FromConfig(def, cfg.Job, cfg.Load, log)
	if err != nil {
		return err
	}

	rc, err := datasource.Open(ctx, cfg.Source.URI, cfg.Source.Options)
	if err != nil {
		return err
	}
	res, err := eng.Load(ctx, rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("load %s: %w", cfg.Source.URI, err)
	}
	printSummary(stdout, res)

	if out != "" {
		sep, err := value.ParseSeparator(cfg.Load.DecimalSeparator)
		if err != nil {
			return err
		}
		opts, err := writer.FromConfig(cfg.Write, sep)
		if err != nil {
			return err
		}
		opts.Job, opts.Logger = cfg.Job, log
		w, err := writer.New(opts)
		if err != nil {
			return err
		}
		rep := w.BuildFile(res.Model, out)
		for _, d := range rep.Diagnostics {
			fmt.Fprintf(stdout, "sanitized %s\n", d)
		}
		if !rep.OK {
			return errors.New(strings.Join(rep.Errors, "; "))
		}
	}

	if cfg.Export.Kind != "" {
		if err := export(ctx, cfg, res.Model, log); err != nil {
			return err
		}
	}
	return nil
}

func export(ctx context.Context, cfg config.Config, m *schema.Model, log *slog.Logger) error {
	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Export.Kind, DSN: cfg.Export.DSN, Options: cfg.Export.Options})
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer repo.Close()
	_, err = storage.Export(ctx, repo, m, storage.ExportOptions{
		Kind:            cfg.Export.Kind,
		TablePrefix:     cfg.Export.TablePrefix,
		BatchSize:       cfg.Export.BatchSize,
		AutoCreateTable: cfg.Export.AutoCreateTable,
		Job:             cfg.Job,
		Logger:          log,
	})
	return err
}

func printSummary(w io.Writer, res *engine.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS\tERRORS\tELAPSED\tCONTENT")
	for _, t := range res.Tables {
		hash := uint64(0)
		if tbl, ok := res.Model.Table(t.Table); ok {
			hash = tbl.ContentHash()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%016x\n", t.Table, t.Rows, len(t.Errors), t.Elapsed.Truncate(time.Microsecond), hash)
	}
	tw.Flush()
	fmt.Fprintf(w, "run %s: %d lines, layout %016x", res.RunID, res.Lines, res.Model.Fingerprint())
	if res.Truncated {
		fmt.Fprint(w, ", stopped early")
	}
	fmt.Fprintln(w)
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "skipped %s\n", s)
	}
	for _, line := range res.ErrorLog {
		fmt.Fprintln(w, line)
	}
}
