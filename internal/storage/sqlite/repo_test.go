package sqlite

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"xer/internal/schema"
	"xer/internal/storage"
	"xer/internal/value"

	"github.com/shopspring/decimal"
)

func newRepo(tb testing.TB) *Repository {
	tb.Helper()
	r, err := NewRepository(context.Background(), ":memory:")
	if err != nil {
		tb.Fatalf("open sqlite :memory:: %v", err)
	}
	tb.Cleanup(r.Close)
	return r
}

func TestNewRepository_EmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := NewRepository(context.Background(), " "); err == nil {
		t.Fatal("expected error")
	}
}

func TestCopyFrom(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	if err := r.Exec(ctx, `CREATE TABLE "TASK" ("task_id" INTEGER, "task_name" TEXT)`); err != nil {
		t.Fatal(err)
	}
	n, err := r.CopyFrom(ctx, "TASK", []string{"task_id", "task_name"}, [][]any{{int64(1), "a"}, {int64(2), nil}})
	if err != nil || n != 2 {
		t.Fatalf("CopyFrom = %d, %v", n, err)
	}
	if _, err := r.CopyFrom(ctx, "TASK", []string{"task_id", "task_name"}, [][]any{{int64(3)}}); err == nil {
		t.Fatal("expected row length error")
	}
	if _, err := r.CopyFrom(ctx, "TASK", nil, [][]any{{1}}); err == nil {
		t.Fatal("expected columns error")
	}

	var count int
	if err := r.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM "TASK"`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("count = %d; the failed batch must roll back", count)
	}
}

func TestMapType(t *testing.T) {
	t.Parallel()

	want := map[value.Type]string{
		value.Text: "TEXT", value.Integer: "INTEGER", value.Decimal: "NUMERIC",
		value.Timestamp: "TEXT", value.Boolean: "INTEGER",
	}
	for typ, w := range want {
		if got := MapType(typ); got != w {
			t.Errorf("MapType(%s) = %s, want %s", typ, got, w)
		}
	}
}

func TestExport_InMemory(t *testing.T) {
	t.Parallel()

	m := schema.NewModel(value.Registry{})
	task, err := m.AddTable("TASK",
		schema.Column{Name: "task_id", Type: value.Integer},
		schema.Column{Name: "task_name", Type: value.Text},
		schema.Column{Name: "target_start_date", Type: value.Timestamp},
		schema.Column{Name: "target_drtn_hr_cnt", Type: value.Decimal},
		schema.Column{Name: "driving_path_flag", Type: value.Boolean},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := task.SetPrimaryKey("task_id"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 120; i++ {
		row := task.NewRow()
		row[0] = value.Int(int64(i))
		row[1] = value.Str("Задача")
		row[2] = value.Time(time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC))
		row[3] = value.Dec(decimal.RequireFromString("16.5"))
		if i%2 == 0 {
			row[4] = value.Bool(true)
		}
		task.Append(row)
	}

	r := newRepo(t)
	ctx := context.Background()
	out, err := storage.Export(ctx, r, m, storage.ExportOptions{
		Kind:            "sqlite",
		TablePrefix:     "xer_",
		BatchSize:       50,
		AutoCreateTable: true,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Rows != 120 || out[0].Batches != 3 {
		t.Fatalf("out = %+v", out)
	}

	var (
		count   int
		name    string
		start   string
		hours   float64
		flagged int
	)
	db := r.DB()
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(driving_path_flag) FROM xer_TASK`).Scan(&count, &flagged); err != nil {
		t.Fatal(err)
	}
	if count != 120 || flagged != 60 {
		t.Fatalf("count = %d, flagged = %d", count, flagged)
	}
	if err := db.QueryRowContext(ctx, `SELECT task_name, target_start_date, target_drtn_hr_cnt FROM xer_TASK WHERE task_id = 7`).Scan(&name, &start, &hours); err != nil {
		t.Fatal(err)
	}
	if name != "Задача" || start != "2024-05-02 08:30:00" || hours != 16.5 {
		t.Fatalf("row 7 = %q %q %v", name, start, hours)
	}

	var ddlText string
	if err := db.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE name = 'xer_TASK'`).Scan(&ddlText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ddlText, `PRIMARY KEY ("task_id")`) {
		t.Fatalf("ddl = %s", ddlText)
	}

	// A second export into the same tables violates the primary key.
	if _, err := storage.Export(ctx, r, m, storage.ExportOptions{Kind: "sqlite", TablePrefix: "xer_", AutoCreateTable: true,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}); err == nil {
		t.Fatal("expected constraint error on re-export")
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	repo.Close()
	if _, ok := storage.DialectFor("sqlite"); !ok {
		t.Fatal("dialect not registered")
	}
}
