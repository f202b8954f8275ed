package mysql

import (
	"context"
	"reflect"
	"testing"
	"time"

	"xer/internal/storage"

	"github.com/shopspring/decimal"
)

func TestBuildInsert(t *testing.T) {
	t.Parallel()

	stmt, args, err := buildInsert("plan.TASK", []string{"task_id", "odd`name"}, [][]any{
		{int64(1), "a"},
		{int64(2), decimal.RequireFromString("1.50")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "INSERT INTO `plan`.`TASK` (`task_id`, `odd``name`) VALUES (?, ?), (?, ?)"
	if stmt != want {
		t.Fatalf("stmt = %s", stmt)
	}
	if !reflect.DeepEqual(args, []any{int64(1), "a", int64(2), "1.5"}) {
		t.Fatalf("args = %#v", args)
	}
	if _, _, err := buildInsert("TASK", []string{"a", "b"}, [][]any{{1}}); err == nil {
		t.Fatal("expected row length error")
	}
}

func TestChunkRows(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 7)
	got := chunkRows(rows, 3)
	if len(got) != 3 || len(got[0]) != 3 || len(got[2]) != 1 {
		t.Fatalf("chunks = %d", len(got))
	}
	if got := chunkRows(rows, 0); len(got) != 7 {
		t.Fatalf("size 0 chunks = %d", len(got))
	}
}

func TestToCopyVal(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	if got := toCopyVal(ts); got != "2024-05-02 08:30:00" {
		t.Fatalf("time = %v", got)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := NewRepository(context.Background(), "user@tcp(host"); err == nil {
		t.Fatal("expected dsn error")
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	d, ok := storage.DialectFor("mysql")
	if !ok || d.MapType(0) != "LONGTEXT" {
		t.Fatal("dialect not registered")
	}
}
