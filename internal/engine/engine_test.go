package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"xer/internal/config"
	"xer/internal/schema"
	"xer/internal/value"
)

const testSchema = `{
  "tables": [
    {"name": "TASK", "primary_key": ["task_id"], "columns": [
      {"name": "task_id", "type": "integer"},
      {"name": "task_code", "type": "text"},
      {"name": "target_start_date", "type": "timestamp"},
      {"name": "target_drtn_hr_cnt", "type": "decimal"},
      {"name": "user_field_131", "type": "text", "derived": {
        "relation": "rel_udf_task", "discriminator_field": "udf_type_id",
        "discriminator_value": "131", "value_field": "udf_text"}}
    ]},
    {"name": "UDFVALUE", "columns": [
      {"name": "fk_id", "type": "integer"},
      {"name": "udf_type_id", "type": "integer"},
      {"name": "udf_text", "type": "text"}
    ]},
    {"name": "OBS", "columns": [
      {"name": "obs_id", "type": "integer"}
    ]}
  ],
  "relations": [
    {"name": "rel_udf_task", "parent": "TASK", "child": "UDFVALUE",
     "parent_columns": ["task_id"], "child_columns": ["fk_id"]}
  ]
}`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	def, err := schema.LoadDefinition(strings.NewReader(testSchema))
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if opts.Logger == nil {
		opts.Logger = quiet
	}
	if opts.Encoding == "" {
		opts.Encoding = "utf-8"
	}
	e, err := New(def, value.Registry{}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func file(lines ...string) string { return strings.Join(lines, "\r\n") + "\r\n" }

func mustLoad(t *testing.T, e *Engine, src string) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := e.Load(ctx, strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return res
}

func text(t *testing.T, tbl *schema.Table, i int, col string) string {
	t.Helper()
	v, err := tbl.Value(i, col)
	if err != nil {
		t.Fatalf("Value(%d, %s): %v", i, col, err)
	}
	if v.IsNull() {
		return "<null>"
	}
	return v.String()
}

func tableOf(t *testing.T, res *Result, name string) *schema.Table {
	t.Helper()
	tbl, ok := res.Model.Table(name)
	if !ok {
		t.Fatalf("table %s missing from model", name)
	}
	return tbl
}

var sample = file(
	"ERMHDR\t19.12\t2024-05-01\tProject\tadmin\tAdmin\tdbxDatabaseNoName\tProject Management\tRUB",
	"%T\tTASK",
	"%F\ttask_id\ttask_code\ttarget_start_date\ttarget_drtn_hr_cnt",
	"%R\t1\tA100\t2024-05-01 08:00\t8",
	"%R\t2\tA200\t2024-05-02 08:00\t16.5",
	"%T\tOBS",
	"%F\tobs_id",
	"%R\t10",
	"%R\t11",
	"%T\tUDFVALUE",
	"%F\tfk_id\tudf_type_id\tudf_text",
	"%R\t1\t99\tB",
	"%R\t1\t131\tA",
	"%E",
)

func TestLoad_Sample(t *testing.T) {
	t.Parallel()

	res := mustLoad(t, newEngine(t, Options{}), sample)
	if !res.OK() {
		t.Fatalf("unexpected errors: %v", res.ErrorLog)
	}
	var names []string
	for _, r := range res.Tables {
		names = append(names, r.Table)
		if !r.Completed {
			t.Errorf("%s not completed", r.Table)
		}
	}
	if want := []string{"TASK", "UDFVALUE"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("tables = %v, want %v", names, want)
	}

	task := tableOf(t, res, "TASK")
	if task.Len() != 2 {
		t.Fatalf("TASK rows = %d, want 2", task.Len())
	}
	if got := text(t, task, 1, "task_code"); got != "A200" {
		t.Errorf("task_code = %q", got)
	}
	if got := text(t, task, 1, "target_drtn_hr_cnt"); got != "16.5" {
		t.Errorf("target_drtn_hr_cnt = %q", got)
	}
	if res.RunID == "" {
		t.Error("run id not set")
	}
	if res.Truncated {
		t.Error("load should not be truncated")
	}
}

func TestLoad_IgnoredTableHasNoRows(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	e.SetIgnoredTables("UDFVALUE")
	res := mustLoad(t, e, sample)

	for _, r := range res.Tables {
		if r.Table == "OBS" || r.Table == "UDFVALUE" {
			t.Fatalf("ignored table %s reported", r.Table)
		}
	}
	for _, name := range []string{"OBS", "UDFVALUE"} {
		if n := tableOf(t, res, name).Len(); n != 0 {
			t.Errorf("%s rows = %d, want 0", name, n)
		}
	}
}

func TestLoad_MultiLineRecord(t *testing.T) {
	t.Parallel()

	src := "%T\tTASK\n%F\ttask_id\ttask_code\n%R\t1\t\"x\ny\"\n%R\t2\tz\n%E\n"
	res := mustLoad(t, newEngine(t, Options{}), src)

	task := tableOf(t, res, "TASK")
	if task.Len() != 2 {
		t.Fatalf("rows = %d, want 2", task.Len())
	}
	if got := text(t, task, 0, "task_code"); got != "x\ny" {
		t.Fatalf("task_code = %q, want %q", got, "x\ny")
	}
}

func TestLoad_BadFieldLogged(t *testing.T) {
	t.Parallel()

	src := file(
		"%T\tTASK",
		"%F\ttask_id\ttask_code\ttarget_start_date",
		"%R\t1\tA\t2024-05-01 08:00",
		"%R\t2\tB\t2024-13-40",
		"%E",
	)
	for _, strict := range []bool{false, true} {
		strict := strict
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			t.Parallel()
			res := mustLoad(t, newEngine(t, Options{Strict: strict}), src)
			if res.OK() || len(res.ErrorLog) != 1 {
				t.Fatalf("error log = %v", res.ErrorLog)
			}
			task := tableOf(t, res, "TASK")
			r, _ := res.Table("TASK")
			if strict {
				if task.Len() != 1 || r.Dropped != 1 {
					t.Fatalf("rows=%d dropped=%d, want 1/1", task.Len(), r.Dropped)
				}
				return
			}
			want := "row:2 error:expected a value convertible to Timestamp table:TASK field:target_start_date value:2024-13-40"
			if res.ErrorLog[0] != want {
				t.Fatalf("log = %q\nwant  %q", res.ErrorLog[0], want)
			}
			if task.Len() != 2 {
				t.Fatalf("rows = %d, want 2", task.Len())
			}
			if got := text(t, task, 1, "target_start_date"); got != "<null>" {
				t.Fatalf("bad field = %q, want null", got)
			}
		})
	}
}

func TestLoad_SynthesizesUnknownTable(t *testing.T) {
	t.Parallel()

	src := file(
		"%T\tPROJX",
		"%F\tproj_id\tplan_start_date\tproj_name",
		"%R\t7\t2024-01-02 00:00\tAlpha",
		"%E",
	)
	res := mustLoad(t, newEngine(t, Options{}), src)
	tbl := tableOf(t, res, "PROJX")
	want := map[string]value.Type{"proj_id": value.Integer, "plan_start_date": value.Timestamp, "proj_name": value.Text}
	for name, typ := range want {
		c, ok := tbl.Column(name)
		if !ok || c.Type != typ {
			t.Errorf("column %s = %+v, want %s", name, c, typ)
		}
	}
	v, _ := tbl.Value(0, "proj_id")
	if n, ok := v.Int(); !ok || n != 7 {
		t.Errorf("proj_id = %v", v)
	}
}

func TestLoad_SkipsUnresolvableTable(t *testing.T) {
	t.Parallel()

	src := file(
		"%T\tEMPTY",
		"%F\t\t",
		"%R\t1",
		"%T\tTASK",
		"%F\ttask_id",
		"%R\t1",
		"%E",
	)
	res := mustLoad(t, newEngine(t, Options{}), src)
	if !reflect.DeepEqual(res.Skipped, []string{"EMPTY"}) {
		t.Fatalf("skipped = %v", res.Skipped)
	}
	if len(res.ErrorLog) != 1 || !strings.Contains(res.ErrorLog[0], ErrSchemaResolution.Error()) {
		t.Fatalf("error log = %v", res.ErrorLog)
	}
	if tableOf(t, res, "TASK").Len() != 1 {
		t.Fatal("TASK not loaded after skipped section")
	}
}

func TestLoad_EarlyTermination(t *testing.T) {
	t.Parallel()

	src := file(
		"%T\tTASK",
		"%F\ttask_id",
		"%R\t1",
		"%T\tUDFVALUE",
		"%F\tfk_id",
		"%R\t1",
		"%T\tLATE",
		"%F\tlate_id",
		"%R\t1",
		"%E",
	)
	e := newEngine(t, Options{})
	e.SetLoadedTables("TASK")
	res := mustLoad(t, e, src)

	if !res.Truncated {
		t.Fatal("expected truncated read")
	}
	if len(res.Tables) != 1 || res.Tables[0].Table != "TASK" {
		t.Fatalf("tables = %+v", res.Tables)
	}
	if _, ok := res.Model.Table("LATE"); ok {
		t.Fatal("content after the last wanted table was parsed")
	}
	if res.Lines >= 10 {
		t.Fatalf("read %d lines, expected to stop early", res.Lines)
	}
}

func TestLoad_TableListsAreExclusive(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	e.SetLoadedTables("OBS")
	if got := e.IgnoredTables(); !reflect.DeepEqual(got, []string{"POBS", "RISKTYPE"}) {
		t.Fatalf("ignored = %v", got)
	}
	e.SetIgnoredTables("OBS")
	if len(e.LoadedTables()) != 0 {
		t.Fatalf("loaded = %v", e.LoadedTables())
	}
	e.ClearIgnoredTables()
	e.ResetIgnoredTables()
	if got := e.IgnoredTables(); !reflect.DeepEqual(got, []string{"OBS", "POBS", "RISKTYPE"}) {
		t.Fatalf("ignored after reset = %v", got)
	}
}

func TestLoad_DerivedColumns(t *testing.T) {
	t.Parallel()

	extra := DerivedColumn{Table: "TASK", Column: schema.UDFColumn("user_field_99", value.Text, "99", "udf_text")}
	res := mustLoad(t, newEngine(t, Options{CreateDerivedColumns: true, DerivedColumns: []DerivedColumn{extra}}), sample)
	task := tableOf(t, res, "TASK")

	if got := text(t, task, 0, "user_field_131"); got != "A" {
		t.Errorf("user_field_131 = %q, want A", got)
	}
	if got := text(t, task, 0, "user_field_99"); got != "B" {
		t.Errorf("user_field_99 = %q, want B", got)
	}
	if got := text(t, task, 1, "user_field_131"); got != "<null>" {
		t.Errorf("task 2 user_field_131 = %q, want null", got)
	}

	res = mustLoad(t, newEngine(t, Options{}), sample)
	if _, ok := tableOf(t, res, "TASK").Column("user_field_131"); ok {
		t.Error("derived column attached with the flag off")
	}
}

func TestLoad_SplitTable(t *testing.T) {
	t.Parallel()

	src := file(
		"%T\tTASK",
		"%F\ttask_id\ttask_code\ttarget_start_date",
		"%R\t1\ta\t2024-01-01 08:00",
		"%R\t2\tb\tsoon",
		"%T\tTASK",
		"%F\ttask_code\ttask_id\ttarget_start_date",
		"%R\tc\t3\tlater",
		"%E",
	)
	res := mustLoad(t, newEngine(t, Options{}), src)
	task := tableOf(t, res, "TASK")
	if task.Len() != 3 {
		t.Fatalf("rows = %d, want 3", task.Len())
	}
	if got := text(t, task, 2, "task_code") + text(t, task, 2, "task_id"); got != "c3" {
		t.Fatalf("last row = %q", got)
	}
	if len(res.Tables) != 1 {
		t.Fatalf("results = %d, want one per table", len(res.Tables))
	}
	r := res.Tables[0]
	if r.Records != 3 || r.Rows != 3 || len(r.Errors) != 2 || !r.Completed {
		t.Fatalf("merged result = %+v", r)
	}
	if len(res.ErrorLog) != 2 ||
		!strings.HasPrefix(res.ErrorLog[0], "row:2 ") ||
		!strings.HasPrefix(res.ErrorLog[1], "row:3 ") {
		t.Fatalf("error log = %q", res.ErrorLog)
	}
}

func TestLoad_UnscheduledTablesDoNotStopReading(t *testing.T) {
	t.Parallel()

	src := file(
		"%T\tPROJECT",
		"%F\tproj_id",
		"%R\t1",
		"%T\tCALENDAR",
		"%F\tclndr_id",
		"%R\t5",
		"%T\tTASK",
		"%F\ttask_id",
		"%R\t1",
		"%T\tUDFVALUE",
		"%F\tfk_id\tudf_type_id\tudf_text",
		"%R\t1\t131\tA",
		"%E",
	)
	res := mustLoad(t, newEngine(t, Options{}), src)
	if res.Truncated {
		t.Fatal("reading stopped before the defined tables")
	}
	for _, name := range []string{"PROJECT", "CALENDAR", "TASK", "UDFVALUE"} {
		if r, ok := res.Table(name); !ok || r.Rows != 1 {
			t.Fatalf("%s: result %+v, found %v", name, r, ok)
		}
	}

	// Once both defined tables were read, the next section ends the read.
	res = mustLoad(t, newEngine(t, Options{}), src[:len(src)-len("%E\r\n")]+file("%T\tTRAILER", "%F\tx", "%R\t1"))
	if !res.Truncated {
		t.Fatal("expected truncated read after the defined tables")
	}
	if _, ok := res.Model.Table("TRAILER"); ok {
		t.Fatal("trailing unscheduled table was parsed")
	}
}

func TestLoad_RecordBeforeFieldList(t *testing.T) {
	t.Parallel()

	src := file(
		"%T\tTASK",
		"%R\t1",
		"%F\ttask_id",
		"%R\t2",
		"%T\tLOOSE",
		"%R\tx",
		"%E",
	)
	res := mustLoad(t, newEngine(t, Options{}), src)

	r, ok := res.Table("TASK")
	if !ok || r.Records != 2 || r.Rows != 1 || r.Dropped != 1 {
		t.Fatalf("TASK result = %+v", r)
	}
	if r.Records-r.Dropped != tableOf(t, res, "TASK").Len() {
		t.Fatal("rows do not match records minus dropped")
	}
	if len(r.Errors) != 1 || r.Errors[0].Row != 1 || !errors.Is(r.Errors[0], ErrRecordBeforeFields) {
		t.Fatalf("TASK errors = %+v", r.Errors)
	}
	if !reflect.DeepEqual(res.Skipped, []string{"LOOSE"}) {
		t.Fatalf("skipped = %v", res.Skipped)
	}
	if len(res.ErrorLog) != 3 || !strings.Contains(res.ErrorLog[2], "table:LOOSE") {
		t.Fatalf("error log = %q", res.ErrorLog)
	}
}

func TestLoad_Deterministic(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for ti := 0; ti < 6; ti++ {
		fmt.Fprintf(&b, "%%T\tT%d\r\n%%F\tt%d_id\tnote\tdue_date\r\n", ti, ti)
		for r := 0; r < 400; r++ {
			due := "2024-01-02 00:00"
			if r%97 == 0 {
				due = "not a date"
			}
			fmt.Fprintf(&b, "%%R\t%d\tn%d\t%s\r\n", r, r, due)
		}
	}
	b.WriteString("%E\r\n")
	src := b.String()

	e := newEngine(t, Options{QueueSize: 4})
	first := mustLoad(t, e, src)
	second := mustLoad(t, e, src)

	if !reflect.DeepEqual(first.ErrorLog, second.ErrorLog) {
		t.Fatal("error logs differ between loads")
	}
	if len(first.ErrorLog) != 6*5 {
		t.Fatalf("error log has %d entries, want 30", len(first.ErrorLog))
	}
	for ti := 0; ti < 6; ti++ {
		name := fmt.Sprintf("T%d", ti)
		a, b := tableOf(t, first, name), tableOf(t, second, name)
		if a.Len() != 400 {
			t.Fatalf("%s rows = %d", name, a.Len())
		}
		if a.ContentHash() != b.ContentHash() {
			t.Fatalf("%s content differs between loads", name)
		}
		for i := 0; i < a.Len(); i++ {
			v, _ := a.Value(i, fmt.Sprintf("t%d_id", ti))
			if n, _ := v.Int(); n != int64(i) {
				t.Fatalf("%s row %d holds id %d", name, i, n)
			}
		}
	}
}

func TestLoad_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newEngine(t, Options{}).Load(ctx, strings.NewReader(sample))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || res.Model == nil {
		t.Fatal("cancelled load must still return a result")
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Options{})
	if _, err := e.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.xer")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not-exist", err)
	}

	path := filepath.Join(t.TempDir(), "plan.xer")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := e.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if tableOf(t, res, "UDFVALUE").Len() != 2 {
		t.Fatal("UDFVALUE not loaded from file")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, value.Registry{}, Options{}); !errors.Is(err, ErrNoSchema) {
		t.Fatalf("err = %v, want ErrNoSchema", err)
	}
	def := &schema.Definition{}
	if _, err := New(def, value.Registry{}, Options{Encoding: "klingon"}); err == nil {
		t.Fatal("expected encoding error")
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	def, err := schema.LoadDefinition(strings.NewReader(testSchema))
	if err != nil {
		t.Fatal(err)
	}
	e, err := FromConfig(def, "nightly", config.LoadConfig{
		ResetDefaultIgnored: true,
		IgnoredTables:       []string{"UDFVALUE", "TASK"},
		LoadedTables:        []string{"TASK"},
		DecimalSeparator:    ",",
		Encoding:            "utf-8",
	}, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.IgnoredTables(); !reflect.DeepEqual(got, []string{"UDFVALUE"}) {
		t.Fatalf("ignored = %v", got)
	}
	if got := e.LoadedTables(); !reflect.DeepEqual(got, []string{"TASK"}) {
		t.Fatalf("loaded = %v", got)
	}

	res := mustLoad(t, e, file("%T\tTASK", "%F\ttask_id\ttarget_drtn_hr_cnt", "%R\t1\t2,5", "%E"))
	if got := text(t, tableOf(t, res, "TASK"), 0, "target_drtn_hr_cnt"); got != "2.5" {
		t.Fatalf("decimal = %q, want 2.5", got)
	}

	if _, err := FromConfig(def, "", config.LoadConfig{DecimalSeparator: ";"}, quiet); err == nil {
		t.Fatal("expected separator error")
	}
}
