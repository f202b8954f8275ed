package schema

import (
	"errors"
	"strings"
	"testing"

	"xer/internal/value"
)

// udfModel builds TASK with two UDFVALUE children for task 1:
// udf_type_id=131 "A" and udf_type_id=99 "B".
func udfModel(t *testing.T) *Model {
	t.Helper()
	m := NewModel(value.Registry{})
	task, err := m.AddTable("TASK",
		Column{Name: "task_id", Type: value.Integer},
		Column{Name: "task_code", Type: value.Text},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := task.SetPrimaryKey("task_id"); err != nil {
		t.Fatal(err)
	}
	udf, err := m.AddTable("UDFVALUE",
		Column{Name: "fk_id", Type: value.Integer},
		Column{Name: "udf_type_id", Type: value.Integer},
		Column{Name: "udf_text", Type: value.Text},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddRelation(Relation{
		Name: "rel_udf_task", Parent: "TASK", Child: "UDFVALUE",
		ParentColumns: []string{"task_id"}, ChildColumns: []string{"fk_id"},
	}); err != nil {
		t.Fatal(err)
	}
	task.Append(Row{value.Int(1), value.Str("A1000")})
	task.Append(Row{value.Int(2), value.Str("A1010")})
	udf.Append(Row{value.Int(1), value.Int(99), value.Str("B")})
	udf.Append(Row{value.Int(1), value.Int(131), value.Str("A")})
	udf.Append(Row{value.Int(2), value.Int(131), value.Str("other task")})
	if err := AttachDerived(m, task, UDFColumn("user_field_131", value.Text, "131", "udf_text")); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDerived_FirstMatchingChild(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")

	got, err := task.Value(0, "user_field_131")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if s, ok := got.Text(); !ok || s != "A" {
		t.Fatalf("user_field_131 = %v, want A", got)
	}
	got, _ = task.Value(1, "user_field_131")
	if s, _ := got.Text(); s != "other task" {
		t.Fatalf("row 1 = %v, want %q", got, "other task")
	}
}

func TestDerived_NoMatchIsNull(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")
	udf, _ := m.Table("UDFVALUE")

	// Prime the index so removal has to invalidate it.
	if _, err := task.Value(0, "user_field_131"); err != nil {
		t.Fatal(err)
	}
	if err := udf.Remove(1); err != nil {
		t.Fatal(err)
	}
	got, err := task.Value(0, "user_field_131")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if !got.IsNull() {
		t.Fatalf("got %v, want null after removing matching child", got)
	}
}

func TestDerived_FirstInStoreOrder(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")
	udf, _ := m.Table("UDFVALUE")
	udf.Append(Row{value.Int(1), value.Int(131), value.Str("later")})

	got, _ := task.Value(0, "user_field_131")
	if s, _ := got.Text(); s != "A" {
		t.Fatalf("got %v, want the first match A", got)
	}
}

func TestDerived_ReadOnly(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")
	err := task.Set(0, "user_field_131", value.Str("Z"))
	if !errors.Is(err, ErrDerivedReadOnly) {
		t.Fatalf("Set on derived column: err=%v, want ErrDerivedReadOnly", err)
	}
	got, _ := task.Value(0, "user_field_131")
	if s, _ := got.Text(); s != "A" {
		t.Fatalf("derived value changed to %v", got)
	}

	// The child value field is the write path.
	udf, _ := m.Table("UDFVALUE")
	if err := udf.Set(1, "udf_text", value.Str("Z")); err != nil {
		t.Fatal(err)
	}
	got, _ = task.Value(0, "user_field_131")
	if s, _ := got.Text(); s != "Z" {
		t.Fatalf("got %v, want Z after child update", got)
	}
}

func TestDerived_NotStored(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")
	if n := len(task.NewRow()); n != 2 {
		t.Fatalf("NewRow width = %d, want 2 stored columns", n)
	}
	if n := len(task.StoredColumns()); n != 2 {
		t.Fatalf("StoredColumns = %d, want 2", n)
	}
	if n := len(task.Columns()); n != 3 {
		t.Fatalf("Columns = %d, want 3", n)
	}
}

func TestAttachDerived_Errors(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")
	udf, _ := m.Table("UDFVALUE")

	cases := []struct {
		name  string
		table *Table
		col   Column
		want  error
	}{
		{"unknown relation", task, ActivityCodeColumn("actv_1", value.Integer, "1", "actv_code_id"), ErrRelationNotFound},
		{"unknown value field", task, UDFColumn("u", value.Text, "1", "udf_number"), ErrColumnNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if err := AttachDerived(m, tc.table, tc.col); !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
	if err := AttachDerived(m, udf, UDFColumn("u", value.Text, "1", "udf_text")); err == nil {
		t.Fatal("expected error attaching to the child side of a relation")
	}
}

func TestModel_AddRelationValidation(t *testing.T) {
	t.Parallel()

	m := NewModel(value.Registry{})
	if _, err := m.AddTable("A", Column{Name: "id", Type: value.Integer}, Column{Name: "k2", Type: value.Integer}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTable("B", Column{Name: "a_id", Type: value.Integer}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		rel  Relation
		want error
	}{
		{"arity", Relation{Name: "r1", Parent: "A", Child: "B", ParentColumns: []string{"id", "k2"}, ChildColumns: []string{"a_id"}}, nil},
		{"missing parent", Relation{Name: "r2", Parent: "X", Child: "B", ParentColumns: []string{"id"}, ChildColumns: []string{"a_id"}}, ErrTableNotFound},
		{"missing column", Relation{Name: "r3", Parent: "A", Child: "B", ParentColumns: []string{"nope"}, ChildColumns: []string{"a_id"}}, ErrColumnNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := m.AddRelation(tc.rel)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
	if err := m.AddRelation(Relation{Name: "ok", Parent: "A", Child: "B", ParentColumns: []string{"id"}, ChildColumns: []string{"a_id"}}); err != nil {
		t.Fatalf("valid relation: %v", err)
	}
	if _, ok := m.Relation("ok"); !ok {
		t.Fatal("relation not registered")
	}
}

func TestTable_Lookup(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")
	i, ok := task.Lookup(value.Int(2))
	if !ok || i != 1 {
		t.Fatalf("Lookup(2) = %d,%v want 1,true", i, ok)
	}
	if _, ok := task.Lookup(value.Int(3)); ok {
		t.Fatal("Lookup(3) found a row")
	}
	if _, ok := task.Lookup(value.Null()); ok {
		t.Fatal("Lookup(null) found a row")
	}
	task.Append(Row{value.Int(3), value.Str("new")})
	if i, ok := task.Lookup(value.Int(3)); !ok || i != 2 {
		t.Fatalf("Lookup after append = %d,%v", i, ok)
	}
}

func TestTable_SetTypeMismatch(t *testing.T) {
	t.Parallel()

	m := udfModel(t)
	task, _ := m.Table("TASK")
	if err := task.Set(0, "task_id", value.Str("x")); err == nil {
		t.Fatal("expected type mismatch error")
	}
	if err := task.Set(0, "task_code", value.Null()); err != nil {
		t.Fatalf("null is always allowed: %v", err)
	}
}

func TestModel_DuplicateNames(t *testing.T) {
	t.Parallel()

	m := NewModel(value.Registry{})
	if _, err := m.AddTable("A", Column{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTable("A"); !errors.Is(err, ErrTableExists) {
		t.Fatalf("err=%v, want ErrTableExists", err)
	}
	if _, err := m.AddTable("B", Column{Name: "x"}, Column{Name: "x"}); err == nil {
		t.Fatal("expected duplicate column error")
	}
}

func TestSynthesizeColumns(t *testing.T) {
	t.Parallel()

	cols := SynthesizeColumns([]string{"seq_num", "task_id", "void_id_reason", "void", "target_start_date", "Name", "", "task_id"})
	want := []struct {
		name string
		typ  value.Type
	}{
		{"seq_num", value.Integer},
		{"task_id", value.Integer},
		{"void_id_reason", value.Integer},
		{"void", value.Integer},
		{"target_start_date", value.Timestamp},
		{"Name", value.Text},
	}
	if len(cols) != len(want) {
		t.Fatalf("got %d columns, want %d", len(cols), len(want))
	}
	for i, w := range want {
		if cols[i].Name != w.name || cols[i].Type != w.typ {
			t.Errorf("col %d = %s/%s, want %s/%s", i, cols[i].Name, cols[i].Type, w.name, w.typ)
		}
	}
}

const testDefinition = `{
  "tables": [
    {"name": "TASK", "primary_key": ["task_id"], "columns": [
      {"name": "task_id", "type": "integer"},
      {"name": "task_code", "type": "text"},
      {"name": "target_drtn_hr_cnt", "type": "decimal"},
      {"name": "internal_note", "type": "text", "excluded": true},
      {"name": "user_field_131", "type": "text", "derived": {
        "relation": "rel_udf_task", "discriminator_field": "udf_type_id",
        "discriminator_value": "131", "value_field": "udf_text"}}
    ]},
    {"name": "UDFVALUE", "columns": [
      {"name": "fk_id", "type": "integer"},
      {"name": "udf_type_id", "type": "integer"},
      {"name": "udf_text", "type": "text"}
    ]}
  ],
  "relations": [
    {"name": "rel_udf_task", "parent": "TASK", "child": "UDFVALUE",
     "parent_columns": ["task_id"], "child_columns": ["fk_id"]}
  ]
}`

func TestDefinition_BuildAndAttach(t *testing.T) {
	t.Parallel()

	def, err := LoadDefinition(strings.NewReader(testDefinition))
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if got := def.TableNames(); len(got) != 2 || got[0] != "TASK" {
		t.Fatalf("TableNames = %v", got)
	}
	if !def.HasTable("task") {
		t.Fatal("HasTable should ignore case")
	}

	m, err := def.Build(value.Registry{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	task, _ := m.Table("TASK")
	if _, ok := task.Column("user_field_131"); ok {
		t.Fatal("Build must not add derived columns")
	}
	c, _ := task.Column("internal_note")
	if !c.Excluded {
		t.Fatal("excluded flag lost")
	}
	before := m.Fingerprint()

	if err := def.AttachDerived(m); err != nil {
		t.Fatalf("AttachDerived: %v", err)
	}
	c, ok := task.Column("user_field_131")
	if !ok || c.Kind != Derived {
		t.Fatal("derived column not attached")
	}
	if m.Fingerprint() == before {
		t.Fatal("fingerprint did not change after attaching a column")
	}

	m2, _ := def.Build(value.Registry{})
	if m2.Fingerprint() != before {
		t.Fatal("fingerprint is not stable across builds")
	}
}

func TestDefinition_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown field":   `{"tables": [], "bogus": 1}`,
		"bad type":        `{"tables": [{"name": "A", "columns": [{"name": "x", "type": "blob"}]}]}`,
		"dup table":       `{"tables": [{"name": "A", "columns": []}, {"name": "A", "columns": []}]}`,
		"bad pk":          `{"tables": [{"name": "A", "primary_key": ["y"], "columns": [{"name": "x", "type": "text"}]}]}`,
		"bad relation":    `{"tables": [{"name": "A", "columns": []}], "relations": [{"name": "r", "parent": "A", "child": "B", "parent_columns": ["x"], "child_columns": ["y"]}]}`,
		"bad derived":     `{"tables": [{"name": "A", "columns": [{"name": "d", "type": "text", "derived": {"relation": "none", "discriminator_field": "a", "discriminator_value": "1", "value_field": "b"}}]}]}`,
		"not json at all": `%T	TASK`,
	}
	for name, src := range cases {
		src := src
		t.Run(name, func(t *testing.T) {
			if _, err := LoadDefinition(strings.NewReader(src)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
