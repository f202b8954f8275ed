// Package schema is the in-memory relational model populated by a load:
// named tables with ordered typed columns, an optional primary key, an
// append-only row store, and named parent/child relations between tables.
//
// Concurrency contract:
//   - Table and relation definitions are fixed before parsing starts and are
//     read-only afterwards (AddTable is only called by the sequential reader).
//   - Each table's row store is appended to by exactly one goroutine (its
//     conversion pipeline) while a load is running.
//   - Derived columns and relation lookups must only be read after the load
//     has completed; those reads are safe for concurrent use.
package schema

import (
	"errors"
	"fmt"
	"sync"

	"xer/internal/value"
)

var (
	ErrTableExists      = errors.New("schema: table already exists")
	ErrTableNotFound    = errors.New("schema: table not found")
	ErrColumnNotFound   = errors.New("schema: column not found")
	ErrRelationNotFound = errors.New("schema: relation not found")
	ErrDerivedReadOnly  = errors.New("schema: derived column is read-only")
)

// Kind separates columns with their own storage from computed ones.
type Kind uint8

const (
	Stored Kind = iota
	Derived
)

func (k Kind) String() string {
	if k == Derived {
		return "derived"
	}
	return "stored"
}

// Column describes one table column. Every column is nullable.
type Column struct {
	Name string
	Type value.Type
	Kind Kind

	// Excluded columns are kept in memory but never written out.
	Excluded bool

	// Derived holds the lookup parameters when Kind == Derived.
	Derived *DerivedSpec

	slot   int
	coerce value.CoerceFunc
}

// Coerce converts a raw field for this column using the function chosen when
// the column was added to its table.
func (c *Column) Coerce(raw string) (value.Value, error) {
	return c.coerce(raw)
}

// Slot is the index of a stored column's value within a Row, or -1 for a
// derived column.
func (c *Column) Slot() int { return c.slot }

// Row holds one value per stored column, in stored-column order.
type Row []value.Value

// Model is a set of tables and the relations between them.
type Model struct {
	reg       value.Registry
	tables    []*Table
	byName    map[string]*Table
	relations []*Relation
	relByName map[string]*Relation

	idxMu   sync.Mutex
	indexes map[string]*childIndex
}

// NewModel returns an empty model whose columns coerce with reg.
func NewModel(reg value.Registry) *Model {
	return &Model{
		reg:       reg,
		byName:    map[string]*Table{},
		relByName: map[string]*Relation{},
		indexes:   map[string]*childIndex{},
	}
}

// Registry returns the coercion registry the model was built with.
func (m *Model) Registry() value.Registry { return m.reg }

// AddTable creates a table with the given columns.
func (m *Model) AddTable(name string, cols ...Column) (*Table, error) {
	if name == "" {
		return nil, fmt.Errorf("schema: empty table name")
	}
	if _, ok := m.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	t := &Table{Name: name, model: m, byName: map[string]int{}}
	for _, c := range cols {
		if _, err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	m.tables = append(m.tables, t)
	m.byName[name] = t
	return t, nil
}

// Table looks a table up by name.
func (m *Model) Table(name string) (*Table, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// Tables returns all tables in definition/discovery order.
func (m *Model) Tables() []*Table {
	out := make([]*Table, len(m.tables))
	copy(out, m.tables)
	return out
}

// Table is a named, ordered column set plus its rows.
type Table struct {
	Name string

	model      *Model
	columns    []*Column
	byName     map[string]int
	stored     int
	primaryKey []string
	rows       []Row
	version    uint64

	pkMu  sync.Mutex
	pkIdx *childIndex
}

// AddColumn appends a column. Stored columns get the next storage slot and a
// coercion function resolved from their declared type.
func (t *Table) AddColumn(c Column) (*Column, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("schema: %s: empty column name", t.Name)
	}
	if _, ok := t.byName[c.Name]; ok {
		return nil, fmt.Errorf("schema: %s: duplicate column %q", t.Name, c.Name)
	}
	col := c
	if col.Kind == Derived {
		if col.Derived == nil {
			return nil, fmt.Errorf("schema: %s.%s: derived column without lookup parameters", t.Name, c.Name)
		}
		col.slot = -1
	} else {
		col.Derived = nil
		col.slot = t.stored
		t.stored++
	}
	col.coerce = t.model.reg.Func(col.Type)
	t.byName[col.Name] = len(t.columns)
	t.columns = append(t.columns, &col)
	return &col, nil
}

// Columns returns all columns, stored and derived, in order.
func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// StoredColumns returns the columns that hold their own values, in slot order.
func (t *Table) StoredColumns() []*Column {
	out := make([]*Column, 0, t.stored)
	for _, c := range t.columns {
		if c.Kind == Stored {
			out = append(out, c)
		}
	}
	return out
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// SetPrimaryKey declares the primary-key columns. All must be stored columns.
func (t *Table) SetPrimaryKey(cols ...string) error {
	for _, name := range cols {
		c, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.Name, name)
		}
		if c.Kind != Stored {
			return fmt.Errorf("schema: %s.%s: primary key on derived column", t.Name, name)
		}
	}
	t.primaryKey = append([]string(nil), cols...)
	return nil
}

// PrimaryKey returns the primary-key column names (possibly empty).
func (t *Table) PrimaryKey() []string { return append([]string(nil), t.primaryKey...) }

// NewRow returns an all-null row sized for the stored columns.
func (t *Table) NewRow() Row { return make(Row, t.stored) }

// Append adds a row and returns its index. Only the table's own conversion
// pipeline calls Append while a load is running.
func (t *Table) Append(r Row) int {
	t.rows = append(t.rows, r)
	t.version++
	return len(t.rows) - 1
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Value returns the value of column col in row i. Derived columns are
// evaluated on every call.
func (t *Table) Value(i int, col string) (value.Value, error) {
	if i < 0 || i >= len(t.rows) {
		return value.Null(), fmt.Errorf("schema: %s: row %d out of range", t.Name, i)
	}
	c, ok := t.Column(col)
	if !ok {
		return value.Null(), fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.Name, col)
	}
	return t.valueOf(i, c)
}

// ColumnValue is Value for a column already resolved with Column or
// Columns, skipping the name lookup.
func (t *Table) ColumnValue(i int, c *Column) (value.Value, error) {
	if i < 0 || i >= len(t.rows) {
		return value.Null(), fmt.Errorf("schema: %s: row %d out of range", t.Name, i)
	}
	return t.valueOf(i, c)
}

func (t *Table) valueOf(i int, c *Column) (value.Value, error) {
	switch c.Kind {
	case Derived:
		return t.project(i, c.Derived)
	default:
		r := t.rows[i]
		if c.slot >= len(r) {
			return value.Null(), nil
		}
		return r[c.slot], nil
	}
}

// Values returns every column value of row i, derived columns included.
func (t *Table) Values(i int) ([]value.Value, error) {
	out := make([]value.Value, len(t.columns))
	for k, c := range t.columns {
		v, err := t.Value(i, c.Name)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Set replaces a stored value after load. Writes to derived columns are
// rejected and leave the model untouched; change the child row instead.
func (t *Table) Set(i int, col string, v value.Value) error {
	if i < 0 || i >= len(t.rows) {
		return fmt.Errorf("schema: %s: row %d out of range", t.Name, i)
	}
	c, ok := t.Column(col)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.Name, col)
	}
	if c.Kind == Derived {
		return fmt.Errorf("%w: %s.%s", ErrDerivedReadOnly, t.Name, col)
	}
	if !v.IsNull() && v.Type() != c.Type {
		return fmt.Errorf("schema: %s.%s: cannot store %s in %s column", t.Name, col, v.Type(), c.Type)
	}
	r := t.rows[i]
	if c.slot >= len(r) {
		grown := make(Row, t.stored)
		copy(grown, r)
		r = grown
		t.rows[i] = r
	}
	r[c.slot] = v
	t.version++
	return nil
}

// Remove deletes row i, shifting later rows down. Only valid after a load.
func (t *Table) Remove(i int) error {
	if i < 0 || i >= len(t.rows) {
		return fmt.Errorf("schema: %s: row %d out of range", t.Name, i)
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	t.version++
	return nil
}

// Lookup finds the first row whose primary key equals key.
func (t *Table) Lookup(key ...value.Value) (int, bool) {
	if len(t.primaryKey) == 0 || len(key) != len(t.primaryKey) {
		return -1, false
	}
	k, ok := joinKey(key)
	if !ok {
		return -1, false
	}
	t.pkMu.Lock()
	if t.pkIdx == nil || t.pkIdx.version != t.version {
		t.pkIdx = buildIndex(t, t.primaryKey)
	}
	idx := t.pkIdx
	t.pkMu.Unlock()
	if rows := idx.byKey[k]; len(rows) > 0 {
		return rows[0], true
	}
	return -1, false
}
