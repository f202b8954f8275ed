// Package ddl models CREATE TABLE statements for exported schema tables and
// renders them per SQL dialect.
package ddl

import (
	"fmt"
	"strings"

	"xer/internal/schema"
	"xer/internal/value"
)

// ColumnDef describes one column. Default is raw SQL.
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef is a table name, possibly schema-qualified ("dbo.TASK"), plus
// its columns in order.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Dialect holds what differs between backends.
type Dialect struct {
	Name string
	// Quote quotes one identifier segment. Nil emits names as-is.
	Quote func(ident string) string
	// MapType maps a semantic column type to a column type.
	MapType func(t value.Type) string
	// Guard wraps the CREATE TABLE body for backends without
	// IF NOT EXISTS. Nil renders CREATE TABLE IF NOT EXISTS.
	Guard func(quotedFQN, create string) string
}

// FromTable builds a definition for cols of t. Primary key columns are
// NOT NULL; everything else is nullable.
func FromTable(fqn string, t *schema.Table, cols []*schema.Column, mapType func(value.Type) string) TableDef {
	pk := make(map[string]bool)
	for _, n := range t.PrimaryKey() {
		pk[n] = true
	}
	td := TableDef{FQN: fqn, Columns: make([]ColumnDef, 0, len(cols))}
	for _, c := range cols {
		td.Columns = append(td.Columns, ColumnDef{
			Name:       c.Name,
			SQLType:    mapType(c.Type),
			Nullable:   !pk[c.Name],
			PrimaryKey: pk[c.Name],
		})
	}
	return td
}

// QuoteFQN quotes every dotted segment of fqn. Empty segments are dropped.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, d.quote(p))
		}
	}
	return strings.Join(out, ".")
}

func (d Dialect) quote(id string) string {
	if d.Quote == nil {
		return id
	}
	return d.Quote(id)
}

// CreateTableSQL renders t:
//
//	CREATE TABLE IF NOT EXISTS <fqn> (
//	  <col> <type> [NOT NULL] [DEFAULT <expr>],
//	  PRIMARY KEY (<pk cols>)
//	);
func (d Dialect) CreateTableSQL(t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	var pks []string
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(d.quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())
		if c.PrimaryKey {
			pks = append(pks, d.quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := d.QuoteFQN(fqn)
	if d.Guard != nil {
		return d.Guard(quoted, fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", quoted, strings.Join(cols, ",\n  "))), nil
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", quoted, strings.Join(cols, ",\n  ")), nil
}
