package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"xer/internal/value"
)

// Definition is the persisted table/column/relation description a model is
// built from. It is read once and never mutated by a load.
type Definition struct {
	Tables    []TableDef    `json:"tables"`
	Relations []RelationDef `json:"relations,omitempty"`
}

type TableDef struct {
	Name       string      `json:"name"`
	Columns    []ColumnDef `json:"columns"`
	PrimaryKey []string    `json:"primary_key,omitempty"`
}

type ColumnDef struct {
	Name     string       `json:"name"`
	Type     value.Type   `json:"type"`
	Excluded bool         `json:"excluded,omitempty"`
	Derived  *DerivedSpec `json:"derived,omitempty"`
}

type RelationDef struct {
	Name          string   `json:"name"`
	Parent        string   `json:"parent"`
	Child         string   `json:"child"`
	ParentColumns []string `json:"parent_columns"`
	ChildColumns  []string `json:"child_columns"`
}

// LoadDefinition decodes a JSON definition and checks it for structural
// mistakes (duplicate names, unknown key columns).
func LoadDefinition(r io.Reader) (*Definition, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var d Definition
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("schema: decode definition: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDefinitionFile reads a JSON definition from path.
func LoadDefinitionFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open definition: %w", err)
	}
	defer f.Close()
	return LoadDefinition(f)
}

// Validate builds a throwaway model so every check AddTable/AddRelation
// performs also applies to the definition.
func (d *Definition) Validate() error {
	m, err := d.Build(value.Registry{})
	if err != nil {
		return err
	}
	return d.AttachDerived(m)
}

// TableNames lists the defined table names in definition order.
func (d *Definition) TableNames() []string {
	out := make([]string, 0, len(d.Tables))
	for _, t := range d.Tables {
		out = append(out, t.Name)
	}
	return out
}

// HasTable reports whether name is defined, ignoring case.
func (d *Definition) HasTable(name string) bool {
	for _, t := range d.Tables {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

// Build creates a fresh model holding every defined table with its stored
// columns, primary key and relations. Derived columns are left out; see
// AttachDerived.
func (d *Definition) Build(reg value.Registry) (*Model, error) {
	m := NewModel(reg)
	for _, td := range d.Tables {
		t, err := m.AddTable(td.Name)
		if err != nil {
			return nil, err
		}
		for _, cd := range td.Columns {
			if cd.Derived != nil {
				continue
			}
			if _, err := t.AddColumn(Column{Name: cd.Name, Type: cd.Type, Excluded: cd.Excluded}); err != nil {
				return nil, err
			}
		}
		if len(td.PrimaryKey) > 0 {
			if err := t.SetPrimaryKey(td.PrimaryKey...); err != nil {
				return nil, err
			}
		}
	}
	for _, rd := range d.Relations {
		err := m.AddRelation(Relation{
			Name:          rd.Name,
			Parent:        rd.Parent,
			Child:         rd.Child,
			ParentColumns: rd.ParentColumns,
			ChildColumns:  rd.ChildColumns,
		})
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AttachDerived adds the defined derived columns to a model built by Build.
// Each must follow a known relation whose parent is the owning table.
func (d *Definition) AttachDerived(m *Model) error {
	for _, td := range d.Tables {
		t, ok := m.Table(td.Name)
		if !ok {
			continue
		}
		for _, cd := range td.Columns {
			if cd.Derived == nil {
				continue
			}
			if err := AttachDerived(m, t, Column{Name: cd.Name, Type: cd.Type, Kind: Derived, Excluded: cd.Excluded, Derived: cd.Derived}); err != nil {
				return err
			}
		}
	}
	return nil
}

// AttachDerived adds one derived column to t after checking that its
// relation exists, has t as its parent, and that the child side carries the
// discriminator and value fields.
func AttachDerived(m *Model, t *Table, c Column) error {
	if c.Derived == nil {
		return fmt.Errorf("schema: %s.%s: not a derived column", t.Name, c.Name)
	}
	rel, ok := m.Relation(c.Derived.Relation)
	if !ok {
		return fmt.Errorf("%w: %s (column %s.%s)", ErrRelationNotFound, c.Derived.Relation, t.Name, c.Name)
	}
	if rel.Parent != t.Name {
		return fmt.Errorf("schema: %s.%s: relation %q has parent %s", t.Name, c.Name, rel.Name, rel.Parent)
	}
	child, _ := m.Table(rel.Child)
	for _, f := range []string{c.Derived.DiscriminatorField, c.Derived.ValueField} {
		if _, ok := child.Column(f); !ok {
			return fmt.Errorf("%w: %s.%s (column %s.%s)", ErrColumnNotFound, child.Name, f, t.Name, c.Name)
		}
	}
	c.Kind = Derived
	_, err := t.AddColumn(c)
	return err
}
