package schema

import (
	"fmt"
	"strings"

	"xer/internal/value"
)

// Relation links parent key columns to child key columns of equal arity.
type Relation struct {
	Name          string
	Parent        string
	Child         string
	ParentColumns []string
	ChildColumns  []string
}

// DerivedSpec parameterizes a derived column: follow Relation from the
// parent row to its children, pick the first child whose DiscriminatorField
// equals DiscriminatorValue, and read that child's ValueField.
type DerivedSpec struct {
	Relation           string `json:"relation"`
	DiscriminatorField string `json:"discriminator_field"`
	DiscriminatorValue string `json:"discriminator_value"`
	ValueField         string `json:"value_field"`
}

// UDFColumn is the derived column reading valueField of the user-defined
// field of type udfTypeID attached through the rel_udf_task relation.
func UDFColumn(name string, typ value.Type, udfTypeID, valueField string) Column {
	return Column{
		Name: name,
		Type: typ,
		Kind: Derived,
		Derived: &DerivedSpec{
			Relation:           "rel_udf_task",
			DiscriminatorField: "udf_type_id",
			DiscriminatorValue: udfTypeID,
			ValueField:         valueField,
		},
	}
}

// ActivityCodeColumn is the derived column reading valueField of the
// activity code of type codeTypeID assigned through rel_task_actv.
func ActivityCodeColumn(name string, typ value.Type, codeTypeID, valueField string) Column {
	return Column{
		Name: name,
		Type: typ,
		Kind: Derived,
		Derived: &DerivedSpec{
			Relation:           "rel_task_actv",
			DiscriminatorField: "actv_code_type_id",
			DiscriminatorValue: codeTypeID,
			ValueField:         valueField,
		},
	}
}

// AddRelation registers a relation. Both tables and every named column must
// exist and the key lists must have the same non-zero length.
func (m *Model) AddRelation(r Relation) error {
	if r.Name == "" {
		return fmt.Errorf("schema: empty relation name")
	}
	if _, ok := m.relByName[r.Name]; ok {
		return fmt.Errorf("schema: relation %q already exists", r.Name)
	}
	if len(r.ParentColumns) == 0 || len(r.ParentColumns) != len(r.ChildColumns) {
		return fmt.Errorf("schema: relation %q: key arity mismatch (%d parent, %d child)",
			r.Name, len(r.ParentColumns), len(r.ChildColumns))
	}
	parent, ok := m.Table(r.Parent)
	if !ok {
		return fmt.Errorf("%w: relation %q parent %s", ErrTableNotFound, r.Name, r.Parent)
	}
	child, ok := m.Table(r.Child)
	if !ok {
		return fmt.Errorf("%w: relation %q child %s", ErrTableNotFound, r.Name, r.Child)
	}
	for _, c := range r.ParentColumns {
		if _, ok := parent.Column(c); !ok {
			return fmt.Errorf("%w: relation %q: %s.%s", ErrColumnNotFound, r.Name, r.Parent, c)
		}
	}
	for _, c := range r.ChildColumns {
		if _, ok := child.Column(c); !ok {
			return fmt.Errorf("%w: relation %q: %s.%s", ErrColumnNotFound, r.Name, r.Child, c)
		}
	}
	rel := r
	rel.ParentColumns = append([]string(nil), r.ParentColumns...)
	rel.ChildColumns = append([]string(nil), r.ChildColumns...)
	m.relations = append(m.relations, &rel)
	m.relByName[rel.Name] = &rel
	return nil
}

// Relation looks a relation up by name.
func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relByName[name]
	return r, ok
}

// Relations returns all relations in registration order.
func (m *Model) Relations() []*Relation {
	out := make([]*Relation, len(m.relations))
	copy(out, m.relations)
	return out
}

// Children returns the indexes of the rows in the relation's child table
// that match parent row i, in child store order.
func (m *Model) Children(relation string, i int) ([]int, error) {
	rel, ok := m.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRelationNotFound, relation)
	}
	parent, _ := m.Table(rel.Parent)
	if i < 0 || i >= parent.Len() {
		return nil, fmt.Errorf("schema: %s: row %d out of range", parent.Name, i)
	}
	key, ok, err := rowKey(parent, i, rel.ParentColumns)
	if err != nil || !ok {
		return nil, err
	}
	return m.childIndex(rel).byKey[key], nil
}

// project evaluates a derived column for row i of t.
func (t *Table) project(i int, d *DerivedSpec) (value.Value, error) {
	m := t.model
	rel, ok := m.Relation(d.Relation)
	if !ok {
		return value.Null(), fmt.Errorf("%w: %s", ErrRelationNotFound, d.Relation)
	}
	if rel.Parent != t.Name {
		return value.Null(), fmt.Errorf("schema: relation %q does not have %s as parent", rel.Name, t.Name)
	}
	child, _ := m.Table(rel.Child)
	disc, ok := child.Column(d.DiscriminatorField)
	if !ok {
		return value.Null(), fmt.Errorf("%w: %s.%s", ErrColumnNotFound, child.Name, d.DiscriminatorField)
	}
	val, ok := child.Column(d.ValueField)
	if !ok {
		return value.Null(), fmt.Errorf("%w: %s.%s", ErrColumnNotFound, child.Name, d.ValueField)
	}
	rows, err := m.Children(rel.Name, i)
	if err != nil {
		return value.Null(), err
	}
	for _, r := range rows {
		dv, err := child.valueOf(r, disc)
		if err != nil {
			return value.Null(), err
		}
		if k, ok := dv.Key(); ok && k == d.DiscriminatorValue {
			return child.valueOf(r, val)
		}
	}
	return value.Null(), nil
}

// childIndex maps a joined key to the row indexes carrying it, in order.
// version is the table version the index was built at.
type childIndex struct {
	version uint64
	byKey   map[string][]int
}

func (m *Model) childIndex(rel *Relation) *childIndex {
	child, _ := m.Table(rel.Child)
	m.idxMu.Lock()
	defer m.idxMu.Unlock()
	idx := m.indexes[rel.Name]
	if idx == nil || idx.version != child.version {
		idx = buildIndex(child, rel.ChildColumns)
		m.indexes[rel.Name] = idx
	}
	return idx
}

func buildIndex(t *Table, cols []string) *childIndex {
	idx := &childIndex{version: t.version, byKey: make(map[string][]int, t.Len())}
	for i := 0; i < t.Len(); i++ {
		k, ok, err := rowKey(t, i, cols)
		if err != nil || !ok {
			continue
		}
		idx.byKey[k] = append(idx.byKey[k], i)
	}
	return idx
}

func rowKey(t *Table, i int, cols []string) (string, bool, error) {
	vals := make([]value.Value, len(cols))
	for k, name := range cols {
		v, err := t.Value(i, name)
		if err != nil {
			return "", false, err
		}
		vals[k] = v
	}
	k, ok := joinKey(vals)
	return k, ok, nil
}

// joinKey builds a composite lookup key. Any null component makes the key
// unmatched, like a SQL join.
func joinKey(vals []value.Value) (string, bool) {
	if len(vals) == 1 {
		return vals[0].Key()
	}
	var b strings.Builder
	for i, v := range vals {
		k, ok := v.Key()
		if !ok {
			return "", false
		}
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(k)
	}
	return b.String(), true
}
