// Package value defines the typed cell values held by schema rows and the
// registry that converts raw field strings into them.
//
// A Value is a small tagged variant: it is either the null marker or exactly
// one of Text, Integer, Decimal, Timestamp or Boolean. Callers switch on
// Type() instead of inspecting dynamic Go types.
package value

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the declared semantic type of a column.
type Type uint8

const (
	Text Type = iota
	Integer
	Decimal
	Timestamp
	Boolean
)

var typeNames = [...]string{
	Text:      "Text",
	Integer:   "Integer",
	Decimal:   "Decimal",
	Timestamp: "Timestamp",
	Boolean:   "Boolean",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType maps a schema type name to a Type. Besides the canonical names it
// accepts the aliases commonly found in schema files ("int", "Int32",
// "DateTime", "numeric", ...). Matching is case-insensitive.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text", "string":
		return Text, nil
	case "integer", "int", "int32", "int64", "bigint":
		return Integer, nil
	case "decimal", "numeric", "double", "float":
		return Decimal, nil
	case "timestamp", "datetime", "date":
		return Timestamp, nil
	case "boolean", "bool":
		return Boolean, nil
	}
	return Text, fmt.Errorf("value: unknown type %q", name)
}

// MarshalText implements encoding.TextMarshaler so types render by name in
// JSON schema files.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Value is a single cell. The zero Value is the null marker.
type Value struct {
	typ   Type
	valid bool
	i     int64
	b     bool
	s     string
	t     time.Time
	d     decimal.Decimal
}

// Null returns the null marker.
func Null() Value { return Value{} }

func Int(i int64) Value                 { return Value{typ: Integer, valid: true, i: i} }
func Dec(d decimal.Decimal) Value       { return Value{typ: Decimal, valid: true, d: d} }
func Time(t time.Time) Value            { return Value{typ: Timestamp, valid: true, t: t} }
func Bool(b bool) Value                 { return Value{typ: Boolean, valid: true, b: b} }
func Str(s string) Value                { return Value{typ: Text, valid: true, s: s} }
func (v Value) IsNull() bool            { return !v.valid }
func (v Value) Type() Type              { return v.typ }
func (v Value) Int() (int64, bool)      { return v.i, v.valid && v.typ == Integer }
func (v Value) Bool() (bool, bool)      { return v.b, v.valid && v.typ == Boolean }
func (v Value) Text() (string, bool)    { return v.s, v.valid && v.typ == Text }
func (v Value) Time() (time.Time, bool) { return v.t, v.valid && v.typ == Timestamp }

func (v Value) Decimal() (decimal.Decimal, bool) { return v.d, v.valid && v.typ == Decimal }

// Equal reports whether v and o hold the same type and value. Two null
// markers are equal.
func (v Value) Equal(o Value) bool {
	if v.valid != o.valid {
		return false
	}
	if !v.valid {
		return true
	}
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case Integer:
		return v.i == o.i
	case Decimal:
		return v.d.Equal(o.d)
	case Timestamp:
		return v.t.Equal(o.t)
	case Boolean:
		return v.b == o.b
	default:
		return v.s == o.s
	}
}

// Key returns a canonical string used for equality joins between related
// tables. The null marker has no key and never joins.
func (v Value) Key() (string, bool) {
	if !v.valid {
		return "", false
	}
	return v.canonical(), true
}

func (v Value) canonical() string {
	switch v.typ {
	case Integer:
		return strconv.FormatInt(v.i, 10)
	case Decimal:
		return v.d.String()
	case Timestamp:
		return v.t.UTC().Format(time.RFC3339Nano)
	case Boolean:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// Any returns the value as a plain Go value for database drivers: nil,
// int64, decimal.Decimal, time.Time, bool or string.
func (v Value) Any() any {
	if !v.valid {
		return nil
	}
	switch v.typ {
	case Integer:
		return v.i
	case Decimal:
		return v.d
	case Timestamp:
		return v.t
	case Boolean:
		return v.b
	default:
		return v.s
	}
}

// String renders v for diagnostics. Use Format for the exchange format.
func (v Value) String() string {
	if !v.valid {
		return "<null>"
	}
	return v.canonical()
}
