package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCoercion is matched (errors.Is) by every *CoercionError.
var ErrCoercion = errors.New("value: coercion failed")

// CoercionError reports a raw string that could not be converted to Type.
type CoercionError struct {
	Type Type
	Raw  string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("expected a value convertible to %s", e.Type)
}

func (e *CoercionError) Is(target error) bool { return target == ErrCoercion }

// Separator selects the decimal separator used when reading and writing
// Decimal values.
type Separator uint8

const (
	Point Separator = iota
	Comma
)

// ParseSeparator accepts ".", ",", "point" or "comma". Empty means Point.
func ParseSeparator(s string) (Separator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ".", "point":
		return Point, nil
	case ",", "comma":
		return Comma, nil
	}
	return Point, fmt.Errorf("value: unknown decimal separator %q", s)
}

// CoerceFunc converts one raw field. An empty raw string yields Null and a
// nil error for every type.
type CoerceFunc func(raw string) (Value, error)

// Timestamp layouts accepted on read, tried in order. The first one is the
// layout the writer emits.
var timestampLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Registry hands out coercion functions per semantic type. Its only knob is
// the decimal separator, fixed for the lifetime of a load.
type Registry struct {
	Separator Separator
}

// Func returns the coercion function for t. It is meant to be resolved once
// per column and reused for every row.
func (r Registry) Func(t Type) CoerceFunc {
	switch t {
	case Integer:
		return coerceInt
	case Decimal:
		if r.Separator == Comma {
			return coerceDecimalComma
		}
		return coerceDecimal
	case Timestamp:
		return coerceTimestamp
	case Boolean:
		return coerceBool
	default:
		return coerceText
	}
}

// Coerce is a convenience wrapper around Func(t)(raw).
func (r Registry) Coerce(raw string, t Type) (Value, error) {
	return r.Func(t)(raw)
}

func coerceText(raw string) (Value, error) {
	if raw == "" {
		return Null(), nil
	}
	return Str(raw), nil
}

func coerceInt(raw string) (Value, error) {
	if raw == "" {
		return Null(), nil
	}
	i, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return Null(), &CoercionError{Type: Integer, Raw: raw}
	}
	return Int(i), nil
}

func coerceDecimal(raw string) (Value, error) {
	if raw == "" {
		return Null(), nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Null(), &CoercionError{Type: Decimal, Raw: raw}
	}
	return Dec(d), nil
}

func coerceDecimalComma(raw string) (Value, error) {
	if raw == "" {
		return Null(), nil
	}
	s := strings.TrimSpace(raw)
	if strings.IndexByte(s, '.') >= 0 {
		return Null(), &CoercionError{Type: Decimal, Raw: raw}
	}
	d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
	if err != nil {
		return Null(), &CoercionError{Type: Decimal, Raw: raw}
	}
	return Dec(d), nil
}

func coerceTimestamp(raw string) (Value, error) {
	if raw == "" {
		return Null(), nil
	}
	s := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Time(t), nil
		}
	}
	return Null(), &CoercionError{Type: Timestamp, Raw: raw}
}

func coerceBool(raw string) (Value, error) {
	if raw == "" {
		return Null(), nil
	}
	switch s := strings.TrimSpace(raw); {
	case strings.EqualFold(s, "true"):
		return Bool(true), nil
	case strings.EqualFold(s, "false"):
		return Bool(false), nil
	}
	return Null(), &CoercionError{Type: Boolean, Raw: raw}
}
