package value

import (
	"strconv"
	"strings"
)

// TimestampLayout is the layout written for Timestamp values.
const TimestampLayout = "2006-01-02 15:04"

// decimalPlaces is the maximum number of fractional digits written for
// Decimal values; trailing zeros are trimmed.
const decimalPlaces = 8

// Format renders a non-text value in the exchange format. Text values are
// returned unescaped; escaping is the writer's job. Null renders as "".
func Format(v Value, sep Separator) string {
	if v.IsNull() {
		return ""
	}
	switch v.typ {
	case Integer:
		return strconv.FormatInt(v.i, 10)
	case Decimal:
		s := v.d.Round(decimalPlaces).String()
		if sep == Comma {
			s = strings.Replace(s, ".", ",", 1)
		}
		return s
	case Timestamp:
		return v.t.Format(TimestampLayout)
	case Boolean:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}
