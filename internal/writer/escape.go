package writer

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// EscapeMode selects how text fields are protected on output.
type EscapeMode uint8

const (
	// Quote wraps fields holding a tab, CR, LF or quote in quotes and
	// doubles embedded quotes. The tokenizer reads them back unchanged.
	Quote EscapeMode = iota
	// Strip removes CR, LF and tab and doubles quotes without wrapping.
	Strip
	// Markup escapes XML reserved characters.
	Markup
)

func (m EscapeMode) String() string {
	switch m {
	case Strip:
		return "strip"
	case Markup:
		return "markup"
	default:
		return "quote"
	}
}

// ParseEscapeMode accepts "quote" (or empty), "strip" and "markup".
func ParseEscapeMode(s string) (EscapeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "quote":
		return Quote, nil
	case "strip":
		return Strip, nil
	case "markup", "xml":
		return Markup, nil
	}
	return Quote, fmt.Errorf("writer: unknown escape mode %q", s)
}

// Placeholder replaces control characters other than tab, CR and LF.
const Placeholder = '#'

func isControl(r rune) bool {
	switch r {
	case '\t', '\r', '\n':
		return false
	}
	return r < 0x20 || r == 0x7f
}

// sanitize replaces control characters with Placeholder. ok is false when
// anything was replaced.
func sanitize(s string) (out string, ok bool) {
	if strings.IndexFunc(s, isControl) < 0 {
		return s, true
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return Placeholder
		}
		return r
	}, s), false
}

var stripper = strings.NewReplacer("\r", "", "\n", "", "\t", "", `"`, `""`)

// escape renders one already sanitized text field.
func escape(s string, mode EscapeMode) string {
	switch mode {
	case Strip:
		return stripper.Replace(s)
	case Markup:
		var b strings.Builder
		// EscapeText only fails when the underlying writer does.
		_ = xml.EscapeText(&b, []byte(s))
		return b.String()
	default:
		if !strings.ContainsAny(s, "\t\r\n\"") {
			return s
		}
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
}
