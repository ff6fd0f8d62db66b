package validation

import (
	"strings"
	"unicode"
)

// StripUnprintable removes non-printable characters, allowing common whitespace
// like space, tab, newline, and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1 // drops BOMs, zero-width spaces and control bytes from spreadsheet exports
	}, s)
}

// NormalizeFieldName turns a column header or JSON key into the lower-case,
// underscore-separated form used by the field alias table:
// " Entry Price " and "entry-price" both become "entry_price".
func NormalizeFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(StripUnprintable(s)))
	return strings.Map(func(r rune) rune {
		// Broker exports disagree on separators: "Entry Price", "entry-price", "entry.price".
		if r == ' ' || r == '-' || r == '.' {
			return '_'
		}
		return r
	}, s)
}
