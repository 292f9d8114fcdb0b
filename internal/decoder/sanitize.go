package decoder

import "strings"

// Escapes for the whitespace-class control characters. Inside a JSON string
// these must become their two-character escape so the parser survives;
// outside a string they are plain token separators.
var controlEscapes = map[rune]string{
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
	'\b': `\b`,
	'\f': `\f`,
}

// SanitizeControlChars rewrites raw model output so that no raw control
// character survives. Whitespace-class controls (\n \r \t \b \f) inside a
// string literal are escaped, the same characters between tokens collapse to
// a single space, and every other control character is dropped. Everything
// else is passed through byte-identical. Returns the sanitized text and the
// number of characters that were replaced or removed.
func SanitizeControlChars(raw string) (string, int) {
	var b strings.Builder
	b.Grow(len(raw))

	replaced := 0
	inString := false
	escaped := false

	for _, r := range raw {
		if esc, ok := controlEscapes[r]; ok {
			replaced++
			if inString {
				b.WriteString(esc)
			} else if r == '\n' || r == '\r' || r == '\t' {
				b.WriteByte(' ')
			}
			// \b and \f between tokens carry no meaning at all
			escaped = false
			continue
		}
		if r < 0x20 || r == 0x7f {
			replaced++
			escaped = false
			continue
		}

		b.WriteRune(r)

		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		}
	}

	return b.String(), replaced
}
