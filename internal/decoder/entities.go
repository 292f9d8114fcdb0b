package decoder

import (
	"strconv"
	"strings"
)

// namedEntities is the fixed set of HTML entities that show up in model
// output. This is configuration data, not algorithm: extend it alongside the
// report schema when a new artifact appears in production transcripts.
var namedEntities = map[string]rune{
	"amp":    '&',
	"lt":     '<',
	"gt":     '>',
	"quot":   '"',
	"apos":   '\'',
	"nbsp":   ' ',
	"ndash":  '–',
	"mdash":  '—',
	"hellip": '…',
	"lsquo":  '‘',
	"rsquo":  '’',
	"ldquo":  '“',
	"rdquo":  '”',
	"middot": '·',
	"deg":    '°',
	"plusmn": '±',
	"times":  '×',
	"micro":  'µ',
	"frac12": '½',
	"sup2":   '²',
	"sup3":   '³',
}

// decodeHTMLEntities resolves named and numeric (decimal and hex) entities
// into literal characters. Unknown entities and entities resolving to control
// characters are left untouched or dropped respectively.
func decodeHTMLEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c != '&' {
			b.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(s[i:], ';')
		if end < 0 || end > 10 {
			b.WriteByte(c)
			i++
			continue
		}

		name := s[i+1 : i+end]
		if r, ok := resolveEntity(name); ok {
			if r >= 0x20 {
				b.WriteRune(r)
			}
			i += end + 1
			continue
		}

		b.WriteByte(c)
		i++
	}

	return b.String()
}

func resolveEntity(name string) (rune, bool) {
	if name == "" {
		return 0, false
	}
	if name[0] == '#' {
		digits := name[1:]
		base := 10
		if len(digits) > 1 && (digits[0] == 'x' || digits[0] == 'X') {
			digits = digits[1:]
			base = 16
		}
		n, err := strconv.ParseInt(digits, base, 32)
		if err != nil || n < 0 || n > 0x10FFFF {
			return 0, false
		}
		return rune(n), true
	}
	r, ok := namedEntities[name]
	return r, ok
}

// decodeLegacyEscapes converts literal backslash escape sequences that the
// model wrote as two characters (a holdover from double-encoded payloads)
// into the characters they denote. Unknown escapes pass through unchanged.
func decodeLegacyEscapes(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			// carriage returns add nothing once newlines are normalized
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(c)
			continue
		}
		i++
	}

	return b.String()
}
