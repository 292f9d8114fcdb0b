package decoder

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// Every decoder in this file is a total function: any JSON value in, one
// schema-legal value out. There is deliberately no error path.

var devMode = os.Getenv("APP_ENV") != "production"

func logUnmatched(kind string, value any) {
	if !devMode {
		return
	}
	log.Debug().
		Str("decoder", kind).
		Interface("value", value).
		Msg("field decoder fell back to default")
}

// EnumField decodes a closed enum with a synonym table.
type EnumField struct {
	Allowed  []string
	Default  string
	Synonyms map[string]string
}

func (f EnumField) Decode(v any) string {
	s, ok := coerceString(v)
	if !ok {
		logUnmatched("enum", v)
		return f.Default
	}

	token := normalizeEnumToken(s)
	if token == "" {
		return f.Default
	}

	for _, a := range f.Allowed {
		if a == token {
			return a
		}
	}
	if mapped, ok := f.Synonyms[token]; ok {
		return mapped
	}
	for _, a := range f.Allowed {
		if strings.Contains(a, token) && len(token) >= 2 {
			return a
		}
		if strings.Contains(token, a) {
			return a
		}
	}

	logUnmatched("enum", s)
	return f.Default
}

// normalizeEnumToken trims, upper-cases, truncates at the first separator or
// punctuation character and strips everything outside [A-Z_0-9].
func normalizeEnumToken(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))

	var b strings.Builder
	for _, r := range s {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			if r == ' ' {
				continue
			}
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
				b.WriteRune(r)
			}
			continue
		}
		// first separator/punctuation ends the token
		break
	}
	return b.String()
}

var (
	numberPattern   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	fractionPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)\s*$`)
)

// NumberField decodes a bounded number. String inputs understand plain
// numerals, percentage suffixes and "a/b" fraction syntax.
type NumberField struct {
	Default float64
	Min     float64
	Max     float64
}

func (f NumberField) Decode(v any) float64 {
	switch n := v.(type) {
	case float64:
		return f.clamp(n)
	case float32:
		return f.clamp(float64(n))
	case int:
		return f.clamp(float64(n))
	case int32:
		return f.clamp(float64(n))
	case int64:
		return f.clamp(float64(n))
	case string:
		return f.decodeString(n)
	default:
		logUnmatched("number", v)
		return f.Default
	}
}

func (f NumberField) decodeString(s string) float64 {
	s = strings.TrimSpace(s)

	if m := fractionPattern.FindStringSubmatch(s); m != nil {
		a, errA := strconv.ParseFloat(m[1], 64)
		b, errB := strconv.ParseFloat(m[2], 64)
		if errA == nil && errB == nil && b != 0 {
			return f.clamp(a / b * f.Max)
		}
		return f.Default
	}

	loc := numberPattern.FindStringIndex(s)
	if loc == nil {
		logUnmatched("number", s)
		return f.Default
	}
	val, err := strconv.ParseFloat(s[loc[0]:loc[1]], 64)
	if err != nil {
		return f.Default
	}

	if strings.HasPrefix(strings.TrimSpace(s[loc[1]:]), "%") {
		val = f.Min + val/100*(f.Max-f.Min)
	}
	return f.clamp(val)
}

func (f NumberField) clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return f.Default
	}
	if v < f.Min {
		return f.Min
	}
	if v > f.Max {
		return f.Max
	}
	return v
}

var (
	horizontalRun = regexp.MustCompile(`[ \t]{2,}`)
	newlineRun    = regexp.MustCompile(`\n{3,}`)
)

// StringField decodes a bounded string: stringify scalars, decode legacy
// escapes and HTML entities, normalize to NFC, tame whitespace, truncate at
// MaxLength runes with an ellipsis.
type StringField struct {
	MaxLength int
}

func (f StringField) Decode(v any) string {
	s, ok := coerceString(v)
	if !ok {
		return ""
	}

	s = decodeLegacyEscapes(s)
	s = decodeHTMLEntities(s)
	s = norm.NFC.String(s)

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalRun.ReplaceAllString(s, " ")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if f.MaxLength > 0 {
		runes := []rune(s)
		if len(runes) > f.MaxLength {
			s = string(runes[:f.MaxLength-1]) + "…"
		}
	}
	return s
}

// OptionalStringField is StringField with sentinel placeholders ("null",
// "undefined", "N/A") and the empty string collapsing to absent.
type OptionalStringField struct {
	MaxLength int
}

func (f OptionalStringField) Decode(v any) (string, bool) {
	s := StringField{MaxLength: f.MaxLength}.Decode(v)
	switch strings.ToLower(s) {
	case "", "null", "undefined", "n/a":
		return "", false
	}
	return s, true
}

// BoolField decodes a boolean with the usual truthy/falsy string tokens.
type BoolField struct {
	Default bool
}

func (f BoolField) Decode(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "yes", "true", "1", "on", "y":
			return true
		case "no", "false", "0", "off", "n":
			return false
		}
		logUnmatched("bool", b)
		return f.Default
	case float64:
		return b != 0
	case int:
		return b != 0
	case int64:
		return b != 0
	default:
		logUnmatched("bool", v)
		return f.Default
	}
}

// DecodeArray decodes v into at most maxItems elements. Objects whose keys
// are all numeric strings are reinterpreted as arrays ordered by key; any
// other non-array value becomes a single-element array. Elements the item
// decoder rejects are dropped, never propagated.
func DecodeArray[T any](v any, maxItems int, item func(any) (T, bool)) []T {
	var elems []any

	switch val := v.(type) {
	case nil:
		return []T{}
	case []any:
		elems = val
	case string:
		if strings.TrimSpace(val) == "" {
			return []T{}
		}
		elems = []any{val}
	case map[string]any:
		if ordered, ok := numericKeyedElements(val); ok {
			elems = ordered
		} else {
			elems = []any{val}
		}
	default:
		elems = []any{val}
	}

	out := make([]T, 0, len(elems))
	for _, e := range elems {
		if len(out) >= maxItems {
			break
		}
		decoded, ok := item(e)
		if !ok {
			continue
		}
		out = append(out, decoded)
	}
	return out
}

func numericKeyedElements(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	type kv struct {
		idx int
		val any
	}
	pairs := make([]kv, 0, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, false
		}
		pairs = append(pairs, kv{idx: idx, val: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].idx < pairs[j].idx })

	out := make([]any, len(pairs))
	for i, p := range pairs {
		out[i] = p.val
	}
	return out, true
}

func coerceString(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case fmt.Stringer:
		return s.String(), true
	default:
		return "", false
	}
}
