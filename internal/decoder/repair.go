package decoder

import (
	"errors"
	"strings"

	gojson "github.com/goccy/go-json"
)

// ErrUnrecoverable is returned when every repair strategy has been exhausted.
// Callers are expected to fall back to an all-defaults report instead of
// surfacing this to the user.
var ErrUnrecoverable = errors.New("model output is not recoverable as JSON")

// RepairJSON turns sanitized but possibly truncated or fence-wrapped model
// output into a string that parses as JSON. Strategies are tried in order of
// increasing aggressiveness; the first one that yields a parseable document
// wins. It never panics.
func RepairJSON(raw string) (string, error) {
	candidate := extractJSONBlock(raw)
	if candidate == "" {
		return "", ErrUnrecoverable
	}

	if parsesAsJSON(candidate) {
		return candidate, nil
	}

	if closed := closeStructure(candidate); parsesAsJSON(closed) {
		return closed, nil
	}

	if cut := truncateToLastCompleteMember(candidate); cut != "" {
		if closed := closeStructure(cut); parsesAsJSON(closed) {
			return closed, nil
		}
	}

	// Last resort: shrink from the end until something parses.
	step := len(candidate)/32 + 1
	for end := len(candidate) - 1; end >= 2; end -= step {
		closed := closeStructure(candidate[:end])
		if parsesAsJSON(closed) {
			return closed, nil
		}
	}

	return "", ErrUnrecoverable
}

func parsesAsJSON(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	var v any
	return gojson.Unmarshal([]byte(s), &v) == nil
}

// extractJSONBlock strips markdown code fences and surrounding prose down to
// the outermost JSON value. Models routinely wrap their JSON in ```json
// fences or lead with a sentence of commentary.
func extractJSONBlock(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		if strings.TrimSpace(rest) != "" {
			s = strings.TrimSpace(rest)
		}
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end > start {
		return s[start : end+1]
	}
	return s[start:]
}

// scanState walks the candidate once and reports the open-structure stack and
// whether the scan ended inside a string literal or a backslash escape.
func scanState(s string) (stack []byte, inString, escaped bool) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return stack, inString, escaped
}

// closeStructure appends the minimal closing sequence for every structure
// left open by a truncated candidate: an unterminated escape is dropped, an
// unterminated string is closed, dangling separators are patched, and the
// brace/bracket stack is unwound.
func closeStructure(s string) string {
	stack, inString, escaped := scanState(s)

	out := s
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}

	trimmed := strings.TrimRight(out, " \t\n\r")
	if strings.HasSuffix(trimmed, ",") {
		trimmed = trimmed[:len(trimmed)-1]
	} else if strings.HasSuffix(trimmed, ":") {
		trimmed += " null"
	}
	out = trimmed

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

// truncateToLastCompleteMember cuts the candidate at the last top-level
// member boundary (a comma at depth 1 outside any string), discarding the
// trailing incomplete member. Returns "" when no such boundary exists.
func truncateToLastCompleteMember(s string) string {
	depth := 0
	inString := false
	escaped := false
	lastBoundary := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case ',':
			if depth == 1 {
				lastBoundary = i
			}
		}
	}

	if lastBoundary <= 0 {
		return ""
	}
	return s[:lastBoundary]
}
