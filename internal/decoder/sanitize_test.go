package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertNoRawControls(t *testing.T, s string) {
	t.Helper()
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			t.Fatalf("raw control character %q survived sanitization in %q", r, s)
		}
	}
}

func TestSanitizeControlCharsEscapesInsideStrings(t *testing.T) {
	out, replaced := SanitizeControlChars("{\"notes\": \"line one\nline two\"}")

	assert.Equal(t, `{"notes": "line one\nline two"}`, out)
	assert.Equal(t, 1, replaced)
	assertNoRawControls(t, out)
}

func TestSanitizeControlCharsCollapsesStructuralWhitespace(t *testing.T) {
	out, replaced := SanitizeControlChars("{\n\t\"a\": 1\n}")

	assert.Equal(t, 3, replaced)
	assertNoRawControls(t, out)
	assert.Equal(t, `{  "a": 1 }`, out)
}

func TestSanitizeControlCharsDropsNonWhitespaceControls(t *testing.T) {
	out, replaced := SanitizeControlChars("{\"a\": \"be\x07ll\x00\"}")

	assert.Equal(t, `{"a": "bell"}`, out)
	assert.Equal(t, 2, replaced)
}

func TestSanitizeControlCharsPreservesExistingEscapes(t *testing.T) {
	in := `{"a": "already\nescaped \"quoted\""}`
	out, replaced := SanitizeControlChars(in)

	assert.Equal(t, in, out)
	assert.Zero(t, replaced)
}

func TestSanitizeControlCharsTabInsideString(t *testing.T) {
	out, _ := SanitizeControlChars("{\"notes\": \"Fine\tjob\"}")

	assert.Equal(t, `{"notes": "Fine\tjob"}`, out)
}

func TestSanitizeControlCharsPurity(t *testing.T) {
	inputs := []string{
		"",
		"\x00\x01\x02\x1f\x7f",
		"plain text, no JSON",
		"{\"k\": \"v\r\n\b\f\"}",
		"\n\n\n{\"a\":1}\n\n\n",
		"{\"nested\": \"he said \\\"hi\tthere\\\"\"}",
		string([]byte{0x1b, '[', '3', '1', 'm'}),
	}
	for _, in := range inputs {
		out, _ := SanitizeControlChars(in)
		assertNoRawControls(t, out)
	}
}
