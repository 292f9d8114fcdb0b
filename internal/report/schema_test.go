package report

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReportMessyButRecoverable(t *testing.T) {
	raw := "{\"verdict\": \"GOOD\", \"score\": \"7/10\", \"notes\": \"Fine\tjob\"}"

	r := DecodeReport(raw)

	assert.Equal(t, VerdictPromising, r.Verdict)
	assert.InDelta(t, 7.0, r.OverallScore, 1e-9)
	assert.Equal(t, "Fine\tjob", r.Notes)
}

func TestDecodeReportFencedAndTruncated(t *testing.T) {
	raw := "```json\n" + `{"title": "Heat exchanger study", "verdict": "strong", "concepts": [{"name": "Counterflow", "mechanism": "swap the flow direct`

	r := DecodeReport(raw)

	assert.Equal(t, "Heat exchanger study", r.Title)
	assert.Equal(t, VerdictPromising, r.Verdict)
}

func TestDecodeReportIsTotal(t *testing.T) {
	inputs := []string{
		"",
		"complete nonsense, nothing structured",
		"null",
		"[1, 2, 3]",
		`"just a string"`,
		`{"concepts": 42, "scores": "high", "analysis": [true]}`,
		`{"title": null, "verdict": {"nested": "object"}}`,
		strings.Repeat("{", 500),
		"{\"a\": \"\x00\x01\x02\"}",
		strings.Repeat("not json, just bulk text. ", 1<<19),      // ~13MB of prose
		`{"title": "` + strings.Repeat("x", 10<<20) + `", "half`, // ~10MB truncated
	}
	for i, raw := range inputs {
		t.Run(fmt.Sprintf("input_%d", i), func(t *testing.T) {
			r := DecodeReport(raw)
			require.NotNil(t, r)
			assert.Equal(t, VerdictMixed, r.Verdict)
			assert.Equal(t, "OTHER", r.Segment)
			assert.NotNil(t, r.Concepts)
			assert.NotNil(t, r.CrossDomain)
		})
	}
}

func TestDecodeReportEnumSynonyms(t *testing.T) {
	cases := map[string]string{
		"GOOD":      VerdictPromising,
		"excellent": VerdictPromising,
		"moderate":  VerdictMixed,
		"BAD":       VerdictWeak,
		"weak!!":    VerdictWeak,
		"???":       VerdictMixed,
	}
	for in, want := range cases {
		r := DecodeReport(fmt.Sprintf(`{"verdict": %q}`, in))
		assert.Equal(t, want, r.Verdict, "verdict %q", in)
	}
}

func TestDecodeReportCapsCollections(t *testing.T) {
	var concepts []string
	for i := 0; i < 20; i++ {
		concepts = append(concepts, fmt.Sprintf(`{"name": "c%d", "mechanism": "m"}`, i))
	}
	var questions []string
	for i := 0; i < 8; i++ {
		questions = append(questions, fmt.Sprintf(`"question %d"`, i))
	}
	raw := fmt.Sprintf(`{"concepts": [%s], "clarifying_questions": [%s]}`,
		strings.Join(concepts, ","), strings.Join(questions, ","))

	r := DecodeReport(raw)

	assert.Len(t, r.Concepts, 10)
	assert.Len(t, r.ClarifyingQuestions, 3)
}

func TestDecodeReportNumericKeyedConcepts(t *testing.T) {
	raw := `{"concepts": {"1": {"name": "Second", "mechanism": "m"}, "0": {"name": "First", "mechanism": "m"}}}`

	r := DecodeReport(raw)

	require.Len(t, r.Concepts, 2)
	assert.Equal(t, "First", r.Concepts[0].Name)
	assert.Equal(t, "Second", r.Concepts[1].Name)
}

func TestDecodeReportDropsEmptyConcepts(t *testing.T) {
	raw := `{"concepts": [{"name": "Real", "mechanism": "works"}, {}, {"feasibility": "high"}]}`

	r := DecodeReport(raw)

	require.Len(t, r.Concepts, 1)
	assert.Equal(t, "Real", r.Concepts[0].Name)
	assert.Equal(t, FeasibilityHigh, DecodeReport(`{"concepts": [{"name": "x", "mechanism": "y", "feasibility": "proven"}]}`).Concepts[0].Feasibility)
}

func TestDecodeReportScoreClamping(t *testing.T) {
	raw := `{"score": 99, "scores": {"understanding": -5, "novelty": "12", "relevance": 8}}`

	r := DecodeReport(raw)

	assert.InDelta(t, 10.0, r.OverallScore, 1e-9)
	assert.InDelta(t, 0.0, r.Scores.Understanding, 1e-9)
	assert.InDelta(t, 10.0, r.Scores.Novelty, 1e-9)
	assert.InDelta(t, 8.0, r.Scores.Relevance, 1e-9)
}

func TestDecodeReportScoresTotalDerivedWhenMissing(t *testing.T) {
	raw := `{"scores": {"understanding": 7, "novelty": 6, "relevance": 8, "credibility": 5, "actionability": 9, "citations": 4}}`

	r := DecodeReport(raw)

	assert.InDelta(t, 39.0, r.Scores.Total, 1e-9)
}

func TestDecodeReportCrossDomainAcceptsBareStrings(t *testing.T) {
	raw := `{"cross_domain": ["borrow the trick from inkjet printheads", {"solution": "structured one", "source_domain": "optics"}]}`

	r := DecodeReport(raw)

	require.Len(t, r.CrossDomain, 2)
	assert.Equal(t, "borrow the trick from inkjet printheads", r.CrossDomain[0].Solution)
	assert.Equal(t, "optics", r.CrossDomain[1].SourceDomain)
}

func TestDecodeReportClarifyingQuestionsSignalPause(t *testing.T) {
	raw := `{"clarifying_questions": ["What flow rate?", "Which material?"]}`

	r := DecodeReport(raw)

	assert.Equal(t, []string{"What flow rate?", "Which material?"}, r.ClarifyingQuestions)
}
