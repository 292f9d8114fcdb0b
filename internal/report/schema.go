// Package report composes the tolerant field decoders into the Sparlo
// analysis-report schema. DecodeReport is the single entry point the
// generation pipeline feeds raw model output into; whatever the model
// produced, the result is a fully populated StructuredReport.
package report

import (
	"sparlo_go_backend/internal/decoder"
)

// Verdict values for a decoded report.
const (
	VerdictPromising = "PROMISING"
	VerdictMixed     = "MIXED"
	VerdictWeak      = "WEAK"
)

// Feasibility grades for a solution concept.
const (
	FeasibilityHigh   = "HIGH"
	FeasibilityMedium = "MEDIUM"
	FeasibilityLow    = "LOW"
)

// Synonym tables are schema configuration, versioned alongside the report
// vocabulary. They absorb the decorations models put on enum values.
var verdictSynonyms = map[string]string{
	"GOOD":        VerdictPromising,
	"STRONG":      VerdictPromising,
	"EXCELLENT":   VerdictPromising,
	"POSITIVE":    VerdictPromising,
	"VIABLE":      VerdictPromising,
	"MODERATE":    VerdictMixed,
	"NEUTRAL":     VerdictMixed,
	"UNCERTAIN":   VerdictMixed,
	"PARTIAL":     VerdictMixed,
	"POOR":        VerdictWeak,
	"BAD":         VerdictWeak,
	"NEGATIVE":    VerdictWeak,
	"UNPROMISING": VerdictWeak,
	"INFEASIBLE":  VerdictWeak,
}

var feasibilitySynonyms = map[string]string{
	"H":           FeasibilityHigh,
	"STRONG":      FeasibilityHigh,
	"EASY":        FeasibilityHigh,
	"PROVEN":      FeasibilityHigh,
	"M":           FeasibilityMedium,
	"MED":         FeasibilityMedium,
	"MODERATE":    FeasibilityMedium,
	"PLAUSIBLE":   FeasibilityMedium,
	"L":           FeasibilityLow,
	"HARD":        FeasibilityLow,
	"POOR":        FeasibilityLow,
	"SPECULATIVE": FeasibilityLow,
}

var segmentSynonyms = map[string]string{
	"MECH":          "MECHANICAL",
	"ENGINEERING":   "MECHANICAL",
	"ELEC":          "ELECTRICAL",
	"ELECTRONICS":   "ELECTRICAL",
	"CHEMISTRY":     "MATERIALS",
	"MANUFACTURING": "PROCESS",
	"PRODUCTION":    "PROCESS",
	"FIRMWARE":      "SOFTWARE",
}

// StructuredReport is the decoded, always-valid report payload. Every field
// has a defined value even when the model output was garbage.
type StructuredReport struct {
	Title          string  `json:"title"`
	ProblemSummary string  `json:"problem_summary"`
	Segment        string  `json:"segment"`
	Verdict        string  `json:"verdict"`
	OverallScore   float64 `json:"score"`
	Notes          string  `json:"notes"`

	Analysis        ProblemAnalysis          `json:"analysis"`
	Concepts        []SolutionConcept        `json:"concepts"`
	CrossDomain     []CrossDomainOpportunity `json:"cross_domain"`
	Recommendations Recommendations          `json:"recommendations"`
	Scores          Scores                   `json:"scores"`

	KeyInsight string `json:"key_insight"`
	WouldPay   bool   `json:"would_pay"`

	// Questions the model wants answered before committing to a final
	// report. Non-empty means the generation pauses in the clarifying state.
	ClarifyingQuestions []string `json:"clarifying_questions,omitempty"`
}

type ProblemAnalysis struct {
	Contradiction  string   `json:"contradiction"`
	Constraints    []string `json:"constraints"`
	SuccessMetrics []string `json:"success_metrics"`
	TrizPrinciples []string `json:"triz_principles"`
}

type SolutionConcept struct {
	Name         string   `json:"name"`
	Mechanism    string   `json:"mechanism"`
	SourceDomain string   `json:"source_domain"`
	Feasibility  string   `json:"feasibility"`
	Risks        []string `json:"risks"`
	FirstTest    string   `json:"first_test"`
}

type CrossDomainOpportunity struct {
	Solution     string `json:"solution"`
	SourceDomain string `json:"source_domain"`
	Analogy      string `json:"analogy"`
}

type Recommendations struct {
	TopPicks  []string `json:"top_picks"`
	Resources string   `json:"resources"`
	Timeline  string   `json:"timeline"`
}

type Scores struct {
	Understanding float64 `json:"understanding"`
	Novelty       float64 `json:"novelty"`
	Relevance     float64 `json:"relevance"`
	Credibility   float64 `json:"credibility"`
	Actionability float64 `json:"actionability"`
	Citations     float64 `json:"citations"`
	Total         float64 `json:"total"`
}

var (
	verdictField = decoder.EnumField{
		Allowed:  []string{VerdictPromising, VerdictMixed, VerdictWeak},
		Default:  VerdictMixed,
		Synonyms: verdictSynonyms,
	}
	feasibilityField = decoder.EnumField{
		Allowed:  []string{FeasibilityHigh, FeasibilityMedium, FeasibilityLow},
		Default:  FeasibilityMedium,
		Synonyms: feasibilitySynonyms,
	}
	segmentField = decoder.EnumField{
		Allowed:  []string{"MECHANICAL", "ELECTRICAL", "MATERIALS", "PROCESS", "SOFTWARE", "OTHER"},
		Default:  "OTHER",
		Synonyms: segmentSynonyms,
	}
	scoreField        = decoder.NumberField{Default: 0, Min: 0, Max: 10}
	totalField        = decoder.NumberField{Default: 0, Min: 0, Max: 60}
	bareSolutionField = decoder.OptionalStringField{MaxLength: 500}
)

const (
	maxConcepts    = 10
	maxCrossDomain = 5
	maxListItems   = 6
	maxQuestions   = 3
)

// DecodeReport turns raw model output into a StructuredReport. It is total:
// truncated JSON is repaired, malformed fields fall back to their defaults,
// and unrecoverable input yields the all-defaults report.
func DecodeReport(raw string) *StructuredReport {
	v, err := decoder.Decode(raw)
	if err != nil {
		v = map[string]any{}
	}
	return decodeReportValue(v)
}

func decodeReportValue(v any) *StructuredReport {
	obj := decoder.AsObject(v)

	r := &StructuredReport{
		Title:          decoder.StringField{MaxLength: 200}.Decode(obj["title"]),
		ProblemSummary: decoder.StringField{MaxLength: 2000}.Decode(obj["problem_summary"]),
		Segment:        segmentField.Decode(obj["segment"]),
		Verdict:        verdictField.Decode(obj["verdict"]),
		OverallScore:   scoreField.Decode(obj["score"]),
		Notes:          decoder.StringField{MaxLength: 4000}.Decode(obj["notes"]),
		KeyInsight:     decoder.StringField{MaxLength: 1000}.Decode(obj["key_insight"]),
		WouldPay:       decoder.BoolField{Default: false}.Decode(obj["would_pay"]),
	}

	r.Analysis = decodeAnalysis(obj["analysis"])
	r.Concepts = decoder.DecodeArray(obj["concepts"], maxConcepts, decodeConcept)
	r.CrossDomain = decoder.DecodeArray(obj["cross_domain"], maxCrossDomain, decodeCrossDomain)
	r.Recommendations = decodeRecommendations(obj["recommendations"])
	r.Scores = decodeScores(obj["scores"])
	r.ClarifyingQuestions = decoder.DecodeArray(obj["clarifying_questions"], maxQuestions, shortStringItem)

	return r
}

func decodeAnalysis(v any) ProblemAnalysis {
	obj := decoder.AsObject(v)
	return ProblemAnalysis{
		Contradiction:  decoder.StringField{MaxLength: 1000}.Decode(obj["contradiction"]),
		Constraints:    decoder.DecodeArray(obj["constraints"], maxListItems, shortStringItem),
		SuccessMetrics: decoder.DecodeArray(obj["success_metrics"], maxListItems, shortStringItem),
		TrizPrinciples: decoder.DecodeArray(obj["triz_principles"], maxListItems, shortStringItem),
	}
}

func decodeConcept(v any) (SolutionConcept, bool) {
	if v == nil {
		return SolutionConcept{}, false
	}
	obj := decoder.AsObject(v)
	c := SolutionConcept{
		Name:         decoder.StringField{MaxLength: 200}.Decode(obj["name"]),
		Mechanism:    decoder.StringField{MaxLength: 2000}.Decode(obj["mechanism"]),
		SourceDomain: decoder.StringField{MaxLength: 200}.Decode(obj["source_domain"]),
		Feasibility:  feasibilityField.Decode(obj["feasibility"]),
		Risks:        decoder.DecodeArray(obj["risks"], maxListItems, shortStringItem),
		FirstTest:    decoder.StringField{MaxLength: 1000}.Decode(obj["first_test"]),
	}
	if c.Name == "" && c.Mechanism == "" {
		return SolutionConcept{}, false
	}
	return c, true
}

func decodeCrossDomain(v any) (CrossDomainOpportunity, bool) {
	if v == nil {
		return CrossDomainOpportunity{}, false
	}
	obj := decoder.AsObject(v)
	c := CrossDomainOpportunity{
		Solution:     decoder.StringField{MaxLength: 500}.Decode(obj["solution"]),
		SourceDomain: decoder.StringField{MaxLength: 200}.Decode(obj["source_domain"]),
		Analogy:      decoder.StringField{MaxLength: 1000}.Decode(obj["analogy"]),
	}
	if c.Solution == "" {
		// a bare string is accepted as the solution itself
		if s, ok := bareSolutionField.Decode(v); ok {
			c.Solution = s
		}
	}
	if c.Solution == "" {
		return CrossDomainOpportunity{}, false
	}
	return c, true
}

func decodeRecommendations(v any) Recommendations {
	obj := decoder.AsObject(v)
	return Recommendations{
		TopPicks:  decoder.DecodeArray(obj["top_picks"], 3, shortStringItem),
		Resources: decoder.StringField{MaxLength: 1000}.Decode(obj["resources"]),
		Timeline:  decoder.StringField{MaxLength: 500}.Decode(obj["timeline"]),
	}
}

func decodeScores(v any) Scores {
	obj := decoder.AsObject(v)
	s := Scores{
		Understanding: scoreField.Decode(obj["understanding"]),
		Novelty:       scoreField.Decode(obj["novelty"]),
		Relevance:     scoreField.Decode(obj["relevance"]),
		Credibility:   scoreField.Decode(obj["credibility"]),
		Actionability: scoreField.Decode(obj["actionability"]),
		Citations:     scoreField.Decode(obj["citations"]),
	}
	s.Total = totalField.Decode(obj["total"])
	if s.Total == 0 {
		s.Total = s.Understanding + s.Novelty + s.Relevance + s.Credibility + s.Actionability + s.Citations
	}
	return s
}

func shortStringItem(v any) (string, bool) {
	return decoder.OptionalStringField{MaxLength: 500}.Decode(v)
}
