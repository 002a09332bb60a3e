package research

import (
	"context"
	"strings"
	"unicode"
)

// DirectScorer runs scoring in-process with a lexical support model: each
// claim sentence is checked for content-token overlap against the evidence.
// It is synchronous and CPU-bound, never suspends, and is fully
// deterministic. The "fast" profile and the standalone scorer service both
// use it.
type DirectScorer struct {
	// MinSupport is the per-sentence overlap below which a sentence is
	// flagged as unsupported.
	MinSupport float64
	// ContradictionSupport is the overlap below which a flagged sentence is
	// escalated to contradiction severity.
	ContradictionSupport float64
}

func NewDirectScorer() *DirectScorer {
	return &DirectScorer{MinSupport: 0.5, ContradictionSupport: 0.15}
}

func (d *DirectScorer) Name() string { return "direct" }

func (d *DirectScorer) Score(_ context.Context, req ScoreRequest) (ScoreReport, error) {
	evidence := tokenSet(req.Evidence)
	sentences := splitSentences(req.Claim)

	if len(sentences) == 0 {
		return ScoreReport{Entailment: 1.0, NoFactCheck: true}, nil
	}

	var report ScoreReport
	totalWeight := 0.0
	weightedSupport := 0.0

	for _, sent := range sentences {
		tokens := contentTokens(sent.text)
		if len(tokens) == 0 {
			continue
		}
		hits := 0
		for _, tok := range tokens {
			if _, ok := evidence[tok]; ok {
				hits++
			}
		}
		support := float64(hits) / float64(len(tokens))
		weight := float64(len(sent.text))
		totalWeight += weight
		weightedSupport += support * weight

		if support < d.MinSupport {
			severity := SeverityNeutral
			if support < d.ContradictionSupport {
				severity = SeverityContradiction
				report.Contradictions++
			}
			report.Spans = append(report.Spans, FlaggedSpan{
				Text:       sent.text,
				Start:      sent.start,
				End:        sent.start + len(sent.text),
				Confidence: 1.0 - support,
				Severity:   severity,
			})
		}
	}

	if totalWeight == 0 {
		// Nothing checkable in the claim.
		return ScoreReport{Entailment: 1.0, NoFactCheck: true}, nil
	}
	report.Entailment = weightedSupport / totalWeight
	return report, nil
}

type sentence struct {
	text  string
	start int
}

// splitSentences returns claim sentences with their byte offsets preserved,
// so flagged spans can be redacted in place.
func splitSentences(text string) []sentence {
	var out []sentence
	start := -1
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '.' || c == '!' || c == '?' || c == '\n' {
			if start >= 0 {
				out = append(out, sentence{text: strings.TrimRight(text[start:i+1], "\n"), start: start})
				start = -1
			}
			continue
		}
		if start < 0 && c != ' ' && c != '\t' {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, sentence{text: text[start:], start: start})
	}
	return out
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "with": {}, "we": {},
}

func contentTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range contentTokens(text) {
		set[tok] = struct{}{}
	}
	return set
}
