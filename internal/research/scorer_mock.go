package research

import (
	"context"
	"strings"
)

// MockScorer returns deterministic fixture scores: identical inputs always
// yield identical reports, with no I/O. It backs the "test" profile.
//
// By default every claim scores as fully entailed. FlagPhrase, when set,
// marks each occurrence of the phrase in the claim as an unsupported span,
// which lets tests drive rejections without a real model.
type MockScorer struct {
	Entailment float64 // 0 means "use default" (0.95)
	FlagPhrase string
	FlagRisk   float64 // risk assigned to flagged spans, default 0.9
}

func (m *MockScorer) Name() string { return "mock" }

func (m *MockScorer) Score(_ context.Context, req ScoreRequest) (ScoreReport, error) {
	entail := m.Entailment
	if entail == 0 {
		entail = 0.95
	}
	report := ScoreReport{Entailment: entail}

	if m.FlagPhrase == "" {
		return report, nil
	}
	risk := m.FlagRisk
	if risk == 0 {
		risk = 0.9
	}
	offset := 0
	for {
		i := strings.Index(req.Claim[offset:], m.FlagPhrase)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(m.FlagPhrase)
		report.Spans = append(report.Spans, FlaggedSpan{
			Text:       m.FlagPhrase,
			Start:      start,
			End:        end,
			Confidence: risk,
			Severity:   SeverityNeutral,
		})
		offset = end
	}
	return report, nil
}
