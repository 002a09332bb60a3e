package research

import (
	"context"
	"fmt"
	"strings"
)

// PaperStub is a search hit from the literature-search collaborator, before
// it becomes a persisted Paper record.
type PaperStub struct {
	ExternalID string
	Title      string
	Abstract   string
	Authors    string
	Year       int
	Venue      string
}

// PaperSource is the external literature-search API.
type PaperSource interface {
	Search(ctx context.Context, query string, limit int) ([]PaperStub, error)
}

// HypothesisDraft is an unvalidated hypothesis candidate from the drafting
// collaborator.
type HypothesisDraft struct {
	Text       string
	Confidence float64
	PaperIDs   []string
}

// Drafter is the external language-model collaborator that produces summary
// and hypothesis text. The engine validates everything it returns.
type Drafter interface {
	DraftSummary(ctx context.Context, paper Paper, query string) (string, error)
	DraftHypotheses(ctx context.Context, query string, summaries []Summary, n int) ([]HypothesisDraft, error)
}

// FixtureSource deterministically fabricates search hits from the query, for
// tests and offline runs. The same query and page always produce the same
// papers.
type FixtureSource struct {
	page int
}

func (f *FixtureSource) Search(_ context.Context, query string, limit int) ([]PaperStub, error) {
	if limit <= 0 {
		limit = 5
	}
	out := make([]PaperStub, 0, limit)
	for i := 0; i < limit; i++ {
		n := f.page*limit + i
		out = append(out, PaperStub{
			ExternalID: fmt.Sprintf("fixture:%s:%d", slug(query), n),
			Title:      fmt.Sprintf("A Study of %s (part %d)", query, n+1),
			Abstract: fmt.Sprintf(
				"This paper studies %s. It reports experimental results on %s and discusses methods for future work.",
				query, query,
			),
			Authors: "Fixture Author",
			Year:    2020 + n%5,
			Venue:   "Fixture Conference",
		})
	}
	f.page++
	return out, nil
}

// FixtureDrafter produces summaries copied from the paper abstract, so they
// validate as grounded, and hypotheses phrased over the summary vocabulary.
type FixtureDrafter struct{}

func (FixtureDrafter) DraftSummary(_ context.Context, paper Paper, _ string) (string, error) {
	if paper.Abstract == "" {
		return paper.Title + ".", nil
	}
	return paper.Abstract, nil
}

func (FixtureDrafter) DraftHypotheses(_ context.Context, query string, summaries []Summary, n int) ([]HypothesisDraft, error) {
	if len(summaries) == 0 {
		return nil, nil
	}
	out := make([]HypothesisDraft, 0, n)
	for i := 0; i < n; i++ {
		sum := summaries[i%len(summaries)]
		out = append(out, HypothesisDraft{
			Text:       fmt.Sprintf("Methods from paper studies of %s generalize to related experimental work.", query),
			Confidence: 0.8 - 0.1*float64(i),
			PaperIDs:   []string{sum.PaperID},
		})
	}
	return out, nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "-")
}
