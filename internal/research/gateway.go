package research

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// UnverifiedMarker replaces unsupported spans in accepted summary text.
const UnverifiedMarker = "[UNVERIFIED]"

// Span severity levels, mirroring the entailment classes of the scoring
// pipeline: supported spans are filtered out before they reach reports.
const (
	SeverityNeutral       = 2
	SeverityContradiction = 4
)

type ScoreRequest struct {
	Claim    string `json:"claim"`
	Evidence string `json:"evidence"`
	Question string `json:"question,omitempty"`
}

// FlaggedSpan is a sub-span of the claim the span detector considers
// unsupported by the evidence. Confidence is the detector's risk estimate.
type FlaggedSpan struct {
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Severity   int     `json:"severity"`
}

// ScoreReport is the raw output of a scoring backend, before the gateway's
// combination policy turns it into a verdict.
type ScoreReport struct {
	Entailment     float64       `json:"entailment"`
	Spans          []FlaggedSpan `json:"spans,omitempty"`
	Contradictions int           `json:"contradictions"`
	// NoFactCheck short-circuits validation: the sentinel decided the claim
	// does not make verifiable factual assertions.
	NoFactCheck bool `json:"no_fact_check,omitempty"`
}

// Scorer is the single interface behind every backend kind (mock, direct,
// remote). The orchestrator never learns which kind is active.
type Scorer interface {
	Name() string
	Score(ctx context.Context, req ScoreRequest) (ScoreReport, error)
}

type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

// Validation is the gateway's decision for one claim.
type Validation struct {
	Score    float64       `json:"score"`
	Verdict  Verdict       `json:"verdict"`
	Backend  string        `json:"backend"`
	Spans    []FlaggedSpan `json:"spans,omitempty"`
	Redacted string        `json:"redacted"`
}

type CombineRule string

const (
	CombineStrictAnd CombineRule = "strict_and"
	CombineWeighted  CombineRule = "weighted"
)

// GatePolicy holds the explicit thresholds for turning a ScoreReport into a
// verdict. Nothing here is hard-coded; profiles carry every value.
type GatePolicy struct {
	Combine           CombineRule
	EntailThreshold   float64 // minimum entailment score
	SpanRiskThreshold float64 // maximum allowed flagged-span risk

	// Weighted-fusion parameters, used when Combine == CombineWeighted.
	EntailWeight      float64
	SpanWeight        float64
	WeightedThreshold float64
}

// Gateway validates drafted claims against their evidence. It consults a
// primary scorer and, when the primary fails transiently after its own
// retries, an optional fallback scorer.
type Gateway struct {
	primary  Scorer
	fallback Scorer
	policy   GatePolicy
	log      zerolog.Logger
}

func NewGateway(primary Scorer, fallback Scorer, policy GatePolicy, log zerolog.Logger) *Gateway {
	return &Gateway{primary: primary, fallback: fallback, policy: policy, log: log}
}

// Validate scores claim against evidence and applies the combination policy.
// The returned error is transient (IsTransient) only when every configured
// backend failed; semantic rejection is not an error.
func (g *Gateway) Validate(ctx context.Context, claim, evidence, question string) (Validation, error) {
	req := ScoreRequest{Claim: claim, Evidence: evidence, Question: question}

	report, err := g.primary.Score(ctx, req)
	backend := g.primary.Name()
	if err != nil && IsTransient(err) && g.fallback != nil {
		g.log.Warn().
			Err(err).
			Str("backend", backend).
			Str("fallback", g.fallback.Name()).
			Msg("primary scorer unavailable, trying fallback")
		report, err = g.fallback.Score(ctx, req)
		backend = g.fallback.Name()
	}
	if err != nil {
		return Validation{Backend: backend}, err
	}
	return g.decide(claim, report, backend), nil
}

func (g *Gateway) decide(claim string, report ScoreReport, backend string) Validation {
	if report.NoFactCheck {
		return Validation{Score: 1.0, Verdict: VerdictAccept, Backend: backend, Redacted: claim}
	}

	score := Groundedness(claim, report.Spans)
	maxRisk := 0.0
	for _, span := range report.Spans {
		if span.Confidence > maxRisk {
			maxRisk = span.Confidence
		}
	}

	var accept bool
	switch g.policy.Combine {
	case CombineWeighted:
		fused := g.policy.EntailWeight*report.Entailment + g.policy.SpanWeight*(1.0-maxRisk)
		accept = fused >= g.policy.WeightedThreshold
	default: // strict AND
		accept = report.Entailment >= g.policy.EntailThreshold && maxRisk <= g.policy.SpanRiskThreshold
	}
	if report.Contradictions > 0 {
		accept = false
	}

	verdict := VerdictReject
	if accept {
		verdict = VerdictAccept
	}
	return Validation{
		Score:    score,
		Verdict:  verdict,
		Backend:  backend,
		Spans:    report.Spans,
		Redacted: RedactSpans(claim, report.Spans),
	}
}

// Groundedness is the fraction of the claim not covered by flagged spans,
// clamped to [0,1].
func Groundedness(claim string, spans []FlaggedSpan) float64 {
	if claim == "" {
		return 1.0
	}
	flagged := 0
	for _, span := range spans {
		flagged += len(span.Text)
	}
	score := 1.0 - float64(flagged)/float64(len(claim))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// RedactSpans replaces flagged spans in text with UnverifiedMarker,
// processing spans back-to-front so earlier offsets stay valid.
func RedactSpans(text string, spans []FlaggedSpan) string {
	if len(spans) == 0 {
		return text
	}
	ordered := make([]FlaggedSpan, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	out := text
	for _, span := range ordered {
		if span.Start < 0 || span.End > len(out) || span.Start >= span.End {
			continue
		}
		out = out[:span.Start] + UnverifiedMarker + out[span.End:]
	}
	return out
}

// Validate policy fields early so a malformed profile cannot reach a running
// session.
func (p GatePolicy) check() error {
	switch p.Combine {
	case CombineStrictAnd, CombineWeighted:
	default:
		return &ConfigError{Field: "gate.combine", Reason: fmt.Sprintf("unknown rule %q", p.Combine)}
	}
	if p.EntailThreshold < 0 || p.EntailThreshold > 1 {
		return &ConfigError{Field: "gate.entail_threshold", Reason: "must be in [0,1]"}
	}
	if p.SpanRiskThreshold < 0 || p.SpanRiskThreshold > 1 {
		return &ConfigError{Field: "gate.span_risk_threshold", Reason: "must be in [0,1]"}
	}
	if p.Combine == CombineWeighted {
		if p.EntailWeight < 0 || p.SpanWeight < 0 || p.EntailWeight+p.SpanWeight == 0 {
			return &ConfigError{Field: "gate.weights", Reason: "weights must be non-negative and not both zero"}
		}
		if p.WeightedThreshold < 0 || p.WeightedThreshold > 1 {
			return &ConfigError{Field: "gate.weighted_threshold", Reason: "must be in [0,1]"}
		}
	}
	return nil
}

// evidenceFromPapers formats paper records as gateway evidence text.
func evidenceFromPapers(papers []Paper) string {
	parts := make([]string, 0, len(papers))
	for _, p := range papers {
		if p.Abstract == "" {
			continue
		}
		parts = append(parts, "Title: "+p.Title+"\nAbstract: "+p.Abstract)
	}
	return strings.Join(parts, "\n\n")
}

// evidenceFromSummaries formats accepted summaries as gateway evidence text.
func evidenceFromSummaries(summaries []Summary) string {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n---\n")
}
