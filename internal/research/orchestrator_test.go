package research

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func testConfig() ResearchConfig {
	return ResearchConfig{
		MaxContextWindow:   32000,
		MaxIterations:      3,
		MaxDraftAttempts:   3,
		PapersPerIteration: 5,
		EvidenceTarget:     5,
		HypothesesPerBatch: 3,
		Spawn:              SpawnConfig{MinSummaries: 3, BudgetFraction: 0.5},
	}
}

func newTestOrchestrator(scorer Scorer, source PaperSource, cfg ResearchConfig) (*Orchestrator, *MemStore) {
	store := NewMemStore()
	events := NewEventLog(store, zerolog.Nop())
	gw := NewGateway(scorer, nil, strictPolicy(), zerolog.Nop())
	o := NewOrchestrator(store, events, gw, NewBudgetTracker(), source, FixtureDrafter{}, cfg, zerolog.Nop())
	return o, store
}

func TestRunSessionHappyPath(t *testing.T) {
	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, testConfig())

	sess, err := o.RunSession(context.Background(), "sparse retrieval")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}
	if sess.Status != SessionCompleted {
		t.Fatalf("session status = %v, want completed", sess.Status)
	}

	branches, err := store.BranchesBySession(sess.ID)
	if err != nil {
		t.Fatalf("branches: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("expected root + hypothesis branch, got %d", len(branches))
	}

	root := branches[0]
	if root.Mode != ModeSearchSummarize || root.ParentID != "" {
		t.Fatalf("first branch should be the root search branch: %+v", root)
	}
	if root.Status != BranchCompleted {
		t.Fatalf("root status = %v, want completed", root.Status)
	}
	if root.PaperCount != 5 || root.SummaryCount != 5 {
		t.Fatalf("root counts = %d papers / %d summaries, want 5/5", root.PaperCount, root.SummaryCount)
	}

	child := branches[1]
	if child.Mode != ModeHypothesis || child.ParentID != root.ID {
		t.Fatalf("second branch should be the spawned hypothesis child: %+v", child)
	}
	if child.Status != BranchCompleted {
		t.Fatalf("child status = %v, want completed", child.Status)
	}

	hyps, err := store.TopHypotheses(sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("hypotheses: %v", err)
	}
	if len(hyps) != 3 {
		t.Fatalf("expected 3 accepted hypotheses, got %d", len(hyps))
	}
	for i := 1; i < len(hyps); i++ {
		if hyps[i].Confidence > hyps[i-1].Confidence {
			t.Fatalf("hypotheses not ordered by confidence: %v then %v", hyps[i-1].Confidence, hyps[i].Confidence)
		}
	}
}

func TestRunSessionBudgetInvariantAndSplit(t *testing.T) {
	cfg := testConfig()
	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, cfg)

	sess, err := o.RunSession(context.Background(), "graph neural networks")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	if len(branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(branches))
	}
	totalWindow := 0
	for _, b := range branches {
		if b.ContextUsed > b.MaxContext {
			t.Fatalf("branch %s used %d of %d", b.ID, b.ContextUsed, b.MaxContext)
		}
		if b.ContextUsed == 0 {
			t.Fatalf("branch %s recorded no usage", b.ID)
		}
		totalWindow += b.MaxContext
	}
	// The split moves window from parent to child, it never mints new budget.
	if totalWindow != cfg.MaxContextWindow {
		t.Fatalf("windows sum to %d, want %d", totalWindow, cfg.MaxContextWindow)
	}
}

func TestRunSessionEventOrdering(t *testing.T) {
	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, testConfig())

	sess, err := o.RunSession(context.Background(), "sparse retrieval")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	evs, err := store.EventsSince(sess.ID, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) < 5 {
		t.Fatalf("expected a full event trail, got %d events", len(evs))
	}
	if evs[0].Type != EventSessionStarted {
		t.Fatalf("first event = %v, want session_started", evs[0].Type)
	}
	if evs[len(evs)-1].Type != EventSessionCompleted {
		t.Fatalf("last event = %v, want session_completed", evs[len(evs)-1].Type)
	}
	for i, ev := range evs {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, order broken", i, ev.Seq)
		}
	}

	var sawChildCreate bool
	for _, ev := range evs {
		if ev.Type == EventBranchCreated && ev.Payload["parent_id"] != nil {
			sawChildCreate = true
		}
	}
	if !sawChildCreate {
		t.Fatalf("missing branch_created event for the spawned child")
	}
}

func TestRunSessionRejectionRetryBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 1
	// Every draft scores under the entailment threshold.
	o, store := newTestOrchestrator(&MockScorer{Entailment: 0.2}, &FixtureSource{}, cfg)

	sess, err := o.RunSession(context.Background(), "cold fusion")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	if len(branches) != 1 {
		t.Fatalf("no child should spawn without accepted summaries, got %d branches", len(branches))
	}
	root := branches[0]
	if root.Status != BranchFailed {
		t.Fatalf("root status = %v, want failed with zero accepted artifacts", root.Status)
	}
	if root.SummaryCount != 0 {
		t.Fatalf("summary count = %d, want 0", root.SummaryCount)
	}
	sums, _ := store.SummariesByBranch(root.ID)
	if len(sums) != 0 {
		t.Fatalf("rejected drafts must not be persisted, found %d", len(sums))
	}

	// One error event per skipped paper, each recording the attempt bound.
	evs, _ := store.EventsSince(sess.ID, 0)
	skips := 0
	for _, ev := range evs {
		if ev.Type == EventError && ev.Payload["attempts"] != nil {
			skips++
			if ev.Payload["attempts"] != cfg.MaxDraftAttempts {
				t.Fatalf("error event attempts = %v, want %d", ev.Payload["attempts"], cfg.MaxDraftAttempts)
			}
		}
	}
	if skips != 5 {
		t.Fatalf("expected 5 skip events, got %d", skips)
	}
}

func TestRunSessionTransientBackendLeavesUnvalidated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 1
	primary := &failingScorer{err: &TransientBackendError{Backend: "remote", Err: errors.New("connection reset")}}
	o, store := newTestOrchestrator(primary, &FixtureSource{}, cfg)

	sess, err := o.RunSession(context.Background(), "protein folding")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	root := branches[0]
	// No artifacts were skipped; the branch ends cleanly.
	if root.Status != BranchCompleted {
		t.Fatalf("root status = %v, want completed", root.Status)
	}

	sums, _ := store.SummariesByBranch(root.ID)
	if len(sums) != 5 {
		t.Fatalf("expected every summary persisted unvalidated, got %d", len(sums))
	}
	for _, s := range sums {
		if !s.Unvalidated {
			t.Fatalf("summary %s should be flagged unvalidated", s.ID)
		}
		if s.Diagnostic == "" {
			t.Fatalf("unvalidated summary %s missing diagnostic", s.ID)
		}
	}
	// Unvalidated artifacts never count as accepted evidence.
	if root.SummaryCount != 0 {
		t.Fatalf("summary count = %d, want 0 accepted", root.SummaryCount)
	}

	evs, _ := store.EventsSince(sess.ID, 0)
	unval := 0
	for _, ev := range evs {
		if ev.Type == EventError && ev.Payload["unvalidated"] == true {
			unval++
		}
	}
	if unval != 5 {
		t.Fatalf("expected 5 unvalidated error events, got %d", unval)
	}
}

func TestRunSessionBudgetExhaustedWithoutProgressFails(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextWindow = 300
	cfg.PapersPerIteration = 20

	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, cfg)
	sess, err := o.RunSession(context.Background(), "large language models")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	root := branches[0]
	if root.Status != BranchFailed {
		t.Fatalf("root status = %v, want failed when budget dies before any artifact", root.Status)
	}
	papers, _ := store.PapersByBranch(root.ID)
	if len(papers) != 0 {
		t.Fatalf("papers persisted without budget: %d", len(papers))
	}
}

func TestRunSessionBudgetExhaustedWithProgressCompletes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextWindow = 700
	cfg.EvidenceTarget = 50
	cfg.Spawn.MinSummaries = 50 // keep the tree to one branch

	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, cfg)
	sess, err := o.RunSession(context.Background(), "sparse retrieval")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	root := branches[0]
	if root.Status != BranchCompleted {
		t.Fatalf("root status = %v, want completed with partial results", root.Status)
	}
	if root.SummaryCount == 0 {
		t.Fatalf("expected some accepted summaries before exhaustion")
	}
	if root.ContextUsed > root.MaxContext {
		t.Fatalf("used %d exceeds window %d", root.ContextUsed, root.MaxContext)
	}
}

type repeatSource struct{ stubs []PaperStub }

func (r *repeatSource) Search(context.Context, string, int) ([]PaperStub, error) {
	return r.stubs, nil
}

type failSource struct{ err error }

func (f *failSource) Search(context.Context, string, int) ([]PaperStub, error) {
	return nil, f.err
}

func TestRunSessionDeduplicatesPapers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 2
	cfg.EvidenceTarget = 50
	cfg.Spawn.MinSummaries = 50

	src := &repeatSource{stubs: []PaperStub{
		{ExternalID: "arxiv:1", Title: "One", Abstract: "First paper about topic."},
		{ExternalID: "arxiv:2", Title: "Two", Abstract: "Second paper about topic."},
		{ExternalID: "arxiv:3", Title: "Three", Abstract: "Third paper about topic."},
	}}
	o, store := newTestOrchestrator(&MockScorer{}, src, cfg)

	sess, err := o.RunSession(context.Background(), "topic")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	root := branches[0]
	papers, _ := store.PapersByBranch(root.ID)
	if len(papers) != 3 {
		t.Fatalf("iteration 2 must not re-ingest seen papers: got %d", len(papers))
	}
	if root.PaperCount != 3 {
		t.Fatalf("paper count = %d, want 3", root.PaperCount)
	}
}

func TestRunSessionSearchFailureFailsBranch(t *testing.T) {
	o, store := newTestOrchestrator(&MockScorer{}, &failSource{err: errors.New("api unavailable")}, testConfig())

	sess, err := o.RunSession(context.Background(), "anything")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	if branches[0].Status != BranchFailed {
		t.Fatalf("root status = %v, want failed on search error", branches[0].Status)
	}
	evs, _ := store.EventsSince(sess.ID, 0)
	found := false
	for _, ev := range evs {
		if ev.Type == EventError && ev.Payload["stage"] == "search" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing search error event")
	}
}

func TestRunSessionObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, testConfig())
	sess, err := o.RunSession(ctx, "cancelled query")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}
	if sess.Status != SessionCancelled {
		t.Fatalf("session status = %v, want cancelled", sess.Status)
	}

	branches, _ := store.BranchesBySession(sess.ID)
	for _, b := range branches {
		if !b.Status.Terminal() {
			t.Fatalf("branch %s left non-terminal after cancel: %v", b.ID, b.Status)
		}
	}
	sums, _ := store.SummariesByBranch(branches[0].ID)
	if len(sums) != 0 {
		t.Fatalf("cancelled session must not persist results, found %d summaries", len(sums))
	}
}

func TestRunSessionStopsOnHypothesisGoal(t *testing.T) {
	cfg := testConfig()
	cfg.EvidenceTarget = 50
	cfg.MaxIterations = 5
	cfg.StopOnHypotheses = 1

	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, cfg)
	sess, err := o.RunSession(context.Background(), "sparse retrieval")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}
	// Stopping at the goal is a normal completion, not a cancellation.
	if sess.Status != SessionCompleted {
		t.Fatalf("session status = %v, want completed", sess.Status)
	}

	hyps, _ := store.TopHypotheses(sess.ID, 0, 0)
	if len(hyps) == 0 {
		t.Fatalf("expected at least one hypothesis before the stop")
	}
	branches, _ := store.BranchesBySession(sess.ID)
	for _, b := range branches {
		if !b.Status.Terminal() {
			t.Fatalf("branch %s left non-terminal: %v", b.ID, b.Status)
		}
	}
}

func TestHypothesisRejectionDropsCandidateWithoutRetry(t *testing.T) {
	cfg := testConfig()
	cfg.EvidenceTarget = 5
	// The flag phrase appears only in drafted hypothesis text, so summaries
	// pass the gate while every hypothesis candidate is rejected.
	scorer := &MockScorer{FlagPhrase: "generalize", FlagRisk: 0.95}
	o, store := newTestOrchestrator(scorer, &FixtureSource{}, cfg)

	sess, err := o.RunSession(context.Background(), "sparse retrieval")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	hyps, _ := store.TopHypotheses(sess.ID, 0, 0)
	if len(hyps) != 0 {
		t.Fatalf("rejected hypotheses must not be persisted, found %d", len(hyps))
	}

	branches, _ := store.BranchesBySession(sess.ID)
	if len(branches) != 2 {
		t.Fatalf("expected root + hypothesis branch, got %d", len(branches))
	}
	child := branches[1]
	if child.Mode != ModeHypothesis || child.Status != BranchFailed {
		t.Fatalf("hypothesis branch should fail with nothing accepted: %+v", child)
	}

	// A rejected candidate is dropped after a single gate pass: exactly one
	// error event per drafted hypothesis, never a retry trail.
	evs, _ := store.EventsSince(sess.ID, 0)
	rejections := 0
	for _, ev := range evs {
		if ev.Type == EventError && ev.Payload["stage"] == "validate_hypothesis" {
			rejections++
		}
	}
	if rejections != cfg.HypothesesPerBatch {
		t.Fatalf("rejection events = %d, want one per candidate (%d)", rejections, cfg.HypothesesPerBatch)
	}
}

func TestBuildReportAggregatesBranches(t *testing.T) {
	o, store := newTestOrchestrator(&MockScorer{}, &FixtureSource{}, testConfig())
	sess, err := o.RunSession(context.Background(), "sparse retrieval")
	if err != nil {
		t.Fatalf("run session: %v", err)
	}

	report, err := BuildReport(store, sess.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TotalBranches != 2 {
		t.Fatalf("total branches = %d, want 2", report.TotalBranches)
	}
	if report.ActiveBranches != 0 {
		t.Fatalf("active branches = %d, want 0 after completion", report.ActiveBranches)
	}
	if report.TotalPapers != 5 || report.TotalSummaries != 5 {
		t.Fatalf("report counts = %d papers / %d summaries, want 5/5", report.TotalPapers, report.TotalSummaries)
	}
	if report.TotalHypotheses != 3 {
		t.Fatalf("total hypotheses = %d, want 3", report.TotalHypotheses)
	}
	if report.ContextUsed == 0 {
		t.Fatalf("report should carry context usage")
	}
}
