package research

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// minIterationCost is the smallest budget a branch needs to attempt another
// iteration. Below this, the iteration could not even hold one draft.
const minIterationCost = 256

// Orchestrator drives a session's branch tree. Branches run concurrently on
// their own goroutines; each branch executes its iteration loop strictly
// sequentially, so per-branch state needs no locking of its own.
//
// Store and event log handles are injected at construction so tests can run
// against isolated instances.
type Orchestrator struct {
	store   Store
	events  *EventLog
	gateway *Gateway
	budget  *BudgetTracker
	source  PaperSource
	drafter Drafter
	cfg     ResearchConfig
	log     zerolog.Logger

	wg            sync.WaitGroup
	cancelSession context.CancelFunc
	hypAccepted   atomic.Int64
}

func NewOrchestrator(store Store, events *EventLog, gateway *Gateway, budget *BudgetTracker, source PaperSource, drafter Drafter, cfg ResearchConfig, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		events:  events,
		gateway: gateway,
		budget:  budget,
		source:  source,
		drafter: drafter,
		cfg:     cfg,
		log:     log,
	}
}

// RunSession creates a session with a root search branch and blocks until
// every branch in the tree reaches a terminal status.
func (o *Orchestrator) RunSession(ctx context.Context, query string) (*Session, error) {
	now := time.Now()
	sess := Session{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    SessionRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.InsertSession(sess); err != nil {
		return nil, err
	}
	o.events.Append(sess.ID, EventSessionStarted, map[string]any{"query": query})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.cancelSession = cancel

	root, err := o.createBranch(sess.ID, "", ModeSearchSummarize, query, o.cfg.MaxContextWindow)
	if err != nil {
		return nil, err
	}
	o.startBranch(sessCtx, *root)
	o.wg.Wait()

	status := SessionCompleted
	if ctx.Err() != nil {
		// External cancellation, as opposed to the stop-on-hypotheses signal.
		status = SessionCancelled
	}
	if err := o.store.UpdateSessionStatus(sess.ID, status); err != nil {
		return nil, err
	}
	report, _ := o.Report(sess.ID)
	payload := map[string]any{"status": string(status)}
	if report != nil {
		payload["papers"] = report.TotalPapers
		payload["summaries"] = report.TotalSummaries
		payload["hypotheses"] = report.TotalHypotheses
		payload["context_used"] = report.ContextUsed
	}
	o.events.Append(sess.ID, EventSessionCompleted, payload)

	sess.Status = status
	return &sess, nil
}

// createBranch persists a new pending branch, registers its budget window,
// and emits branch_created.
func (o *Orchestrator) createBranch(sessionID, parentID string, mode BranchMode, query string, maxContext int) (*Branch, error) {
	now := time.Now()
	b := Branch{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ParentID:   parentID,
		Mode:       mode,
		Status:     BranchPending,
		Query:      query,
		MaxContext: maxContext,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.InsertBranch(b); err != nil {
		return nil, err
	}
	o.budget.Register(b.ID, b.MaxContext)
	payload := map[string]any{"branch_id": b.ID, "mode": string(mode), "max_context": maxContext}
	if parentID != "" {
		payload["parent_id"] = parentID
	}
	o.events.Append(sessionID, EventBranchCreated, payload)
	return &b, nil
}

func (o *Orchestrator) startBranch(ctx context.Context, b Branch) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runBranch(ctx, b)
	}()
}

// branchRun is the per-branch mutable state for one iteration loop. It is
// touched only by the branch's own goroutine.
type branchRun struct {
	branch   Branch
	accepted int // accepted artifacts (summaries or hypotheses)
	skipped  int // artifacts dropped after the re-draft retry bound
	spawned  bool
}

func (o *Orchestrator) runBranch(ctx context.Context, branch Branch) {
	run := &branchRun{branch: branch}
	log := o.log.With().Str("session_id", branch.SessionID).Str("branch_id", branch.ID).Logger()

	o.setStatus(run, BranchRunning, "first iteration")

	for {
		if ctx.Err() != nil {
			o.finishBranch(run, "session cancelled")
			return
		}
		if run.branch.Iteration >= o.cfg.MaxIterations {
			o.finishBranch(run, "iteration limit")
			return
		}
		remaining, err := o.budget.Remaining(run.branch.ID)
		if err != nil || remaining < minIterationCost {
			o.finishBranch(run, "budget exhausted")
			return
		}
		run.branch.Iteration++

		var done bool
		switch run.branch.Mode {
		case ModeHypothesis:
			done = o.hypothesisIteration(ctx, run, log)
		default:
			done = o.searchIteration(ctx, run, log)
		}
		o.persistBranch(run)
		if done {
			return
		}
	}
}

// searchIteration runs one search_summarize step: fetch papers, draft and
// validate a summary per paper, then evaluate the spawn policy. It returns
// true when the branch reached a terminal status.
func (o *Orchestrator) searchIteration(ctx context.Context, run *branchRun, log zerolog.Logger) bool {
	b := &run.branch

	stubs, err := o.source.Search(ctx, b.Query, o.cfg.PapersPerIteration)
	if err != nil {
		o.events.Append(b.SessionID, EventError, map[string]any{
			"branch_id": b.ID, "stage": "search", "error": err.Error(),
		})
		log.Error().Err(err).Msg("paper search failed")
		o.finishBranch(run, "search failure")
		return true
	}

	papers := make([]Paper, 0, len(stubs))
	cost := 0
	now := time.Now()
	for _, stub := range stubs {
		// A paper already seen anywhere in the session is not re-ingested.
		if _, err := o.store.PaperByExternalID(b.SessionID, stub.ExternalID); err == nil {
			continue
		}
		p := Paper{
			ID:         uuid.NewString(),
			BranchID:   b.ID,
			SessionID:  b.SessionID,
			ExternalID: stub.ExternalID,
			Title:      stub.Title,
			Abstract:   stub.Abstract,
			Authors:    stub.Authors,
			Year:       stub.Year,
			Venue:      stub.Venue,
			Iteration:  b.Iteration,
			CreatedAt:  now,
		}
		papers = append(papers, p)
		cost += EstimatePaperTokens(p)
	}

	if len(papers) > 0 {
		if err := o.chargeBranch(run, cost); err != nil {
			o.finishBranch(run, "budget exhausted")
			return true
		}
		if err := o.store.InsertPapers(papers); err != nil {
			log.Error().Err(err).Msg("paper insert failed")
			o.events.Append(b.SessionID, EventError, map[string]any{
				"branch_id": b.ID, "stage": "persist_papers", "error": err.Error(),
			})
			o.finishBranch(run, "store failure")
			return true
		}
		_ = o.store.IncrementBranchCounts(b.ID, len(papers), 0)
		b.PaperCount += len(papers)
		o.events.Append(b.SessionID, EventPapersAdded, map[string]any{
			"branch_id": b.ID, "count": len(papers), "iteration": b.Iteration,
		})
	}

	for _, p := range papers {
		if ctx.Err() != nil {
			o.finishBranch(run, "session cancelled")
			return true
		}
		if done := o.summarizePaper(ctx, run, p, log); done {
			return true
		}
	}

	if o.shouldSpawn(run) {
		o.spawnHypothesisBranch(ctx, run, log)
	}

	if run.accepted >= o.cfg.EvidenceTarget {
		o.finishBranch(run, "evidence target reached")
		return true
	}
	return false
}

// summarizePaper drafts and validates one summary, re-drafting up to the
// configured attempt bound on semantic rejection. Returns true only when the
// branch itself must terminate (budget or cancellation).
func (o *Orchestrator) summarizePaper(ctx context.Context, run *branchRun, paper Paper, log zerolog.Logger) bool {
	b := &run.branch
	evidence := evidenceFromPapers([]Paper{paper})

	for attempt := 1; attempt <= o.cfg.MaxDraftAttempts; attempt++ {
		draft, err := o.drafter.DraftSummary(ctx, paper, b.Query)
		if err != nil {
			o.events.Append(b.SessionID, EventError, map[string]any{
				"branch_id": b.ID, "stage": "draft_summary", "paper_id": paper.ID, "error": err.Error(),
			})
			return false // skip this paper, branch continues
		}

		val, err := o.gateway.Validate(ctx, draft, evidence, b.Query)
		if ctx.Err() != nil {
			// An in-flight validation may complete after cancellation; its
			// result is discarded, never persisted.
			o.finishBranch(run, "session cancelled")
			return true
		}
		// The attempt consumed context whatever the outcome.
		if chargeErr := o.chargeBranch(run, EstimateTokens(draft)); chargeErr != nil {
			o.finishBranch(run, "budget exhausted")
			return true
		}

		if err != nil {
			// Transient backend failure, retries and fallback already spent.
			// Persist the artifact flagged unvalidated for later review.
			sum := Summary{
				ID:          uuid.NewString(),
				PaperID:     paper.ID,
				BranchID:    b.ID,
				SessionID:   b.SessionID,
				Text:        draft,
				Iteration:   b.Iteration,
				Unvalidated: true,
				Diagnostic:  err.Error(),
				CreatedAt:   time.Now(),
			}
			_ = o.store.InsertSummary(sum)
			o.events.Append(b.SessionID, EventError, map[string]any{
				"branch_id": b.ID, "stage": "validate_summary", "paper_id": paper.ID,
				"backend": val.Backend, "error": err.Error(), "unvalidated": true,
			})
			log.Warn().Err(err).Str("paper_id", paper.ID).Msg("summary left unvalidated")
			return false
		}

		if val.Verdict == VerdictAccept {
			sum := Summary{
				ID:           uuid.NewString(),
				PaperID:      paper.ID,
				BranchID:     b.ID,
				SessionID:    b.SessionID,
				Text:         val.Redacted,
				Groundedness: val.Score,
				Iteration:    b.Iteration,
				CreatedAt:    time.Now(),
			}
			if err := o.store.InsertSummary(sum); err != nil {
				log.Error().Err(err).Msg("summary insert failed")
				return false
			}
			_ = o.store.IncrementBranchCounts(b.ID, 0, 1)
			b.SummaryCount++
			run.accepted++
			o.events.Append(b.SessionID, EventSummaryValidated, map[string]any{
				"branch_id": b.ID, "paper_id": paper.ID, "summary_id": sum.ID,
				"score": val.Score, "backend": val.Backend,
			})
			return false
		}

		log.Debug().
			Int("attempt", attempt).
			Float64("score", val.Score).
			Str("paper_id", paper.ID).
			Msg("summary rejected by gateway")
	}

	// Retry bound exceeded: the artifact is skipped, never persisted.
	run.skipped++
	o.events.Append(b.SessionID, EventError, map[string]any{
		"branch_id": b.ID, "stage": "validate_summary", "paper_id": paper.ID,
		"error": "groundedness rejection after max draft attempts", "attempts": o.cfg.MaxDraftAttempts,
	})
	return false
}

// hypothesisIteration drafts one hypothesis batch from the parent branch's
// accepted summaries, validates each candidate, then terminates the branch.
func (o *Orchestrator) hypothesisIteration(ctx context.Context, run *branchRun, log zerolog.Logger) bool {
	b := &run.branch

	summaries, err := o.store.SummariesByBranch(b.ParentID)
	if err != nil {
		o.finishBranch(run, "store failure")
		return true
	}
	accepted := summaries[:0:0]
	for _, s := range summaries {
		if !s.Unvalidated {
			accepted = append(accepted, s)
		}
	}
	if len(accepted) == 0 {
		o.finishBranch(run, "no supporting evidence")
		return true
	}
	evidence := evidenceFromSummaries(accepted)

	drafts, err := o.drafter.DraftHypotheses(ctx, b.Query, accepted, o.cfg.HypothesesPerBatch)
	if err != nil {
		o.events.Append(b.SessionID, EventError, map[string]any{
			"branch_id": b.ID, "stage": "draft_hypotheses", "error": err.Error(),
		})
		o.finishBranch(run, "drafting failure")
		return true
	}

	for _, draft := range drafts {
		if ctx.Err() != nil {
			o.finishBranch(run, "session cancelled")
			return true
		}
		if done := o.validateHypothesis(ctx, run, draft, evidence, accepted, log); done {
			return true
		}
	}

	o.finishBranch(run, "hypothesis batch complete")
	return true
}

// validateHypothesis gates one candidate. Hypotheses are fixed text from a
// single drafting call, so a semantic rejection drops the candidate outright;
// there is no re-draft to retry.
func (o *Orchestrator) validateHypothesis(ctx context.Context, run *branchRun, draft HypothesisDraft, evidence string, support []Summary, log zerolog.Logger) bool {
	b := &run.branch

	val, err := o.gateway.Validate(ctx, draft.Text, evidence, b.Query)
	if ctx.Err() != nil {
		o.finishBranch(run, "session cancelled")
		return true
	}
	if chargeErr := o.chargeBranch(run, EstimateTokens(draft.Text)); chargeErr != nil {
		o.finishBranch(run, "budget exhausted")
		return true
	}
	if err != nil {
		o.events.Append(b.SessionID, EventError, map[string]any{
			"branch_id": b.ID, "stage": "validate_hypothesis", "error": err.Error(), "unvalidated": true,
		})
		return false
	}
	if val.Verdict != VerdictAccept {
		log.Debug().Float64("score", val.Score).Msg("hypothesis rejected")
		run.skipped++
		o.events.Append(b.SessionID, EventError, map[string]any{
			"branch_id": b.ID, "stage": "validate_hypothesis",
			"error": "hypothesis not grounded in supporting summaries", "score": val.Score,
		})
		return false
	}

	paperIDs := draft.PaperIDs
	if len(paperIDs) == 0 {
		for _, s := range support {
			paperIDs = append(paperIDs, s.PaperID)
		}
	}
	h := Hypothesis{
		ID:         uuid.NewString(),
		BranchID:   b.ID,
		SessionID:  b.SessionID,
		Text:       val.Redacted,
		Confidence: draft.Confidence,
		PaperIDs:   paperIDs,
		Iteration:  b.Iteration,
		CreatedAt:  time.Now(),
	}
	if err := o.store.InsertHypothesis(h); err != nil {
		log.Error().Err(err).Msg("hypothesis insert failed")
		return false
	}
	run.accepted++
	o.events.Append(b.SessionID, EventHypothesisCreated, map[string]any{
		"branch_id": b.ID, "hypothesis_id": h.ID,
		"confidence": h.Confidence, "score": val.Score, "backend": val.Backend,
	})

	if n := o.hypAccepted.Add(1); o.cfg.StopOnHypotheses > 0 && n >= int64(o.cfg.StopOnHypotheses) {
		log.Info().Int64("hypotheses", n).Msg("hypothesis goal reached, signalling session stop")
		if o.cancelSession != nil {
			o.cancelSession()
		}
	}
	return false
}

// shouldSpawn applies the spawn policy: a search branch spawns one
// hypothesis child once its accepted summaries cross the configured count.
func (o *Orchestrator) shouldSpawn(run *branchRun) bool {
	return run.branch.Mode == ModeSearchSummarize &&
		!run.spawned &&
		run.accepted >= o.cfg.Spawn.MinSummaries
}

func (o *Orchestrator) spawnHypothesisBranch(ctx context.Context, run *branchRun, log zerolog.Logger) {
	b := &run.branch
	remaining, err := o.budget.Remaining(b.ID)
	if err != nil || int(float64(remaining)*o.cfg.Spawn.BudgetFraction) < minIterationCost {
		// Too little left to be worth splitting; the parent keeps it all.
		return
	}
	childMax, err := o.budget.Split(b.ID, o.cfg.Spawn.BudgetFraction)
	if err != nil {
		return
	}
	// The parent's window shrank by the child's share; mirror that in the
	// persisted record.
	b.MaxContext -= childMax

	child, err := o.createBranch(b.SessionID, b.ID, ModeHypothesis, b.Query, childMax)
	if err != nil {
		log.Error().Err(err).Msg("hypothesis branch create failed")
		return
	}
	run.spawned = true
	log.Info().Str("child_id", child.ID).Int("child_budget", childMax).Msg("spawned hypothesis branch")
	o.startBranch(ctx, *child)
}

func (o *Orchestrator) chargeBranch(run *branchRun, cost int) error {
	if err := o.budget.Charge(run.branch.ID, cost); err != nil {
		return err
	}
	used, err := o.budget.Used(run.branch.ID)
	if err == nil {
		run.branch.ContextUsed = used
	}
	return nil
}

func (o *Orchestrator) setStatus(run *branchRun, status BranchStatus, reason string) {
	from := run.branch.Status
	run.branch.Status = status
	o.persistBranch(run)
	o.events.Append(run.branch.SessionID, EventBranchStatusChanged, map[string]any{
		"branch_id": run.branch.ID,
		"from":      string(from),
		"to":        string(status),
		"reason":    reason,
	})
}

// finishBranch assigns the terminal status: completed when the branch made
// progress or ended cleanly, failed when it produced nothing and either
// skipped artifacts or ran out of budget before a viable step.
func (o *Orchestrator) finishBranch(run *branchRun, reason string) {
	status := BranchCompleted
	if run.accepted == 0 && (run.skipped > 0 || reason == "budget exhausted" || reason == "search failure" || reason == "drafting failure" || reason == "store failure") {
		status = BranchFailed
	}
	o.setStatus(run, status, reason)
	o.log.Info().
		Str("branch_id", run.branch.ID).
		Str("status", string(status)).
		Str("reason", reason).
		Int("accepted", run.accepted).
		Msg("branch finished")
}

func (o *Orchestrator) persistBranch(run *branchRun) {
	if err := o.store.UpdateBranch(run.branch); err != nil && !errors.Is(err, ErrNotFound) {
		o.log.Error().Err(err).Str("branch_id", run.branch.ID).Msg("branch update failed")
	}
}
