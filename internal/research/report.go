package research

// Report aggregates a session's branches and artifacts into the shape the
// status command and the session_completed event use.
func (o *Orchestrator) Report(sessionID string) (*SessionReport, error) {
	return BuildReport(o.store, sessionID)
}

func BuildReport(store Store, sessionID string) (*SessionReport, error) {
	sess, err := store.SessionByID(sessionID)
	if err != nil {
		return nil, err
	}
	branches, err := store.BranchesBySession(sessionID)
	if err != nil {
		return nil, err
	}

	report := &SessionReport{Session: *sess, TotalBranches: len(branches)}
	for _, b := range branches {
		if !b.Status.Terminal() {
			report.ActiveBranches++
		}
		report.TotalPapers += b.PaperCount
		report.TotalSummaries += b.SummaryCount
		report.ContextUsed += b.ContextUsed
	}
	hyps, err := store.TopHypotheses(sessionID, 0, 0)
	if err != nil {
		return nil, err
	}
	report.TotalHypotheses = len(hyps)
	return report, nil
}
