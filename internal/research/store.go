package research

// Store is the document store consumed by the orchestrator and the event
// log. Implementations must provide indexed lookup by session and branch,
// at-most-one lookup by a paper's external identifier, and a descending
// top-N query over hypothesis confidence.
//
// Counter updates (IncrementBranchCounts) must be atomic so concurrent
// sibling branches never lose updates.
type Store interface {
	InsertSession(sess Session) error
	UpdateSessionStatus(sessionID string, status SessionStatus) error
	SessionByID(sessionID string) (*Session, error)

	InsertBranch(b Branch) error
	UpdateBranch(b Branch) error
	IncrementBranchCounts(branchID string, papers, summaries int) error
	BranchByID(branchID string) (*Branch, error)
	BranchesBySession(sessionID string) ([]Branch, error)

	InsertPapers(papers []Paper) error
	PaperByExternalID(sessionID, externalID string) (*Paper, error)
	PapersByBranch(branchID string) ([]Paper, error)

	InsertSummary(s Summary) error
	SummariesByBranch(branchID string) ([]Summary, error)

	InsertHypothesis(h Hypothesis) error
	TopHypotheses(sessionID string, n int, minConfidence float64) ([]Hypothesis, error)

	AppendEvent(ev Event) error
	EventsSince(sessionID string, afterSeq int64) ([]Event, error)
	MaxEventSeq(sessionID string) (int64, error)

	Close() error
}
