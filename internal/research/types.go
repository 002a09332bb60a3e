package research

import "time"

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

type Session struct {
	ID        string        `json:"id"`
	Query     string        `json:"query"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type BranchMode string

const (
	ModeSearchSummarize BranchMode = "search_summarize"
	ModeHypothesis      BranchMode = "hypothesis"
)

type BranchStatus string

const (
	BranchPending   BranchStatus = "pending"
	BranchRunning   BranchStatus = "running"
	BranchCompleted BranchStatus = "completed"
	BranchFailed    BranchStatus = "failed"
)

// Terminal reports whether a branch status is final.
func (s BranchStatus) Terminal() bool {
	return s == BranchCompleted || s == BranchFailed
}

// Branch is one exploration path within a session. ParentID groups the
// branches into a tree rooted at the branch created with the session.
type Branch struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	ParentID  string       `json:"parent_id,omitempty"`
	Mode      BranchMode   `json:"mode"`
	Status    BranchStatus `json:"status"`
	Query     string       `json:"query"`

	// ContextUsed never exceeds MaxContext; MaxContext is fixed at creation.
	ContextUsed int `json:"context_used"`
	MaxContext  int `json:"max_context"`

	PaperCount   int `json:"paper_count"`
	SummaryCount int `json:"summary_count"`
	Iteration    int `json:"iteration"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Paper struct {
	ID         string    `json:"id"`
	BranchID   string    `json:"branch_id"`
	SessionID  string    `json:"session_id"`
	ExternalID string    `json:"external_id"`
	Title      string    `json:"title,omitempty"`
	Abstract   string    `json:"abstract,omitempty"`
	Authors    string    `json:"authors,omitempty"`
	Year       int       `json:"year,omitempty"`
	Venue      string    `json:"venue,omitempty"`
	Iteration  int       `json:"iteration"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary is an accepted, gate-validated paper summary. Text holds the
// redacted form (unsupported spans replaced); Groundedness is in [0,1].
type Summary struct {
	ID           string    `json:"id"`
	PaperID      string    `json:"paper_id"`
	BranchID     string    `json:"branch_id"`
	SessionID    string    `json:"session_id"`
	Text         string    `json:"text"`
	Groundedness float64   `json:"groundedness"`
	Iteration    int       `json:"iteration"`
	Unvalidated  bool      `json:"unvalidated,omitempty"`
	Diagnostic   string    `json:"diagnostic,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Hypothesis struct {
	ID         string    `json:"id"`
	BranchID   string    `json:"branch_id"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	PaperIDs   []string  `json:"paper_ids,omitempty"`
	Iteration  int       `json:"iteration"`
	CreatedAt  time.Time `json:"created_at"`
}

type EventType string

const (
	EventSessionStarted      EventType = "session_started"
	EventBranchCreated       EventType = "branch_created"
	EventBranchStatusChanged EventType = "branch_status_changed"
	EventPapersAdded         EventType = "papers_added"
	EventSummaryValidated    EventType = "summary_validated"
	EventHypothesisCreated   EventType = "hypothesis_created"
	EventSessionCompleted    EventType = "session_completed"
	EventError               EventType = "error"
)

// Event is one append-only log record. Seq is assigned by the EventLog and is
// strictly increasing within a session.
type Event struct {
	Seq       int64          `json:"seq"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionReport aggregates a session's progress for status queries.
type SessionReport struct {
	Session         Session `json:"session"`
	TotalBranches   int     `json:"total_branches"`
	ActiveBranches  int     `json:"active_branches"`
	TotalPapers     int     `json:"total_papers"`
	TotalSummaries  int     `json:"total_summaries"`
	TotalHypotheses int     `json:"total_hypotheses"`
	ContextUsed     int     `json:"context_used"`
}
