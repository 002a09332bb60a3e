package research

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by store lookups that match no record.
var ErrNotFound = errors.New("record not found")

// MemStore is an in-memory Store used by tests and by short-lived sessions
// that do not need a database on disk. It mirrors SQLiteStore semantics,
// including atomic counter increments.
type MemStore struct {
	mu         sync.Mutex
	sessions   map[string]Session
	branches   map[string]Branch
	papers     []Paper
	summaries  []Summary
	hypotheses []Hypothesis
	events     []Event
}

func NewMemStore() *MemStore {
	return &MemStore{
		sessions: map[string]Session{},
		branches: map[string]Branch{},
	}
}

func (m *MemStore) InsertSession(sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemStore) UpdateSessionStatus(sessionID string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	m.sessions[sessionID] = sess
	return nil
}

func (m *MemStore) SessionByID(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (m *MemStore) InsertBranch(b Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.ID] = b
	return nil
}

func (m *MemStore) UpdateBranch(b Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.branches[b.ID]
	if !ok {
		return ErrNotFound
	}
	// Counts are owned by IncrementBranchCounts; keep the stored values so a
	// stale caller snapshot cannot roll them back.
	b.PaperCount = cur.PaperCount
	b.SummaryCount = cur.SummaryCount
	m.branches[b.ID] = b
	return nil
}

func (m *MemStore) IncrementBranchCounts(branchID string, papers, summaries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[branchID]
	if !ok {
		return ErrNotFound
	}
	b.PaperCount += papers
	b.SummaryCount += summaries
	m.branches[branchID] = b
	return nil
}

func (m *MemStore) BranchByID(branchID string) (*Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[branchID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *MemStore) BranchesBySession(sessionID string) ([]Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Branch, 0, 4)
	for _, b := range m.branches {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) InsertPapers(papers []Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.papers = append(m.papers, papers...)
	return nil
}

func (m *MemStore) PaperByExternalID(sessionID, externalID string) (*Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.papers {
		if m.papers[i].SessionID == sessionID && m.papers[i].ExternalID == externalID {
			p := m.papers[i]
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) PapersByBranch(branchID string) ([]Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Paper, 0, 8)
	for _, p := range m.papers {
		if p.BranchID == branchID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) InsertSummary(s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

func (m *MemStore) SummariesByBranch(branchID string) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, 8)
	for _, s := range m.summaries {
		if s.BranchID == branchID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) InsertHypothesis(h Hypothesis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hypotheses = append(m.hypotheses, h)
	return nil
}

func (m *MemStore) TopHypotheses(sessionID string, n int, minConfidence float64) ([]Hypothesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Hypothesis, 0, 8)
	for _, h := range m.hypotheses {
		if h.SessionID == sessionID && h.Confidence >= minConfidence {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemStore) AppendEvent(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemStore) EventsSince(sessionID string, afterSeq int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, 16)
	for _, ev := range m.events {
		if ev.SessionID == sessionID && ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemStore) MaxEventSeq(sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, ev := range m.events {
		if ev.SessionID == sessionID && ev.Seq > max {
			max = ev.Seq
		}
	}
	return max, nil
}

func (m *MemStore) Close() error { return nil }
