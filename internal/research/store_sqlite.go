package research

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the session record in a single sqlite database.
// Timestamps are stored as unix nanoseconds so ordering queries stay cheap.
type SQLiteStore struct {
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store path required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	st := &SQLiteStore{dbPath: path}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention from parallel branches.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				query TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS branches (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				parent_id TEXT,
				mode TEXT NOT NULL,
				status TEXT NOT NULL,
				query TEXT NOT NULL,
				context_used INTEGER NOT NULL,
				max_context INTEGER NOT NULL,
				paper_count INTEGER NOT NULL,
				summary_count INTEGER NOT NULL,
				iteration INTEGER NOT NULL,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_branches_session ON branches(session_id, created_at_ns);`,
			`CREATE TABLE IF NOT EXISTS papers (
				id TEXT PRIMARY KEY,
				branch_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				external_id TEXT NOT NULL,
				title TEXT,
				abstract TEXT,
				authors TEXT,
				year INTEGER,
				venue TEXT,
				iteration INTEGER NOT NULL,
				created_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_papers_branch ON papers(branch_id);`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_papers_external ON papers(session_id, external_id);`,
			`CREATE TABLE IF NOT EXISTS summaries (
				id TEXT PRIMARY KEY,
				paper_id TEXT NOT NULL,
				branch_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				body TEXT NOT NULL,
				groundedness REAL NOT NULL,
				iteration INTEGER NOT NULL,
				unvalidated INTEGER NOT NULL DEFAULT 0,
				diagnostic TEXT,
				created_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_summaries_branch ON summaries(branch_id);`,
			`CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id);`,
			`CREATE TABLE IF NOT EXISTS hypotheses (
				id TEXT PRIMARY KEY,
				branch_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				body TEXT NOT NULL,
				confidence REAL NOT NULL,
				paper_ids TEXT,
				iteration INTEGER NOT NULL,
				created_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_hypotheses_confidence ON hypotheses(session_id, confidence DESC);`,
			`CREATE TABLE IF NOT EXISTS events (
				session_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				kind TEXT NOT NULL,
				payload TEXT,
				created_at_ns INTEGER NOT NULL,
				PRIMARY KEY (session_id, seq)
			);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}

		s.db = db
	})
	return s.err
}

func (s *SQLiteStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("sqlite store unavailable")
	}
	return db, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) InsertSession(sess Session) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO sessions(id, query, status, created_at_ns, updated_at_ns)
		 VALUES(?, ?, ?, ?, ?)`,
		sess.ID, sess.Query, string(sess.Status), sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) UpdateSessionStatus(sessionID string, status SessionStatus) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	res, err := db.Exec(
		`UPDATE sessions SET status = ?, updated_at_ns = ? WHERE id = ?`,
		string(status), time.Now().UnixNano(), sessionID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SessionByID(sessionID string) (*Session, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	var sess Session
	var status string
	var createdNS, updatedNS int64
	err = db.QueryRow(
		`SELECT id, query, status, created_at_ns, updated_at_ns FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&sess.ID, &sess.Query, &status, &createdNS, &updatedNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Status = SessionStatus(status)
	sess.CreatedAt = time.Unix(0, createdNS)
	sess.UpdatedAt = time.Unix(0, updatedNS)
	return &sess, nil
}

func (s *SQLiteStore) InsertBranch(b Branch) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO branches(id, session_id, parent_id, mode, status, query, context_used, max_context, paper_count, summary_count, iteration, created_at_ns, updated_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, nullIfEmpty(b.ParentID), string(b.Mode), string(b.Status), b.Query,
		b.ContextUsed, b.MaxContext, b.PaperCount, b.SummaryCount, b.Iteration,
		b.CreatedAt.UnixNano(), b.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) UpdateBranch(b Branch) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	// Counts are owned by IncrementBranchCounts and deliberately not touched
	// here, so a stale Branch snapshot cannot roll them back. max_context is
	// included: it shrinks when a branch gives part of its window to a child.
	res, err := db.Exec(
		`UPDATE branches SET status = ?, context_used = ?, max_context = ?, iteration = ?, updated_at_ns = ? WHERE id = ?`,
		string(b.Status), b.ContextUsed, b.MaxContext, b.Iteration, time.Now().UnixNano(), b.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IncrementBranchCounts(branchID string, papers, summaries int) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	res, err := db.Exec(
		`UPDATE branches
		 SET paper_count = paper_count + ?, summary_count = summary_count + ?, updated_at_ns = ?
		 WHERE id = ?`,
		papers, summaries, time.Now().UnixNano(), branchID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) scanBranch(row interface {
	Scan(dest ...any) error
}) (*Branch, error) {
	var b Branch
	var parentID sql.NullString
	var mode, status string
	var createdNS, updatedNS int64
	err := row.Scan(
		&b.ID, &b.SessionID, &parentID, &mode, &status, &b.Query,
		&b.ContextUsed, &b.MaxContext, &b.PaperCount, &b.SummaryCount, &b.Iteration,
		&createdNS, &updatedNS,
	)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		b.ParentID = parentID.String
	}
	b.Mode = BranchMode(mode)
	b.Status = BranchStatus(status)
	b.CreatedAt = time.Unix(0, createdNS)
	b.UpdatedAt = time.Unix(0, updatedNS)
	return &b, nil
}

func (s *SQLiteStore) BranchByID(branchID string) (*Branch, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(
		`SELECT id, session_id, parent_id, mode, status, query, context_used, max_context, paper_count, summary_count, iteration, created_at_ns, updated_at_ns
		 FROM branches WHERE id = ?`,
		branchID,
	)
	b, err := s.scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *SQLiteStore) BranchesBySession(sessionID string) ([]Branch, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT id, session_id, parent_id, mode, status, query, context_used, max_context, paper_count, summary_count, iteration, created_at_ns, updated_at_ns
		 FROM branches WHERE session_id = ? ORDER BY created_at_ns ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Branch, 0, 8)
	for rows.Next() {
		b, err := s.scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertPapers(papers []Paper) error {
	if len(papers) == 0 {
		return nil
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range papers {
		_, err := tx.Exec(
			`INSERT INTO papers(id, branch_id, session_id, external_id, title, abstract, authors, year, venue, iteration, created_at_ns)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.BranchID, p.SessionID, p.ExternalID,
			nullIfEmpty(p.Title), nullIfEmpty(p.Abstract), nullIfEmpty(p.Authors),
			p.Year, nullIfEmpty(p.Venue), p.Iteration, p.CreatedAt.UnixNano(),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) PaperByExternalID(sessionID, externalID string) (*Paper, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	p, err := scanPaper(db.QueryRow(
		`SELECT id, branch_id, session_id, external_id, title, abstract, authors, year, venue, iteration, created_at_ns
		 FROM papers WHERE session_id = ? AND external_id = ?`,
		sessionID, externalID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) PapersByBranch(branchID string) ([]Paper, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT id, branch_id, session_id, external_id, title, abstract, authors, year, venue, iteration, created_at_ns
		 FROM papers WHERE branch_id = ? ORDER BY created_at_ns ASC, id ASC`,
		branchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Paper, 0, 16)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPaper(row interface{ Scan(dest ...any) error }) (*Paper, error) {
	var p Paper
	var title, abstract, authors, venue sql.NullString
	var year sql.NullInt64
	var createdNS int64
	err := row.Scan(&p.ID, &p.BranchID, &p.SessionID, &p.ExternalID, &title, &abstract, &authors, &year, &venue, &p.Iteration, &createdNS)
	if err != nil {
		return nil, err
	}
	p.Title = title.String
	p.Abstract = abstract.String
	p.Authors = authors.String
	p.Venue = venue.String
	p.Year = int(year.Int64)
	p.CreatedAt = time.Unix(0, createdNS)
	return &p, nil
}

func (s *SQLiteStore) InsertSummary(sum Summary) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	unvalidated := 0
	if sum.Unvalidated {
		unvalidated = 1
	}
	_, err = db.Exec(
		`INSERT INTO summaries(id, paper_id, branch_id, session_id, body, groundedness, iteration, unvalidated, diagnostic, created_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.PaperID, sum.BranchID, sum.SessionID, sum.Text, sum.Groundedness,
		sum.Iteration, unvalidated, nullIfEmpty(sum.Diagnostic), sum.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) SummariesByBranch(branchID string) ([]Summary, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT id, paper_id, branch_id, session_id, body, groundedness, iteration, unvalidated, diagnostic, created_at_ns
		 FROM summaries WHERE branch_id = ? ORDER BY created_at_ns ASC, id ASC`,
		branchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Summary, 0, 16)
	for rows.Next() {
		var sum Summary
		var unvalidated int
		var diagnostic sql.NullString
		var createdNS int64
		if err := rows.Scan(&sum.ID, &sum.PaperID, &sum.BranchID, &sum.SessionID, &sum.Text, &sum.Groundedness, &sum.Iteration, &unvalidated, &diagnostic, &createdNS); err != nil {
			return nil, err
		}
		sum.Unvalidated = unvalidated != 0
		sum.Diagnostic = diagnostic.String
		sum.CreatedAt = time.Unix(0, createdNS)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertHypothesis(h Hypothesis) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO hypotheses(id, branch_id, session_id, body, confidence, paper_ids, iteration, created_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.BranchID, h.SessionID, h.Text, h.Confidence,
		nullIfEmpty(strings.Join(h.PaperIDs, ",")), h.Iteration, h.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) TopHypotheses(sessionID string, n int, minConfidence float64) ([]Hypothesis, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	q := `SELECT id, branch_id, session_id, body, confidence, paper_ids, iteration, created_at_ns
	      FROM hypotheses WHERE session_id = ? AND confidence >= ?
	      ORDER BY confidence DESC, created_at_ns ASC`
	args := []any{sessionID, minConfidence}
	if n > 0 {
		q += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Hypothesis, 0, 8)
	for rows.Next() {
		var h Hypothesis
		var paperIDs sql.NullString
		var createdNS int64
		if err := rows.Scan(&h.ID, &h.BranchID, &h.SessionID, &h.Text, &h.Confidence, &paperIDs, &h.Iteration, &createdNS); err != nil {
			return nil, err
		}
		if paperIDs.Valid && paperIDs.String != "" {
			h.PaperIDs = strings.Split(paperIDs.String, ",")
		}
		h.CreatedAt = time.Unix(0, createdNS)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ev Event) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	var payload any
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		payload = string(raw)
	}
	_, err = db.Exec(
		`INSERT INTO events(session_id, seq, kind, payload, created_at_ns)
		 VALUES(?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Seq, string(ev.Type), payload, ev.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) EventsSince(sessionID string, afterSeq int64) ([]Event, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT session_id, seq, kind, payload, created_at_ns
		 FROM events WHERE session_id = ? AND seq > ? ORDER BY seq ASC`,
		sessionID, afterSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, 32)
	for rows.Next() {
		var ev Event
		var kind string
		var payload sql.NullString
		var createdNS int64
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &kind, &payload, &createdNS); err != nil {
			return nil, err
		}
		ev.Type = EventType(kind)
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &ev.Payload)
		}
		ev.CreatedAt = time.Unix(0, createdNS)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MaxEventSeq(sessionID string) (int64, error) {
	db, err := s.dbConn()
	if err != nil {
		return 0, err
	}
	var max sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(seq) FROM events WHERE session_id = ?`, sessionID).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func nullIfEmpty(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
