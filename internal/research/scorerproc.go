package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

type ScorerProcStatus string

const (
	ScorerRunning ScorerProcStatus = "running"
	ScorerStopped ScorerProcStatus = "stopped"
)

// ScorerProc is the recorded handle for a standalone scoring service
// process, enough to address it (Addr) and to stop it later (PID).
type ScorerProc struct {
	ID        string           `json:"id"`
	Addr      string           `json:"addr"`
	PID       int              `json:"pid"`
	LogPath   string           `json:"log_path"`
	Status    ScorerProcStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
}

// ScorerProcStore keeps scorer process handles in a JSON registry file so a
// later CLI invocation can stop what an earlier one started.
type ScorerProcStore struct {
	path  string
	mu    sync.Mutex
	procs map[string]ScorerProc
}

func NewScorerProcStore(path string) (*ScorerProcStore, error) {
	store := &ScorerProcStore{path: path, procs: map[string]ScorerProc{}}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ScorerProcStore) load() error {
	if s.path == "" {
		return errors.New("scorer proc store path required")
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.procs)
}

func (s *ScorerProcStore) Save(proc ScorerProc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[proc.ID] = proc
	payload, err := json.MarshalIndent(s.procs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o644)
}

func (s *ScorerProcStore) Get(id string) (ScorerProc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.procs[id]
	return proc, ok
}

func (s *ScorerProcStore) List() []ScorerProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScorerProc, 0, len(s.procs))
	for _, proc := range s.procs {
		out = append(out, proc)
	}
	return out
}

// StartScorer launches a scorerd binary bound to addr and records the
// process handle. The service logs to logPath; readiness is its own concern.
func StartScorer(store *ScorerProcStore, binPath, addr, logPath string) (ScorerProc, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ScorerProc{}, err
	}
	defer logFile.Close()

	cmd := exec.Command(binPath, "--addr", addr)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return ScorerProc{}, err
	}
	// Detach: the registry, not this process, owns the handle from here.
	_ = cmd.Process.Release()

	proc := ScorerProc{
		ID:        fmt.Sprintf("scorer-%d", cmd.Process.Pid),
		Addr:      addr,
		PID:       cmd.Process.Pid,
		LogPath:   logPath,
		Status:    ScorerRunning,
		StartedAt: time.Now(),
	}
	if err := store.Save(proc); err != nil {
		return proc, err
	}
	return proc, nil
}

// StopScorer signals the recorded process for graceful shutdown and updates
// the registry entry.
func StopScorer(store *ScorerProcStore, id string) error {
	proc, ok := store.Get(id)
	if !ok {
		return fmt.Errorf("scorer %q not found", id)
	}
	if proc.Status == ScorerRunning && proc.PID > 0 {
		if p, err := os.FindProcess(proc.PID); err == nil {
			_ = p.Signal(syscall.SIGTERM)
		}
	}
	proc.Status = ScorerStopped
	proc.EndedAt = time.Now()
	return store.Save(proc)
}
