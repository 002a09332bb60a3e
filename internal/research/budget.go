package research

import "sync"

// BudgetTracker accounts per-branch context window usage. A branch runs its
// iterations sequentially, so charges for one branch never race each other;
// the mutex only guards the shared map across branches.
type BudgetTracker struct {
	mu       sync.Mutex
	branches map[string]*branchBudget
}

type branchBudget struct {
	used int
	max  int
}

func NewBudgetTracker() *BudgetTracker {
	return &BudgetTracker{branches: map[string]*branchBudget{}}
}

// Register starts tracking a branch with a fixed window. Registering an
// already-known branch is a no-op so restarts cannot reset usage.
func (t *BudgetTracker) Register(branchID string, maxContext int) {
	if maxContext <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.branches[branchID]; ok {
		return
	}
	t.branches[branchID] = &branchBudget{max: maxContext}
}

// RegisterUsed seeds a branch with usage already incurred, used when a child
// branch inherits a slice of its parent's window.
func (t *BudgetTracker) RegisterUsed(branchID string, used, maxContext int) {
	t.Register(branchID, maxContext)
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.branches[branchID]; ok && used > 0 && used <= b.max {
		b.used = used
	}
}

// Remaining returns the budget still available to a branch.
func (t *BudgetTracker) Remaining(branchID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.branches[branchID]
	if !ok {
		return 0, ErrUnknownBranch
	}
	return b.max - b.used, nil
}

// Used returns the consumed portion of a branch's window.
func (t *BudgetTracker) Used(branchID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.branches[branchID]
	if !ok {
		return 0, ErrUnknownBranch
	}
	return b.used, nil
}

// Split carves a fraction of a branch's remaining budget out as a new
// window for a child branch. The parent's window shrinks by the same
// amount, so the parent retains the rest and the sum never grows.
func (t *BudgetTracker) Split(branchID string, fraction float64) (int, error) {
	if fraction <= 0 || fraction >= 1 {
		return 0, ErrInsufficientBudget
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.branches[branchID]
	if !ok {
		return 0, ErrUnknownBranch
	}
	child := int(float64(b.max-b.used) * fraction)
	if child <= 0 {
		return 0, ErrInsufficientBudget
	}
	b.max -= child
	return child, nil
}

// Charge deducts cost from the branch's remaining budget. The deduction is
// all-or-nothing: on ErrInsufficientBudget no usage is recorded, preserving
// used <= max at all times.
func (t *BudgetTracker) Charge(branchID string, cost int) error {
	if cost < 0 {
		cost = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.branches[branchID]
	if !ok {
		return ErrUnknownBranch
	}
	if b.used+cost > b.max {
		return ErrInsufficientBudget
	}
	b.used += cost
	return nil
}
