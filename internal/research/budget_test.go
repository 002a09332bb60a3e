package research

import (
	"errors"
	"sync"
	"testing"
)

func TestBudgetChargeAndRemaining(t *testing.T) {
	tr := NewBudgetTracker()
	tr.Register("b1", 1000)

	if err := tr.Charge("b1", 400); err != nil {
		t.Fatalf("charge: %v", err)
	}
	rem, err := tr.Remaining("b1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if rem != 600 {
		t.Fatalf("remaining = %d, want 600", rem)
	}
	used, err := tr.Used("b1")
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 400 {
		t.Fatalf("used = %d, want 400", used)
	}
}

func TestBudgetChargeIsAllOrNothing(t *testing.T) {
	tr := NewBudgetTracker()
	tr.Register("b1", 100)

	if err := tr.Charge("b1", 80); err != nil {
		t.Fatalf("charge: %v", err)
	}
	// A charge past the window records nothing.
	if err := tr.Charge("b1", 30); !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("over-charge err = %v, want ErrInsufficientBudget", err)
	}
	used, _ := tr.Used("b1")
	if used != 80 {
		t.Fatalf("used after rejected charge = %d, want 80", used)
	}
	// The remaining 20 is still spendable.
	if err := tr.Charge("b1", 20); err != nil {
		t.Fatalf("exact charge: %v", err)
	}
	rem, _ := tr.Remaining("b1")
	if rem != 0 {
		t.Fatalf("remaining = %d, want 0", rem)
	}
}

func TestBudgetUnknownBranch(t *testing.T) {
	tr := NewBudgetTracker()
	if err := tr.Charge("nope", 1); !errors.Is(err, ErrUnknownBranch) {
		t.Fatalf("charge err = %v, want ErrUnknownBranch", err)
	}
	if _, err := tr.Remaining("nope"); !errors.Is(err, ErrUnknownBranch) {
		t.Fatalf("remaining err = %v, want ErrUnknownBranch", err)
	}
}

func TestBudgetRegisterDoesNotResetUsage(t *testing.T) {
	tr := NewBudgetTracker()
	tr.Register("b1", 1000)
	if err := tr.Charge("b1", 500); err != nil {
		t.Fatalf("charge: %v", err)
	}
	tr.Register("b1", 9999)
	used, _ := tr.Used("b1")
	if used != 500 {
		t.Fatalf("used after re-register = %d, want 500", used)
	}
	rem, _ := tr.Remaining("b1")
	if rem != 500 {
		t.Fatalf("remaining after re-register = %d, want 500", rem)
	}
}

func TestBudgetSplitShrinksParent(t *testing.T) {
	tr := NewBudgetTracker()
	tr.Register("parent", 1000)
	if err := tr.Charge("parent", 200); err != nil {
		t.Fatalf("charge: %v", err)
	}

	child, err := tr.Split("parent", 0.5)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if child != 400 {
		t.Fatalf("child window = %d, want 400 (half of remaining 800)", child)
	}
	rem, _ := tr.Remaining("parent")
	if rem != 400 {
		t.Fatalf("parent remaining = %d, want 400", rem)
	}

	tr.Register("child", child)
	// The parent cannot spend into the slice it gave away.
	if err := tr.Charge("parent", 401); !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("parent over-charge err = %v, want ErrInsufficientBudget", err)
	}
}

func TestBudgetSplitRejectsBadFraction(t *testing.T) {
	tr := NewBudgetTracker()
	tr.Register("b1", 100)
	for _, f := range []float64{0, 1, -0.5, 1.5} {
		if _, err := tr.Split("b1", f); err == nil {
			t.Fatalf("split with fraction %v should fail", f)
		}
	}
}

func TestBudgetConcurrentChargesNeverExceedWindow(t *testing.T) {
	tr := NewBudgetTracker()
	tr.Register("b1", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Charge("b1", 30)
		}()
	}
	wg.Wait()

	used, _ := tr.Used("b1")
	if used > 1000 {
		t.Fatalf("used = %d exceeds window 1000", used)
	}
	// 33 charges of 30 fit; the rest must have been rejected whole.
	if used != 990 {
		t.Fatalf("used = %d, want 990", used)
	}
}
