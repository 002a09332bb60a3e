package research

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemStoreBranchUpdatePreservesCounts(t *testing.T) {
	store := NewMemStore()
	seedBranch(t, store, "s1", "b1")

	if err := store.IncrementBranchCounts("b1", 3, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}

	stale, _ := store.BranchByID("b1")
	stale.PaperCount = 0
	stale.SummaryCount = 0
	stale.Status = BranchCompleted
	if err := store.UpdateBranch(*stale); err != nil {
		t.Fatalf("update branch: %v", err)
	}

	b, _ := store.BranchByID("b1")
	if b.PaperCount != 3 || b.SummaryCount != 1 {
		t.Fatalf("counts rolled back: %d/%d, want 3/1", b.PaperCount, b.SummaryCount)
	}
	if b.Status != BranchCompleted {
		t.Fatalf("status update lost: %v", b.Status)
	}
}

func TestMemStoreConcurrentIncrements(t *testing.T) {
	store := NewMemStore()
	seedBranch(t, store, "s1", "b1")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.IncrementBranchCounts("b1", 1, 0)
		}()
	}
	wg.Wait()

	b, _ := store.BranchByID("b1")
	if b.PaperCount != 100 {
		t.Fatalf("paper count = %d, want 100", b.PaperCount)
	}
}

func TestMemStorePaperByExternalID(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	_ = store.InsertPapers([]Paper{
		{ID: "p1", BranchID: "b1", SessionID: "s1", ExternalID: "x:1", CreatedAt: now},
		{ID: "p2", BranchID: "b2", SessionID: "s2", ExternalID: "x:1", CreatedAt: now},
	})

	// The secondary key is scoped to the session.
	got, err := store.PaperByExternalID("s2", "x:1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "p2" {
		t.Fatalf("lookup crossed sessions: got %s", got.ID)
	}
	if _, err := store.PaperByExternalID("s3", "x:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing paper err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreTopHypotheses(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	for i, conf := range []float64{0.5, 0.1, 0.9} {
		_ = store.InsertHypothesis(Hypothesis{
			ID: string(rune('a' + i)), SessionID: "s1", Text: "h",
			Confidence: conf, CreatedAt: now,
		})
	}

	top, err := store.TopHypotheses("s1", 2, 0.2)
	if err != nil {
		t.Fatalf("top hypotheses: %v", err)
	}
	if len(top) != 2 || top[0].Confidence != 0.9 || top[1].Confidence != 0.5 {
		t.Fatalf("wrong top-n: %+v", top)
	}
}

func TestMemStoreMissingRecords(t *testing.T) {
	store := NewMemStore()
	if _, err := store.SessionByID("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session err = %v, want ErrNotFound", err)
	}
	if _, err := store.BranchByID("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("branch err = %v, want ErrNotFound", err)
	}
	if err := store.IncrementBranchCounts("nope", 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("increment err = %v, want ErrNotFound", err)
	}
	if err := store.UpdateBranch(Branch{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update err = %v, want ErrNotFound", err)
	}
}
