package oplog

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"silvermon/internal/model"
)

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	cfg.DBPath = filepath.Join(t.TempDir(), "ops.db")
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func op(id, modelID string, ts time.Time, action string) model.Operation {
	return model.Operation{
		ID:        id,
		Model:     modelID,
		Timestamp: ts,
		Action:    action,
		Price:     7500,
		Rationale: "test",
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := openTestStore(t, Config{})
	now := time.Now()

	if err := s.Append(op("a", "m1", now.Add(-time.Minute), "BUY")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(op("b", "m1", now, "CLOSE")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(op("c", "m2", now, "SELL")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Recent("m1", now)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "b" {
		t.Errorf("newest first: got %q, want b", got[0].ID)
	}

	all, err := s.Recent("", now)
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all len = %d, want 3", len(all))
	}
}

func TestRecentExcludesAged(t *testing.T) {
	s := openTestStore(t, Config{Retention: 90 * time.Minute})
	now := time.Now()

	s.Append(op("old", "m1", now.Add(-2*time.Hour), "BUY"))
	s.Append(op("new", "m1", now.Add(-time.Minute), "BUY"))

	got, err := s.Recent("m1", now)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("got %v, want just new", got)
	}
}

func TestSweepAgeAndCap(t *testing.T) {
	s := openTestStore(t, Config{Retention: 90 * time.Minute, MaxRows: 5})
	now := time.Now()

	s.Append(op("stale", "m1", now.Add(-3*time.Hour), "BUY"))
	for i := 0; i < 8; i++ {
		s.Append(op(fmt.Sprintf("r%d", i), "m1", now.Add(time.Duration(i)*time.Second), "BUY"))
	}

	removed, err := s.Sweep(now.Add(10 * time.Second))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 4 { // 1 aged + 3 over cap
		t.Errorf("removed = %d, want 4", removed)
	}

	got, err := s.Recent("m1", now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("rows after sweep = %d, want 5", len(got))
	}
	if got[0].ID != "r7" {
		t.Errorf("newest survivor = %q, want r7", got[0].ID)
	}
}

func TestAppendReplacesDuplicateID(t *testing.T) {
	s := openTestStore(t, Config{})
	now := time.Now()

	s.Append(op("dup", "m1", now, "BUY"))
	updated := op("dup", "m1", now, "BUY")
	updated.PnL = 150
	if err := s.Append(updated); err != nil {
		t.Fatalf("Append replace: %v", err)
	}

	got, err := s.Recent("m1", now)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].PnL != 150 {
		t.Errorf("pnl = %v, want 150", got[0].PnL)
	}
}
