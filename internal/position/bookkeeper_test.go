package position

import (
	"testing"
	"time"

	"silvermon/internal/model"
)

var t0 = time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)

func newBK() *Bookkeeper {
	return New(Config{PointValue: 15, Horizon: 15 * time.Minute})
}

func TestNoPositionSnapshotZeroed(t *testing.T) {
	bk := newBK()
	snap := bk.OnPriceSample("m1", 7342, t0)
	if snap.HasPosition || snap.Points != 0 || snap.Money != 0 {
		t.Errorf("expected zeroed snapshot, got %+v", snap)
	}
	if snap.CurrentPrice != 7342 {
		t.Errorf("price passthrough: got %v", snap.CurrentPrice)
	}
}

func TestPnLSigns(t *testing.T) {
	bk := newBK()
	bk.Open("long", model.Long, 1000, 0, 0, t0, "")
	bk.Open("short", model.Short, 1000, 0, 0, t0, "")

	if snap := bk.OnPriceSample("long", 1010, t0); snap.Points != 10 || snap.Money != 150 {
		t.Errorf("long above entry: %+v", snap)
	}
	if snap := bk.OnPriceSample("long", 990, t0); snap.Points != -10 {
		t.Errorf("long below entry: %+v", snap)
	}
	if snap := bk.OnPriceSample("short", 990, t0); snap.Points != 10 {
		t.Errorf("short below entry: %+v", snap)
	}
	if snap := bk.OnPriceSample("short", 1010, t0); snap.Points != -10 {
		t.Errorf("short above entry: %+v", snap)
	}
}

func TestStopLossLatchScenario(t *testing.T) {
	// Long entry 1000, stop 990, target 1020; prices 995, 985, 1015.
	bk := newBK()
	bk.Open("m", model.Long, 1000, 990, 1020, t0, "")

	snap := bk.OnPriceSample("m", 995, t0.Add(time.Second))
	if snap.OutcomeReached {
		t.Fatal("995: no threshold crossed yet")
	}

	snap = bk.OnPriceSample("m", 985, t0.Add(2*time.Second))
	if !snap.OutcomeReached || snap.IsWin {
		t.Fatalf("985: expected stop-loss latch with IsWin=false, got %+v", snap)
	}
	if snap.ActualPrice != 985 {
		t.Errorf("latched price: got %v", snap.ActualPrice)
	}
	reachedAt := snap.ReachedAt

	// Later favorable price must not change the locked outcome.
	snap = bk.OnPriceSample("m", 1015, t0.Add(3*time.Second))
	if !snap.OutcomeReached || snap.IsWin {
		t.Errorf("1015: latch changed: %+v", snap)
	}
	if snap.ActualPrice != 985 || !snap.ReachedAt.Equal(reachedAt) {
		t.Errorf("1015: latched fields mutated: %+v", snap)
	}
}

func TestTakeProfitLatchShort(t *testing.T) {
	bk := newBK()
	bk.Open("m", model.Short, 1000, 1010, 980, t0, "")

	snap := bk.OnPriceSample("m", 979, t0.Add(time.Second))
	if !snap.OutcomeReached || !snap.IsWin {
		t.Fatalf("short target crossed: %+v", snap)
	}
}

func TestDrawdownAndFavorableExcursion(t *testing.T) {
	bk := newBK()
	bk.Open("m", model.Long, 1000, 0, 0, t0, "")

	bk.OnPriceSample("m", 1020, t0)
	snap := bk.OnPriceSample("m", 1010, t0)
	if snap.MaxFavorablePoints != 20 {
		t.Errorf("favorable: got %v, want 20", snap.MaxFavorablePoints)
	}
	// (20 - 10) / 20 * 100 = 50%
	if snap.DrawdownPercent != 50 {
		t.Errorf("drawdown: got %v, want 50", snap.DrawdownPercent)
	}

	// Never favorable: drawdown stays 0.
	bk.Open("m2", model.Long, 1000, 0, 0, t0, "")
	snap = bk.OnPriceSample("m2", 990, t0)
	if snap.DrawdownPercent != 0 {
		t.Errorf("no favorable excursion: drawdown %v, want 0", snap.DrawdownPercent)
	}
}

func TestAgeFinalization(t *testing.T) {
	bk := newBK()
	bk.Open("m", model.Long, 1000, 900, 1100, t0, "")

	snap := bk.OnPriceSample("m", 1001, t0.Add(14*time.Minute))
	if snap.Completed {
		t.Fatal("completed before horizon")
	}
	snap = bk.OnPriceSample("m", 1001, t0.Add(15*time.Minute))
	if !snap.Completed {
		t.Fatal("expected completion after horizon")
	}
	if snap.OutcomeReached {
		t.Error("age finalization must not fabricate a win/loss verdict")
	}
}

func TestKeyIsolation(t *testing.T) {
	bk := newBK()
	bk.Open("a", model.Long, 1000, 990, 1020, t0, "")
	bk.Open("b", model.Short, 2000, 2010, 1980, t0, "")

	// Latch a's stop.
	bk.OnPriceSample("a", 985, t0)

	snapB := bk.OnPriceSample("b", 2005, t0)
	if snapB.OutcomeReached {
		t.Errorf("b latched by a's samples: %+v", snapB)
	}
	if snapB.Points != -5 {
		t.Errorf("b points: got %v, want -5", snapB.Points)
	}

	// Closing b must not touch a.
	if _, err := bk.ClosePosition("b", 2005, t0, "done"); err != nil {
		t.Fatalf("close b: %v", err)
	}
	if _, open := bk.Position("a"); !open {
		t.Error("closing b destroyed a's position")
	}
}

func TestOpenCloseOperations(t *testing.T) {
	bk := newBK()
	op := bk.Open("m", model.Short, 1000, 0, 0, t0, "band breakout")
	if op.Action != "SELL" || op.Price != 1000 || op.ID == "" {
		t.Errorf("open operation: %+v", op)
	}

	closeOp, err := bk.ClosePosition("m", 990, t0.Add(time.Minute), "target env")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	// Short from 1000 to 990 = +10 points * 15.
	if closeOp.PnL != 150 {
		t.Errorf("close pnl: got %v, want 150", closeOp.PnL)
	}

	if _, err := bk.ClosePosition("m", 990, t0, ""); err == nil {
		t.Error("double close: expected error")
	}
}
