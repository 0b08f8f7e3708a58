package bus

import (
	"context"
	"testing"
	"time"

	"silvermon/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.MarketUpdate, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	update := model.MarketUpdate{
		Market: model.MarketDomestic,
		Symbol: "AGFM",
		Price:  7512,
		TS:     1700000000000,
	}

	input <- update

	select {
	case u := <-out1:
		if u.Symbol != "AGFM" {
			t.Errorf("out1: expected symbol AGFM, got %s", u.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for update")
	}

	select {
	case u := <-out2:
		if u.Price != 7512 {
			t.Errorf("out2: expected price 7512, got %v", u.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for update")
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New(1)
	_ = fo.Subscribe() // never drained

	dropped := make(chan int, 10)
	fo.OnDrop = func(idx int) { dropped <- idx }

	input := make(chan model.MarketUpdate, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.MarketUpdate{Market: model.MarketLondon}
	input <- model.MarketUpdate{Market: model.MarketLondon}

	select {
	case idx := <-dropped:
		if idx != 0 {
			t.Errorf("dropped idx = %d, want 0", idx)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop callback")
	}
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New(4)
	fo.Subscribe()
	fo.Subscribe()

	stats := fo.ChannelStats()
	if len(stats) != 2 {
		t.Fatalf("stats len = %d, want 2", len(stats))
	}
	for i, s := range stats {
		if s.Cap != 4 {
			t.Errorf("stats[%d].Cap = %d, want 4", i, s.Cap)
		}
		if s.Len != 0 {
			t.Errorf("stats[%d].Len = %d, want 0", i, s.Len)
		}
	}
}
