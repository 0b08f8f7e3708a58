package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"silvermon/internal/feed/poll"
	"silvermon/internal/model"
	"silvermon/internal/position"
	"silvermon/internal/reconcile"
)

func bars(n int, close float64) model.Series {
	s := make(model.Series, n)
	base := int64(1700000000000)
	for i := range s {
		s[i] = model.Bar{
			TS:    base + int64(i)*60_000,
			Open:  close,
			Close: close,
			High:  close + 1,
			Low:   close - 1,
		}
	}
	return s
}

func drain(t *testing.T, ch <-chan model.MarketUpdate) model.MarketUpdate {
	t.Helper()
	var last model.MarketUpdate
	select {
	case last = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	for {
		select {
		case u := <-ch:
			last = u
		default:
			return last
		}
	}
}

func TestPushSnapshotEmitsBandedUpdate(t *testing.T) {
	c := New(Config{Market: model.MarketLondon, BandPeriod: 20, BandMultiplier: 2}, nil, nil)

	c.OnInitialBars(model.MarketLondon, bars(30, 10))
	u := drain(t, c.Updates())

	if u.Market != model.MarketLondon || u.Symbol != "XAGUSD" {
		t.Fatalf("identity: %+v", u)
	}
	if !u.BandsValid {
		t.Fatal("bands should be valid with 30 bars at period 20")
	}
	if u.Middle != 10 || u.Upper != 10 || u.Lower != 10 {
		t.Errorf("flat series bands = %v/%v/%v, want 10/10/10", u.Upper, u.Middle, u.Lower)
	}
	if u.Seeding != "push_seeded" {
		t.Errorf("seeding = %q", u.Seeding)
	}
	if u.BarCount != 30 {
		t.Errorf("bar count = %d", u.BarCount)
	}
}

func TestWarmupUpdateHasNoBands(t *testing.T) {
	c := New(Config{Market: model.MarketLondon}, nil, nil)

	c.OnInitialBars(model.MarketLondon, bars(5, 10))
	u := drain(t, c.Updates())

	if u.BandsValid {
		t.Fatal("bands must be invalid during warm-up")
	}
	if u.Zone != "" {
		t.Errorf("zone = %q, want empty", u.Zone)
	}
	if u.Price != 10 {
		t.Errorf("price = %v, want 10", u.Price)
	}
}

func TestBarUpdateMovesZone(t *testing.T) {
	c := New(Config{Market: model.MarketDomestic}, nil, nil)

	c.OnInitialBars(model.MarketDomestic, bars(25, 100))
	drain(t, c.Updates())

	last := bars(25, 100)[24]
	last.Close = 250
	last.High = 260
	c.OnBarUpdate(model.MarketDomestic, last)

	u := drain(t, c.Updates())
	if u.Zone != "above_upper" {
		t.Errorf("zone = %q, want above_upper", u.Zone)
	}
	if u.Price != 250 {
		t.Errorf("price = %v", u.Price)
	}
}

func TestStateChangeRevertsAuthority(t *testing.T) {
	c := New(Config{Market: model.MarketLondon}, nil, nil)

	c.OnInitialBars(model.MarketLondon, bars(5, 10))
	drain(t, c.Updates())
	if c.Reconciler().Seeding() != reconcile.PushSeeded {
		t.Fatal("want push seeded after initial bars")
	}

	c.OnStateChange(model.MarketLondon, model.ConnReconnecting)
	if c.Reconciler().Seeding() != reconcile.PollingOnly {
		t.Fatal("want polling authority after reconnecting")
	}
	if c.ConnState() != model.ConnReconnecting {
		t.Errorf("conn state = %v", c.ConnState())
	}
}

func TestPollOnceSeedsAndThenSuppressed(t *testing.T) {
	var klineCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kline":
			atomic.AddInt32(&klineCalls, 1)
			fmt.Fprint(w, `[{"ts":1700000000000,"open":10,"close":10,"high":11,"low":9}]`)
		case "/trade-tick":
			fmt.Fprint(w, `{"ret":200,"data":{"tick_list":[{"code":"XAGUSD","price":"10.5"}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := poll.New(poll.Config{BaseURL: srv.URL, Market: model.MarketLondon, RetryBase: time.Millisecond})
	c := New(Config{Market: model.MarketLondon}, p, nil)

	c.PollOnce(context.Background())
	u := drain(t, c.Updates())
	if u.Seeding != "polling_only" || u.BarCount != 1 {
		t.Fatalf("after poll: %+v", u)
	}

	c.OnInitialBars(model.MarketLondon, bars(3, 20))
	drain(t, c.Updates())

	before := atomic.LoadInt32(&klineCalls)
	c.PollOnce(context.Background())
	if got := atomic.LoadInt32(&klineCalls); got != before {
		t.Fatalf("kline polled while push seeded: %d -> %d", before, got)
	}
}

func TestPollResultsObserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kline":
			fmt.Fprint(w, `[{"ts":1700000000000,"open":10,"close":10,"high":11,"low":9}]`)
		case "/trade-tick":
			http.Error(w, "nope", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := poll.New(poll.Config{BaseURL: srv.URL, Market: model.MarketLondon, RetryBase: time.Millisecond})
	c := New(Config{Market: model.MarketLondon}, p, nil)

	type result struct {
		what string
		err  error
	}
	var results []result
	c.OnPollResult = func(what string, err error) {
		results = append(results, result{what, err})
	}

	c.PollOnce(context.Background())
	drain(t, c.Updates())

	if len(results) != 2 {
		t.Fatalf("expected 2 observed requests, got %d", len(results))
	}
	if results[0].what != "klines" || results[0].err != nil {
		t.Errorf("klines result: %+v", results[0])
	}
	if results[1].what != "trade tick" || results[1].err == nil {
		t.Errorf("trade tick result: %+v", results[1])
	}
	if !errors.Is(results[1].err, poll.ErrPermanent) {
		t.Errorf("403 should classify permanent, got %v", results[1].err)
	}
}

func TestTickDrivesPositionSampling(t *testing.T) {
	book := position.New(position.Config{PointValue: 15})
	now := time.Now()
	book.Open("gpt", model.Long, 100, 90, 120, now, "test entry")

	c := New(Config{Market: model.MarketDomestic}, nil, book)
	snaps := make(chan model.PositionSnapshot, 4)
	c.OnSnapshot = func(s model.PositionSnapshot) { snaps <- s }

	c.OnTick(model.MarketDomestic, model.Tick{Market: model.MarketDomestic, Price: 105, TS: now})

	select {
	case s := <-snaps:
		if s.Model != "gpt" {
			t.Errorf("model = %q", s.Model)
		}
		if s.Points != 5 {
			t.Errorf("points = %v, want 5", s.Points)
		}
		if s.Money != 75 {
			t.Errorf("money = %v, want 75", s.Money)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot emitted")
	}
}

func TestDepthStored(t *testing.T) {
	c := New(Config{Market: model.MarketLondon}, nil, nil)
	d := model.Depth{
		Market: model.MarketLondon,
		Bids:   []model.DepthLevel{{Price: 10, Volume: 3}},
	}
	c.OnDepth(model.MarketLondon, d)

	got := c.Depth()
	if len(got.Bids) != 1 || got.Bids[0].Price != 10 {
		t.Fatalf("depth = %+v", got)
	}
}
