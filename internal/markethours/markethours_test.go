package markethours

import (
	"testing"
	"time"

	"silvermon/internal/model"
)

// cstTime builds a time in the domestic venue zone.
func cstTime(y int, m time.Month, d, hour, min int) time.Time {
	return time.Date(y, m, d, hour, min, 0, 0, CST)
}

func TestLondonAlwaysOpen(t *testing.T) {
	times := []time.Time{
		cstTime(2026, time.March, 7, 12, 0),  // Saturday
		cstTime(2026, time.March, 9, 3, 0),   // Monday pre-dawn
		cstTime(2026, time.March, 11, 23, 59),
	}
	for _, tt := range times {
		if !IsOpen(model.MarketLondon, tt) {
			t.Errorf("london at %v: expected open", tt)
		}
	}
}

func TestDomesticSessions(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday day session", cstTime(2026, time.March, 9, 10, 30), true},
		{"monday after day close", cstTime(2026, time.March, 9, 15, 0), false},
		{"monday evening gap", cstTime(2026, time.March, 9, 16, 45), false},
		{"monday night session", cstTime(2026, time.March, 9, 21, 0), true},
		{"monday night late", cstTime(2026, time.March, 9, 23, 59), true},
		{"tuesday night tail", cstTime(2026, time.March, 10, 2, 29), true},
		{"tuesday after tail", cstTime(2026, time.March, 10, 2, 30), false},
		{"tuesday pre-open", cstTime(2026, time.March, 10, 8, 59), false},
		{"friday night before midnight", cstTime(2026, time.March, 6, 23, 30), true},
		{"saturday daytime", cstTime(2026, time.March, 7, 12, 0), false},
		{"sunday", cstTime(2026, time.March, 8, 22, 0), false},
		{"monday no sunday tail", cstTime(2026, time.March, 9, 1, 0), false},
	}
	for _, c := range cases {
		if got := IsOpen(model.MarketDomestic, c.at); got != c.want {
			t.Errorf("%s (%v): got %v, want %v", c.name, c.at, got, c.want)
		}
	}
}

func TestDomesticSaturdayAlwaysClosed(t *testing.T) {
	// Every Saturday hour must be closed, including 00:00-02:30 where
	// Friday's night session would otherwise spill over.
	for h := 0; h < 24; h++ {
		at := cstTime(2026, time.March, 7, h, 0)
		if IsOpen(model.MarketDomestic, at) {
			t.Errorf("saturday %02d:00: expected closed", h)
		}
	}
}

func TestPreciseOTC_Summer(t *testing.T) {
	// July 2026 is inside US DST: gap 21:00-22:00 UTC.
	utc := func(d, h, m int) time.Time {
		return time.Date(2026, time.July, d, h, m, 0, 0, time.UTC)
	}
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"wednesday mid-session", utc(8, 12, 0), true},
		{"wednesday gap start", utc(8, 21, 0), false},
		{"wednesday in gap", utc(8, 21, 30), false},
		{"wednesday gap end", utc(8, 22, 0), true},
		{"friday before close", utc(10, 20, 59), true},
		{"friday at close", utc(10, 21, 0), false},
		{"saturday", utc(11, 12, 0), false},
		{"sunday before open", utc(12, 21, 59), false},
		{"sunday at open", utc(12, 22, 0), true},
	}
	for _, c := range cases {
		if got := PreciseOTCOpen(c.at); got != c.want {
			t.Errorf("%s (%v): got %v, want %v", c.name, c.at, got, c.want)
		}
	}
}

func TestPreciseOTC_Winter(t *testing.T) {
	// January 2026 is standard time: boundaries shift one hour later.
	utc := func(d, h, m int) time.Time {
		return time.Date(2026, time.January, d, h, m, 0, 0, time.UTC)
	}
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"wednesday pre-gap", utc(7, 21, 30), true},
		{"wednesday in gap", utc(7, 22, 30), false},
		{"wednesday gap end", utc(7, 23, 0), true},
		{"friday at close", utc(9, 22, 0), false},
		{"sunday at open", utc(11, 23, 0), true},
		{"sunday before open", utc(11, 22, 30), false},
	}
	for _, c := range cases {
		if got := PreciseOTCOpen(c.at); got != c.want {
			t.Errorf("%s (%v): got %v, want %v", c.name, c.at, got, c.want)
		}
	}
}

func TestNextDomesticOpen(t *testing.T) {
	// Saturday noon → Monday 09:00.
	at := cstTime(2026, time.March, 7, 12, 0)
	next := NextDomesticOpen(at)
	want := cstTime(2026, time.March, 9, 9, 0)
	if !next.Equal(want) {
		t.Errorf("from saturday noon: got %v, want %v", next, want)
	}

	// Monday 15:30 → Monday 21:00 night session.
	at = cstTime(2026, time.March, 9, 15, 30)
	next = NextDomesticOpen(at)
	want = cstTime(2026, time.March, 9, 21, 0)
	if !next.Equal(want) {
		t.Errorf("from monday 15:30: got %v, want %v", next, want)
	}
}
