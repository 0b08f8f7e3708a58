// Package markethours classifies whether a market is inside its trading
// window at a given instant.
//
// Two classifiers exist because the two call sites need different fidelity:
//
//   - IsOpen (simple): drives the status surface. The London reference feed
//     is treated as always open; the domestic futures market is evaluated
//     against its fixed local-time sessions.
//   - PreciseOTCOpen: drives poll/wake gating for the UTC-referenced OTC
//     session, accounting for the standard-time vs daylight-saving shift of
//     the venue's open, close and daily maintenance gap.
//
// All functions are pure over the supplied time.Time so callers can inject
// a fake "now" in tests.
package markethours

import (
	"fmt"
	"time"

	"silvermon/internal/model"
)

// CST is China Standard Time (UTC+8, no DST), the domestic futures venue zone.
var CST = time.FixedZone("CST", 8*3600)

// Domestic futures sessions, local time.
const (
	DayOpenHour    = 9
	DayCloseHour   = 15
	NightOpenHour  = 21
	NightCloseHour = 2 // 02:30 next day
	NightCloseMin  = 30
)

// IsOpen reports whether the market is inside a trading window at t.
// The London spot reference feed is a 24-hour feed, treated as always open
// by this simplified classifier.
func IsOpen(m model.Market, t time.Time) bool {
	if m == model.MarketLondon {
		return true
	}
	return domesticOpen(t)
}

// domesticOpen evaluates the domestic futures sessions: 09:00-15:00 and
// 21:00-02:30 next day. Saturday and Sunday are closed regardless of hour,
// so Friday night's session is cut at midnight rather than running its
// 02:30 tail into Saturday, and Monday before 02:30 is closed (no Sunday
// session to spill over).
func domesticOpen(t time.Time) bool {
	lt := t.In(CST)
	wd := lt.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hm := lt.Hour()*60 + lt.Minute()

	// Tail of the previous day's night session.
	if hm < NightCloseHour*60+NightCloseMin {
		return wd >= time.Tuesday && wd <= time.Friday
	}

	if hm >= DayOpenHour*60 && hm < DayCloseHour*60 {
		return true
	}
	return hm >= NightOpenHour*60
}

// PreciseOTCOpen evaluates the UTC-referenced OTC silver session used for
// poll gating. The venue follows US daylight saving: in summer the week
// opens Sunday 22:00 UTC, closes Friday 21:00 UTC, with a daily maintenance
// gap 21:00-22:00 UTC; in winter all boundaries shift one hour later.
// Saturday is fully closed.
func PreciseOTCOpen(t time.Time) bool {
	u := t.UTC()
	wd := u.Weekday()
	hm := u.Hour()*60 + u.Minute()

	gapStart := 22 * 60 // winter
	if isUSDST(u) {
		gapStart = 21 * 60
	}
	gapEnd := gapStart + 60

	switch wd {
	case time.Saturday:
		return false
	case time.Sunday:
		return hm >= gapEnd
	case time.Friday:
		return hm < gapStart
	default:
		return hm < gapStart || hm >= gapEnd
	}
}

// isUSDST reports whether the date falls inside US daylight saving time:
// the second Sunday of March through the first Sunday of November.
// Date granularity is sufficient here; the feed itself publishes the exact
// switchover minutes.
func isUSDST(u time.Time) bool {
	y := u.Year()
	start := nthSunday(y, time.March, 2)
	end := nthSunday(y, time.November, 1)
	d := time.Date(y, u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(start) && d.Before(end)
}

// nthSunday returns midnight UTC of the nth Sunday of the given month.
func nthSunday(year int, month time.Month, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (7 - int(d.Weekday())) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// NextDomesticOpen returns the start of the next domestic session at or
// after t. Used for scheduling the poll resume timer.
func NextDomesticOpen(t time.Time) time.Time {
	lt := t.In(CST)
	for i := 0; i < 8; i++ {
		day := lt.AddDate(0, 0, i)
		wd := day.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			continue
		}
		dayOpen := time.Date(day.Year(), day.Month(), day.Day(), DayOpenHour, 0, 0, 0, CST)
		if lt.Before(dayOpen) {
			return dayOpen
		}
		nightOpen := time.Date(day.Year(), day.Month(), day.Day(), NightOpenHour, 0, 0, 0, CST)
		if lt.Before(nightOpen) {
			return nightOpen
		}
	}
	// Unreachable with an 8-day scan; fall back to next day 09:00.
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, DayOpenHour, 0, 0, 0, CST)
}

// StatusString returns a human-readable market status for logs and the
// published status surface.
func StatusString(m model.Market, t time.Time) string {
	if IsOpen(m, t) {
		return fmt.Sprintf("%s open", m)
	}
	if m == model.MarketDomestic {
		next := NextDomesticOpen(t)
		return fmt.Sprintf("%s closed, next session %s", m, next.Format("Mon 15:04 MST"))
	}
	return fmt.Sprintf("%s closed", m)
}
