package model

import (
	"encoding/json"
	"time"
)

// Bar represents one OHLCV candlestick (K-line) for a fixed interval.
// TS is the bar's bucket timestamp in milliseconds since epoch, as delivered
// by both providers.
type Bar struct {
	TS       int64   `json:"ts"` // epoch milliseconds
	Open     float64 `json:"open"`
	Close    float64 `json:"close"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Volume   float64 `json:"volume"`
	Turnover float64 `json:"turnover,omitempty"`
}

// Time returns the bar timestamp as a UTC time.Time.
func (b *Bar) Time() time.Time {
	return time.Unix(0, b.TS*int64(time.Millisecond)).UTC()
}

// Valid reports whether the bar satisfies the OHLC ordering invariant
// low <= min(open, close) <= max(open, close) <= high with finite,
// non-negative prices. Providers do not enforce this; we do.
func (b *Bar) Valid() bool {
	if b.TS <= 0 {
		return false
	}
	for _, v := range [...]float64{b.Open, b.Close, b.High, b.Low, b.Volume} {
		if v < 0 || v != v || v > 1e15 {
			return false
		}
	}
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return b.Low <= lo && hi <= b.High
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	buf, _ := json.Marshal(b)
	return buf
}

// Series is an ordered sequence of bars, strictly increasing by timestamp.
// Ownership: exactly one reconciler instance per market mutates a Series;
// everyone else gets copies.
type Series []Bar

// Last returns the most recent bar and true, or a zero bar and false when
// the series is empty.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Closes extracts the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Clone returns a deep copy of the series.
func (s Series) Clone() Series {
	cp := make(Series, len(s))
	copy(cp, s)
	return cp
}
