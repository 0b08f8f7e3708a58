// Package band computes Bollinger-style volatility envelopes over a bar
// series and classifies where a price sits relative to the envelope.
//
// The bands are recomputed from scratch on every series change rather than
// maintained incrementally. A rolling sum/sum-of-squares variant would be
// O(n) but accumulates floating-point drift differently from the reference
// formula; at the capped series lengths involved (~100-150 bars) the
// recompute is sub-millisecond, so the simpler form wins.
package band

import (
	"errors"
	"math"

	"silvermon/internal/model"
)

// ErrBadParams is returned for a non-positive period or negative multiplier.
var ErrBadParams = errors.New("band: period must be > 0 and multiplier >= 0")

// BandSet holds the computed envelope, parallel to the input series.
// Valid[i] is false for the warm-up region (the first period-1 indices),
// where Upper/Middle/Lower are meaningless.
type BandSet struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
	Valid  []bool
}

// Point is the envelope at a single index.
type Point struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Last returns the most recent valid point, or false when none exists yet.
func (b *BandSet) Last() (Point, bool) {
	for i := len(b.Valid) - 1; i >= 0; i-- {
		if b.Valid[i] {
			return Point{Upper: b.Upper[i], Middle: b.Middle[i], Lower: b.Lower[i]}, true
		}
	}
	return Point{}, false
}

// Compute calculates Bollinger Bands over the close prices of series.
//
// For each index i >= period-1: middle is the arithmetic mean of the trailing
// period closes, the deviation envelope is multiplier standard deviations
// using population variance (divisor = period, not period-1). Indices before
// the warm-up boundary are marked invalid.
func Compute(series model.Series, period int, multiplier float64) (BandSet, error) {
	if period <= 0 || multiplier < 0 {
		return BandSet{}, ErrBadParams
	}

	n := len(series)
	out := BandSet{
		Upper:  make([]float64, n),
		Middle: make([]float64, n),
		Lower:  make([]float64, n),
		Valid:  make([]bool, n),
	}

	for i := period - 1; i < n; i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += series[j].Close
		}
		mean := sum / float64(period)

		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := series[j].Close - mean
			variance += d * d
		}
		variance /= float64(period)
		sd := math.Sqrt(variance)

		out.Middle[i] = mean
		out.Upper[i] = mean + multiplier*sd
		out.Lower[i] = mean - multiplier*sd
		out.Valid[i] = true
	}

	return out, nil
}

// Zone classifies a price against a band point.
type Zone string

const (
	ZoneAboveUpper  Zone = "above_upper"
	ZoneUpperMiddle Zone = "upper_middle"
	ZoneMiddleLower Zone = "middle_lower"
	ZoneBelowLower  Zone = "below_lower"
)

// Classify reports which band zone the price falls in.
func Classify(price float64, p Point) Zone {
	switch {
	case price > p.Upper:
		return ZoneAboveUpper
	case price >= p.Middle:
		return ZoneUpperMiddle
	case price >= p.Lower:
		return ZoneMiddleLower
	default:
		return ZoneBelowLower
	}
}
