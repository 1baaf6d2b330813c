package core

import (
	"math"
	"time"
)

// Interval carries the per-interval constants the simulator and report
// builder need: how many bars fit in a day and a year, the Sharpe
// annualization factor, and the wall-clock duration of one bar.
//
// The annualizer is precomputed so every run of the same interval uses the
// exact same float, which matters for byte-reproducible reports.
type Interval struct {
	Name             string
	BarsPerDay       int
	BarsPerYear      int
	SharpeAnnualizer float64
	BarDuration      time.Duration
}

func makeInterval(name string, barsPerDay int, barDuration time.Duration) Interval {
	barsPerYear := barsPerDay * 365
	return Interval{
		Name:             name,
		BarsPerDay:       barsPerDay,
		BarsPerYear:      barsPerYear,
		SharpeAnnualizer: math.Sqrt(float64(barsPerYear)),
		BarDuration:      barDuration,
	}
}

var intervals = map[string]Interval{
	"5m":  makeInterval("5m", 288, 5*time.Minute),
	"15m": makeInterval("15m", 96, 15*time.Minute),
	"1h":  makeInterval("1h", 24, time.Hour),
	"4h":  makeInterval("4h", 6, 4*time.Hour),
	"1d":  makeInterval("1d", 1, 24*time.Hour),
}

// ParseInterval resolves an interval identifier (5m/15m/1h/4h/1d).
func ParseInterval(name string) (Interval, error) {
	iv, ok := intervals[name]
	if !ok {
		return Interval{}, WrapErrorf(ErrBadInterval, "unknown interval %q", name)
	}
	return iv, nil
}

// BarsHeld converts a wall-clock holding duration into a bar count.
// Live evaluation may skip bars, so holding time is derived from
// timestamps rather than index arithmetic.
func (iv Interval) BarsHeld(entry, now time.Time) int {
	if !now.After(entry) {
		return 0
	}
	return int(now.Sub(entry) / iv.BarDuration)
}
