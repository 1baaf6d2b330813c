package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle for a fixed interval. Bars are immutable once
// loaded; the replay engine never writes to them.
type Bar struct {
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// IsValid checks the per-bar invariants: all prices positive and high ≥ low.
func (b Bar) IsValid() bool {
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return false
	}
	return b.High.GreaterThanOrEqual(b.Low)
}

// ValidateSeries checks the series-level invariants the replay engine
// depends on: strictly increasing open times and valid prices on every bar.
func ValidateSeries(bars []Bar) error {
	for i, b := range bars {
		if !b.IsValid() {
			return WrapErrorf(ErrBadSeries, "bar %d has non-positive or inverted prices", i)
		}
		if i > 0 && !bars[i-1].OpenTime.Before(b.OpenTime) {
			return WrapErrorf(ErrBadSeries, "bar %d open time %s not after previous %s",
				i, b.OpenTime, bars[i-1].OpenTime)
		}
	}
	return nil
}

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Decision is the output of the strategy engine for a single bar.
type Decision int

const (
	Hold Decision = iota
	EnterLong
	EnterShort
	ExitLong
	ExitShort
)

// String returns the wire name of the decision.
func (d Decision) String() string {
	switch d {
	case Hold:
		return "HOLD"
	case EnterLong:
		return "LONG_ENTRY"
	case EnterShort:
		return "SHORT_ENTRY"
	case ExitLong:
		return "LONG_EXIT"
	case ExitShort:
		return "SHORT_EXIT"
	}
	return "UNKNOWN"
}

// IsEntry reports whether the decision opens a position.
func (d Decision) IsEntry() bool {
	return d == EnterLong || d == EnterShort
}

// IsExit reports whether the decision closes a position.
func (d Decision) IsExit() bool {
	return d == ExitLong || d == ExitShort
}

// ExitReason classifies why a trade was closed. The set is closed; report
// consumers switch exhaustively over it.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitMaxHolding     ExitReason = "MAX_HOLDING"
	ExitRSIExtreme     ExitReason = "RSI_EXTREME"
	ExitTimeStop       ExitReason = "TIME_STOP"
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitEndOfRun       ExitReason = "END_OF_RUN"
)
