package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/indicator"
)

// adxEntryFloor is the trend-strength filter: entries are rejected
// outright while ADX is below this value.
const adxEntryFloor = 20

// PositionState is the read-only view of an open position the engine
// needs to evaluate exits on the live path.
type PositionState struct {
	Direction  core.Direction
	EntryPrice decimal.Decimal
	EntryTime  time.Time
}

// Engine is the pure decision engine: trend-following entries triggered
// by MACD zero-line or EMA crosses, confirmed by EMA trend direction and
// filtered by ADX and RSI bands.
//
// The exit set here is the live-evaluation surface (stop-loss,
// max-holding, RSI-extreme). Trailing-stop and time-stop need intrabar
// high/low data this engine never sees; they live in the simulator loop.
type Engine struct {
	params   Params
	interval core.Interval
}

// New creates a decision engine for one run.
func New(params Params, interval core.Interval) *Engine {
	return &Engine{params: params, interval: interval}
}

// Evaluate maps an indicator snapshot and optional open position to a
// decision. It is pure: no side effects, no I/O, no retained state.
func (e *Engine) Evaluate(snap indicator.Snapshot, pos *PositionState, now time.Time) core.Decision {
	if pos != nil {
		return e.evaluateExit(snap, pos, now)
	}
	return e.evaluateEntry(snap)
}

func (e *Engine) evaluateEntry(snap indicator.Snapshot) core.Decision {
	rsi, _ := snap.RSI.Float64()
	adx, _ := snap.ADX.Float64()

	if adx < adxEntryFloor {
		return core.Hold
	}

	b := e.params.RSI

	longTrigger := snap.MACDBullishCross || snap.GoldenCross
	longRSI := rsi >= b.LongEntryMin && rsi <= b.LongEntryMax
	if longTrigger && snap.TrendBullish && longRSI {
		return core.EnterLong
	}

	shortTrigger := snap.MACDBearishCross || snap.DeathCross
	shortRSI := rsi >= b.ShortEntryMin && rsi <= b.ShortEntryMax
	if shortTrigger && !snap.TrendBullish && shortRSI {
		return core.EnterShort
	}

	return core.Hold
}

// evaluateExit applies the close-price exit rules in precedence order:
// stop-loss, then max-holding, then RSI-extreme. First match wins.
func (e *Engine) evaluateExit(snap indicator.Snapshot, pos *PositionState, now time.Time) core.Decision {
	isLong := pos.Direction == core.Long
	exit := core.ExitShort
	if isLong {
		exit = core.ExitLong
	}

	// 1. Stop-loss on adverse move from entry.
	move := core.DivReturn(snap.Close.Sub(pos.EntryPrice), pos.EntryPrice)
	if !isLong {
		move = move.Neg()
	}
	if move.LessThanOrEqual(decimal.NewFromFloat(-e.params.Risk.StopLossPct)) {
		return exit
	}

	// 2. Max holding period, from wall-clock duration.
	barsHeld := e.interval.BarsHeld(pos.EntryTime, now)
	if barsHeld >= e.params.Risk.MaxHoldingDays*e.interval.BarsPerDay {
		return exit
	}

	// 3. RSI extreme.
	rsi, _ := snap.RSI.Float64()
	if isLong && rsi > e.params.RSI.LongExitExtreme {
		return exit
	}
	if !isLong && rsi < e.params.RSI.ShortExitExtreme {
		return exit
	}

	return core.Hold
}
