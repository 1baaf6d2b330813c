// Package backtest replays a bar series through the strategy engine and
// simulates capital allocation with intrabar stop handling.
//
// A run is single-threaded and owns all of its working state, so any
// number of runs may execute concurrently without locking. For identical
// inputs two runs produce byte-identical reports: every stored value goes
// through the fixed-point rounding helpers in the core package.
package backtest

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/indicator"
	"github.com/quantlark/tracer/internal/strategy"
)

// equityCurveTarget bounds the number of sampled equity points per run.
const equityCurveTarget = 2000

// decider is the decision surface the replay loop consults for entries.
// *strategy.Engine satisfies it; tests script it.
type decider interface {
	Evaluate(snap indicator.Snapshot, pos *strategy.PositionState, now time.Time) core.Decision
}

// Simulator runs backtests. It holds no per-run state and is safe for
// concurrent use.
type Simulator struct {
	logger     *zap.Logger
	thresholds Thresholds
}

// NewSimulator creates a simulator. A nil logger disables logging.
func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{logger: logger, thresholds: DefaultThresholds()}
}

// Run executes a full replay of the request and returns the result. The
// report is either fully populated or the run fails; there are no partial
// reports.
func (s *Simulator) Run(req Request, mode Mode) (*Result, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	return s.run(req, mode, strategy.New(req.Params, req.Interval))
}

func (s *Simulator) run(req Request, mode Mode, d decider) (*Result, error) {
	if len(req.Bars) < req.Params.MinBars() {
		return nil, core.WrapErrorf(core.ErrInsufficientData,
			"have %d bars, need at least %d", len(req.Bars), req.Params.MinBars())
	}
	if err := core.ValidateSeries(req.Bars); err != nil {
		return nil, err
	}

	engine, err := indicator.New(req.Params.IndicatorConfig(), req.Bars)
	if err != nil {
		return nil, err
	}

	risk := req.Params.Risk
	capital := decimal.NewFromFloat(risk.InitialCapital)
	initialCapital := capital

	var pos *openPosition
	var trades []ClosedTrade
	var curve []EquityPoint

	warmup := engine.Warmup()
	lastIndex := len(req.Bars) - 1
	stride := (len(req.Bars) - warmup) / equityCurveTarget
	if stride < 1 {
		stride = 1
	}

	sampleNext := false
	for i := warmup; i <= lastIndex; i++ {
		bar := req.Bars[i]
		boundary := false

		// Step 1+2: trailing-stop update, then intrabar stop check
		// against the bar's adverse extreme. A stop-out fills at the
		// stop price, never at the bar's low/high.
		if pos != nil {
			updateTrailingStop(pos, bar, risk)
			if stopHit(pos, bar) {
				exitPrice := pos.stopPrice
				pnl := pos.pnlAt(exitPrice)
				capital = capital.Add(pos.capitalUsed).Add(pnl)
				reason := core.ExitStopLoss
				if !pnl.IsNegative() {
					reason = core.ExitTrailingStop
				}
				trades = append(trades, closeTrade(len(trades)+1, pos, exitPrice, bar.OpenTime, pnl, reason, i))
				pos = nil
				boundary = true
			}
		}

		// Step 3: indicators, O(1) against the precomputed series.
		snap, err := engine.At(i)
		if err != nil {
			return nil, err
		}

		// Step 4: close-price exits, skipped on a stop-out bar.
		if pos != nil {
			if reason, ok := closePriceExit(snap, pos, i, req.Params, req.Interval); ok {
				exitPrice := snap.Close
				pnl := pos.pnlAt(exitPrice)
				capital = capital.Add(pos.capitalUsed).Add(pnl)
				trades = append(trades, closeTrade(len(trades)+1, pos, exitPrice, bar.OpenTime, pnl, reason, i))
				pos = nil
				boundary = true
			}
		}

		// Step 5: entry.
		if pos == nil && capital.IsPositive() {
			decision := d.Evaluate(snap, nil, bar.OpenTime)
			if decision.IsEntry() {
				if p := openAt(decision, snap.Close, bar.OpenTime, i, capital, risk); p != nil {
					pos = p
					capital = capital.Sub(pos.capitalUsed)
					boundary = true
				}
			}
		}

		// Step 6: equity sampling. Trade-boundary bars, the bar right
		// after a boundary, the first and last bar, and every stride-th
		// bar are always kept.
		equity := capital
		if pos != nil {
			equity = equity.Add(pos.capitalUsed).Add(pos.pnlAt(snap.Close))
		}
		offset := i - warmup
		if offset%stride == 0 || boundary || sampleNext || i == lastIndex {
			curve = append(curve, EquityPoint{Time: bar.OpenTime, Equity: core.RoundCapital(equity)})
		}
		sampleNext = boundary
	}

	result := &Result{}
	lastBar := req.Bars[lastIndex]
	lastClose := core.RoundPrice(lastBar.Close)

	if pos != nil {
		pnl := pos.pnlAt(lastClose)
		switch mode {
		case ModeStandard:
			capital = capital.Add(pos.capitalUsed).Add(pnl)
			trades = append(trades, closeTrade(len(trades)+1, pos, lastClose, lastBar.OpenTime, pnl, core.ExitEndOfRun, lastIndex))
		case ModeUnrealized:
			pct := core.DivReturn(pnl, pos.capitalUsed)
			result.UnrealizedPnLPct = &pct
			result.UnrealizedDirection = pos.direction
			// Final capital excludes the unrealized P&L.
			capital = capital.Add(pos.capitalUsed)
		}
		pos = nil
	}

	result.Report = buildReport(req, len(req.Bars), trades, curve, initialCapital, capital, s.thresholds)

	s.logger.Info("backtest finished",
		zap.String("symbol", req.Symbol),
		zap.String("interval", req.Interval.Name),
		zap.String("mode", mode.String()),
		zap.Int("trades", result.Report.TotalTrades),
		zap.String("annualized_return", result.Report.AnnualizedReturn.String()),
		zap.String("max_drawdown", result.Report.MaxDrawdown.String()),
		zap.Bool("passed", result.Report.Passed),
	)

	return result, nil
}

// updateTrailingStop advances the position's peak favorable move using the
// bar's best intrabar price, and once the peak clears the activation
// threshold, ratchets the stop to lock in (peak - offset). The stop never
// moves against the position and never drops below breakeven once active.
func updateTrailingStop(pos *openPosition, bar core.Bar, risk strategy.RiskParams) {
	best := bar.High
	if pos.direction == core.Short {
		best = bar.Low
	}

	move := core.DivReturn(best.Sub(pos.entryPrice), pos.entryPrice)
	if pos.direction == core.Short {
		move = move.Neg()
	}
	if move.GreaterThan(pos.peakMovePct) {
		pos.peakMovePct = move
	}

	if pos.peakMovePct.LessThan(decimal.NewFromFloat(risk.TrailingActivatePct)) {
		return
	}

	trail := pos.peakMovePct.Sub(decimal.NewFromFloat(risk.TrailingOffsetPct))
	if trail.IsNegative() {
		trail = decimal.Zero
	}

	var candidate decimal.Decimal
	if pos.direction == core.Long {
		candidate = core.RoundPrice(pos.entryPrice.Mul(decimal.NewFromInt(1).Add(trail)))
		if candidate.GreaterThan(pos.stopPrice) {
			pos.stopPrice = candidate
		}
	} else {
		candidate = core.RoundPrice(pos.entryPrice.Mul(decimal.NewFromInt(1).Sub(trail)))
		if candidate.LessThan(pos.stopPrice) {
			pos.stopPrice = candidate
		}
	}
}

// stopHit reports whether the bar's adverse extreme crossed the stop.
func stopHit(pos *openPosition, bar core.Bar) bool {
	if pos.direction == core.Long {
		return bar.Low.LessThanOrEqual(pos.stopPrice)
	}
	return bar.High.GreaterThanOrEqual(pos.stopPrice)
}

// closePriceExit evaluates the simulator-level exits that fill at the
// bar's close, in precedence order: max-holding, RSI-extreme, time-stop.
func closePriceExit(snap indicator.Snapshot, pos *openPosition, index int, params strategy.Params, iv core.Interval) (core.ExitReason, bool) {
	barsHeld := index - pos.entryIndex

	if barsHeld >= params.Risk.MaxHoldingDays*iv.BarsPerDay {
		return core.ExitMaxHolding, true
	}

	rsi, _ := snap.RSI.Float64()
	if pos.direction == core.Long && rsi > params.RSI.LongExitExtreme {
		return core.ExitRSIExtreme, true
	}
	if pos.direction == core.Short && rsi < params.RSI.ShortExitExtreme {
		return core.ExitRSIExtreme, true
	}

	// Time-stop: held too long while still under water.
	timeStopBars := params.Risk.TimeStopDays * iv.BarsPerDay
	if timeStopBars > 0 && barsHeld >= timeStopBars && pos.pnlAt(snap.Close).IsNegative() {
		return core.ExitTimeStop, true
	}

	return "", false
}

// openAt sizes and opens a position at the snapshot close price. The
// position-size fraction is clamped to [0.01, 1.0] so a misconfigured
// zero never produces an unfillable order. When the available capital is
// so small that the committed amount or quantity rounds to zero, no
// position opens: a zero-sized position could never realize a return.
func openAt(decision core.Decision, price decimal.Decimal, at time.Time, index int, capital decimal.Decimal, risk strategy.RiskParams) *openPosition {
	sizePct := risk.PositionSizePct
	if sizePct < 0.01 {
		sizePct = 0.01
	}
	if sizePct > 1.0 {
		sizePct = 1.0
	}

	committed := core.RoundCapital(capital.Mul(decimal.NewFromFloat(sizePct)))
	quantity := core.DivPrice(committed, price)
	if !committed.IsPositive() || !quantity.IsPositive() {
		return nil
	}

	direction := core.Long
	stopFactor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(risk.StopLossPct))
	if decision == core.EnterShort {
		direction = core.Short
		stopFactor = decimal.NewFromInt(1).Add(decimal.NewFromFloat(risk.StopLossPct))
	}

	return &openPosition{
		direction:   direction,
		entryPrice:  price,
		entryTime:   at,
		entryIndex:  index,
		quantity:    quantity,
		capitalUsed: committed,
		stopPrice:   core.RoundPrice(price.Mul(stopFactor)),
		peakMovePct: decimal.Zero,
	}
}

func closeTrade(seq int, pos *openPosition, exitPrice decimal.Decimal, exitTime time.Time, pnl decimal.Decimal, reason core.ExitReason, exitIndex int) ClosedTrade {
	return ClosedTrade{
		Seq:        seq,
		Direction:  pos.direction,
		EntryTime:  pos.entryTime,
		ExitTime:   exitTime,
		EntryPrice: pos.entryPrice,
		ExitPrice:  exitPrice,
		PnL:        core.RoundCapital(pnl),
		ReturnPct:  core.DivReturn(pnl, pos.capitalUsed),
		Reason:     reason,
		BarsHeld:   exitIndex - pos.entryIndex,
	}
}
