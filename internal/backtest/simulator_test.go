package backtest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/indicator"
	"github.com/quantlark/tracer/internal/strategy"
)

func fiveMin(t *testing.T) core.Interval {
	t.Helper()
	iv, err := core.ParseInterval("5m")
	if err != nil {
		t.Fatal(err)
	}
	return iv
}

// flatBars builds n bars where open/high/low/close all equal price.
func flatBars(n int, price float64) []core.Bar {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, n)
	for i := range bars {
		p := decimal.NewFromFloat(price)
		bars[i] = core.Bar{
			OpenTime:  base.Add(time.Duration(i) * 5 * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * 5 * time.Minute),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func setBar(bars []core.Bar, i int, o, h, l, c float64) {
	bars[i].Open = decimal.NewFromFloat(o)
	bars[i].High = decimal.NewFromFloat(h)
	bars[i].Low = decimal.NewFromFloat(l)
	bars[i].Close = decimal.NewFromFloat(c)
}

// quietParams disables every exit except the ones a test exercises.
func quietParams() strategy.Params {
	p := strategy.Default()
	p.Risk.MaxHoldingDays = 10000
	p.Risk.TimeStopDays = 0
	p.Risk.TrailingActivatePct = 9
	p.RSI.LongExitExtreme = 100
	p.RSI.ShortExitExtreme = 0
	return p
}

func request(bars []core.Bar, params strategy.Params, iv core.Interval) Request {
	return Request{
		Symbol:   "BTCUSDT",
		Interval: iv,
		Start:    bars[0].OpenTime,
		End:      bars[len(bars)-1].CloseTime,
		Bars:     bars,
		Params:   params,
	}
}

// enterOnce scripts a single long/short entry on its first evaluation.
type enterOnce struct {
	decision core.Decision
	fired    bool
}

func (s *enterOnce) Evaluate(_ indicator.Snapshot, pos *strategy.PositionState, _ time.Time) core.Decision {
	if pos == nil && !s.fired {
		s.fired = true
		return s.decision
	}
	return core.Hold
}

func TestRun_InsufficientBars(t *testing.T) {
	sim := NewSimulator(nil)
	req := request(flatBars(20, 100), strategy.Default(), fiveMin(t))
	_, err := sim.Run(req, ModeStandard)
	if !errors.Is(err, core.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestRun_InvalidParams(t *testing.T) {
	sim := NewSimulator(nil)
	params := strategy.Default()
	params.Risk.InitialCapital = -1
	req := request(flatBars(80, 100), params, fiveMin(t))
	if _, err := sim.Run(req, ModeStandard); !errors.Is(err, core.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestRun_BadSeries(t *testing.T) {
	sim := NewSimulator(nil)
	bars := flatBars(80, 100)
	bars[40].OpenTime = bars[39].OpenTime // duplicate timestamp
	req := request(bars, strategy.Default(), fiveMin(t))
	if _, err := sim.Run(req, ModeStandard); !errors.Is(err, core.ErrBadSeries) {
		t.Fatalf("expected ErrBadSeries, got %v", err)
	}
}

// A flat series passes warm-up but never satisfies the entry filters:
// zero trades and an equity curve pinned at initial capital.
func TestRun_FlatSeries_NoTrades(t *testing.T) {
	sim := NewSimulator(nil)
	req := request(flatBars(80, 100), strategy.Default(), fiveMin(t))

	res, err := sim.Run(req, ModeStandard)
	if err != nil {
		t.Fatal(err)
	}
	rep := res.Report
	if rep.TotalTrades != 0 {
		t.Errorf("trades = %d, want 0", rep.TotalTrades)
	}
	if !rep.FinalCapital.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("final capital = %s, want 10000", rep.FinalCapital)
	}
	if len(rep.EquityCurve) == 0 {
		t.Fatal("equity curve empty")
	}
	for _, p := range rep.EquityCurve {
		if !p.Equity.Equal(decimal.NewFromInt(10000)) {
			t.Errorf("equity at %s = %s, want 10000", p.Time, p.Equity)
		}
	}
	if !rep.MaxDrawdown.IsZero() {
		t.Errorf("max drawdown = %s, want 0", rep.MaxDrawdown)
	}
}

// A long entered at 100 with a 2% stop has its stop at exactly
// 98.00000000; a bar trading down to 97.50 fills at 98, not 97.50.
func TestRun_IntrabarStopLoss(t *testing.T) {
	bars := flatBars(45, 100)
	setBar(bars, 37, 100, 100, 97.5, 99)

	sim := NewSimulator(nil)
	req := request(bars, quietParams(), fiveMin(t))
	res, err := sim.run(req, ModeStandard, &enterOnce{decision: core.EnterLong})
	if err != nil {
		t.Fatal(err)
	}

	rep := res.Report
	if rep.TotalTrades != 1 {
		t.Fatalf("trades = %d, want 1", rep.TotalTrades)
	}
	tr := rep.Trades[0]
	if tr.Reason != core.ExitStopLoss {
		t.Errorf("reason = %s, want STOP_LOSS", tr.Reason)
	}
	if got := tr.ExitPrice.StringFixed(8); got != "98.00000000" {
		t.Errorf("exit price = %s, want 98.00000000", got)
	}
	if !tr.PnL.Equal(decimal.NewFromInt(-200)) {
		t.Errorf("pnl = %s, want -200", tr.PnL)
	}
	if !tr.ReturnPct.Equal(decimal.NewFromFloat(-0.02)) {
		t.Errorf("return = %s, want -0.02", tr.ReturnPct)
	}
	if !rep.FinalCapital.Equal(decimal.NewFromInt(9800)) {
		t.Errorf("final capital = %s, want 9800", rep.FinalCapital)
	}
}

// With activation at 5% and offset 2%, a peak move of 10% ratchets the
// stop to 108; the later drop through 108 fills at 108 as TRAILING_STOP.
func TestRun_TrailingStop(t *testing.T) {
	params := quietParams()
	params.Risk.TrailingActivatePct = 0.05
	params.Risk.TrailingOffsetPct = 0.02

	bars := flatBars(45, 100)
	setBar(bars, 37, 109, 110, 108.5, 109.5) // peak 10%, stop moves to 108
	setBar(bars, 38, 109, 109, 107, 107.5)   // crosses 108

	sim := NewSimulator(nil)
	req := request(bars, params, fiveMin(t))
	res, err := sim.run(req, ModeStandard, &enterOnce{decision: core.EnterLong})
	if err != nil {
		t.Fatal(err)
	}

	rep := res.Report
	if rep.TotalTrades != 1 {
		t.Fatalf("trades = %d, want 1", rep.TotalTrades)
	}
	tr := rep.Trades[0]
	if tr.Reason != core.ExitTrailingStop {
		t.Errorf("reason = %s, want TRAILING_STOP", tr.Reason)
	}
	if got := tr.ExitPrice.StringFixed(8); got != "108.00000000" {
		t.Errorf("exit price = %s, want 108.00000000", got)
	}
	if !tr.PnL.Equal(decimal.NewFromInt(800)) {
		t.Errorf("pnl = %s, want 800", tr.PnL)
	}
	if !rep.FinalCapital.Equal(decimal.NewFromInt(10800)) {
		t.Errorf("final capital = %s, want 10800", rep.FinalCapital)
	}
}

// The stop on a short ratchets downward and never retreats.
func TestRun_TrailingStop_Short(t *testing.T) {
	params := quietParams()
	params.Risk.TrailingActivatePct = 0.05
	params.Risk.TrailingOffsetPct = 0.02

	bars := flatBars(45, 100)
	setBar(bars, 37, 91, 91.5, 90, 91)   // peak 10% favorable, stop to 92
	setBar(bars, 38, 91, 93, 91, 92.5)   // crosses 92 from below

	sim := NewSimulator(nil)
	req := request(bars, params, fiveMin(t))
	res, err := sim.run(req, ModeStandard, &enterOnce{decision: core.EnterShort})
	if err != nil {
		t.Fatal(err)
	}

	tr := res.Report.Trades[0]
	if tr.Direction != core.Short {
		t.Fatalf("direction = %s, want SHORT", tr.Direction)
	}
	if got := tr.ExitPrice.StringFixed(8); got != "92.00000000" {
		t.Errorf("exit price = %s, want 92.00000000", got)
	}
	if tr.Reason != core.ExitTrailingStop {
		t.Errorf("reason = %s, want TRAILING_STOP", tr.Reason)
	}
}

// Standard mode force-closes at the last close; unrealized mode keeps the
// position open and reports the floating P&L instead.
func TestRun_EndOfRunModes(t *testing.T) {
	bars := flatBars(45, 100)
	for i := 36; i < 45; i++ {
		p := 100 + float64(i-35)
		setBar(bars, i, p, p, p, p)
	}

	iv := fiveMin(t)

	t.Run("standard", func(t *testing.T) {
		sim := NewSimulator(nil)
		res, err := sim.run(request(bars, quietParams(), iv), ModeStandard, &enterOnce{decision: core.EnterLong})
		if err != nil {
			t.Fatal(err)
		}
		rep := res.Report
		if rep.TotalTrades != 1 {
			t.Fatalf("trades = %d, want 1", rep.TotalTrades)
		}
		if rep.Trades[0].Reason != core.ExitEndOfRun {
			t.Errorf("reason = %s, want END_OF_RUN", rep.Trades[0].Reason)
		}
		if res.UnrealizedPnLPct != nil {
			t.Error("standard mode must not report unrealized P&L")
		}
		// Entry 100, last close 109, qty 100.
		if !rep.FinalCapital.Equal(decimal.NewFromInt(10900)) {
			t.Errorf("final capital = %s, want 10900", rep.FinalCapital)
		}
	})

	t.Run("unrealized", func(t *testing.T) {
		sim := NewSimulator(nil)
		res, err := sim.run(request(bars, quietParams(), iv), ModeUnrealized, &enterOnce{decision: core.EnterLong})
		if err != nil {
			t.Fatal(err)
		}
		rep := res.Report
		if rep.TotalTrades != 0 {
			t.Fatalf("trades = %d, want 0", rep.TotalTrades)
		}
		if res.UnrealizedPnLPct == nil {
			t.Fatal("unrealized mode must report floating P&L")
		}
		if !res.UnrealizedPnLPct.Equal(decimal.NewFromFloat(0.09)) {
			t.Errorf("unrealized pnl pct = %s, want 0.09", res.UnrealizedPnLPct)
		}
		if res.UnrealizedDirection != core.Long {
			t.Errorf("direction = %s, want LONG", res.UnrealizedDirection)
		}
		// Final capital excludes the floating P&L.
		if !rep.FinalCapital.Equal(decimal.NewFromInt(10000)) {
			t.Errorf("final capital = %s, want 10000", rep.FinalCapital)
		}
	})
}

// Equity at every sampled point equals idle + committed + unrealized P&L.
func TestRun_EquityConservation(t *testing.T) {
	bars := flatBars(45, 100)
	setBar(bars, 37, 100, 100, 97.5, 99)

	sim := NewSimulator(nil)
	res, err := sim.run(request(bars, quietParams(), fiveMin(t)), ModeStandard, &enterOnce{decision: core.EnterLong})
	if err != nil {
		t.Fatal(err)
	}

	// While flat-open at 100: 0 idle + 10000 committed + 0 unrealized.
	// After the stop-out: 9800 idle for the rest of the run.
	stopTime := bars[37].OpenTime
	for _, p := range res.Report.EquityCurve {
		want := decimal.NewFromInt(10000)
		if !p.Time.Before(stopTime) {
			want = decimal.NewFromInt(9800)
		}
		if !p.Equity.Equal(want) {
			t.Errorf("equity at %s = %s, want %s", p.Time, p.Equity, want)
		}
	}
}

// Two runs over identical inputs must serialize to identical bytes.
func TestRun_Determinism(t *testing.T) {
	closes := make([]float64, 120)
	price := 100.0
	for i := range closes {
		if i%5 < 3 {
			price += 1.1
		} else {
			price -= 1.4
		}
		closes[i] = price
	}
	bars := flatBars(len(closes), 0)
	for i, c := range closes {
		setBar(bars, i, c, c+0.5, c-0.5, c)
	}

	req := request(bars, strategy.Default(), fiveMin(t))

	run := func() []byte {
		sim := NewSimulator(nil)
		res, err := sim.Run(req, ModeStandard)
		if err != nil {
			t.Fatal(err)
		}
		b, err := json.Marshal(res.Report)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	first := run()
	second := run()
	if string(first) != string(second) {
		t.Error("identical inputs produced different report bytes")
	}
}

func TestRun_MaxHoldingExit(t *testing.T) {
	params := quietParams()
	params.Risk.MaxHoldingDays = 1 // 288 five-minute bars

	bars := flatBars(340, 100)
	sim := NewSimulator(nil)
	res, err := sim.run(request(bars, params, fiveMin(t)), ModeStandard, &enterOnce{decision: core.EnterLong})
	if err != nil {
		t.Fatal(err)
	}

	rep := res.Report
	if rep.TotalTrades != 1 {
		t.Fatalf("trades = %d, want 1", rep.TotalTrades)
	}
	tr := rep.Trades[0]
	if tr.Reason != core.ExitMaxHolding {
		t.Errorf("reason = %s, want MAX_HOLDING", tr.Reason)
	}
	if tr.BarsHeld != 288 {
		t.Errorf("bars held = %d, want 288", tr.BarsHeld)
	}
}

func TestRun_TimeStopExit(t *testing.T) {
	params := quietParams()
	params.Risk.TimeStopDays = 1 // 288 five-minute bars

	// Slightly under water the whole time, never hitting the 2% stop.
	bars := flatBars(340, 100)
	for i := 36; i < 340; i++ {
		setBar(bars, i, 99.5, 99.5, 99.5, 99.5)
	}

	sim := NewSimulator(nil)
	res, err := sim.run(request(bars, params, fiveMin(t)), ModeStandard, &enterOnce{decision: core.EnterLong})
	if err != nil {
		t.Fatal(err)
	}

	tr := res.Report.Trades[0]
	if tr.Reason != core.ExitTimeStop {
		t.Errorf("reason = %s, want TIME_STOP", tr.Reason)
	}
	if tr.BarsHeld != 288 {
		t.Errorf("bars held = %d, want 288", tr.BarsHeld)
	}
}

// Capital below one cent cannot fund a position at capital scale and is
// rejected before the loop.
func TestRun_TinyCapitalRejected(t *testing.T) {
	sim := NewSimulator(nil)
	params := strategy.Default()
	params.Risk.InitialCapital = 0.001
	req := request(flatBars(80, 100), params, fiveMin(t))
	if _, err := sim.Run(req, ModeStandard); !errors.Is(err, core.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

// When remaining capital is too small for the committed amount to round
// above zero, the entry is skipped rather than opening a zero-size
// position.
func TestRun_SkipsEntryWhenCommittedRoundsToZero(t *testing.T) {
	params := quietParams()
	params.Risk.InitialCapital = 0.004

	sim := NewSimulator(nil)
	res, err := sim.run(request(flatBars(80, 100), params, fiveMin(t)), ModeStandard,
		&enterOnce{decision: core.EnterLong})
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.TotalTrades != 0 {
		t.Fatalf("trades = %d, want 0", res.Report.TotalTrades)
	}
}

// crossBars builds a two-decimal series that oscillates downward for 60
// bars and then upward for 40. The short EMA dips under the long EMA
// during the decline and crosses back over on the recovery, with RSI in
// the entry band and ADX above the trend filter on the cross bar.
func crossBars() []core.Bar {
	bars := flatBars(101, 100)
	cents := int64(10000)
	for i := 1; i <= 100; i++ {
		if i <= 60 {
			if (i-1)%2 == 0 {
				cents -= 50
			} else {
				cents += 20
			}
		} else {
			if (i-61)%2 == 0 {
				cents += 50
			} else {
				cents -= 10
			}
		}
		p := float64(cents) / 100
		setBar(bars, i, p, p, p, p)
	}
	return bars
}

// The full pipeline with the real decision engine: the recovery leg
// produces exactly one golden-cross long entry, held to the end of the
// series.
func TestRun_RealEngine_GoldenCrossEntry(t *testing.T) {
	bars := crossBars()
	iv := fiveMin(t)
	sim := NewSimulator(nil)

	t.Run("standard closes at end of run", func(t *testing.T) {
		res, err := sim.Run(request(bars, quietParams(), iv), ModeStandard)
		if err != nil {
			t.Fatal(err)
		}
		rep := res.Report
		if rep.TotalTrades != 1 {
			t.Fatalf("trades = %d, want 1", rep.TotalTrades)
		}
		tr := rep.Trades[0]
		if tr.Direction != core.Long {
			t.Errorf("direction = %s, want LONG", tr.Direction)
		}
		if tr.Reason != core.ExitEndOfRun {
			t.Errorf("reason = %s, want END_OF_RUN", tr.Reason)
		}
		if !tr.EntryTime.Equal(bars[72].OpenTime) {
			t.Errorf("entry time = %s, want bar 72 at %s", tr.EntryTime, bars[72].OpenTime)
		}
		if !tr.PnL.IsPositive() {
			t.Errorf("pnl = %s, want positive", tr.PnL)
		}
		if !rep.FinalCapital.GreaterThan(rep.InitialCapital) {
			t.Errorf("final capital = %s, want above %s", rep.FinalCapital, rep.InitialCapital)
		}
	})

	t.Run("unrealized keeps the position open", func(t *testing.T) {
		res, err := sim.Run(request(bars, quietParams(), iv), ModeUnrealized)
		if err != nil {
			t.Fatal(err)
		}
		if res.Report.TotalTrades != 0 {
			t.Fatalf("trades = %d, want 0", res.Report.TotalTrades)
		}
		if res.UnrealizedPnLPct == nil || !res.UnrealizedPnLPct.IsPositive() {
			t.Fatalf("unrealized pnl = %v, want positive", res.UnrealizedPnLPct)
		}
		if res.UnrealizedDirection != core.Long {
			t.Errorf("direction = %s, want LONG", res.UnrealizedDirection)
		}
		if !res.Report.FinalCapital.Equal(decimal.NewFromInt(10000)) {
			t.Errorf("final capital = %s, want 10000 excluding unrealized pnl", res.Report.FinalCapital)
		}
	})
}

// enterAt scripts a single entry on the bar whose snapshot time matches.
type enterAt struct {
	at       time.Time
	decision core.Decision
	fired    bool
}

func (s *enterAt) Evaluate(snap indicator.Snapshot, pos *strategy.PositionState, _ time.Time) core.Decision {
	if pos == nil && !s.fired && snap.Time.Equal(s.at) {
		s.fired = true
		return s.decision
	}
	return core.Hold
}

func curveHas(curve []EquityPoint, at time.Time) bool {
	for _, p := range curve {
		if p.Time.Equal(at) {
			return true
		}
	}
	return false
}

// With a series long enough for stride 2, odd offsets are skipped unless
// forced: the curve must still include the bar right after a trade
// boundary.
func TestRun_EquityCurve_SamplesBarAfterBoundary(t *testing.T) {
	bars := flatBars(4100, 100) // stride = (4100-35)/2000 = 2

	sim := NewSimulator(nil)
	res, err := sim.run(request(bars, quietParams(), fiveMin(t)), ModeStandard,
		&enterAt{at: bars[37].OpenTime, decision: core.EnterLong})
	if err != nil {
		t.Fatal(err)
	}

	curve := res.Report.EquityCurve
	if !curveHas(curve, bars[37].OpenTime) {
		t.Error("entry boundary bar missing from the curve")
	}
	if !curveHas(curve, bars[38].OpenTime) {
		t.Error("bar after the entry boundary missing from the curve")
	}
	if curveHas(curve, bars[36].OpenTime) || curveHas(curve, bars[40].OpenTime) {
		t.Error("off-stride bars without a boundary should not be sampled")
	}
}
