package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/strategy"
)

// Mode selects the end-of-run behavior for an open position.
type Mode int

const (
	// ModeStandard force-closes any open position at the last bar and
	// records it as an ordinary trade.
	ModeStandard Mode = iota
	// ModeUnrealized leaves the position open and reports its unrealized
	// P&L instead; used for periodic performance snapshots.
	ModeUnrealized
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	if m == ModeUnrealized {
		return "unrealized"
	}
	return "standard"
}

// ParseMode parses a wire-format mode name. The empty string selects
// ModeStandard.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "standard":
		return ModeStandard, nil
	case "unrealized":
		return ModeUnrealized, nil
	default:
		return ModeStandard, core.WrapErrorf(core.ErrInvalidParams, "unknown mode %q", s)
	}
}

// Request is the full input to one backtest run. Bars must already satisfy
// the series invariants (strictly increasing open times, positive prices);
// loading, pagination and retries belong to the bar source.
type Request struct {
	Symbol   string
	Interval core.Interval
	Start    time.Time
	End      time.Time
	Bars     []core.Bar
	Params   strategy.Params
}

// ClosedTrade is one completed round trip in the ledger.
type ClosedTrade struct {
	Seq        int             `json:"seq"`
	Direction  core.Direction  `json:"direction"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	PnL        decimal.Decimal `json:"pnl"`
	ReturnPct  decimal.Decimal `json:"return_pct"`
	Reason     core.ExitReason `json:"reason"`
	BarsHeld   int             `json:"bars_held"`
}

// EquityPoint is one sample of total equity (idle + committed capital +
// unrealized P&L) on the equity curve.
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Report is the immutable aggregate output of a run.
type Report struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	TotalBars int       `json:"total_bars"`

	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     decimal.Decimal `json:"win_rate"`

	TotalReturn      decimal.Decimal `json:"total_return"`
	AnnualizedReturn decimal.Decimal `json:"annualized_return"`

	MaxDrawdown          decimal.Decimal `json:"max_drawdown"`
	SharpeRatio          decimal.Decimal `json:"sharpe_ratio"`
	ProfitFactor         decimal.Decimal `json:"profit_factor"`
	AvgWin               decimal.Decimal `json:"avg_win"`
	AvgLoss              decimal.Decimal `json:"avg_loss"`
	WorstTradeReturn     decimal.Decimal `json:"worst_trade_return"`
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"`

	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`

	Trades      []ClosedTrade `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`

	Passed bool `json:"passed"`
}

// Result is a report plus, in unrealized mode, the state of a position
// still open when the replay ended.
type Result struct {
	Report *Report `json:"report"`

	// Set only in ModeUnrealized when a position was open at the end.
	UnrealizedPnLPct    *decimal.Decimal `json:"unrealized_pnl_pct,omitempty"`
	UnrealizedDirection core.Direction   `json:"unrealized_direction,omitempty"`
}

// openPosition is the only mutable entity in a run; at most one exists at
// a time and it never escapes the replay loop.
type openPosition struct {
	direction   core.Direction
	entryPrice  decimal.Decimal
	entryTime   time.Time
	entryIndex  int
	quantity    decimal.Decimal
	capitalUsed decimal.Decimal

	// stopPrice only ever moves in the trade's favor.
	stopPrice decimal.Decimal
	// peakMovePct is the favorable-move high-water mark driving the
	// trailing stop.
	peakMovePct decimal.Decimal
}

// pnlAt returns the realized P&L of closing at the given price.
func (p *openPosition) pnlAt(price decimal.Decimal) decimal.Decimal {
	if p.direction == core.Long {
		return price.Sub(p.entryPrice).Mul(p.quantity)
	}
	return p.entryPrice.Sub(price).Mul(p.quantity)
}
