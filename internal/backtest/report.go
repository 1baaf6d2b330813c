package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantlark/tracer/internal/core"
)

// riskFreeRate is the annual risk-free rate used for the Sharpe ratio.
const riskFreeRate = 0.04

// profitFactorCap is the sentinel profit factor reported when the run has
// gross wins but zero gross losses.
var profitFactorCap = decimal.NewFromInt(999)

// Thresholds is the acceptance policy a report is graded against. It is
// an input, not something derived from the run.
type Thresholds struct {
	MinAnnualizedReturn decimal.Decimal
	WorstTradeFloor     decimal.Decimal
	MaxDrawdownLimit    decimal.Decimal
}

// DefaultThresholds grades a run as passed when annualized return is at
// least 30%, no single trade lost more than 10%, and drawdown stayed
// within 30%.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAnnualizedReturn: decimal.NewFromFloat(0.30),
		WorstTradeFloor:     decimal.NewFromFloat(-0.10),
		MaxDrawdownLimit:    decimal.NewFromFloat(0.30),
	}
}

func buildReport(req Request, totalBars int, trades []ClosedTrade, curve []EquityPoint,
	initialCapital, finalCapital decimal.Decimal, thr Thresholds) *Report {

	var wins, losses int
	grossWins := decimal.Zero
	grossLosses := decimal.Zero
	worstReturn := decimal.Zero
	for _, t := range trades {
		switch {
		case t.PnL.IsPositive():
			wins++
			grossWins = grossWins.Add(t.PnL)
		case t.PnL.IsNegative():
			losses++
			grossLosses = grossLosses.Add(t.PnL.Abs())
		}
		if t.ReturnPct.LessThan(worstReturn) {
			worstReturn = t.ReturnPct
		}
	}

	winRate := decimal.Zero
	if len(trades) > 0 {
		winRate = core.DivRatio(decimal.NewFromInt(int64(wins)), decimal.NewFromInt(int64(len(trades))))
	}

	totalReturn := core.DivReturn(finalCapital.Sub(initialCapital), initialCapital)

	// Annualized return compounds over calendar days, independent of the
	// bar interval.
	annualized := decimal.Zero
	days := req.End.Sub(req.Start).Hours() / 24
	if days > 0 && finalCapital.IsPositive() {
		ratio, _ := finalCapital.Div(initialCapital).Float64()
		annualized = core.RoundRatio(decimal.NewFromFloat(math.Pow(ratio, 365/days) - 1))
	}

	profitFactor := profitFactorCap
	if grossLosses.IsPositive() {
		profitFactor = core.DivRatio(grossWins, grossLosses)
	} else if grossWins.IsZero() {
		profitFactor = decimal.Zero
	}

	avgWin := decimal.Zero
	if wins > 0 {
		avgWin = grossWins.DivRound(decimal.NewFromInt(int64(wins)), core.CapitalScale)
	}
	avgLoss := decimal.Zero
	if losses > 0 {
		avgLoss = grossLosses.DivRound(decimal.NewFromInt(int64(losses)), core.CapitalScale)
	}

	maxDD := maxDrawdown(curve)

	passed := annualized.GreaterThanOrEqual(thr.MinAnnualizedReturn) &&
		worstReturn.GreaterThanOrEqual(thr.WorstTradeFloor) &&
		maxDD.Abs().LessThanOrEqual(thr.MaxDrawdownLimit)

	return &Report{
		Symbol:               req.Symbol,
		Interval:             req.Interval.Name,
		StartDate:            req.Start,
		EndDate:              req.End,
		TotalBars:            totalBars,
		TotalTrades:          len(trades),
		Wins:                 wins,
		Losses:               losses,
		WinRate:              winRate,
		TotalReturn:          totalReturn,
		AnnualizedReturn:     annualized,
		MaxDrawdown:          maxDD,
		SharpeRatio:          sharpeRatio(curve, req.Interval),
		ProfitFactor:         profitFactor,
		AvgWin:               avgWin,
		AvgLoss:              avgLoss,
		WorstTradeReturn:     worstReturn,
		MaxConsecutiveLosses: maxConsecutiveLosses(trades),
		InitialCapital:       initialCapital,
		FinalCapital:         core.RoundCapital(finalCapital),
		Trades:               trades,
		EquityCurve:          curve,
		Passed:               passed,
	}
}

// maxDrawdown is the deepest peak-to-trough decline on the equity curve,
// expressed as a non-positive fraction.
func maxDrawdown(curve []EquityPoint) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}
	peak := curve[0].Equity
	maxDD := decimal.Zero
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		dd := core.DivReturn(p.Equity.Sub(peak), peak)
		if dd.LessThan(maxDD) {
			maxDD = dd
		}
	}
	return core.RoundRatio(maxDD)
}

// sharpeRatio computes the annualized Sharpe ratio from per-sample equity
// returns. A zero-variance series is degenerate, not an error, and maps
// to zero.
func sharpeRatio(curve []EquityPoint, iv core.Interval) decimal.Decimal {
	if len(curve) < 2 {
		return decimal.Zero
	}
	rets := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		curr, _ := curve[i].Equity.Float64()
		if prev > 0 {
			rets = append(rets, (curr-prev)/prev)
		}
	}
	if len(rets) == 0 {
		return decimal.Zero
	}

	var sum float64
	for _, r := range rets {
		sum += r
	}
	mean := sum / float64(len(rets))

	var variance float64
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(rets)))
	if std == 0 {
		return decimal.Zero
	}

	perBarRiskFree := riskFreeRate / float64(iv.BarsPerYear)
	return core.RoundRatio(decimal.NewFromFloat((mean - perBarRiskFree) / std * iv.SharpeAnnualizer))
}

func maxConsecutiveLosses(trades []ClosedTrade) int {
	maxRun, run := 0, 0
	for _, t := range trades {
		if t.PnL.IsNegative() {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	return maxRun
}
