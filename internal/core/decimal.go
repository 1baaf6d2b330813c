package core

import "github.com/shopspring/decimal"

// Fixed-point scales used across the engine. Every rounded value in a
// report goes through one of these helpers so two runs over the same
// input produce byte-identical output.
//
// Rounding mode is half-up everywhere: decimal.Round rounds half away
// from zero, which is half-up for the non-negative magnitudes these
// helpers see.
const (
	// PriceScale applies to prices, stop levels and quantities.
	PriceScale int32 = 8
	// CapitalScale applies to capital and P&L amounts.
	CapitalScale int32 = 2
	// RatioScale applies to ratios such as win rate, drawdown and Sharpe.
	RatioScale int32 = 4
	// ReturnScale applies to per-trade and total return percentages.
	ReturnScale int32 = 6
)

// RoundPrice rounds to price scale, half-up.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// RoundCapital rounds to capital scale, half-up.
func RoundCapital(d decimal.Decimal) decimal.Decimal {
	return d.Round(CapitalScale)
}

// RoundRatio rounds to ratio scale, half-up.
func RoundRatio(d decimal.Decimal) decimal.Decimal {
	return d.Round(RatioScale)
}

// RoundReturn rounds to return scale, half-up.
func RoundReturn(d decimal.Decimal) decimal.Decimal {
	return d.Round(ReturnScale)
}

// DivReturn divides with the return scale and half-up rounding. Division
// never relies on the library default precision.
func DivReturn(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, ReturnScale)
}

// DivRatio divides with the ratio scale and half-up rounding.
func DivRatio(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, RatioScale)
}

// DivPrice divides with the price scale and half-up rounding.
func DivPrice(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, PriceScale)
}
