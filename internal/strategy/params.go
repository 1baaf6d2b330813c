// Package strategy holds the per-run strategy configuration and the pure
// entry/exit decision engine. Nothing here touches I/O or shared state:
// every run constructs its own Params and Engine values.
package strategy

import (
	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/indicator"
)

// IndicatorParams are the indicator periods for one run.
type IndicatorParams struct {
	EMAShort      int `mapstructure:"ema_short" json:"ema_short"`
	EMALong       int `mapstructure:"ema_long" json:"ema_long"`
	RSIPeriod     int `mapstructure:"rsi_period" json:"rsi_period"`
	MACDFast      int `mapstructure:"macd_fast" json:"macd_fast"`
	MACDSlow      int `mapstructure:"macd_slow" json:"macd_slow"`
	MACDSignal    int `mapstructure:"macd_signal" json:"macd_signal"`
	DonchianEntry int `mapstructure:"donchian_entry" json:"donchian_entry"`
	DonchianExit  int `mapstructure:"donchian_exit" json:"donchian_exit"`
}

// RiskParams control position sizing and the exit rules that guard capital.
// Percentages are fractions (0.02 = 2%).
type RiskParams struct {
	StopLossPct         float64 `mapstructure:"stop_loss_pct" json:"stop_loss_pct"`
	MaxHoldingDays      int     `mapstructure:"max_holding_days" json:"max_holding_days"`
	InitialCapital      float64 `mapstructure:"initial_capital" json:"initial_capital"`
	PositionSizePct     float64 `mapstructure:"position_size_pct" json:"position_size_pct"`
	TrailingActivatePct float64 `mapstructure:"trailing_activate_pct" json:"trailing_activate_pct"`
	TrailingOffsetPct   float64 `mapstructure:"trailing_offset_pct" json:"trailing_offset_pct"`
	TimeStopDays        int     `mapstructure:"time_stop_days" json:"time_stop_days"`
}

// RSIParams are the RSI entry bands and exit extremes per direction.
type RSIParams struct {
	LongEntryMin     float64 `mapstructure:"long_entry_min" json:"long_entry_min"`
	LongEntryMax     float64 `mapstructure:"long_entry_max" json:"long_entry_max"`
	ShortEntryMin    float64 `mapstructure:"short_entry_min" json:"short_entry_min"`
	ShortEntryMax    float64 `mapstructure:"short_entry_max" json:"short_entry_max"`
	LongExitExtreme  float64 `mapstructure:"long_exit_extreme" json:"long_exit_extreme"`
	ShortExitExtreme float64 `mapstructure:"short_exit_extreme" json:"short_exit_extreme"`
}

// Params is the immutable configuration for one backtest run.
type Params struct {
	Indicators IndicatorParams `mapstructure:"indicators" json:"indicators"`
	Risk       RiskParams      `mapstructure:"risk" json:"risk"`
	RSI        RSIParams       `mapstructure:"rsi" json:"rsi"`
}

// Default returns the tuned trend-following defaults.
func Default() Params {
	return Params{
		Indicators: IndicatorParams{
			EMAShort:      12,
			EMALong:       26,
			RSIPeriod:     14,
			MACDFast:      12,
			MACDSlow:      26,
			MACDSignal:    9,
			DonchianEntry: 20,
			DonchianExit:  10,
		},
		Risk: RiskParams{
			StopLossPct:         0.02,
			MaxHoldingDays:      3,
			InitialCapital:      10000,
			PositionSizePct:     1.0,
			TrailingActivatePct: 0.05,
			TrailingOffsetPct:   0.02,
			TimeStopDays:        1,
		},
		RSI: RSIParams{
			LongEntryMin:     40,
			LongEntryMax:     70,
			ShortEntryMin:    30,
			ShortEntryMax:    60,
			LongExitExtreme:  80,
			ShortExitExtreme: 20,
		},
	}
}

// IndicatorConfig converts the indicator periods for the indicator engine.
func (p Params) IndicatorConfig() indicator.Config {
	return indicator.Config{
		EMAShort:      p.Indicators.EMAShort,
		EMALong:       p.Indicators.EMALong,
		RSIPeriod:     p.Indicators.RSIPeriod,
		MACDFast:      p.Indicators.MACDFast,
		MACDSlow:      p.Indicators.MACDSlow,
		MACDSignal:    p.Indicators.MACDSignal,
		DonchianEntry: p.Indicators.DonchianEntry,
		DonchianExit:  p.Indicators.DonchianExit,
	}
}

// Validate rejects out-of-range configuration before a run starts.
func (p Params) Validate() error {
	if err := p.IndicatorConfig().Validate(); err != nil {
		return err
	}
	r := p.Risk
	switch {
	case r.StopLossPct <= 0 || r.StopLossPct >= 1:
		return core.WrapErrorf(core.ErrInvalidParams, "stop_loss_pct %v outside (0,1)", r.StopLossPct)
	case r.MaxHoldingDays <= 0:
		return core.WrapErrorf(core.ErrInvalidParams, "max_holding_days %d must be positive", r.MaxHoldingDays)
	case r.InitialCapital < 0.01:
		return core.WrapErrorf(core.ErrInvalidParams, "initial_capital %v below the 0.01 minimum", r.InitialCapital)
	case r.PositionSizePct < 0 || r.PositionSizePct > 1:
		return core.WrapErrorf(core.ErrInvalidParams, "position_size_pct %v outside [0,1]", r.PositionSizePct)
	case r.TrailingActivatePct <= 0 || r.TrailingOffsetPct < 0:
		return core.WrapErrorf(core.ErrInvalidParams, "trailing stop percentages out of range")
	case r.TrailingOffsetPct >= r.TrailingActivatePct:
		return core.WrapErrorf(core.ErrInvalidParams,
			"trailing_offset_pct %v must be below trailing_activate_pct %v", r.TrailingOffsetPct, r.TrailingActivatePct)
	case r.TimeStopDays < 0:
		return core.WrapErrorf(core.ErrInvalidParams, "time_stop_days %d must not be negative", r.TimeStopDays)
	}
	b := p.RSI
	for _, v := range []float64{b.LongEntryMin, b.LongEntryMax, b.ShortEntryMin, b.ShortEntryMax, b.LongExitExtreme, b.ShortExitExtreme} {
		if v < 0 || v > 100 {
			return core.WrapErrorf(core.ErrInvalidParams, "RSI band value %v outside [0,100]", v)
		}
	}
	if b.LongEntryMin > b.LongEntryMax || b.ShortEntryMin > b.ShortEntryMax {
		return core.WrapErrorf(core.ErrInvalidParams, "RSI entry bands inverted")
	}
	return nil
}

// MinBars is the hard minimum input size for a run with these parameters.
func (p Params) MinBars() int {
	return p.Indicators.EMALong + 10
}
