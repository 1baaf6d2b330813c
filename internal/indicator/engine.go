// Package indicator computes technical indicators over a bar series.
//
// An Engine precomputes every indicator time-series once at construction,
// so point queries during a replay are O(1). All values at index i are
// derived from bars[0..i] only; the Donchian channels are additionally
// read one bar back, so a snapshot at i never sees bar i's high/low
// through the channel values.
package indicator

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlark/tracer/internal/core"
)

// minWarmup is the floor on the warm-up length regardless of configured
// periods; ADX and MACD need roughly this many bars to stabilize.
const minWarmup = 35

// Config holds the indicator periods for one run.
type Config struct {
	EMAShort      int
	EMALong       int
	RSIPeriod     int
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
	DonchianEntry int
	DonchianExit  int
}

// Validate rejects non-positive or inverted periods before any series math.
func (c Config) Validate() error {
	switch {
	case c.EMAShort <= 0 || c.EMALong <= 0 || c.RSIPeriod <= 0:
		return core.WrapErrorf(core.ErrInvalidParams, "EMA/RSI periods must be positive")
	case c.EMAShort >= c.EMALong:
		return core.WrapErrorf(core.ErrInvalidParams, "EMA short %d must be below EMA long %d", c.EMAShort, c.EMALong)
	case c.MACDFast <= 0 || c.MACDSlow <= 0 || c.MACDSignal <= 0:
		return core.WrapErrorf(core.ErrInvalidParams, "MACD periods must be positive")
	case c.MACDFast >= c.MACDSlow:
		return core.WrapErrorf(core.ErrInvalidParams, "MACD fast %d must be below slow %d", c.MACDFast, c.MACDSlow)
	case c.DonchianEntry <= 0 || c.DonchianExit <= 0:
		return core.WrapErrorf(core.ErrInvalidParams, "Donchian windows must be positive")
	}
	return nil
}

// Warmup returns the first index at which snapshots are well-defined.
func (c Config) Warmup() int {
	if c.EMALong > minWarmup {
		return c.EMALong
	}
	return minWarmup
}

// Snapshot is the immutable indicator state at one bar index. Decimal
// fields carry fixed scales (price scale for prices and channels, ratio
// scale for oscillators) so identical inputs serialize identically.
type Snapshot struct {
	Time  time.Time
	Close decimal.Decimal

	EMAShort      decimal.Decimal
	EMALong       decimal.Decimal
	RSI           decimal.Decimal
	MACD          decimal.Decimal
	MACDSignal    decimal.Decimal
	MACDHistogram decimal.Decimal
	ADX           decimal.Decimal

	// Donchian channels, read at index-1 to avoid look-ahead.
	DonchianHigh     decimal.Decimal
	DonchianLow      decimal.Decimal
	DonchianExitHigh decimal.Decimal
	DonchianExitLow  decimal.Decimal

	GoldenCross      bool
	DeathCross       bool
	TrendBullish     bool
	MACDBullishCross bool
	MACDBearishCross bool
}

// Engine answers point queries against precomputed indicator series.
type Engine struct {
	cfg    Config
	warmup int

	times  []time.Time
	closes []decimal.Decimal

	emaShort   []float64
	emaLong    []float64
	rsi        []float64
	macdLine   []float64
	macdSignal []float64
	adx        []float64

	entryHigh []float64
	entryLow  []float64
	exitHigh  []float64
	exitLow   []float64
}

// New precomputes all indicator series for the given bars.
func New(cfg Config, bars []core.Bar) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	warmup := cfg.Warmup()
	if len(bars) <= warmup {
		return nil, core.WrapErrorf(core.ErrInsufficientData,
			"have %d bars, need more than %d for warm-up", len(bars), warmup)
	}

	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	e := &Engine{
		cfg:    cfg,
		warmup: warmup,
		times:  make([]time.Time, n),
		closes: make([]decimal.Decimal, n),
	}
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		e.times[i] = b.OpenTime
		e.closes[i] = b.Close
	}

	e.emaShort = emaSeries(closes, cfg.EMAShort)
	e.emaLong = emaSeries(closes, cfg.EMALong)
	e.rsi = rsiSeries(closes, cfg.RSIPeriod)
	e.macdLine = subSeries(emaSeries(closes, cfg.MACDFast), emaSeries(closes, cfg.MACDSlow))
	e.macdSignal = emaSeries(e.macdLine, cfg.MACDSignal)
	e.adx = adxSeries(highs, lows, closes, cfg.RSIPeriod)
	e.entryHigh = rollingMax(highs, cfg.DonchianEntry)
	e.entryLow = rollingMin(lows, cfg.DonchianEntry)
	e.exitHigh = rollingMax(highs, cfg.DonchianExit)
	e.exitLow = rollingMin(lows, cfg.DonchianExit)

	return e, nil
}

// Len returns the number of bars the engine was built from.
func (e *Engine) Len() int { return len(e.times) }

// Warmup returns the first index At accepts.
func (e *Engine) Warmup() int { return e.warmup }

// At builds the snapshot for a bar index. Indices below the warm-up
// length are an insufficient-data error.
func (e *Engine) At(index int) (Snapshot, error) {
	if index < e.warmup || index >= len(e.times) {
		return Snapshot{}, core.WrapErrorf(core.ErrInsufficientData,
			"index %d outside warmed-up range [%d, %d)", index, e.warmup, len(e.times))
	}

	macdHist := e.macdLine[index] - e.macdSignal[index]
	macdHistPrev := macdHist
	if index > 0 {
		macdHistPrev = e.macdLine[index-1] - e.macdSignal[index-1]
	}

	// Cross flags compare index-1 against index; index 0 can never cross.
	goldenCross := index > 0 &&
		e.emaShort[index-1] < e.emaLong[index-1] &&
		e.emaShort[index] >= e.emaLong[index]
	deathCross := index > 0 &&
		e.emaShort[index-1] > e.emaLong[index-1] &&
		e.emaShort[index] <= e.emaLong[index]

	// One-bar lag on the channels: the current bar's high/low must not
	// leak into the levels used to judge the current bar.
	prev := index - 1
	if prev < 0 {
		prev = 0
	}

	return Snapshot{
		Time:             e.times[index],
		Close:            core.RoundPrice(e.closes[index]),
		EMAShort:         roundPriceFloat(e.emaShort[index]),
		EMALong:          roundPriceFloat(e.emaLong[index]),
		RSI:              roundRatioFloat(e.rsi[index]),
		MACD:             roundPriceFloat(e.macdLine[index]),
		MACDSignal:       roundPriceFloat(e.macdSignal[index]),
		MACDHistogram:    roundPriceFloat(macdHist),
		ADX:              roundRatioFloat(e.adx[index]),
		DonchianHigh:     roundPriceFloat(e.entryHigh[prev]),
		DonchianLow:      roundPriceFloat(e.entryLow[prev]),
		DonchianExitHigh: roundPriceFloat(e.exitHigh[prev]),
		DonchianExitLow:  roundPriceFloat(e.exitLow[prev]),
		GoldenCross:      goldenCross,
		DeathCross:       deathCross,
		TrendBullish:     e.emaShort[index] >= e.emaLong[index],
		MACDBullishCross: macdHistPrev <= 0 && macdHist > 0,
		MACDBearishCross: macdHistPrev >= 0 && macdHist < 0,
	}, nil
}

func roundPriceFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(core.PriceScale)
}

func roundRatioFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(core.RatioScale)
}

// emaSeries applies the standard EMA recurrence seeded from the first
// value: ema[0] = v[0], ema[i] = ema[i-1] + (v[i]-ema[i-1])*k.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1] + (values[i]-out[i-1])*k
	}
	return out
}

// wilderSeries is the Wilder modified moving average (k = 1/period),
// seeded from the first value.
func wilderSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 1.0 / float64(period)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1] + (values[i]-out[i-1])*k
	}
	return out
}

func subSeries(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// rsiSeries computes Wilder's RSI. A series with zero average loss maps
// to 100 (all gains) or 50 (perfectly flat) rather than dividing by zero.
func rsiSeries(closes []float64, period int) []float64 {
	n := len(closes)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gains[i] = diff
		} else {
			losses[i] = -diff
		}
	}
	avgGain := wilderSeries(gains, period)
	avgLoss := wilderSeries(losses, period)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case avgLoss[i] == 0 && avgGain[i] == 0:
			out[i] = 50
		case avgLoss[i] == 0:
			out[i] = 100
		default:
			rs := avgGain[i] / avgLoss[i]
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// adxSeries computes the Average Directional Index with Wilder smoothing
// of the directional movements and true range.
func adxSeries(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))

		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	smTR := wilderSeries(tr, period)
	smPlus := wilderSeries(plusDM, period)
	smMinus := wilderSeries(minusDM, period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if smTR[i] == 0 {
			continue
		}
		plusDI := 100 * smPlus[i] / smTR[i]
		minusDI := 100 * smMinus[i] / smTR[i]
		if sum := plusDI + minusDI; sum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
		}
	}
	return wilderSeries(dx, period)
}

// rollingMax computes the trailing-window maximum ending at each index.
// Window sizes are small (tens of bars) so the direct scan is fine.
func rollingMax(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		m := values[start]
		for j := start + 1; j <= i; j++ {
			if values[j] > m {
				m = values[j]
			}
		}
		out[i] = m
	}
	return out
}

func rollingMin(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		m := values[start]
		for j := start + 1; j <= i; j++ {
			if values[j] < m {
				m = values[j]
			}
		}
		out[i] = m
	}
	return out
}
