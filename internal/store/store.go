// Package store persists and loads bar series. Two backends are
// provided: a SQLite database for ad-hoc querying and a Parquet file
// tree for bulk archival. Both keep prices as exact decimal strings so
// a reload never perturbs a backtest.
package store

import (
	"context"
	"time"

	"github.com/quantlark/tracer/internal/core"
)

// BarSource loads bar series for a replay. Implementations must return
// bars ordered by strictly increasing open time.
type BarSource interface {
	// Load returns the bars for symbol/interval whose open time falls in
	// [start, end]. An empty result is core.ErrNoData.
	Load(ctx context.Context, symbol string, iv core.Interval, start, end time.Time) ([]core.Bar, error)
}

// BarSink persists bar series. Writing a bar with an open time that is
// already stored replaces the stored bar.
type BarSink interface {
	SaveBars(ctx context.Context, symbol string, iv core.Interval, bars []core.Bar) error
}

// BarStore is a combined read/write bar backend.
type BarStore interface {
	BarSource
	BarSink
}
