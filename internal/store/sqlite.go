package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlark/tracer/internal/core"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ BarStore = (*SQLiteStore)(nil)

const barsSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol     TEXT    NOT NULL,
	interval   TEXT    NOT NULL,
	open_time  INTEGER NOT NULL,
	close_time INTEGER NOT NULL,
	open       TEXT    NOT NULL,
	high       TEXT    NOT NULL,
	low        TEXT    NOT NULL,
	close      TEXT    NOT NULL,
	volume     TEXT    NOT NULL,
	PRIMARY KEY (symbol, interval, open_time)
);
`

// SQLiteStore keeps bars in a SQLite database. Timestamps are Unix
// milliseconds; prices are decimal strings, never floats.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	if _, err := db.Exec(barsSchema); err != nil {
		db.Close()
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveBars upserts the bars in one transaction.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol string, iv core.Interval, bars []core.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars
			(symbol, interval, open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	defer stmt.Close()

	sym := strings.ToUpper(symbol)
	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, sym, iv.Name,
			b.OpenTime.UnixMilli(), b.CloseTime.UnixMilli(),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
			b.Volume.String())
		if err != nil {
			return core.WrapError(core.ErrStorageFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	return nil
}

// Load returns the stored bars in open-time order.
func (s *SQLiteStore) Load(ctx context.Context, symbol string, iv core.Interval, start, end time.Time) ([]core.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND interval = ? AND open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`,
		strings.ToUpper(symbol), iv.Name, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	defer rows.Close()

	var bars []core.Bar
	for rows.Next() {
		var openMs, closeMs int64
		var o, h, l, c, v string
		if err := rows.Scan(&openMs, &closeMs, &o, &h, &l, &c, &v); err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, err)
		}
		bar, err := barFromStrings(openMs, closeMs, o, h, l, c, v)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	if len(bars) == 0 {
		return nil, core.WrapErrorf(core.ErrNoData, "no %s bars for %s in range", iv.Name, symbol)
	}
	return bars, nil
}

func barFromStrings(openMs, closeMs int64, o, h, l, c, v string) (core.Bar, error) {
	parse := func(s string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, core.WrapError(core.ErrStorageFailed, err)
		}
		return d, nil
	}

	var bar core.Bar
	var err error
	if bar.Open, err = parse(o); err != nil {
		return core.Bar{}, err
	}
	if bar.High, err = parse(h); err != nil {
		return core.Bar{}, err
	}
	if bar.Low, err = parse(l); err != nil {
		return core.Bar{}, err
	}
	if bar.Close, err = parse(c); err != nil {
		return core.Bar{}, err
	}
	if bar.Volume, err = parse(v); err != nil {
		return core.Bar{}, err
	}
	bar.OpenTime = time.UnixMilli(openMs).UTC()
	bar.CloseTime = time.UnixMilli(closeMs).UTC()
	return bar, nil
}
