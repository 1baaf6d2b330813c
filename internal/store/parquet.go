package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/quantlark/tracer/internal/core"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore keeps bars in per-symbol, per-year Parquet files:
//
//	<DataDir>/bars/<SYMBOL>/<interval>/<YYYY>.parquet
//
// Prices are stored as decimal strings so round-trips are exact.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at dataDir.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema.
type barRecord struct {
	OpenTime  int64  `parquet:"open_time,timestamp(millisecond)"`
	CloseTime int64  `parquet:"close_time,timestamp(millisecond)"`
	Open      string `parquet:"open"`
	High      string `parquet:"high"`
	Low       string `parquet:"low"`
	Close     string `parquet:"close"`
	Volume    string `parquet:"volume"`
}

// SaveBars merges the bars into their year files, deduplicating by open
// time with the incoming bar winning.
func (s *ParquetStore) SaveBars(_ context.Context, symbol string, iv core.Interval, bars []core.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]barRecord)
	for _, b := range bars {
		year := b.OpenTime.UTC().Year()
		groups[year] = append(groups[year], barRecord{
			OpenTime:  b.OpenTime.UnixMilli(),
			CloseTime: b.CloseTime.UnixMilli(),
			Open:      b.Open.String(),
			High:      b.High.String(),
			Low:       b.Low.String(),
			Close:     b.Close.String(),
			Volume:    b.Volume.String(),
		})
	}

	for year, records := range groups {
		path := s.barPath(symbol, iv, year)

		existing, _ := readParquetFile(path)
		merged := mergeRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return core.WrapError(core.ErrStorageFailed,
				fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err))
		}
	}
	return nil
}

// Load reads bars for the symbol/interval whose open time falls in
// [start, end], ordered by open time.
func (s *ParquetStore) Load(_ context.Context, symbol string, iv core.Interval, start, end time.Time) ([]core.Bar, error) {
	var bars []core.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		records, err := readParquetFile(s.barPath(symbol, iv, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.OpenTime).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bar, err := recordToBar(r)
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, core.WrapErrorf(core.ErrNoData, "no %s bars for %s in range", iv.Name, symbol)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) })
	return bars, nil
}

// ListSymbols lists the symbols that have any stored bars.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "bars"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barPath: <dataDir>/bars/<SYMBOL>/<interval>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, iv core.Interval, year int) string {
	return filepath.Join(s.DataDir, "bars", strings.ToUpper(symbol), iv.Name,
		fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile(path string, records []barRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile(path string) ([]barRecord, error) {
	return parquet.ReadFile[barRecord](path)
}

// mergeRecords deduplicates by open time, preferring incoming records,
// and returns the result in time order.
func mergeRecords(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.OpenTime] = r
	}
	for _, r := range incoming {
		seen[r.OpenTime] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime < merged[j].OpenTime })
	return merged
}

func recordToBar(r barRecord) (core.Bar, error) {
	parse := func(s string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, core.WrapError(core.ErrStorageFailed, err)
		}
		return d, nil
	}

	var bar core.Bar
	var err error
	if bar.Open, err = parse(r.Open); err != nil {
		return core.Bar{}, err
	}
	if bar.High, err = parse(r.High); err != nil {
		return core.Bar{}, err
	}
	if bar.Low, err = parse(r.Low); err != nil {
		return core.Bar{}, err
	}
	if bar.Close, err = parse(r.Close); err != nil {
		return core.Bar{}, err
	}
	if bar.Volume, err = parse(r.Volume); err != nil {
		return core.Bar{}, err
	}
	bar.OpenTime = time.UnixMilli(r.OpenTime).UTC()
	bar.CloseTime = time.UnixMilli(r.CloseTime).UTC()
	return bar, nil
}
