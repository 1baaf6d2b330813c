package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/quantlark/tracer/internal/core"
)

var (
	importSymbol   string
	importInterval string
	importFile     string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import bars from a CSV file",
	Long: `Import OHLCV bars into the configured bar store.

The CSV must have a header row and the columns
open_time,open,high,low,close,volume where open_time is Unix
milliseconds. Existing bars with the same open time are replaced.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importSymbol, "symbol", "", "symbol the bars belong to (required)")
	importCmd.Flags().StringVar(&importInterval, "interval", "1h", "bar interval (5m, 15m, 1h, 4h, 1d)")
	importCmd.Flags().StringVar(&importFile, "file", "", "CSV file to import (required)")

	importCmd.MarkFlagRequired("symbol")
	importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	iv, err := core.ParseInterval(importInterval)
	if err != nil {
		return err
	}

	f, err := os.Open(importFile)
	if err != nil {
		return fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	bars, err := readBarsCSV(f, iv)
	if err != nil {
		return err
	}
	if err := core.ValidateSeries(bars); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closer, err := buildBarStore(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := store.SaveBars(ctx, importSymbol, iv, bars); err != nil {
		return err
	}

	fmt.Printf("Imported %d %s bars for %s (%s to %s)\n",
		len(bars), iv.Name, importSymbol,
		bars[0].OpenTime.UTC().Format(time.RFC3339),
		bars[len(bars)-1].OpenTime.UTC().Format(time.RFC3339))
	return nil
}

// readBarsCSV parses header-prefixed OHLCV rows. Close times are derived
// from the interval so callers do not have to supply them.
func readBarsCSV(r io.Reader, iv core.Interval) ([]core.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	var bars []core.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}

		ms, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad open_time %q: %w", line, rec[0], err)
		}
		openTime := time.UnixMilli(ms).UTC()

		prices := make([]decimal.Decimal, 5)
		for i, s := range rec[1:6] {
			prices[i], err = decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad value %q: %w", line, s, err)
			}
		}

		bars = append(bars, core.Bar{
			OpenTime:  openTime,
			CloseTime: openTime.Add(iv.BarDuration),
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
			Volume:    prices[4],
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("csv contains no bars")
	}
	return bars, nil
}
