package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantlark/tracer/internal/backtest"
	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/logger"
	"github.com/quantlark/tracer/internal/strategy"
)

var (
	runSymbol     string
	runInterval   string
	runFrom       string
	runTo         string
	runMode       string
	runParamsFile string
	runJSONOut    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a one-shot backtest",
	Long:  "Replay stored bars for a symbol and print the performance report.",
	RunE:  runBacktest,
}

func init() {
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "symbol to backtest (required)")
	runCmd.Flags().StringVar(&runInterval, "interval", "1h", "bar interval (5m, 15m, 1h, 4h, 1d)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "start date YYYY-MM-DD (required)")
	runCmd.Flags().StringVar(&runTo, "to", "", "end date YYYY-MM-DD (required)")
	runCmd.Flags().StringVar(&runMode, "mode", "standard", "end-of-run mode: standard or unrealized")
	runCmd.Flags().StringVar(&runParamsFile, "params", "", "JSON file with strategy parameters")
	runCmd.Flags().StringVar(&runJSONOut, "out", "", "write the full report JSON to this file")

	runCmd.MarkFlagRequired("symbol")
	runCmd.MarkFlagRequired("from")
	runCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(runCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	from, err := time.Parse("2006-01-02", runFrom)
	if err != nil {
		return fmt.Errorf("invalid from date (expected YYYY-MM-DD): %w", err)
	}
	to, err := time.Parse("2006-01-02", runTo)
	if err != nil {
		return fmt.Errorf("invalid to date (expected YYYY-MM-DD): %w", err)
	}
	if !to.After(from) {
		return fmt.Errorf("end date must be after start date")
	}

	iv, err := core.ParseInterval(runInterval)
	if err != nil {
		return err
	}
	mode, err := backtest.ParseMode(runMode)
	if err != nil {
		return err
	}

	params := strategy.Default()
	if runParamsFile != "" {
		data, err := os.ReadFile(runParamsFile)
		if err != nil {
			return fmt.Errorf("reading params file: %w", err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return fmt.Errorf("parsing params file: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bars, closer, err := buildBarStore(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	log := logger.Must(debug, "")
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Trading.RunTimeout)
	defer cancel()

	series, err := bars.Load(ctx, runSymbol, iv, from, to)
	if err != nil {
		return err
	}

	result, err := backtest.NewSimulator(log).Run(backtest.Request{
		Symbol:   runSymbol,
		Interval: iv,
		Start:    from,
		End:      to,
		Bars:     series,
		Params:   params,
	}, mode)
	if err != nil {
		return err
	}

	printReport(result)

	if runJSONOut != "" {
		data, err := json.MarshalIndent(result.Report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(runJSONOut, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("\nFull report written to %s\n", runJSONOut)
	}
	return nil
}

func printReport(result *backtest.Result) {
	rep := result.Report

	fmt.Println("=== Tracer Backtest ===")
	fmt.Printf("Symbol:    %s (%s)\n", rep.Symbol, rep.Interval)
	fmt.Printf("Period:    %s to %s (%d bars)\n",
		rep.StartDate.Format("2006-01-02"), rep.EndDate.Format("2006-01-02"), rep.TotalBars)
	fmt.Println()
	fmt.Printf("Trades:            %d (%d wins / %d losses, win rate %s)\n",
		rep.TotalTrades, rep.Wins, rep.Losses, rep.WinRate)
	fmt.Printf("Total return:      %s\n", rep.TotalReturn)
	fmt.Printf("Annualized return: %s\n", rep.AnnualizedReturn)
	fmt.Printf("Max drawdown:      %s\n", rep.MaxDrawdown)
	fmt.Printf("Sharpe ratio:      %s\n", rep.SharpeRatio)
	fmt.Printf("Profit factor:     %s\n", rep.ProfitFactor)
	fmt.Printf("Capital:           %s -> %s\n", rep.InitialCapital, rep.FinalCapital)

	if result.UnrealizedPnLPct != nil {
		fmt.Printf("Open position:     %s, unrealized %s\n",
			result.UnrealizedDirection, result.UnrealizedPnLPct)
	}

	verdict := "FAILED"
	if rep.Passed {
		verdict = "PASSED"
	}
	fmt.Printf("\nAcceptance: %s\n", verdict)
}
