package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "tracer",
	Short: "Tracer - deterministic bar-replay backtesting engine",
	Long: `Tracer replays historical bar series through a trend-following
strategy and produces deterministic performance reports. It runs either
as a one-shot CLI backtest or as an HTTP service with async runs.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
