package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantlark/tracer/internal/api"
	"github.com/quantlark/tracer/internal/backtest"
	"github.com/quantlark/tracer/internal/job"
	"github.com/quantlark/tracer/internal/logger"
	"github.com/quantlark/tracer/internal/metrics"
	"github.com/quantlark/tracer/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the backtest HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	log := logger.Must(debug || cfg.Server.Development, "")
	defer log.Sync()

	bars, closer, err := buildBarStore(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	archiver, err := buildArchiver(cfg)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	if !cfg.Metrics.Enabled {
		reg = nil
	}

	interactive := worker.NewPool("interactive",
		cfg.Pools.Interactive.Workers, cfg.Pools.Interactive.QueueSize, log)
	batch := worker.NewPool("batch",
		cfg.Pools.Batch.Workers, cfg.Pools.Batch.QueueSize, log)
	defer interactive.Stop()
	defer batch.Stop()

	runs := job.NewStore(cfg.Server.MaxRuns, time.Duration(cfg.Server.RunTTLHours)*time.Hour)
	runner := job.NewRunner(job.RunnerConfig{
		Runs:        runs,
		Bars:        bars,
		Simulator:   backtest.NewSimulator(log),
		Archiver:    archiver,
		Interactive: interactive,
		Batch:       batch,
		Metrics:     reg,
		Logger:      log,
		Timeout:     cfg.Trading.RunTimeout,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	server := api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		MetricsPath: metricsPath,
	}, runner, reg, log)

	log.Info("starting tracer server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("bar_store", cfg.Storage.Bars.Type),
		zap.String("archive", cfg.Storage.Archive.Type),
	)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	// Periodically drop finished runs past their TTL.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := runs.Sweep(); removed > 0 {
					log.Info("swept finished runs", zap.Int("removed", removed))
				}
			case <-sweepDone:
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down tracer server")
	close(sweepDone)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
