package job

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/quantlark/tracer/internal/archive"
	"github.com/quantlark/tracer/internal/backtest"
	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/metrics"
	"github.com/quantlark/tracer/internal/store"
	"github.com/quantlark/tracer/internal/strategy"
	"github.com/quantlark/tracer/internal/worker"
)

// SubmitRequest describes one backtest submission.
type SubmitRequest struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Mode     string          `json:"mode"`
	Params   strategy.Params `json:"params"`
	// Batch routes the run to the batch pool, which has more queue
	// headroom but competes with other bulk work.
	Batch bool `json:"batch"`
}

// Runner executes submitted runs on worker pools: an interactive pool
// for API-driven runs and a batch pool for bulk work.
type Runner struct {
	runs        *Store
	bars        store.BarSource
	sim         *backtest.Simulator
	archiver    *archive.Archiver
	interactive *worker.Pool
	batch       *worker.Pool
	metrics     *metrics.Registry
	logger      *zap.Logger
	timeout     time.Duration
}

// RunnerConfig wires a Runner. Archiver and Metrics may be nil.
type RunnerConfig struct {
	Runs        *Store
	Bars        store.BarSource
	Simulator   *backtest.Simulator
	Archiver    *archive.Archiver
	Interactive *worker.Pool
	Batch       *worker.Pool
	Metrics     *metrics.Registry
	Logger      *zap.Logger
	// Timeout bounds bar loading per run; zero means 2 minutes.
	Timeout time.Duration
}

// NewRunner creates a Runner from the config.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{
		runs:        cfg.Runs,
		bars:        cfg.Bars,
		sim:         cfg.Simulator,
		archiver:    cfg.Archiver,
		interactive: cfg.Interactive,
		batch:       cfg.Batch,
		metrics:     cfg.Metrics,
		logger:      logger,
		timeout:     timeout,
	}
}

// Submit validates the request, registers a pending run and schedules
// it. Validation failures are rejected before a run is created.
func (r *Runner) Submit(req SubmitRequest) (Run, error) {
	iv, err := core.ParseInterval(req.Interval)
	if err != nil {
		return Run{}, core.WrapError(core.ErrRunRejected, err)
	}
	mode, err := backtest.ParseMode(req.Mode)
	if err != nil {
		return Run{}, core.WrapError(core.ErrRunRejected, err)
	}
	if err := req.Params.Validate(); err != nil {
		return Run{}, core.WrapError(core.ErrRunRejected, err)
	}
	if !req.End.After(req.Start) {
		return Run{}, core.WrapErrorf(core.ErrRunRejected, "end %s not after start %s", req.End, req.Start)
	}

	run := r.runs.Create(req.Symbol, iv.Name, mode.String())

	pool := r.interactive
	if req.Batch {
		pool = r.batch
	}
	pool.Submit(func() {
		r.execute(run.ID, req, iv, mode)
	})
	r.observePools()

	return run, nil
}

// Get returns the run by ID.
func (r *Runner) Get(id string) (Run, error) {
	return r.runs.Get(id)
}

// List returns all retained runs, newest first.
func (r *Runner) List() []Run {
	return r.runs.List()
}

func (r *Runner) execute(id string, req SubmitRequest, iv core.Interval, mode backtest.Mode) {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.RunStarted()
		defer r.metrics.RunFinished()
	}
	r.runs.Update(id, func(run *Run) { run.Status = StatusRunning })

	result, barCount, err := r.runOnce(req, iv, mode)
	if err != nil {
		r.fail(id, req, mode, err, time.Since(start))
		return
	}

	archiveKey := ""
	if r.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		archiveKey, err = r.archiver.SaveReport(ctx, id, result.Report)
		cancel()
		if err != nil {
			// The run itself succeeded; keep the result and log the
			// archive failure.
			r.logger.Warn("report archive failed", zap.String("run_id", id), zap.Error(err))
			archiveKey = ""
		}
	}

	r.runs.Update(id, func(run *Run) {
		run.Status = StatusCompleted
		run.Result = result
		run.ArchiveKey = archiveKey
	})
	if r.metrics != nil {
		r.metrics.RecordBacktest(mode.String(), string(StatusCompleted), time.Since(start).Seconds(), barCount)
		r.metrics.SetStoredRuns(r.runs.Len())
	}
	r.observePools()

	r.logger.Info("run completed",
		zap.String("run_id", id),
		zap.String("symbol", req.Symbol),
		zap.String("interval", iv.Name),
		zap.Int("bars", barCount),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (r *Runner) runOnce(req SubmitRequest, iv core.Interval, mode backtest.Mode) (*backtest.Result, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	bars, err := r.bars.Load(ctx, req.Symbol, iv, req.Start, req.End)
	if err != nil {
		return nil, 0, err
	}

	result, err := r.sim.Run(backtest.Request{
		Symbol:   req.Symbol,
		Interval: iv,
		Start:    req.Start,
		End:      req.End,
		Bars:     bars,
		Params:   req.Params,
	}, mode)
	if err != nil {
		return nil, len(bars), err
	}
	return result, len(bars), nil
}

func (r *Runner) fail(id string, req SubmitRequest, mode backtest.Mode, err error, elapsed time.Duration) {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		coreErr = core.WrapError(core.ErrStorageFailed, err)
	}
	r.runs.Update(id, func(run *Run) {
		run.Status = StatusFailed
		run.Error = coreErr
	})
	if r.metrics != nil {
		r.metrics.RecordBacktest(mode.String(), string(StatusFailed), elapsed.Seconds(), 0)
	}
	r.logger.Warn("run failed",
		zap.String("run_id", id),
		zap.String("symbol", req.Symbol),
		zap.Error(err),
	)
}

func (r *Runner) observePools() {
	if r.metrics == nil {
		return
	}
	for _, p := range []*worker.Pool{r.interactive, r.batch} {
		if p != nil {
			r.metrics.SetPoolQueueDepth(p.Name(), p.QueueDepth())
		}
	}
}
