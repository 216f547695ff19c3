package jobs

import (
	"context"
	"time"

	"github.com/wonny/autocast/internal/engine"
	"github.com/wonny/autocast/internal/scheduler"
	"github.com/wonny/autocast/pkg/logger"
)

// BacktestJob re-scores the model orders and updates ensemble weights
// Schedule: every BACKTEST_INTERVAL (default 4m)
type BacktestJob struct {
	engine   *engine.Engine
	interval time.Duration
	logger   *logger.Logger
}

// NewBacktestJob creates a new backtest job
func NewBacktestJob(e *engine.Engine, interval time.Duration, log *logger.Logger) *BacktestJob {
	return &BacktestJob{
		engine:   e,
		interval: interval,
		logger:   log,
	}
}

// Name returns the job name
func (j *BacktestJob) Name() string {
	return "backtest"
}

// Schedule returns the cron schedule
func (j *BacktestJob) Schedule() string {
	return scheduler.Every(j.interval)
}

// Run executes the backtest cycle
func (j *BacktestJob) Run(ctx context.Context) error {
	report := j.engine.RunBacktestCycle(ctx)

	samples, updated := 0, 0
	for _, ir := range report.Instruments {
		samples += len(ir.Samples)
		updated += len(ir.Weights)
	}

	j.logger.WithFields(map[string]interface{}{
		"samples":         samples,
		"weights_updated": updated,
		"duration_ms":     report.Duration.Milliseconds(),
	}).Info("Backtest cycle finished")

	return nil
}
