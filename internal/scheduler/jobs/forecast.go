package jobs

import (
	"context"
	"time"

	"github.com/wonny/autocast/internal/engine"
	"github.com/wonny/autocast/internal/scheduler"
	"github.com/wonny/autocast/pkg/logger"
)

// ForecastJob runs one forecast-publish cycle per tick
// Schedule: every FORECAST_INTERVAL (default 5m)
type ForecastJob struct {
	engine   *engine.Engine
	interval time.Duration
	logger   *logger.Logger
}

// NewForecastJob creates a new forecast job
func NewForecastJob(e *engine.Engine, interval time.Duration, log *logger.Logger) *ForecastJob {
	return &ForecastJob{
		engine:   e,
		interval: interval,
		logger:   log,
	}
}

// Name returns the job name
func (j *ForecastJob) Name() string {
	return "forecast_publish"
}

// Schedule returns the cron schedule
func (j *ForecastJob) Schedule() string {
	return scheduler.Every(j.interval)
}

// Run executes the forecast-publish cycle.
// Only a snapshot write failure fails the run; the next tick retries it.
func (j *ForecastJob) Run(ctx context.Context) error {
	report := j.engine.RunForecastCycle(ctx)

	degraded := 0
	failed := 0
	for _, ir := range report.Instruments {
		degraded += len(ir.Degraded)
		if ir.Err != nil {
			failed++
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"cycle_id":    report.CycleID,
		"cycle":       report.Cycle,
		"published":   report.Published(),
		"degraded":    degraded,
		"skipped":     failed,
		"duration_ms": report.Duration.Milliseconds(),
	}).Info("Forecast cycle finished")

	return report.PersistErr
}
