package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/scheduler"
	"github.com/wonny/autocast/pkg/logger"
)

// StateSource 엔진 상태 복사본 제공 (state.Store가 구현)
type StateSource interface {
	Snapshot() contracts.EngineState
}

// JobSource 스케줄러 작업 통계 제공 (scheduler.Scheduler가 구현)
type JobSource interface {
	GetJobStats() map[string]scheduler.JobStats
	GetJobHistory(jobName string) (*scheduler.JobHistory, error)
}

// StatusHandler handles read-only engine status endpoints
// ⭐ SSOT: 상태 조회 API 핸들러는 이 구조체에서만
type StatusHandler struct {
	state  StateSource
	jobs   JobSource
	logger *logger.Logger
}

// NewStatusHandler creates a new status handler. jobs may be nil.
func NewStatusHandler(state StateSource, jobs JobSource, log *logger.Logger) *StatusHandler {
	return &StatusHandler{
		state:  state,
		jobs:   jobs,
		logger: log,
	}
}

// Health returns liveness and uptime
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"service":        "autocast",
		"cycle_count":    snap.CycleCount,
		"uptime_seconds": snap.UptimeSeconds,
	})
}

// GetState returns the full engine state document
// GET /api/state
func (h *StatusHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.state.Snapshot())
}

// GetForecasts returns the latest published forecasts
// GET /api/forecasts?instrument=AAPL.US&limit=10
func (h *StatusHandler) GetForecasts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	instrument := r.URL.Query().Get("instrument")

	var out []contracts.Forecast
	for _, f := range h.state.Snapshot().LatestPredictions {
		if instrument != "" && f.Instrument != instrument {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"forecasts": nonNil(out),
		"count":     len(out),
	})
}

// GetWeights returns ensemble weights and the best model per horizon
// GET /api/weights?instrument=AAPL.US
func (h *StatusHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	snap := h.state.Snapshot()

	var weights []contracts.ModelWeight
	for _, mw := range snap.ModelWeights {
		if instrument == "" || mw.Instrument == instrument {
			weights = append(weights, mw)
		}
	}
	var best []contracts.BestModel
	for _, b := range snap.BestModels {
		if instrument == "" || b.Instrument == instrument {
			best = append(best, b)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"model_weights": nonNil(weights),
		"best_models":   nonNil(best),
	})
}

// GetAlerts returns recent alert events, newest first
// GET /api/alerts?limit=20
func (h *StatusHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	alerts := h.state.Snapshot().Alerts
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": nonNil(alerts),
		"count":  len(alerts),
	})
}

// GetPerformance returns backtest samples and the trend of one instrument
// GET /api/performance/{instrument}
func (h *StatusHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	instrument := pathVar(r, "instrument")
	snap := h.state.Snapshot()

	var samples []contracts.PerformanceSample
	for _, s := range snap.PerformanceHistory {
		if s.Instrument == instrument {
			samples = append(samples, s)
		}
	}
	trend, hasTrend := snap.PerformanceTrends[instrument]
	if len(samples) == 0 && !hasTrend {
		respondError(w, http.StatusNotFound, "no performance data for instrument")
		return
	}

	body := map[string]interface{}{
		"instrument":    instrument,
		"samples":       nonNil(samples),
		"error_history": nonNil(snap.ErrorHistory[instrument]),
	}
	if hasTrend {
		body["trend"] = trend
	}
	respondJSON(w, http.StatusOK, body)
}

// GetJobs returns scheduler statistics
// GET /api/jobs
func (h *StatusHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	stats := h.jobs.GetJobStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	jobs := make([]scheduler.JobStats, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, stats[name])
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":       jobs,
		"checked_at": time.Now().UTC(),
	})
}

// GetJobHistory returns the recent runs of one job, newest last
// GET /api/jobs/{name}
func (h *StatusHandler) GetJobHistory(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	name := pathVar(r, "name")
	history, err := h.jobs.GetJobHistory(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":  name,
		"runs": nonNil(history.Results),
	})
}

// nonNil keeps empty lists as [] instead of null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
