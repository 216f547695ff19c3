package contracts

import "time"

// EngineCounters 누적 통계 (종료 시 최종 통계로 출력)
type EngineCounters struct {
	ForecastCycles int64 `json:"forecast_cycles"`
	BacktestCycles int64 `json:"backtest_cycles"`
	Predictions    int64 `json:"predictions"`
	Backtests      int64 `json:"backtests"`
	Alerts         int64 `json:"alerts"`
	Citations      int64 `json:"citations"`
}

// EngineState 영속화 루트 문서
// ⭐ SSOT: state.Store만 생성, 다른 컴포넌트는 복사본만 받음
// 모든 리스트는 최신순 (newest first)
type EngineState struct {
	Timestamp          time.Time                   `json:"timestamp"`
	StartedAt          time.Time                   `json:"started_at"`
	CycleCount         int64                       `json:"cycle_count"`
	LatestPredictions  []Forecast                  `json:"latest_predictions"`
	ModelWeights       []ModelWeight               `json:"model_weights"`
	WeightStates       []SeriesState               `json:"weight_states"`
	PerformanceHistory []PerformanceSample         `json:"performance_history"`
	Alerts             []AlertEvent                `json:"alerts"`
	Citations          []Citation                  `json:"citations"`
	PerformanceTrends  map[string]PerformanceTrend `json:"performance_trends"`
	ErrorHistory       map[string][]float64        `json:"error_history"` // 종목별 집계 오차 (오래된 순)
	BestModels         []BestModel                 `json:"best_models"`
	Counters           EngineCounters              `json:"counters"`
	UptimeSeconds      float64                     `json:"uptime_seconds"`
}
