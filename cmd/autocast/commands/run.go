package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/autocast/internal/api"
	"github.com/wonny/autocast/internal/api/handlers"
	"github.com/wonny/autocast/internal/scheduler"
	"github.com/wonny/autocast/internal/scheduler/jobs"
	"github.com/wonny/autocast/pkg/config"
)

var (
	runInstruments      string
	runDuration         time.Duration
	runForecastInterval time.Duration
	runBacktestInterval time.Duration
	runThreshold        float64
	runNoAPI            bool
)

// runCmd starts the engine loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "예측 엔진 실행 (예측 발행 + 백테스트 주기 작업)",
	Long: `예측 엔진을 시작합니다.

시작 시:
- STATE_PATH 스냅샷으로 상태 복원 (없으면 cold start)
- 예측 발행 1회 + 백테스트 1회 즉시 실행
- 이후 FORECAST_INTERVAL / BACKTEST_INTERVAL 주기로 반복

종료 (Ctrl+C, SIGTERM, --duration 경과) 시:
- 실행 중인 사이클 완료 대기
- 최종 스냅샷 기록 및 누적 통계 출력

Example:
  go run ./cmd/autocast run --instruments AAPL.US,MSFT.US --duration 1h
  go run ./cmd/autocast run --forecast-interval 1m --threshold 0.5`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runInstruments, "instruments", "", "comma separated instruments (overrides INSTRUMENTS)")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 = until signal)")
	runCmd.Flags().DurationVar(&runForecastInterval, "forecast-interval", 0, "forecast-publish interval (overrides FORECAST_INTERVAL)")
	runCmd.Flags().DurationVar(&runBacktestInterval, "backtest-interval", 0, "backtest interval (overrides BACKTEST_INTERVAL)")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", 0, "alert threshold in percent (overrides ALERT_THRESHOLD_PCT)")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "disable the status API server")
}

// applyRunFlags applies explicitly set flags over the environment
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("instruments") {
		cfg.Engine.Instruments = config.SplitList(runInstruments)
	}
	if flags.Changed("duration") {
		cfg.Engine.RunDuration = runDuration
	}
	if flags.Changed("forecast-interval") {
		cfg.Engine.ForecastInterval = runForecastInterval
	}
	if flags.Changed("backtest-interval") {
		cfg.Engine.BacktestInterval = runBacktestInterval
	}
	if flags.Changed("threshold") {
		cfg.Engine.AlertThresholdPct = runThreshold
	}
	if runNoAPI {
		cfg.APIEnabled = false
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{
		WarmStart: true,
		Persist:   true,
		AlertHub:  cfg.APIEnabled,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Scheduler
	sched := scheduler.New(rt.log)
	if err := sched.AddJob(jobs.NewForecastJob(rt.engine, cfg.Engine.ForecastInterval, rt.log)); err != nil {
		return fmt.Errorf("register forecast job: %w", err)
	}
	if err := sched.AddJob(jobs.NewBacktestJob(rt.engine, cfg.Engine.BacktestInterval, rt.log)); err != nil {
		return fmt.Errorf("register backtest job: %w", err)
	}

	// Status API
	var server *api.Server
	if cfg.APIEnabled {
		status := handlers.NewStatusHandler(rt.store, sched, rt.log)
		router := api.NewRouter(status, rt.hub, rt.recorder.Registry(), rt.log)
		server = api.New(cfg, rt.log, router)
		go func() {
			if err := server.Start(); err != nil {
				rt.log.WithError(err).Error("Status API server failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Engine.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Engine.RunDuration)
		defer cancel()
	}

	rt.log.WithFields(map[string]interface{}{
		"instruments":       cfg.Engine.Instruments,
		"forecast_interval": cfg.Engine.ForecastInterval.String(),
		"backtest_interval": cfg.Engine.BacktestInterval.String(),
		"threshold_pct":     cfg.Engine.AlertThresholdPct,
		"run_duration":      cfg.Engine.RunDuration.String(),
		"state_path":        cfg.StatePath,
	}).Info("Engine starting")

	// 초기 실행: 예측 발행 + 백테스트 즉시 1회, 이후 주기 실행
	sched.Start()
	sched.RunAll()

	<-ctx.Done()
	rt.log.WithField("reason", context.Cause(ctx).Error()).Info("Engine stopping")

	// 실행 중 사이클 완료 대기 후 최종 스냅샷
	sched.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.log.WithError(err).Warn("Status API shutdown incomplete")
		}
		cancel()
	}

	if err := rt.engine.Persist(context.Background()); err != nil {
		rt.log.WithError(err).Error("Final snapshot failed")
	} else {
		rt.log.Infof("Final snapshot written to %s", cfg.StatePath)
	}
	rt.engine.LogFinalStats()

	return nil
}
