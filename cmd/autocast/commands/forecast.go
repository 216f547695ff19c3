package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// forecastCmd runs a single forecast-publish pass for one instrument
var forecastCmd = &cobra.Command{
	Use:   "forecast [instrument]",
	Short: "단일 종목 예측 1회 실행 (저장 안 함)",
	Long: `한 종목에 대해 예측-발행 경로를 1회 실행하고 결과를 출력합니다.

저장된 스냅샷의 가중치를 사용하지만 상태를 기록하지는 않습니다.

Example:
  go run ./cmd/autocast forecast AAPL.US
  go run ./cmd/autocast forecast XAUUSD.FOREX --strategy config/strategy/default.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runForecast,
}

func init() {
	rootCmd.AddCommand(forecastCmd)
}

func runForecast(cmd *cobra.Command, args []string) error {
	instrument := args[0]

	cfg := loadConfig()
	cfg.Engine.Instruments = []string{instrument}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{WarmStart: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	report := rt.engine.ForecastOnce(cmd.Context(), []string{instrument})

	printForecastReport(os.Stdout, report)
	for _, ir := range report.Instruments {
		if ir.Err != nil {
			return fmt.Errorf("forecast %s: %w", ir.Instrument, ir.Err)
		}
	}
	return nil
}
