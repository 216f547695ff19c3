package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// backtestCmd runs a single backtest pass for one instrument
var backtestCmd = &cobra.Command{
	Use:   "backtest [instrument]",
	Short: "단일 종목 백테스트 1회 실행",
	Long: `한 종목의 모든 모델 order를 walk-forward로 재평가하고
성과 지표, 갱신된 앙상블 가중치, 성과 추세를 출력합니다.

Example:
  go run ./cmd/autocast backtest AAPL.US`,
	Args: cobra.ExactArgs(1),
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
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

	report := rt.engine.BacktestOnce(cmd.Context(), []string{instrument})

	printBacktestReport(os.Stdout, report)
	for _, ir := range report.Instruments {
		if ir.Err != nil {
			return fmt.Errorf("backtest %s: %w", ir.Instrument, ir.Err)
		}
	}
	return nil
}
