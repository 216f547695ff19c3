package commands

import (
	"github.com/spf13/cobra"

	"github.com/wonny/autocast/pkg/config"
)

var (
	// Global flags
	strategyFile string
	statePath    string
	logFormat    string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autocast",
	Short: "autocast - 자가 개선형 가격 예측 엔진",
	Long: `autocast Unified CLI

ARIMA 앙상블로 다중 horizon 가격 예측을 주기적으로 발행하고,
walk-forward 백테스트로 모델 가중치를 스스로 갱신합니다.

Usage:
  go run ./cmd/autocast [command]

Examples:
  go run ./cmd/autocast run --instruments AAPL.US,XAUUSD.FOREX --duration 30m
  go run ./cmd/autocast forecast AAPL.US
  go run ./cmd/autocast backtest AAPL.US
  go run ./cmd/autocast status`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&strategyFile, "strategy", "", "strategy YAML file (default: STRATEGY_CONFIG or built-in)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "state snapshot path (default: STATE_PATH)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json|console)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the environment and applies global flag overrides.
// Validation is left to the caller (each command overrides different keys).
func loadConfig() *config.Config {
	cfg := config.LoadRaw()

	if strategyFile != "" {
		cfg.StrategyConfig = strategyFile
	}
	if statePath != "" {
		cfg.StatePath = statePath
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	return cfg
}
