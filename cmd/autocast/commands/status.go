package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/autocast/internal/state"
)

var statusAlerts int

// statusCmd prints the persisted engine state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "저장된 엔진 상태 조회",
	Long: `STATE_PATH 스냅샷을 읽어 최신 예측, 모델 가중치,
최근 알림, 성과 추세를 표로 출력합니다.

Example:
  go run ./cmd/autocast status
  go run ./cmd/autocast status --state /var/lib/autocast/engine_state.json --alerts 20`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusAlerts, "alerts", 10, "number of recent alerts to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	st, found, err := state.NewFilePersister(cfg.StatePath).Load()
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if !found {
		PrintWarning(fmt.Sprintf("No state snapshot at %s (engine has not run yet)", cfg.StatePath))
		return nil
	}

	printStatus(os.Stdout, st, statusAlerts)
	return nil
}
