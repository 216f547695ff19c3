package contracts

import "errors"

// 에러 분류 (실패는 가능한 가장 좁은 경계에서 격리)
//   - 모델 단위: ErrModelFit, ErrInvalidMetric
//   - 종목 단위: ErrInsufficientHistory, ErrDegraded
//   - 팩터 단위: ErrTransientFetch
//   - 사이클 단위: ErrPersistence (다음 사이클에 재시도)
var (
	// ErrTransientFetch 재시도 후에도 실패한 외부 조회 (팩터는 중립 처리)
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrModelFit 단일 모델 적합 실패 (이번 사이클 앙상블에서 제외)
	ErrModelFit = errors.New("model fit failure")

	// ErrInsufficientHistory 모델 적합에 필요한 이력 부족
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInvalidMetric 비유한(NaN/Inf) 또는 음수 오차 지표
	ErrInvalidMetric = errors.New("invalid metric")

	// ErrPersistence 스냅샷 기록 실패 (메모리 상태는 유지)
	ErrPersistence = errors.New("persistence failure")

	// ErrDegraded 해당 horizon에 수렴한 모델이 없음 (발행 안 함)
	ErrDegraded = errors.New("no converged model")

	// ErrUnsupportedKind 제공자가 지원하지 않는 관측 종류
	ErrUnsupportedKind = errors.New("unsupported observation kind")
)
