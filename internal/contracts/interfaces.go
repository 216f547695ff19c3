package contracts

import "context"

// DataSource 외부 관측 데이터 조회
// ⭐ SSOT: 스케줄러/엔진은 이 인터페이스에만 의존
// 실패는 datasource.Failure로 반환 (사이클 중단 없음)
type DataSource interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]Observation, error)
}

// AlertSink 알림 이벤트 전달
type AlertSink interface {
	Deliver(ctx context.Context, event AlertEvent) error
}

// Persister 스냅샷 영속화
type Persister interface {
	Save(ctx context.Context, state EngineState) error
}

// CitationRecorder 인용 로그 기록
type CitationRecorder interface {
	RecordCitations(citations ...Citation)
}
