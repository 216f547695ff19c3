package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/wonny/autocast/internal/contracts"
)

// BreakerSettings 회로 차단기 파라미터
type BreakerSettings struct {
	ConsecutiveFailures uint32        // 연속 실패 N회 → open
	OpenTimeout         time.Duration // open → half-open 대기
}

// DefaultBreakerSettings 5회 연속 실패 시 60초 차단
var DefaultBreakerSettings = BreakerSettings{
	ConsecutiveFailures: 5,
	OpenTimeout:         60 * time.Second,
}

// Breaker wraps a DataSource with one circuit per observation kind.
// An open circuit fails immediately with a *Failure wrapping gobreaker.ErrOpenState.
type Breaker struct {
	next     contracts.DataSource
	settings BreakerSettings
	logger   zerolog.Logger

	mu       sync.Mutex
	circuits map[contracts.ObservationKind]*gobreaker.CircuitBreaker
}

// NewBreaker creates the circuit breaker decorator
func NewBreaker(next contracts.DataSource, settings BreakerSettings, log zerolog.Logger) *Breaker {
	return &Breaker{
		next:     next,
		settings: settings,
		logger:   log.With().Str("component", "datasource.breaker").Logger(),
		circuits: make(map[contracts.ObservationKind]*gobreaker.CircuitBreaker),
	}
}

// Name implements contracts.DataSource
func (b *Breaker) Name() string {
	return b.next.Name()
}

// Fetch implements contracts.DataSource
func (b *Breaker) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	cb := b.circuit(req.Kind)

	result, err := cb.Execute(func() (interface{}, error) {
		return b.next.Fetch(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, newFailure(b.next.Name(), req, 0, err)
		}
		return nil, err
	}

	obs, _ := result.([]contracts.Observation)
	return obs, nil
}

// State returns the circuit state for kind ("closed" if never used)
func (b *Breaker) State(kind contracts.ObservationKind) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.circuits[kind]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

func (b *Breaker) circuit(kind contracts.ObservationKind) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.circuits[kind]; ok {
		return cb
	}

	threshold := b.settings.ConsecutiveFailures
	st := gobreaker.Settings{Name: fmt.Sprintf("%s/%s", b.next.Name(), kind)}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= threshold }
	st.Interval = 0
	st.Timeout = b.settings.OpenTimeout
	st.IsSuccessful = func(err error) bool {
		// 호출자 취소는 제공자 장애가 아님
		return err == nil || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		b.logger.Warn().
			Str("circuit", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit state changed")
	}

	cb := gobreaker.NewCircuitBreaker(st)
	b.circuits[kind] = cb
	return cb
}
