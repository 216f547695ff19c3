package state

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/pkg/redis"
)

// RedisMirror 발행된 최신 예측을 redis에 복제 (외부 조회용, 원본은 Store)
type RedisMirror struct {
	cache *redis.Cache
	ttl   time.Duration
}

// NewRedisMirror creates the mirror; a disabled cache makes every call a no-op
func NewRedisMirror(cache *redis.Cache, ttl time.Duration) *RedisMirror {
	return &RedisMirror{cache: cache, ttl: ttl}
}

// Mirror overwrites the key of f's series with f
func (m *RedisMirror) Mirror(ctx context.Context, f contracts.Forecast) error {
	key := redis.ForecastKey(f.Instrument, f.HorizonDays)
	if err := m.cache.Set(ctx, key, f, m.ttl); err != nil {
		return fmt.Errorf("mirror forecast %s: %w", key, err)
	}
	return nil
}
