package datasource

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/pkg/redis"
)

// Cached wraps a DataSource with the redis observation cache.
// A disabled cache passes every call through.
type Cached struct {
	next   contracts.DataSource
	cache  *redis.Cache
	logger zerolog.Logger
}

// NewCached creates the cache decorator
func NewCached(next contracts.DataSource, cache *redis.Cache, log zerolog.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  cache,
		logger: log.With().Str("component", "datasource.cache").Logger(),
	}
}

// Name implements contracts.DataSource
func (c *Cached) Name() string {
	return c.next.Name()
}

// Fetch implements contracts.DataSource
func (c *Cached) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	key := redis.ObservationKey(string(req.Kind), req.Instrument, req.Lookback)

	var cached []contracts.Observation
	found, err := c.cache.Get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	if found {
		return cached, nil
	}

	obs, err := c.next.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, obs, TTLFor(req.Kind)); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return obs, nil
}

// TTLFor returns how long observations of kind stay fresh
func TTLFor(kind contracts.ObservationKind) time.Duration {
	switch kind {
	case contracts.KindIndexLevel:
		return redis.TTLShort
	case contracts.KindFundamentals:
		return redis.TTLLong
	default:
		return redis.TTLMedium
	}
}
