package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/autocast/internal/alert"
	"github.com/wonny/autocast/internal/api"
	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/datasource"
	"github.com/wonny/autocast/internal/engine"
	"github.com/wonny/autocast/internal/metrics"
	"github.com/wonny/autocast/internal/state"
	"github.com/wonny/autocast/internal/strategyconfig"
	"github.com/wonny/autocast/pkg/config"
	"github.com/wonny/autocast/pkg/database"
	"github.com/wonny/autocast/pkg/httputil"
	"github.com/wonny/autocast/pkg/logger"
	"github.com/wonny/autocast/pkg/redis"
)

const (
	persistTimeout = 10 * time.Second
	redisPrefix    = "autocast"
)

// runtimeOptions selects which outer surfaces a command needs
type runtimeOptions struct {
	WarmStart bool // 저장된 스냅샷으로 상태 복원
	Persist   bool // 사이클마다 스냅샷 기록 (file + archive)
	AlertHub  bool // websocket 알림 스트림
}

// runtime holds the wired engine and the resources it owns
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	strategy *strategyconfig.Config
	store    *state.Store
	file     *state.FilePersister
	archive  *state.PostgresArchive
	db       *database.DB
	rdb      *redis.Client
	recorder *metrics.Recorder
	hub      *api.AlertHub
	engine   *engine.Engine
}

// newRuntime wires config → infrastructure → engine
// ⭐ SSOT: 엔진 구성은 이 함수에서만
func newRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	// 1. Logger
	log := logger.New(cfg)
	rt := &runtime{cfg: cfg, log: log, recorder: metrics.New()}

	// 2. Strategy file
	strategy, _, err := strategyconfig.Load(cfg.StrategyConfig)
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	hash, err := strategyconfig.Hash(strategy)
	if err != nil {
		return nil, fmt.Errorf("hash strategy: %w", err)
	}
	rt.strategy = strategy
	log.WithFields(map[string]interface{}{
		"path":     cfg.StrategyConfig,
		"hash":     hash[:12],
		"models":   len(strategy.Models),
		"horizons": strategy.Horizons,
	}).Info("Strategy loaded")

	// 3. State store
	rt.store = state.NewStore(cfg.Capacity)
	rt.file = state.NewFilePersister(cfg.StatePath)

	// 4. Redis (optional: cache + shared rate limit)
	rt.rdb, err = redis.New(cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, continuing without cache")
		rt.rdb = redis.NewFromRedis(nil)
	}

	// 5. Postgres archive (optional)
	if opts.Persist || opts.WarmStart {
		rt.connectArchive(ctx)
	}

	// 6. Warm start
	if opts.WarmStart {
		rt.warmStart(ctx)
	}

	// 7. Data source: Cited → Cached → Breaker → EODHD
	httpClient := httputil.New(cfg, log)
	if rt.rdb.Enabled() {
		httpClient.WithRateLimiter(redis.NewRateLimiter(rt.rdb, redisPrefix), redis.EODHDRateLimit(cfg.Fetch.RatePerSec))
	}
	zl := log.Zerolog()
	var source contracts.DataSource = datasource.NewEODHD(cfg, httpClient, strategy.ReliabilityOf, zl)
	source = datasource.NewBreaker(source, datasource.DefaultBreakerSettings, zl)
	source = datasource.NewCached(source, redis.NewCache(rt.rdb, redisPrefix), zl)
	source = datasource.NewCited(source, rt.store)

	// 8. Alert sinks
	sinks := alert.MultiSink{alert.NewConsoleSink(zl)}
	if opts.AlertHub {
		rt.hub = api.NewAlertHub(log)
		sinks = append(sinks, rt.hub)
	}

	// 9. Persisters
	var persister contracts.Persister
	if opts.Persist {
		persisters := state.MultiPersister{rt.file}
		if rt.archive != nil {
			persisters = append(persisters, rt.archive)
		}
		persister = persisters
	}

	// 10. Forecast mirror (redis)
	var mirror engine.ForecastMirror
	if rt.rdb.Enabled() {
		mirror = state.NewRedisMirror(redis.NewCache(rt.rdb, redisPrefix), redis.TTLDaily)
	}

	// 11. Engine
	rt.engine = engine.New(engine.Deps{
		Strategy:  strategy,
		Source:    source,
		Store:     rt.store,
		Sink:      sinks,
		Persister: persister,
		Metrics:   rt.recorder,
		Mirror:    mirror,
	}, engine.Options{
		Instruments:       cfg.Engine.Instruments,
		CycleTimeout:      cfg.Engine.CycleTimeout,
		FetchTimeout:      cfg.Fetch.Timeout,
		Concurrency:       cfg.Fetch.Concurrency,
		AlertThresholdPct: cfg.Engine.AlertThresholdPct,
		PersistTimeout:    persistTimeout,
	}, zl)

	return rt, nil
}

func (rt *runtime) connectArchive(ctx context.Context) {
	db, err := database.New(rt.cfg)
	if errors.Is(err, database.ErrNotConfigured) {
		return
	}
	if err != nil {
		rt.log.WithError(err).Warn("Snapshot archive unavailable, file snapshots only")
		return
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.EnsureSchema(schemaCtx); err != nil {
		rt.log.WithError(err).Warn("Snapshot archive schema failed, file snapshots only")
		db.Close()
		return
	}

	health, err := db.HealthCheck(schemaCtx)
	if err != nil {
		rt.log.WithError(err).Warn("Snapshot archive unhealthy, file snapshots only")
		db.Close()
		return
	}
	rt.log.WithFields(map[string]interface{}{
		"response_time": health.ResponseTime.String(),
		"max_conns":     health.Stats.MaxConns,
		"total_conns":   health.Stats.TotalConns,
	}).Info("Snapshot archive connected")

	rt.db = db
	rt.archive = state.NewPostgresArchive(db)
}

// warmStart restores the store from the file snapshot, falling back to the archive
func (rt *runtime) warmStart(ctx context.Context) {
	st, found, err := rt.file.Load()
	if err != nil {
		rt.log.WithError(err).WithField("path", rt.file.Path()).Error("State file unreadable, starting cold")
	}

	source := "file"
	if !found && rt.archive != nil {
		loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		st, found, err = rt.archive.Latest(loadCtx)
		if err != nil {
			rt.log.WithError(err).Warn("Snapshot archive read failed, starting cold")
		}
		source = "archive"
	}

	if !found {
		rt.log.WithField("path", rt.file.Path()).Info("No previous state, cold start")
		return
	}

	rt.store.Load(st)
	rt.log.WithFields(map[string]interface{}{
		"source":      source,
		"cycle_count": st.CycleCount,
		"predictions": len(st.LatestPredictions),
		"weights":     len(st.ModelWeights),
	}).Info("State restored")
}

// Close releases owned resources
func (rt *runtime) Close() {
	if rt.hub != nil {
		rt.hub.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
	if rt.rdb != nil {
		rt.rdb.Close()
	}
}
