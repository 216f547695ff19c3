package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/pkg/config"
	"github.com/wonny/autocast/pkg/httputil"
	"github.com/wonny/autocast/pkg/logger"
	"github.com/wonny/autocast/pkg/redis"
)

func fixedReliability(source string) float64 {
	switch source {
	case SourceEODHD:
		return 0.95
	case SourceEODHDNews:
		return 0.85
	default:
		return 0.75
	}
}

func newTestEODHD(t *testing.T, handler http.Handler) *EODHD {
	t.Helper()
	return newRetryingEODHD(t, handler, 0)
}

func newRetryingEODHD(t *testing.T, handler http.Handler, retries int) *EODHD {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		Fetch: config.FetchConfig{Timeout: 2 * time.Second, MaxRetries: retries, Backoff: time.Millisecond},
		EODHD: config.EODHDConfig{APIKey: "test-key", BaseURL: server.URL},
	}
	client := httputil.New(cfg, logger.Nop())
	e := NewEODHD(cfg, client, fixedReliability, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestEODHD_PriceHistory(t *testing.T) {
	e := newTestEODHD(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod/AAPL.US", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_token"))
		assert.Equal(t, "d", r.URL.Query().Get("period"))
		fmt.Fprint(w, `[
			{"date":"2024-02-27","close":180.1},
			{"date":"2024-02-28","close":"181.2"},
			{"date":"2024-02-29","close":null},
			{"date":"2024-03-01","close":182.3}
		]`)
	}))

	obs, err := e.Fetch(context.Background(), contracts.FetchRequest{
		Instrument: "AAPL.US", Kind: contracts.KindPriceHistory, Lookback: 2,
	})
	require.NoError(t, err)

	// null close dropped, trimmed to lookback
	require.Len(t, obs, 2)
	assert.Equal(t, []float64{181.2, 182.3}, contracts.Closes(obs))
	assert.Equal(t, SourceEODHD, obs[0].SourceID)
	assert.Equal(t, 0.95, obs[0].Reliability)
}

func TestEODHD_News(t *testing.T) {
	e := newTestEODHD(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/news", r.URL.Path)
		assert.Equal(t, "AAPL.US", r.URL.Query().Get("s"))
		assert.Equal(t, "2024-02-23", r.URL.Query().Get("from"))
		fmt.Fprint(w, `[
			{"date":"2024-02-29T10:00:00+00:00","title":"Apple beats estimates","content":"<p>record profit</p>"},
			{"date":"2024-02-28T10:00:00+00:00","title":"","content":""}
		]`)
	}))

	obs, err := e.Fetch(context.Background(), contracts.FetchRequest{
		Instrument: "AAPL.US", Kind: contracts.KindHeadlines, Lookback: 7,
	})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Contains(t, obs[0].Text, "Apple beats estimates")
	assert.Equal(t, 0.85, obs[0].Reliability)
}

func TestEODHD_NoNewsIsNotAFailure(t *testing.T) {
	e := newTestEODHD(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))

	obs, err := e.Fetch(context.Background(), contracts.FetchRequest{Instrument: "X", Kind: contracts.KindHeadlines})
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestEODHD_Fundamentals(t *testing.T) {
	e := newTestEODHD(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fundamentals/AAPL.US", r.URL.Path)
		fmt.Fprint(w, `{"Highlights":{"PERatio":"28.5","EarningsShare":6.4,"DividendYield":null},"AnalystRatings":{"Rating":4.2}}`)
	}))

	obs, err := e.Fetch(context.Background(), contracts.FetchRequest{Instrument: "AAPL.US", Kind: contracts.KindFundamentals})
	require.NoError(t, err)

	fields := map[string]float64{}
	for _, o := range obs {
		fields[o.Field] = o.Value
	}
	assert.Equal(t, map[string]float64{"pe_ratio": 28.5, "eps": 6.4, "analyst_rating": 4.2}, fields)
}

func TestEODHD_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `[{"date":`) }},
		{"empty series", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `[]`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEODHD(t, tt.handler)

			_, err := e.Fetch(context.Background(), contracts.FetchRequest{Instrument: "AAPL.US", Kind: contracts.KindPriceHistory})
			require.Error(t, err)

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, contracts.KindPriceHistory, f.Kind)
			assert.True(t, errors.Is(err, contracts.ErrTransientFetch))
		})
	}
}

func TestEODHD_FailureAttempts(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int // 응답 순서, 마지막 값 반복
		body     string
		want     int
	}{
		{"retries exhausted", []int{http.StatusInternalServerError}, "", 3},
		{"not found is not retried", []int{http.StatusNotFound}, "", 1},
		{"empty series on first try", []int{http.StatusOK}, `[]`, 1},
		{"empty series after one retry", []int{http.StatusServiceUnavailable, http.StatusOK}, `[]`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			hits := 0
			e := newRetryingEODHD(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				status := tt.statuses[min(hits, len(tt.statuses)-1)]
				hits++
				mu.Unlock()
				w.WriteHeader(status)
				fmt.Fprint(w, tt.body)
			}), 2)

			_, err := e.Fetch(context.Background(), contracts.FetchRequest{Instrument: "AAPL.US", Kind: contracts.KindPriceHistory})

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, tt.want, f.Attempts)
			assert.Equal(t, tt.want, hits)
		})
	}
}

func TestEODHD_Timeout(t *testing.T) {
	e := newTestEODHD(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	e.timeout = 50 * time.Millisecond

	_, err := e.Fetch(context.Background(), contracts.FetchRequest{Instrument: "AAPL.US", Kind: contracts.KindHeadlines})
	assert.True(t, errors.Is(err, contracts.ErrTransientFetch))
}

func TestEODHD_UnsupportedKind(t *testing.T) {
	e := newTestEODHD(t, http.NotFoundHandler())

	_, err := e.Fetch(context.Background(), contracts.FetchRequest{Kind: "weather"})
	assert.True(t, errors.Is(err, contracts.ErrUnsupportedKind))
}

// stubSource counts calls and returns a fixed result
type stubSource struct {
	mu    sync.Mutex
	calls int
	obs   []contracts.Observation
	err   error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.obs, s.err
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubSource{err: &Failure{Source: "stub", Err: errors.New("boom")}}
	b := NewBreaker(stub, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, zerolog.Nop())
	req := contracts.FetchRequest{Instrument: "AAPL.US", Kind: contracts.KindPriceHistory}

	for i := 0; i < 2; i++ {
		_, err := b.Fetch(context.Background(), req)
		require.Error(t, err)
	}
	assert.Equal(t, "open", b.State(contracts.KindPriceHistory))

	_, err := b.Fetch(context.Background(), req)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, errors.Is(err, contracts.ErrTransientFetch))
	assert.Equal(t, 2, stub.calls, "open circuit must not reach the provider")

	// other kinds have independent circuits
	assert.Equal(t, "closed", b.State(contracts.KindHeadlines))
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	stub := &stubSource{obs: []contracts.Observation{{Value: 1}}}
	b := NewBreaker(stub, DefaultBreakerSettings, zerolog.Nop())

	obs, err := b.Fetch(context.Background(), contracts.FetchRequest{Kind: contracts.KindIndexLevel})
	require.NoError(t, err)
	assert.Len(t, obs, 1)
	assert.Equal(t, "stub", b.Name())
}

type recorder struct {
	citations []contracts.Citation
}

func (r *recorder) RecordCitations(c ...contracts.Citation) {
	r.citations = append(r.citations, c...)
}

func TestCited(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	series := &stubSource{obs: []contracts.Observation{
		{SourceID: SourceEODHD, Kind: contracts.KindPriceHistory, Field: "close", Value: 1, AsOf: day},
		{SourceID: SourceEODHD, Kind: contracts.KindPriceHistory, Field: "close", Value: 2, AsOf: day.AddDate(0, 0, 1)},
	}}
	rec := &recorder{}

	_, err := NewCited(series, rec).Fetch(context.Background(), contracts.FetchRequest{Kind: contracts.KindPriceHistory})
	require.NoError(t, err)
	require.Len(t, rec.citations, 1)
	assert.Equal(t, "close=2", rec.citations[0].Value)

	news := &stubSource{obs: []contracts.Observation{{Text: "a"}, {Text: "b"}}}
	_, err = NewCited(news, rec).Fetch(context.Background(), contracts.FetchRequest{Kind: contracts.KindHeadlines})
	require.NoError(t, err)
	assert.Len(t, rec.citations, 3)
}

func TestCited_NoCitationOnFailure(t *testing.T) {
	rec := &recorder{}
	_, err := NewCited(&stubSource{err: errors.New("x")}, rec).Fetch(context.Background(), contracts.FetchRequest{})
	assert.Error(t, err)
	assert.Empty(t, rec.citations)
}

func TestCached_DisabledPassesThrough(t *testing.T) {
	client, err := redis.New(&config.Config{})
	require.NoError(t, err)

	stub := &stubSource{obs: []contracts.Observation{{Value: 1}}}
	c := NewCached(stub, redis.NewCache(client, "test"), zerolog.Nop())

	for i := 0; i < 2; i++ {
		obs, err := c.Fetch(context.Background(), contracts.FetchRequest{Kind: contracts.KindPriceHistory})
		require.NoError(t, err)
		assert.Len(t, obs, 1)
	}
	assert.Equal(t, 2, stub.calls)
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, redis.TTLShort, TTLFor(contracts.KindIndexLevel))
	assert.Equal(t, redis.TTLLong, TTLFor(contracts.KindFundamentals))
	assert.Equal(t, redis.TTLMedium, TTLFor(contracts.KindHeadlines))
}
