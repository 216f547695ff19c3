package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/pkg/config"
	"github.com/wonny/autocast/pkg/httputil"
)

const (
	eodhdDateLayout = "2006-01-02"
	newsLimit       = 50
)

// EODHD 시세/지수/뉴스/펀더멘털 제공자
type EODHD struct {
	client      *httputil.Client
	baseURL     string
	apiKey      string
	timeout     time.Duration
	reliability ReliabilityFunc
	now         func() time.Time
	logger      zerolog.Logger
}

// NewEODHD creates the EODHD provider
func NewEODHD(cfg *config.Config, client *httputil.Client, reliability ReliabilityFunc, log zerolog.Logger) *EODHD {
	apiKey := cfg.EODHD.APIKey
	l := log.With().Str("component", "datasource.eodhd").Logger()
	if apiKey == "" {
		// demo 키는 일부 티커만 지원
		apiKey = "demo"
		l.Warn().Msg("EODHD_API_KEY not set, using demo token")
	}

	return &EODHD{
		client:      client,
		baseURL:     strings.TrimRight(cfg.EODHD.BaseURL, "/"),
		apiKey:      apiKey,
		timeout:     cfg.Fetch.Timeout,
		reliability: reliability,
		now:         time.Now,
		logger:      l,
	}
}

// Name implements contracts.DataSource
func (e *EODHD) Name() string {
	return SourceEODHD
}

// Fetch implements contracts.DataSource
func (e *EODHD) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	switch req.Kind {
	case contracts.KindPriceHistory, contracts.KindIndexLevel:
		return e.fetchEOD(ctx, req)
	case contracts.KindHeadlines:
		return e.fetchNews(ctx, req)
	case contracts.KindFundamentals:
		return e.fetchFundamentals(ctx, req)
	default:
		return nil, newFailure(SourceEODHD, req, 0, contracts.ErrUnsupportedKind)
	}
}

type eodRow struct {
	Date          string    `json:"date"`
	Close         flexFloat `json:"close"`
	AdjustedClose flexFloat `json:"adjusted_close"`
}

// fetchEOD GET /eod/{symbol}
func (e *EODHD) fetchEOD(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	now := e.now()
	params := url.Values{}
	params.Set("fmt", "json")
	params.Set("period", "d")
	params.Set("order", "a")
	if req.Lookback > 0 {
		// 주말/휴일 보정: 달력일 기준 1.5배
		from := now.AddDate(0, 0, -(req.Lookback*3/2 + 7))
		params.Set("from", from.Format(eodhdDateLayout))
	}

	var rows []eodRow
	attempts, err := e.get(ctx, "/eod/"+url.PathEscape(req.Instrument), params, &rows)
	if err != nil {
		return nil, newFailure(SourceEODHD, req, attempts, err)
	}

	fetchedAt := now.UTC()
	reliability := e.reliability(SourceEODHD)
	obs := make([]contracts.Observation, 0, len(rows))
	for _, r := range rows {
		asOf, err := time.Parse(eodhdDateLayout, r.Date)
		if err != nil || !r.Close.Valid {
			continue
		}
		obs = append(obs, contracts.Observation{
			SourceID:    SourceEODHD,
			Kind:        req.Kind,
			Instrument:  req.Instrument,
			Field:       "close",
			Value:       r.Close.Value,
			AsOf:        asOf,
			FetchedAt:   fetchedAt,
			Reliability: reliability,
		})
	}

	if req.Lookback > 0 && len(obs) > req.Lookback {
		obs = obs[len(obs)-req.Lookback:]
	}

	if len(obs) == 0 {
		return nil, newFailure(SourceEODHD, req, attempts, fmt.Errorf("empty series"))
	}
	return obs, nil
}

type newsItem struct {
	Date    string `json:"date"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Link    string `json:"link"`
}

// fetchNews GET /news?s={symbol}
func (e *EODHD) fetchNews(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	now := e.now()
	lookback := req.Lookback
	if lookback <= 0 {
		lookback = 7
	}

	params := url.Values{}
	params.Set("fmt", "json")
	params.Set("s", req.Instrument)
	params.Set("from", now.AddDate(0, 0, -lookback).Format(eodhdDateLayout))
	params.Set("to", now.Format(eodhdDateLayout))
	params.Set("limit", strconv.Itoa(newsLimit))

	var items []newsItem
	if attempts, err := e.get(ctx, "/news", params, &items); err != nil {
		return nil, newFailure(SourceEODHDNews, req, attempts, err)
	}

	fetchedAt := now.UTC()
	reliability := e.reliability(SourceEODHDNews)
	obs := make([]contracts.Observation, 0, len(items))
	for _, it := range items {
		if it.Title == "" && it.Content == "" {
			continue
		}
		asOf, _ := time.Parse(time.RFC3339, it.Date)
		text := it.Title
		if it.Content != "" {
			text = it.Title + "\n" + it.Content
		}
		obs = append(obs, contracts.Observation{
			SourceID:    SourceEODHDNews,
			Kind:        contracts.KindHeadlines,
			Instrument:  req.Instrument,
			Field:       "headline",
			Text:        text,
			AsOf:        asOf,
			FetchedAt:   fetchedAt,
			Reliability: reliability,
		})
	}

	// 기사가 없는 것은 실패가 아님 (감성 점수는 insufficient_data)
	return obs, nil
}

type fundamentalsDoc struct {
	Highlights struct {
		PERatio               flexFloat `json:"PERatio"`
		EarningsShare         flexFloat `json:"EarningsShare"`
		MarketCapitalization  flexFloat `json:"MarketCapitalization"`
		DividendYield         flexFloat `json:"DividendYield"`
		WallStreetTargetPrice flexFloat `json:"WallStreetTargetPrice"`
	} `json:"Highlights"`
	AnalystRatings struct {
		Rating flexFloat `json:"Rating"`
	} `json:"AnalystRatings"`
}

// fetchFundamentals GET /fundamentals/{symbol}
func (e *EODHD) fetchFundamentals(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	params := url.Values{}
	params.Set("fmt", "json")

	var doc fundamentalsDoc
	if attempts, err := e.get(ctx, "/fundamentals/"+url.PathEscape(req.Instrument), params, &doc); err != nil {
		return nil, newFailure(SourceEODHDFundamentals, req, attempts, err)
	}

	fetchedAt := e.now().UTC()
	reliability := e.reliability(SourceEODHDFundamentals)
	fields := []struct {
		name string
		v    flexFloat
	}{
		{"pe_ratio", doc.Highlights.PERatio},
		{"eps", doc.Highlights.EarningsShare},
		{"market_cap", doc.Highlights.MarketCapitalization},
		{"dividend_yield", doc.Highlights.DividendYield},
		{"target_price", doc.Highlights.WallStreetTargetPrice},
		{"analyst_rating", doc.AnalystRatings.Rating},
	}

	obs := make([]contracts.Observation, 0, len(fields))
	for _, f := range fields {
		if !f.v.Valid {
			continue
		}
		obs = append(obs, contracts.Observation{
			SourceID:    SourceEODHDFundamentals,
			Kind:        contracts.KindFundamentals,
			Instrument:  req.Instrument,
			Field:       f.name,
			Value:       f.v.Value,
			AsOf:        fetchedAt,
			FetchedAt:   fetchedAt,
			Reliability: reliability,
		})
	}
	return obs, nil
}

// get returns the number of HTTP attempts alongside the error
func (e *EODHD) get(ctx context.Context, path string, params url.Values, dest interface{}) (int, error) {
	params.Set("api_token", e.apiKey)
	return e.client.GetJSON(ctx, e.baseURL+path+"?"+params.Encode(), dest)
}

// flexFloat accepts numbers, numeric strings and null
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" || s == "NA" {
		*f = flexFloat{}
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// 숫자가 아닌 값은 결측 처리
		*f = flexFloat{}
		return nil
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

var _ json.Unmarshaler = (*flexFloat)(nil)
