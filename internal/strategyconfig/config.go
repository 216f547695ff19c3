package strategyconfig

import (
	"strings"

	"github.com/wonny/autocast/internal/contracts"
)

// Config는 예측 엔진 전략의 전체 설정
type Config struct {
	Meta               Meta                                 `yaml:"meta" json:"meta"`
	Models             []contracts.ModelSpec                `yaml:"models" json:"models"`
	Horizons           []int                                `yaml:"horizons" json:"horizons"`
	Forecast           ForecastParams                       `yaml:"forecast" json:"forecast"`
	Backtest           BacktestParams                       `yaml:"backtest" json:"backtest"`
	Trend              TrendParams                          `yaml:"trend" json:"trend"`
	Market             MarketParams                         `yaml:"market" json:"market"`
	Factors            Factors                              `yaml:"factors" json:"factors"`
	SectorMap          map[string]string                    `yaml:"sector_map" json:"sector_map"`
	DefaultSector      string                               `yaml:"default_sector" json:"default_sector"`
	InstrumentClasses  map[string]contracts.InstrumentClass `yaml:"instrument_classes" json:"instrument_classes"`
	Reliability        map[string]float64                   `yaml:"reliability" json:"reliability"`
	DefaultReliability float64                              `yaml:"default_reliability" json:"default_reliability"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
}

// ForecastParams 모델 적합 파라미터
type ForecastParams struct {
	HistoryDays int     `yaml:"history_days" json:"history_days"` // 가격 이력 조회 기간
	MinHistory  int     `yaml:"min_history" json:"min_history"`   // 적합 최소 관측 수
	IntervalZ   float64 `yaml:"interval_z" json:"interval_z"`     // 95% = 1.96
}

// BacktestParams walk-forward 백테스트 파라미터
type BacktestParams struct {
	Window int `yaml:"window" json:"window"` // held-out 원점 수
}

// TrendParams 성과 추세 분류
type TrendParams struct {
	Window      int     `yaml:"window" json:"window"`               // 이동평균 사이클 수
	DeadBandPct float64 `yaml:"dead_band_pct" json:"dead_band_pct"` // ±% 이내는 STABLE
}

// MarketParams 시장 지표 / 뉴스 조회
type MarketParams struct {
	VolatilityIndex string `yaml:"volatility_index" json:"volatility_index"`
	BroadIndex      string `yaml:"broad_index" json:"broad_index"`
	IndexLookback   int    `yaml:"index_lookback" json:"index_lookback"`
	SectorLookback  int    `yaml:"sector_lookback" json:"sector_lookback"`
	NewsLookback    int    `yaml:"news_lookback" json:"news_lookback"`
}

// Factors 팩터별 계수/상한 (단위: %)
type Factors struct {
	Sentiment  SentimentFactor  `yaml:"sentiment" json:"sentiment"`
	Sector     SectorFactor     `yaml:"sector" json:"sector"`
	Market     MarketFactor     `yaml:"market" json:"market"`
	Volatility VolatilityFactor `yaml:"volatility" json:"volatility"`
	TotalCap   float64          `yaml:"total_cap" json:"total_cap"`
}

// SentimentFactor 감성 점수 1단위당 % 조정
type SentimentFactor struct {
	Coef float64 `yaml:"coef" json:"coef"`
	Cap  float64 `yaml:"cap" json:"cap"`
}

// SectorFactor 섹터 ETF 추세 1%당 % 조정
type SectorFactor struct {
	Coef        float64 `yaml:"coef" json:"coef"`
	AbsCap      float64 `yaml:"abs_cap" json:"abs_cap"`
	FractionCap float64 `yaml:"fraction_cap" json:"fraction_cap"` // |momentum| 대비 비율 상한
}

// MarketFactor 지수 일간 변화 1%당 % 조정
type MarketFactor struct {
	Coef float64 `yaml:"coef" json:"coef"`
	Cap  float64 `yaml:"cap" json:"cap"`
}

// VolatilityFactor 변동성 지수 구간별 조정 (dead zone 포함)
type VolatilityFactor struct {
	Calm        float64                               `yaml:"calm" json:"calm"`
	High        float64                               `yaml:"high" json:"high"`
	Extreme     float64                               `yaml:"extreme" json:"extreme"`
	CalmAdj     float64                               `yaml:"calm_adj" json:"calm_adj"`
	HighAdj     float64                               `yaml:"high_adj" json:"high_adj"`
	ExtremeAdj  float64                               `yaml:"extreme_adj" json:"extreme_adj"`
	Sensitivity map[contracts.InstrumentClass]float64 `yaml:"sensitivity" json:"sensitivity"`
}

// Default returns the built-in strategy
func Default() *Config {
	return &Config{
		Meta: Meta{StrategyID: "autocast_default", Version: "1"},
		Models: []contracts.ModelSpec{
			{OrderID: "arima_111", P: 1, D: 1, Q: 1},
			{OrderID: "arima_212", P: 2, D: 1, Q: 2},
			{OrderID: "arima_313", P: 3, D: 1, Q: 3},
		},
		Horizons: []int{1, 5, 10, 20},
		Forecast: ForecastParams{
			HistoryDays: 365,
			MinHistory:  50,
			IntervalZ:   1.96,
		},
		Backtest: BacktestParams{Window: 20},
		Trend:    TrendParams{Window: 5, DeadBandPct: 5},
		Market: MarketParams{
			VolatilityIndex: "^VIX.INDX",
			BroadIndex:      "^GSPC.INDX",
			IndexLookback:   10,
			SectorLookback:  30,
			NewsLookback:    7,
		},
		Factors: Factors{
			Sentiment: SentimentFactor{Coef: 0.5, Cap: 0.5},
			Sector:    SectorFactor{Coef: 0.1, AbsCap: 1.0, FractionCap: 0.5},
			Market:    MarketFactor{Coef: 0.1, Cap: 0.3},
			Volatility: VolatilityFactor{
				Calm: 12, High: 25, Extreme: 35,
				CalmAdj: 0, HighAdj: -0.2, ExtremeAdj: -0.5,
				Sensitivity: map[contracts.InstrumentClass]float64{
					contracts.ClassEquity:    1.0,
					contracts.ClassCommodity: -0.5,
					contracts.ClassFX:        0.5,
					contracts.ClassCrypto:    1.5,
				},
			},
			TotalCap: 2.0,
		},
		SectorMap: map[string]string{
			"AAPL.US":      "XLK.US",
			"MSFT.US":      "XLK.US",
			"GOOGL.US":     "XLK.US",
			"XAUUSD.FOREX": "GLD.US",
		},
		DefaultSector:     "SPY.US",
		InstrumentClasses: map[string]contracts.InstrumentClass{},
		Reliability: map[string]float64{
			"EODHD_API":          0.95,
			"EODHD_News":         0.85,
			"EODHD_Fundamentals": 0.95,
			"FRED":               0.98,
			"Yahoo_Finance":      0.85,
			"Alpha_Vantage":      0.90,
			"News_Sentiment":     0.70,
			"Model_Prediction":   0.80,
		},
		DefaultReliability: 0.75,
	}
}

// MaxHorizon 최대 horizon
func (c *Config) MaxHorizon() int {
	max := 0
	for _, h := range c.Horizons {
		if h > max {
			max = h
		}
	}
	return max
}

// SectorETF returns the sector benchmark for instrument
func (c *Config) SectorETF(instrument string) string {
	if etf, ok := c.SectorMap[instrument]; ok && etf != "" {
		return etf
	}
	return c.DefaultSector
}

// ReliabilityOf returns the static reliability score of a source
func (c *Config) ReliabilityOf(sourceID string) float64 {
	if r, ok := c.Reliability[sourceID]; ok {
		return r
	}
	return c.DefaultReliability
}

// ClassOf returns the instrument class, falling back to the exchange suffix
func (c *Config) ClassOf(instrument string) contracts.InstrumentClass {
	if cls, ok := c.InstrumentClasses[instrument]; ok {
		return cls
	}

	upper := strings.ToUpper(instrument)
	switch {
	case strings.HasSuffix(upper, ".CC"):
		return contracts.ClassCrypto
	case strings.HasSuffix(upper, ".COMM"):
		return contracts.ClassCommodity
	case strings.HasSuffix(upper, ".FOREX"):
		// 귀금속 (XAU, XAG, XPT, XPD)
		if strings.HasPrefix(upper, "XA") || strings.HasPrefix(upper, "XP") {
			return contracts.ClassCommodity
		}
		return contracts.ClassFX
	default:
		return contracts.ClassEquity
	}
}

// SensitivityOf returns the volatility sensitivity for class (default 1.0)
func (v VolatilityFactor) SensitivityOf(class contracts.InstrumentClass) float64 {
	if s, ok := v.Sensitivity[class]; ok {
		return s
	}
	return 1.0
}
