// Package factors turns market context into one bounded percentage adjustment.
package factors

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/sentiment"
	"github.com/wonny/autocast/internal/strategyconfig"
)

// 팩터 이름
const (
	FactorVolatility = "volatility"
	FactorSector     = "sector_momentum"
	FactorMarket     = "market_momentum"
	FactorSentiment  = "sentiment"
)

// Inputs 종목 1개의 팩터 입력
type Inputs struct {
	Class             contracts.InstrumentClass
	VolatilityLevel   Signal
	SectorMomentumPct Signal
	MarketChangePct   Signal
	Sentiment         sentiment.Result
	SentimentOK       bool // 헤드라인 조회 성공 여부
}

// Component 팩터 1개의 기여도
type Component struct {
	Name            string  `json:"name"`
	Input           float64 `json:"input"`
	ContributionPct float64 `json:"contribution_pct"`
	Included        bool    `json:"included"`
}

// Adjustment 합산 조정 (%)
type Adjustment struct {
	TotalPct   float64     `json:"total_pct"`
	Clamped    bool        `json:"clamped"`
	Components []Component `json:"components"`
}

// Component returns the named component
func (a Adjustment) Component(name string) (Component, bool) {
	for _, c := range a.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Aggregator 다중 팩터 조정 계산기
type Aggregator struct {
	cfg    strategyconfig.Factors
	logger zerolog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(cfg strategyconfig.Factors, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		logger: log.With().Str("component", "factors.aggregator").Logger(),
	}
}

// Aggregate sums the capped sub-factor contributions and clamps the total.
// Missing inputs contribute nothing and are reported with Included=false.
func (a *Aggregator) Aggregate(in Inputs) Adjustment {
	comps := []Component{
		a.volatility(in.VolatilityLevel, in.Class),
		a.sector(in.SectorMomentumPct),
		a.market(in.MarketChangePct),
		a.sentiment(in.Sentiment, in.SentimentOK),
	}

	var total float64
	for _, c := range comps {
		if c.Included {
			total += c.ContributionPct
		}
	}

	adj := Adjustment{Components: comps}
	adj.TotalPct = clamp(total, a.cfg.TotalCap)
	adj.Clamped = adj.TotalPct != total

	a.logger.Debug().
		Str("class", string(in.Class)).
		Float64("total_pct", adj.TotalPct).
		Bool("clamped", adj.Clamped).
		Msg("factor adjustment")

	return adj
}

// volatility 구간 함수: extreme > high > dead zone > calm
func (a *Aggregator) volatility(level Signal, class contracts.InstrumentClass) Component {
	c := Component{Name: FactorVolatility}
	if !level.OK {
		return c
	}

	v := a.cfg.Volatility
	var step float64
	switch {
	case level.Value > v.Extreme:
		step = v.ExtremeAdj
	case level.Value > v.High:
		step = v.HighAdj
	case level.Value < v.Calm:
		step = v.CalmAdj
	}

	c.Input = level.Value
	c.ContributionPct = step * v.SensitivityOf(class)
	c.Included = true
	return c
}

// sector 기여도 상한: min(abs_cap, fraction_cap × |momentum|)
func (a *Aggregator) sector(momentum Signal) Component {
	c := Component{Name: FactorSector}
	if !momentum.OK {
		return c
	}

	s := a.cfg.Sector
	limit := math.Min(s.AbsCap, s.FractionCap*math.Abs(momentum.Value))

	c.Input = momentum.Value
	c.ContributionPct = clamp(s.Coef*momentum.Value, limit)
	c.Included = true
	return c
}

func (a *Aggregator) market(change Signal) Component {
	c := Component{Name: FactorMarket}
	if !change.OK {
		return c
	}

	c.Input = change.Value
	c.ContributionPct = clamp(a.cfg.Market.Coef*change.Value, a.cfg.Market.Cap)
	c.Included = true
	return c
}

// sentiment 데이터 부족/조회 실패 시 항목 자체를 제외 (0으로 합산하지 않음)
func (a *Aggregator) sentiment(res sentiment.Result, ok bool) Component {
	c := Component{Name: FactorSentiment}
	if !ok || res.InsufficientData {
		return c
	}

	c.Input = res.Score
	c.ContributionPct = clamp(a.cfg.Sentiment.Coef*res.Score, a.cfg.Sentiment.Cap)
	c.Included = true
	return c
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
