package contracts

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

// InstrumentClass 자산군 (변동성 민감도 결정)
type InstrumentClass string

const (
	ClassEquity    InstrumentClass = "equity"
	ClassCommodity InstrumentClass = "commodity"
	ClassFX        InstrumentClass = "fx"
	ClassCrypto    InstrumentClass = "crypto"
)

// Instrument 예측 대상 종목 (사이클 내 불변)
type Instrument struct {
	ID        string          `json:"id"`
	Class     InstrumentClass `json:"class"`
	LastClose float64         `json:"last_close"`
}

// ObservationKind 관측 데이터 종류
type ObservationKind string

const (
	KindPriceHistory ObservationKind = "price_history"
	KindIndexLevel   ObservationKind = "index_level"
	KindHeadlines    ObservationKind = "headlines"
	KindFundamentals ObservationKind = "fundamentals"
)

// FetchRequest DataSource 조회 파라미터
type FetchRequest struct {
	Instrument string          `json:"instrument"`
	Kind       ObservationKind `json:"kind"`
	Lookback   int             `json:"lookback"` // 일 단위 조회 기간
}

func (r FetchRequest) String() string {
	return fmt.Sprintf("%s/%s/%d", r.Kind, r.Instrument, r.Lookback)
}

// Observation 출처가 추적 가능한 단일 데이터 포인트
type Observation struct {
	SourceID    string          `json:"source_id"`
	Kind        ObservationKind `json:"kind"`
	Instrument  string          `json:"instrument"`
	Field       string          `json:"field,omitempty"` // close, pe_ratio, headline ...
	Value       float64         `json:"value"`
	Text        string          `json:"text,omitempty"`
	AsOf        time.Time       `json:"as_of"` // 데이터 기준 시점
	FetchedAt   time.Time       `json:"fetched_at"`
	Reliability float64         `json:"reliability"`
}

// Closes returns the numeric values of obs in chronological order
func Closes(obs []Observation) []float64 {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AsOf.Before(sorted[j].AsOf)
	})

	out := make([]float64, len(sorted))
	for i, o := range sorted {
		out[i] = o.Value
	}
	return out
}

// Texts returns the non-empty text payloads of obs
func Texts(obs []Observation) []string {
	out := make([]string, 0, len(obs))
	for _, o := range obs {
		if o.Text != "" {
			out = append(out, o.Text)
		}
	}
	return out
}

// CitationValueLimit 인용 값 최대 길이 (문자 단위)
const CitationValueLimit = 120

// Citation 인용 로그 레코드 (bounded, 최신 J개만 유지)
type Citation struct {
	SourceID    string    `json:"source_id"`
	DataType    string    `json:"data_type"`
	Instrument  string    `json:"instrument"`
	Value       string    `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	Reliability float64   `json:"reliability"`
}

// NewCitation builds a truncated citation for o
func NewCitation(o Observation) Citation {
	value := o.Text
	if value == "" {
		value = fmt.Sprintf("%g", o.Value)
	}
	if o.Field != "" && o.Text == "" {
		value = o.Field + "=" + value
	}

	return Citation{
		SourceID:    o.SourceID,
		DataType:    string(o.Kind),
		Instrument:  o.Instrument,
		Value:       truncateRunes(value, CitationValueLimit),
		Timestamp:   o.FetchedAt,
		Reliability: o.Reliability,
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
