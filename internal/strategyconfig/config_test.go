package strategyconfig

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/autocast/internal/contracts"
)

func TestLoad(t *testing.T) {
	// 저장소의 기본 전략 파일
	path := "../../config/strategy/default.yaml"

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("config file not found")
	}

	cfg, yamlData, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, yamlData)

	assert.Equal(t, "autocast_default", cfg.Meta.StrategyID)
	assert.Len(t, cfg.Models, 3)
	assert.Equal(t, []int{1, 5, 10, 20}, cfg.Horizons)

	// 파일과 내장 기본값은 동일해야 함
	fileHash, err := Hash(cfg)
	require.NoError(t, err)
	defaultHash, err := Hash(Default())
	require.NoError(t, err)
	assert.Equal(t, defaultHash, fileHash)
	assert.Len(t, fileHash, 64)
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	cfg, data, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, 20, cfg.MaxHorizon())
}

func TestParse_PartialOverride(t *testing.T) {
	cfg, err := Parse([]byte("horizons: [1, 3]\nbacktest:\n  window: 10\n"))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, cfg.Horizons)
	assert.Equal(t, 10, cfg.Backtest.Window)
	// untouched sections keep defaults
	assert.Equal(t, 0.5, cfg.Factors.Sentiment.Cap)
}

func TestParse_UnknownFieldFails(t *testing.T) {
	_, err := Parse([]byte("horizon: [1]\n"))
	assert.Error(t, err)
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := Hash(Default())
	require.NoError(t, err)
	h2, err := Hash(Default())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	cfg := Default()
	cfg.Factors.TotalCap = 3
	h3, _ := Hash(cfg)
	assert.NotEqual(t, h1, h3)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no models", func(c *Config) { c.Models = nil }, "models"},
		{"duplicate order", func(c *Config) { c.Models[1].OrderID = c.Models[0].OrderID }, "models[1].order_id"},
		{"bad d", func(c *Config) { c.Models[0].D = 3 }, "models[0].d"},
		{"unsorted horizons", func(c *Config) { c.Horizons = []int{5, 1} }, "horizons"},
		{"zero horizon", func(c *Config) { c.Horizons = []int{0} }, "horizons"},
		{"short history", func(c *Config) { c.Forecast.MinHistory = 5 }, "forecast.min_history"},
		{"zero window", func(c *Config) { c.Backtest.Window = 0 }, "backtest.window"},
		{"window exceeds history", func(c *Config) { c.Backtest.Window = 300 }, "backtest.window"},
		{"reliability out of range", func(c *Config) { c.Reliability["X"] = 1.5 }, "reliability.X"},
		{"volatility order", func(c *Config) { c.Factors.Volatility.High = 40 }, "factors.volatility"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			var ve ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.NoError(t, Validate(Default()))
}

func TestClassOf(t *testing.T) {
	cfg := Default()
	cfg.InstrumentClasses["GLD.US"] = contracts.ClassCommodity

	tests := map[string]contracts.InstrumentClass{
		"AAPL.US":      contracts.ClassEquity,
		"XAUUSD.FOREX": contracts.ClassCommodity,
		"EURUSD.FOREX": contracts.ClassFX,
		"BTC-USD.CC":   contracts.ClassCrypto,
		"CL.COMM":      contracts.ClassCommodity,
		"GLD.US":       contracts.ClassCommodity,
	}
	for instrument, want := range tests {
		assert.Equal(t, want, cfg.ClassOf(instrument), instrument)
	}
}

func TestLookups(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "XLK.US", cfg.SectorETF("AAPL.US"))
	assert.Equal(t, "SPY.US", cfg.SectorETF("TSLA.US"))
	assert.Equal(t, 0.95, cfg.ReliabilityOf("EODHD_API"))
	assert.Equal(t, 0.75, cfg.ReliabilityOf("unknown"))
	assert.Equal(t, 1.5, cfg.Factors.Volatility.SensitivityOf(contracts.ClassCrypto))
	assert.Equal(t, 1.0, cfg.Factors.Volatility.SensitivityOf("other"))
}
