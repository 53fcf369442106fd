package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func sampleSignal() StrategySignal {
	return StrategySignal{
		Strategy: "pairarb",
		Opportunity: Opportunity{
			StrategyType:   StrategyArbitrage,
			ExpectedProfit: dec("2"),
			Metadata:       map[string]any{MetaMarketID: "0xabc"},
		},
		Trades: []Trade{
			{TokenID: "yes", Side: SideBuy, Size: dec("10"), Price: dec("0.45"), TimeInForce: FOK},
			{TokenID: "no", Side: SideBuy, Size: dec("10"), Price: dec("0.50"), TimeInForce: GTC},
		},
		MaxTotalCost: dec("9.5"),
	}
}

func TestStrategySignal_Helpers(t *testing.T) {
	s := sampleSignal()
	assert.Equal(t, "0xabc", s.MarketID())
	assert.Equal(t, StrategyArbitrage, s.Type())
	assert.True(t, s.TotalCost().Equal(dec("9.5")))
	assert.True(t, s.BuyCost().Equal(dec("9.5")))
	assert.Equal(t, 1, s.GTCLegs())
	assert.NoError(t, s.CheckShape())
}

func TestStrategySignal_Scaled(t *testing.T) {
	s := sampleSignal()
	half := s.Scaled(dec("0.333"))
	assert.True(t, half.Trades[0].Size.Equal(dec("3.33")), "份额向下取整到 0.01")
	assert.True(t, half.MaxTotalCost.Equal(half.TotalCost()))
	assert.True(t, half.Opportunity.ExpectedProfit.Equal(dec("0.666")))
	assert.True(t, s.Trades[0].Size.Equal(dec("10")), "原信号不变")
}

func TestStrategySignal_WithMetadataCopies(t *testing.T) {
	s := sampleSignal()
	s2 := s.WithMetadata(MetaEndDate, "2025-06-01")
	_, ok := s.Opportunity.Metadata[MetaEndDate]
	assert.False(t, ok, "原 map 不应被修改")

	end, ok := s2.EndDate()
	require.True(t, ok)
	assert.True(t, end.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseEndDate(t *testing.T) {
	_, ok := ParseEndDate("")
	assert.False(t, ok)
	_, ok = ParseEndDate("next week")
	assert.False(t, ok)
	ts, ok := ParseEndDate("2025-06-01T12:00:00Z")
	require.True(t, ok)
	assert.Equal(t, 12, ts.Hour())
}

func TestStrategySignal_CheckShape(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StrategySignal)
	}{
		{"no market", func(s *StrategySignal) { s.Opportunity.Metadata = nil }},
		{"no trades", func(s *StrategySignal) { s.Trades = nil }},
		{"price at one", func(s *StrategySignal) { s.Trades[0].Price = dec("1") }},
		{"negative size", func(s *StrategySignal) { s.Trades[0].Size = dec("-1") }},
		{"bad side", func(s *StrategySignal) { s.Trades[0].Side = "HOLD" }},
		{"bad tif", func(s *StrategySignal) { s.Trades[0].TimeInForce = "DAY" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSignal()
			tt.mutate(&s)
			assert.Error(t, s.CheckShape())
		})
	}
}
