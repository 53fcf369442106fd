package pairarb

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gosignal/internal/domain"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type quotes map[string]domain.Quote

func (q quotes) Quote(token string) (domain.Quote, bool) {
	v, ok := q[token]
	return v, ok
}

func ask(v string) domain.Quote { return domain.Quote{BestAsk: domain.DecPtr(d(v))} }

func market(id, yes, no string) domain.MarketInfo {
	return domain.MarketInfo{
		ID:      id,
		EndDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Tokens:  []domain.OutcomeToken{{TokenID: yes, Outcome: "Yes"}, {TokenID: no, Outcome: "No"}},
	}
}

func TestScan(t *testing.T) {
	s, err := New(Config{MinEdge: d("0.02"), Size: d("10")}, nil)
	require.NoError(t, err)

	snap := domain.MarketSnapshot{
		Markets: map[string]domain.MarketInfo{
			"b": market("b", "by", "bn"),
			"a": market("a", "ay", "an"),
			"c": market("c", "cy", "cn"),
		},
		Quotes: map[string]domain.Quote{
			"ay": ask("0.45"), "an": ask("0.50"), // 0.95 < 0.98
			"by": ask("0.49"), "bn": ask("0.49"), // 0.98 不满足严格小于
			"cy": ask("0.40"), // 缺少 NO 报价
		},
	}
	sigs, err := s.Scan(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Equal(t, "a", sig.MarketID())
	assert.Equal(t, domain.StrategyArbitrage, sig.Type())
	assert.True(t, sig.Opportunity.ExpectedProfit.Equal(d("0.5")))
	assert.Equal(t, 5, sig.Opportunity.Urgency)
	require.Len(t, sig.Trades, 2)
	assert.Equal(t, domain.FOK, sig.Trades[0].TimeInForce)
	assert.Equal(t, "YES", sig.Trades[0].Outcome)
	assert.NoError(t, sig.CheckShape())
	end, ok := sig.EndDate()
	require.True(t, ok)
	assert.Equal(t, 2025, end.Year())
}

func TestValidate(t *testing.T) {
	live := quotes{"ay": ask("0.45"), "an": ask("0.50")}
	s, err := New(Config{MinEdge: d("0.02"), Size: d("10")}, live)
	require.NoError(t, err)

	sigs, err := s.Scan(context.Background(), domain.MarketSnapshot{
		Markets: map[string]domain.MarketInfo{"a": market("a", "ay", "an")},
		Quotes:  map[string]domain.Quote{"ay": ask("0.45"), "an": ask("0.50")},
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	sig := sigs[0]

	ok, why := s.Validate(sig)
	assert.True(t, ok, why)

	live["an"] = ask("0.51")
	ok, why = s.Validate(sig)
	assert.False(t, ok)
	assert.Equal(t, "price_moved", why)

	live["an"] = ask("0.50")
	s.cfg.MinEdge = d("0.06")
	ok, why = s.Validate(sig)
	assert.False(t, ok)
	assert.Equal(t, "edge_gone", why)

	delete(live, "ay")
	_, why = s.Validate(sig)
	assert.Equal(t, "no_quote", why)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MinEdge: d("1"), Size: d("1")}.Validate())
	assert.Error(t, Config{MinEdge: d("0.01")}.Validate())
}
