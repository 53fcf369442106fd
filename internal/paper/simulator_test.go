package paper

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gosignal/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func p(s string) *decimal.Decimal { v := d(s); return &v }

func buy(token, price, size string, tif domain.TimeInForce) domain.Trade {
	return domain.Trade{TokenID: token, Side: domain.SideBuy, Price: d(price), Size: d(size), TimeInForce: tif}
}

func sell(token, price, size string, tif domain.TimeInForce) domain.Trade {
	return domain.Trade{TokenID: token, Side: domain.SideSell, Price: d(price), Size: d(size), TimeInForce: tif}
}

// TestGTC_InclusiveCross 挂单 0.40：卖一 0.41 不成交，卖一 0.40 成交
func TestGTC_InclusiveCross(t *testing.T) {
	sim := NewSimulator(Config{FillProbability: 1, Seed: 1})
	o, fills := sim.Submit(buy("yes", "0.40", "10", domain.GTC), "m1")
	require.Empty(t, fills)
	assert.Equal(t, "paper_1", o.ID)

	fills = sim.UpdateMarket("yes", p("0.39"), p("0.41"))
	assert.Empty(t, fills)
	assert.Len(t, sim.OpenGTCOrders("m1"), 1)

	fills = sim.UpdateMarket("yes", p("0.39"), p("0.40"))
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Price.Equal(d("0.40")))
	assert.True(t, fills[0].Size.Equal(d("10")))

	got, ok := sim.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, OrderFilled, got.Status)
	assert.Empty(t, sim.OpenGTCOrders("m1"))
}

// TestGTC_StrictCross 严格模式下 ask == limit 不成交
func TestGTC_StrictCross(t *testing.T) {
	sim := NewSimulator(Config{FillProbability: 1, RequireVolumeCross: true})
	sim.Submit(buy("yes", "0.40", "10", domain.GTC), "m1")
	sim.Submit(sell("no", "0.60", "10", domain.GTC), "m1")

	assert.Empty(t, sim.UpdateMarket("yes", nil, p("0.40")))
	assert.Empty(t, sim.UpdateMarket("no", p("0.60"), nil))

	fills := sim.UpdateMarket("yes", nil, p("0.39"))
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Price.Equal(d("0.39")), "按穿越时的簿价成交")

	fills = sim.UpdateMarket("no", p("0.61"), nil)
	require.Len(t, fills, 1)
	assert.Equal(t, domain.SideSell, fills[0].Side)
}

// TestGTC_FillProbabilityZero 概率为 0 时永远不成交
func TestGTC_FillProbabilityZero(t *testing.T) {
	sim := NewSimulator(Config{FillProbability: 0})
	sim.Submit(buy("yes", "0.50", "5", domain.GTC), "m1")
	for i := 0; i < 20; i++ {
		assert.Empty(t, sim.UpdateMarket("yes", nil, p("0.30")))
	}
}

// TestFOK_Atomicity 任意一腿不可成交，则整组零成交
func TestFOK_Atomicity(t *testing.T) {
	sim := NewSimulator(Config{FillProbability: 1})
	sim.UpdateMarket("yes", p("0.44"), p("0.45"))
	sim.UpdateMarket("no", p("0.52"), p("0.53"))

	legs := []domain.Trade{
		buy("yes", "0.45", "10", domain.FOK),
		buy("no", "0.50", "10", domain.FOK), // 卖一 0.53 > 0.50
	}
	orders, fills := sim.ExecuteFOKGroup(legs, "m1")
	assert.Empty(t, fills)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, OrderCanceled, o.Status)
		assert.True(t, o.FilledSize.IsZero())
	}

	legs[1] = buy("no", "0.53", "10", domain.FOK)
	orders, fills = sim.ExecuteFOKGroup(legs, "m1")
	require.Len(t, fills, 2)
	for _, o := range orders {
		assert.Equal(t, OrderFilled, o.Status)
	}
}

// TestFOK_MissingBook 没有报价的腿视为不可成交
func TestFOK_MissingBook(t *testing.T) {
	sim := NewSimulator(Config{FillProbability: 1})
	sim.UpdateMarket("yes", nil, p("0.45"))
	_, fills := sim.ExecuteFOKGroup([]domain.Trade{
		buy("yes", "0.50", "1", domain.FOK),
		buy("unknown", "0.50", "1", domain.FOK),
	}, "m1")
	assert.Empty(t, fills)
}

// TestIOC_NoResidual IOC 不成交直接取消，不留挂单
func TestIOC_NoResidual(t *testing.T) {
	sim := NewSimulator(Config{FillProbability: 1})
	sim.UpdateMarket("yes", p("0.40"), p("0.42"))

	o, f := sim.ExecuteIOC(buy("yes", "0.41", "5", domain.IOC), "m1")
	assert.Nil(t, f)
	assert.Equal(t, OrderCanceled, o.Status)
	assert.Empty(t, sim.OpenGTCOrders(""))

	o, f = sim.ExecuteIOC(sell("yes", "0.39", "5", domain.IOC), "m1")
	require.NotNil(t, f)
	assert.True(t, f.Price.Equal(d("0.40")))
	assert.Equal(t, OrderFilled, o.Status)
}

// TestFillBound 任意报价序列下 filled 不超过 size
func TestFillBound(t *testing.T) {
	prop := func(seed uint64, prices []uint8) bool {
		sim := NewSimulator(Config{FillProbability: 0.5, Seed: seed})
		for i := 0; i < 5; i++ {
			sim.Submit(buy("yes", "0.50", "3", domain.GTC), "g")
			sim.Submit(sell("yes", "0.50", "2", domain.GTC), "g")
		}
		for _, c := range prices {
			px := decimal.NewFromInt(int64(c%99) + 1).Div(decimal.NewFromInt(100))
			sim.UpdateMarket("yes", &px, &px)
		}
		for i := 1; i <= 10; i++ {
			o, ok := sim.Order("paper_" + decimal.NewFromInt(int64(i)).String())
			if !ok || o.FilledSize.GreaterThan(o.Size) || o.FilledSize.IsNegative() {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(prop, nil))
}

// TestSeedDeterminism 相同种子与输入产生相同成交
func TestSeedDeterminism(t *testing.T) {
	run := func() []string {
		sim := NewSimulator(Config{FillProbability: 0.5, Seed: 7})
		var ids []string
		for i := 0; i < 30; i++ {
			sim.Submit(buy("yes", "0.50", "1", domain.GTC), "g")
		}
		for i := 0; i < 5; i++ {
			for _, f := range sim.UpdateMarket("yes", nil, p("0.49")) {
				ids = append(ids, f.OrderID)
			}
		}
		return ids
	}
	assert.Equal(t, run(), run())
}

// TestCancelStaleGTCOrders 距离与时长两种过期条件
func TestCancelStaleGTCOrders(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sim := NewSimulator(Config{FillProbability: 1}, WithClock(func() time.Time { return now }))

	sim.Submit(buy("yes", "0.40", "5", domain.GTC), "m1")
	sim.Submit(buy("yes", "0.45", "5", domain.GTC), "m1")
	sim.UpdateMarket("yes", p("0.46"), p("0.50"))

	canceled := sim.CancelStaleGTCOrders("yes", d("0.05"), 0)
	require.Len(t, canceled, 1)
	assert.True(t, canceled[0].Price.Equal(d("0.40")))

	now = now.Add(2 * time.Minute)
	canceled = sim.CancelStaleGTCOrders("yes", d("0.05"), time.Minute)
	require.Len(t, canceled, 1)
	assert.Empty(t, sim.OpenGTCOrders("m1"))
}

// TestCancelStale_NoQuoteSkipsDistance 无参考价时只检查时长
func TestCancelStale_NoQuoteSkipsDistance(t *testing.T) {
	sim := NewSimulator(Config{})
	sim.Submit(sell("no", "0.90", "5", domain.GTC), "m1")
	assert.Empty(t, sim.CancelStaleGTCOrders("no", d("0.01"), 0))
}

// TestGroupQueries 分组查询
func TestGroupQueries(t *testing.T) {
	sim := NewSimulator(Config{})
	sim.Submit(buy("b", "0.30", "5", domain.GTC), "g1")
	sim.Submit(buy("a", "0.30", "8", domain.GTC), "g1")
	sim.Submit(buy("c", "0.30", "2", domain.GTC), "g2")

	assert.Equal(t, []string{"a", "b"}, sim.KnownGTCTokens("g1"))
	assert.True(t, sim.ReferenceGTCSize("g1").Equal(d("8")))
	assert.Equal(t, map[string]int{"g1": 2, "g2": 1}, sim.OpenGTCCountByGroup())

	assert.True(t, sim.Cancel("paper_3"))
	assert.False(t, sim.Cancel("paper_3"))
	assert.Equal(t, 2, sim.Stats().OpenGTC)
}

// TestTerminalOrdersPruned 已终结订单只保留最近几笔，挂单不受影响
func TestTerminalOrdersPruned(t *testing.T) {
	sim := NewSimulator(Config{FillProbability: 1, Seed: 1, TerminalHistory: 2})
	sim.UpdateMarket("yes", p("0.44"), p("0.45"))

	resting, _ := sim.Submit(buy("yes", "0.30", "5", domain.GTC), "g")
	var ids []string
	for i := 0; i < 5; i++ {
		o, f := sim.ExecuteIOC(buy("yes", "0.45", "1", domain.IOC), "g")
		require.NotNil(t, f)
		ids = append(ids, o.ID)
	}

	_, ok := sim.Order(ids[0])
	assert.False(t, ok, "较早的终结订单已淘汰")
	_, ok = sim.Order(ids[4])
	assert.True(t, ok)
	got, ok := sim.Order(resting.ID)
	require.True(t, ok, "挂单始终可查询")
	assert.True(t, got.IsResting())
	assert.Len(t, sim.orders, 3)
	assert.Equal(t, 5, sim.Stats().Filled)
}
