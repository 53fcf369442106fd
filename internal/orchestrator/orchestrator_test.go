package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/strategies"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStrategy struct {
	name    string
	typ     domain.StrategyType
	signals []domain.StrategySignal
	err     error
	panics  bool
}

func (f *fakeStrategy) Name() string              { return f.name }
func (f *fakeStrategy) Type() domain.StrategyType { return f.typ }
func (f *fakeStrategy) Scan(context.Context, domain.MarketSnapshot) ([]domain.StrategySignal, error) {
	if f.panics {
		panic("boom")
	}
	return f.signals, f.err
}
func (f *fakeStrategy) Validate(domain.StrategySignal) (bool, string) { return true, "" }

type staticSnapshot domain.MarketSnapshot

func (s staticSnapshot) Snapshot() domain.MarketSnapshot { return domain.MarketSnapshot(s) }

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// pairSignal YES 0.45 + NO 0.55，各 shares 份
func pairSignal(market string, typ domain.StrategyType, shares string, profit string) domain.StrategySignal {
	return domain.StrategySignal{
		Opportunity: domain.Opportunity{
			StrategyType:   typ,
			ExpectedProfit: d(profit),
			Metadata:       map[string]any{domain.MetaMarketID: market},
		},
		Trades: []domain.Trade{
			{TokenID: market + "-yes", Side: domain.SideBuy, Size: d(shares), Price: d("0.45"), TimeInForce: domain.FOK},
			{TokenID: market + "-no", Side: domain.SideBuy, Size: d(shares), Price: d("0.55"), TimeInForce: domain.FOK},
		},
	}
}

func testConfig() Config {
	return Config{
		MaxConcurrent:  10,
		EnableStacking: true,
		StackableTypes: []domain.StrategyType{domain.StrategyArbitrage},
		Sizing: SizingConfig{
			MaxOrderUSDC: d("20"),
			MinOrderUSDC: d("1"),
			MinShares:    d("5"),
			InitialPct:   d("0.25"),
			MaxStacks:    3,
		},
		Score: ScoreConfig{EdgeWeight: 0.6, TimeWeight: 0.4, SweetSpotHours: 24, ResolutionMaxDays: 30},
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, strats ...strategies.Strategy) *Orchestrator {
	t.Helper()
	reg := strategies.NewRegistry()
	for _, s := range strats {
		require.NoError(t, reg.Register(s))
	}
	o := New(cfg, reg, staticSnapshot{})
	o.now = func() time.Time { return fixedNow }
	return o
}

// TestRunOnce_GraduatedStacking 同一市场依次入场 $5 / $12.50 / $20，第四次被拒
func TestRunOnce_GraduatedStacking(t *testing.T) {
	strat := &fakeStrategy{name: "arb", typ: domain.StrategyArbitrage,
		signals: []domain.StrategySignal{pairSignal("m1", domain.StrategyArbitrage, "20", "1")}}
	o := newTestOrchestrator(t, testConfig(), strat)

	for _, want := range []string{"5", "12.5", "20"} {
		out := o.RunOnce(context.Background())
		require.Len(t, out, 1)
		assert.True(t, out[0].TotalCost().Equal(d(want)), "期望成本 %s, 实际 %s", want, out[0].TotalCost())
		o.MarkPositionActive("m1")
	}

	out := o.RunOnce(context.Background())
	assert.Empty(t, out)
	require.Len(t, o.LastCycle().Skipped, 1)
	assert.Equal(t, SkipMaxStacksReached, o.LastCycle().Skipped[0].Reason)
	assert.Equal(t, 3, o.ActiveCount("m1"))

	o.MarkPositionClosed("m1")
	assert.Equal(t, 2, o.ActiveCount("m1"))
	o.ReleaseMarket("m1")
	assert.Equal(t, 0, o.ActiveCount("m1"))
}

// TestRunOnce_VirtualStackWithinCycle 同周期内同市场信号计入叠加深度
func TestRunOnce_VirtualStackWithinCycle(t *testing.T) {
	strat := &fakeStrategy{name: "arb", typ: domain.StrategyArbitrage, signals: []domain.StrategySignal{
		pairSignal("m1", domain.StrategyArbitrage, "20", "1"),
		pairSignal("m1", domain.StrategyArbitrage, "20", "1"),
		pairSignal("m1", domain.StrategyArbitrage, "20", "1"),
		pairSignal("m1", domain.StrategyArbitrage, "20", "1"),
	}}
	o := newTestOrchestrator(t, testConfig(), strat)

	out := o.RunOnce(context.Background())
	require.Len(t, out, 3)
	assert.True(t, out[0].TotalCost().Equal(d("5")))
	assert.True(t, out[1].TotalCost().Equal(d("12.5")))
	assert.True(t, out[2].TotalCost().Equal(d("20")))
	assert.Equal(t, SkipMaxStacksReached, o.LastCycle().Skipped[0].Reason)
}

// TestRunOnce_DuplicateNonStackable 非叠加类型重复市场被拒
func TestRunOnce_DuplicateNonStackable(t *testing.T) {
	strat := &fakeStrategy{name: "dir", typ: domain.StrategyDirectional,
		signals: []domain.StrategySignal{pairSignal("m1", domain.StrategyDirectional, "10", "1")}}
	o := newTestOrchestrator(t, testConfig(), strat)

	out := o.RunOnce(context.Background())
	require.Len(t, out, 1)
	assert.True(t, out[0].TotalCost().Equal(d("10")), "非叠加信号按 100% 预算，未超预算则不缩放")
	o.MarkPositionActive("m1")

	assert.Empty(t, o.RunOnce(context.Background()))
	assert.Equal(t, SkipDuplicateMarket, o.LastCycle().Skipped[0].Reason)
	assert.Equal(t, 1, o.Stats().SkipReasons[SkipDuplicateMarket])
}

// TestRunOnce_MaxConcurrent 达到并发上限后本周期停止准入
func TestRunOnce_MaxConcurrent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	strat := &fakeStrategy{name: "dir", typ: domain.StrategyDirectional, signals: []domain.StrategySignal{
		pairSignal("a", domain.StrategyDirectional, "10", "3"),
		pairSignal("b", domain.StrategyDirectional, "10", "2"),
		pairSignal("c", domain.StrategyDirectional, "10", "1"),
	}}
	o := newTestOrchestrator(t, cfg, strat)
	o.MarkPositionActive("existing")

	out := o.RunOnce(context.Background())
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].MarketID())

	report := o.LastCycle()
	require.Len(t, report.Skipped, 2)
	for _, s := range report.Skipped {
		assert.Equal(t, SkipMaxConcurrent, s.Reason)
	}
}

// TestRunOnce_SizingDrops 缩放后低于最小份额或最小金额的信号被丢弃
func TestRunOnce_SizingDrops(t *testing.T) {
	cfg := testConfig()
	cfg.Sizing.MaxOrderUSDC = d("4") // 首档预算 $1 -> 1 份/腿
	strat := &fakeStrategy{name: "arb", typ: domain.StrategyArbitrage,
		signals: []domain.StrategySignal{pairSignal("m1", domain.StrategyArbitrage, "20", "1")}}
	o := newTestOrchestrator(t, cfg, strat)
	assert.Empty(t, o.RunOnce(context.Background()))
	assert.Equal(t, SkipBelowMinShares, o.LastCycle().Skipped[0].Reason)

	cfg = testConfig()
	cfg.Sizing.MinOrderUSDC = d("8")
	o = newTestOrchestrator(t, cfg, strat)
	assert.Empty(t, o.RunOnce(context.Background()))
	assert.Equal(t, SkipBelowMinNotional, o.LastCycle().Skipped[0].Reason)
}

// TestRunOnce_MissingMarketID 缺少市场 ID 的信号被跳过
func TestRunOnce_MissingMarketID(t *testing.T) {
	sig := pairSignal("", domain.StrategyDirectional, "10", "1")
	strat := &fakeStrategy{name: "dir", typ: domain.StrategyDirectional, signals: []domain.StrategySignal{sig}}
	o := newTestOrchestrator(t, testConfig(), strat)
	assert.Empty(t, o.RunOnce(context.Background()))
	assert.Equal(t, SkipMissingMarketID, o.LastCycle().Skipped[0].Reason)
}

// TestRunOnce_StrategyFailuresIsolated 出错或 panic 的策略不影响其他策略
func TestRunOnce_StrategyFailuresIsolated(t *testing.T) {
	bad := &fakeStrategy{name: "bad", typ: domain.StrategyDirectional, err: errors.New("feed down")}
	crash := &fakeStrategy{name: "crash", typ: domain.StrategyDirectional, panics: true}
	good := &fakeStrategy{name: "good", typ: domain.StrategyDirectional,
		signals: []domain.StrategySignal{pairSignal("m1", "", "10", "1")}}
	o := newTestOrchestrator(t, testConfig(), bad, crash, good)

	out := o.RunOnce(context.Background())
	require.Len(t, out, 1)
	assert.Equal(t, "good", out[0].Strategy)
	assert.Equal(t, domain.StrategyDirectional, out[0].Type(), "缺省类型取自策略")

	stats := o.Stats()
	assert.Equal(t, 1, stats.StrategyErrors["bad"])
	assert.Equal(t, 1, stats.StrategyErrors["crash"])
	assert.Contains(t, o.LastCycle().StrategyErrors["crash"], "panic")
}

// TestRunOnce_DisabledStrategy 停用的策略不被调用
func TestRunOnce_DisabledStrategy(t *testing.T) {
	crash := &fakeStrategy{name: "crash", typ: domain.StrategyDirectional, panics: true}
	reg := strategies.NewRegistry()
	require.NoError(t, reg.Register(crash))
	require.NoError(t, reg.SetEnabled("crash", false))
	o := New(testConfig(), reg, nil)
	assert.Empty(t, o.RunOnce(context.Background()))
	assert.Empty(t, o.Stats().StrategyErrors)
}

// TestRunOnce_EnrichAndPrioritize 从快照补全结算时间，临近结算的信号优先
func TestRunOnce_EnrichAndPrioritize(t *testing.T) {
	far := pairSignal("far", domain.StrategyDirectional, "10", "1")
	soon := pairSignal("soon", domain.StrategyDirectional, "10", "1")
	strat := &fakeStrategy{name: "dir", typ: domain.StrategyDirectional, signals: []domain.StrategySignal{far, soon}}

	reg := strategies.NewRegistry()
	require.NoError(t, reg.Register(strat))
	snap := staticSnapshot{Markets: map[string]domain.MarketInfo{
		"far":  {ID: "far", EndDate: fixedNow.Add(20 * 24 * time.Hour)},
		"soon": {ID: "soon", EndDate: fixedNow.Add(6 * time.Hour)},
	}}
	o := New(testConfig(), reg, snap)
	o.now = func() time.Time { return fixedNow }

	out := o.RunOnce(context.Background())
	require.Len(t, out, 2)
	assert.Equal(t, "soon", out[0].MarketID())
	end, ok := out[0].EndDate()
	require.True(t, ok)
	assert.True(t, end.Equal(fixedNow.Add(6*time.Hour)))
	_, ok = soon.EndDate()
	assert.False(t, ok, "原信号不应被修改")
}

// TestSetSizing 动态调整预算
func TestSetSizing(t *testing.T) {
	strat := &fakeStrategy{name: "dir", typ: domain.StrategyDirectional,
		signals: []domain.StrategySignal{pairSignal("m1", domain.StrategyDirectional, "20", "1")}}
	o := newTestOrchestrator(t, testConfig(), strat)
	o.SetSizing(d("10"), d("1"), d("0.5"))
	out := o.RunOnce(context.Background())
	require.Len(t, out, 1)
	assert.True(t, out[0].TotalCost().Equal(d("10")))
}
