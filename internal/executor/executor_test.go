package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/hedge"
	"github.com/betbot/gosignal/internal/ledger"
	"github.com/betbot/gosignal/internal/paper"
	"github.com/betbot/gosignal/internal/risk"
	"github.com/betbot/gosignal/internal/venue"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeStrategy struct {
	ok     bool
	reason string
}

func (f fakeStrategy) Name() string              { return "fake" }
func (f fakeStrategy) Type() domain.StrategyType { return domain.StrategyArbitrage }
func (f fakeStrategy) Scan(context.Context, domain.MarketSnapshot) ([]domain.StrategySignal, error) {
	return nil, nil
}
func (f fakeStrategy) Validate(domain.StrategySignal) (bool, string) { return f.ok, f.reason }

type memJournal struct{ rows []ExecutionResult }

func (j *memJournal) RecordExecution(r ExecutionResult) error {
	j.rows = append(j.rows, r)
	return nil
}

type harness struct {
	now     time.Time
	sim     *paper.Simulator
	ledger  *ledger.Ledger
	breaker *risk.CircuitBreaker
	journal *memJournal
	exec    *Executor
}

func (h *harness) clock() time.Time { return h.now }

func newHarness(t *testing.T, cfg Config, checkCfg risk.CheckConfig) *harness {
	t.Helper()
	h := &harness{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), journal: &memJournal{}}
	h.sim = paper.NewSimulator(paper.Config{FillProbability: 1, Seed: 7}, paper.WithClock(h.clock))
	var err error
	h.ledger, err = ledger.New(nil, ledger.WithClock(h.clock))
	require.NoError(t, err)
	h.breaker = risk.NewCircuitBreaker(risk.DefaultCircuitBreakerConfig(), h.clock)
	h.exec = New(cfg, Deps{
		Simulator: h.sim,
		Ledger:    h.ledger,
		Breaker:   h.breaker,
		Checker:   risk.NewPreTradeChecker(checkCfg, h.ledger, h.sim, nil),
		Hedger:    hedge.NewHedger(hedge.DefaultConfig()),
		Scheduler: hedge.NewScheduler(time.Minute, h.clock),
		Journal:   h.journal,
	})
	h.exec.now = h.clock
	return h
}

func (h *harness) quote(token, bid, ask string) {
	var b, a *decimal.Decimal
	if bid != "" {
		b = domain.DecPtr(d(bid))
	}
	if ask != "" {
		a = domain.DecPtr(d(ask))
	}
	h.sim.UpdateMarket(token, b, a)
}

func pairSignal(yesSize, noSize string, tif domain.TimeInForce) domain.StrategySignal {
	return domain.StrategySignal{
		Strategy: "pairarb",
		Opportunity: domain.Opportunity{
			StrategyType:   domain.StrategyArbitrage,
			ExpectedProfit: d("0.5"),
			Metadata:       map[string]any{domain.MetaMarketID: "m1"},
		},
		Trades: []domain.Trade{
			{TokenID: "yes", Side: domain.SideBuy, Size: d(yesSize), Price: d("0.45"), TimeInForce: tif, Outcome: "YES"},
			{TokenID: "no", Side: domain.SideBuy, Size: d(noSize), Price: d("0.50"), TimeInForce: tif, Outcome: "NO"},
		},
	}
}

func defaultCheck() risk.CheckConfig {
	return risk.CheckConfig{MaxInventoryPerCondition: d("100"), MaxOpenGTCPerCondition: 4, Bankroll: d("1000")}
}

func TestExecuteSignal_Gates(t *testing.T) {
	t.Run("kill switch", func(t *testing.T) {
		h := newHarness(t, Config{KillSwitch: true}, defaultCheck())
		res := h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), nil)
		assert.False(t, res.Success)
		assert.Equal(t, ReasonKillSwitch, res.Reason)
		assert.Equal(t, 0, h.sim.Stats().Submitted)

		h.exec.SetKillSwitch(false)
		h.quote("yes", "0.44", "0.45")
		h.quote("no", "0.49", "0.50")
		assert.True(t, h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), nil).Success)
	})

	t.Run("breaker", func(t *testing.T) {
		h := newHarness(t, Config{}, defaultCheck())
		h.breaker.ForceTrip("test")
		res := h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), nil)
		assert.Equal(t, "circuit_breaker_cooldown", res.Reason)
	})

	t.Run("validation", func(t *testing.T) {
		h := newHarness(t, Config{}, defaultCheck())
		res := h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), fakeStrategy{reason: "edge_gone"})
		assert.Equal(t, "validation_failed_edge_gone", res.Reason)
	})

	t.Run("risk check places no orders", func(t *testing.T) {
		check := defaultCheck()
		check.MaxInventoryPerCondition = d("5")
		h := newHarness(t, Config{}, check)
		h.quote("yes", "0.44", "0.45")
		h.quote("no", "0.49", "0.50")
		res := h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), fakeStrategy{ok: true})
		assert.Equal(t, "risk_check_failed_"+risk.ReasonMaxInventory, res.Reason)
		assert.Equal(t, 0, h.sim.Stats().Submitted)
		assert.Empty(t, h.ledger.Open())
	})
}

func TestExecuteSignal_PaperFOK(t *testing.T) {
	h := newHarness(t, Config{Hedge: HedgeConfig{Enabled: true}}, defaultCheck())
	h.quote("yes", "0.44", "0.45")
	h.quote("no", "0.49", "0.50")

	res := h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), fakeStrategy{ok: true})
	require.True(t, res.Success, res.Reason)
	assert.Len(t, res.OrderIDs, 2)
	assert.Len(t, res.Fills, 2)
	assert.NotEmpty(t, res.ID)

	open := h.ledger.Open()
	require.Len(t, open, 2)
	assert.Equal(t, "m1", open[0].MarketID)
	assert.Equal(t, "pairarb", open[0].Strategy)
	assert.True(t, h.ledger.TotalOpenCost().Equal(d("9.5")))

	stats := h.exec.Stats()
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 0, stats.HedgeEvents, "均衡持仓不对冲")
	assert.True(t, stats.ByStrategy["pairarb"].Cost.Equal(d("9.5")))
	require.Len(t, h.journal.rows, 1)
	assert.Equal(t, res.ID, h.journal.rows[0].ID)
}

func TestExecuteSignal_PaperFOKUnmarketable(t *testing.T) {
	h := newHarness(t, Config{}, defaultCheck())
	h.quote("yes", "0.44", "0.46")
	h.quote("no", "0.49", "0.50")

	res := h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), nil)
	assert.Equal(t, ReasonFOKUnfilled, res.Reason)
	assert.Empty(t, h.ledger.Open(), "FOK 任一腿不可成交则全部不成交")
	assert.Equal(t, 1, h.exec.Stats().FailureReasons[ReasonFOKUnfilled])
}

func TestExecuteSignal_GTCRestsThenFills(t *testing.T) {
	h := newHarness(t, Config{}, defaultCheck())
	h.quote("yes", "0.39", "0.41")

	sig := domain.StrategySignal{
		Strategy: "maker",
		Opportunity: domain.Opportunity{
			StrategyType: domain.StrategyMarketMaking,
			Metadata:     map[string]any{domain.MetaMarketID: "m1"},
		},
		Trades: []domain.Trade{{TokenID: "yes", Side: domain.SideBuy, Size: d("10"), Price: d("0.40"), TimeInForce: domain.GTC, Outcome: "YES"}},
	}
	res := h.exec.ExecuteSignal(context.Background(), sig, nil)
	require.True(t, res.Success)
	assert.Empty(t, res.Fills)
	assert.Empty(t, h.ledger.Open())
	assert.Equal(t, 1, h.exec.Stats().OpenGTCByGroup["m1"])

	fills := h.exec.OnMarketUpdate(context.Background(), "yes", domain.DecPtr(d("0.39")), domain.DecPtr(d("0.40")))
	require.Len(t, fills, 1)
	open := h.ledger.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "maker", open[0].Strategy)
	assert.Equal(t, domain.StrategyMarketMaking, open[0].StrategyType)
	assert.True(t, open[0].EntryPrice.Equal(d("0.40")))
}

func TestExecuteSignal_SellFeedsBreaker(t *testing.T) {
	h := newHarness(t, Config{}, defaultCheck())
	h.quote("yes", "0.44", "0.45")
	h.quote("no", "0.49", "0.50")
	require.True(t, h.exec.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), nil).Success)

	h.quote("yes", "0.30", "0.32")
	sell := domain.StrategySignal{
		Strategy: "exit",
		Opportunity: domain.Opportunity{
			StrategyType: domain.StrategyDirectional,
			Metadata:     map[string]any{domain.MetaMarketID: "m1"},
		},
		Trades: []domain.Trade{{TokenID: "yes", Side: domain.SideSell, Size: d("10"), Price: d("0.30"), TimeInForce: domain.IOC}},
	}
	res := h.exec.ExecuteSignal(context.Background(), sell, nil)
	require.True(t, res.Success)

	bs := h.breaker.Stats()
	assert.True(t, bs.DailyPnL.Equal(d("-1.5")), "卖出亏损 (0.30-0.45)*10")
	assert.Equal(t, 1, bs.ConsecutiveLosses)
	assert.Len(t, h.ledger.Open(), 1)
}

func TestHedge_HardPosture(t *testing.T) {
	h := newHarness(t, Config{Hedge: HedgeConfig{Enabled: true, Posture: hedge.PostureHard}}, defaultCheck())
	h.quote("yes", "0.44", "0.45")
	h.quote("no", "0.49", "0.50")

	require.True(t, h.exec.ExecuteSignal(context.Background(), pairSignal("10", "4", domain.FOK), nil).Success)

	net := h.ledger.NetSharesByToken()
	assert.True(t, net["yes"].Equal(net["no"]), "hard 姿态立即补齐 NO")
	stats := h.exec.Stats()
	assert.Equal(t, 1, stats.HedgeEvents)
	assert.Equal(t, 0, stats.ForcedHedges)
	assert.Equal(t, 0, stats.PendingHedges)
}

func TestHedge_MakerPostureForcesAfterTimeout(t *testing.T) {
	h := newHarness(t, Config{Hedge: HedgeConfig{Enabled: true, Posture: hedge.PostureMaker}}, defaultCheck())
	h.quote("yes", "0.44", "0.45")
	h.quote("no", "0.49", "0.50")

	require.True(t, h.exec.ExecuteSignal(context.Background(), pairSignal("10", "4", domain.FOK), nil).Success)
	assert.Equal(t, 0, h.exec.Stats().HedgeEvents, "maker 姿态先等待")
	assert.Equal(t, 1, h.exec.Stats().PendingHedges)

	assert.Equal(t, 0, h.exec.EvaluateHedges(context.Background()))

	h.now = h.now.Add(2 * time.Minute)
	assert.Equal(t, 1, h.exec.EvaluateHedges(context.Background()))
	stats := h.exec.Stats()
	assert.Equal(t, 1, stats.HedgeEvents)
	assert.Equal(t, 1, stats.ForcedHedges)
	assert.Equal(t, 0, stats.PendingHedges)
}

func TestHedge_SkipsDirectional(t *testing.T) {
	h := newHarness(t, Config{Hedge: HedgeConfig{Enabled: true}}, defaultCheck())
	h.quote("yes", "0.44", "0.45")
	h.quote("no", "0.49", "0.50")
	sig := pairSignal("10", "4", domain.FOK)
	sig.Opportunity.StrategyType = domain.StrategyDirectional
	require.True(t, h.exec.ExecuteSignal(context.Background(), sig, nil).Success)
	assert.Equal(t, 0, h.exec.EvaluateHedges(context.Background()))
	assert.Equal(t, 0, h.exec.Stats().HedgeEvents)
}

type fakeVenue struct {
	errs     []error
	acks     []venue.OrderAck
	calls    int
	canceled []string
}

func (v *fakeVenue) PlaceOrder(_ context.Context, _ venue.OrderRequest) (venue.OrderAck, error) {
	i := v.calls
	v.calls++
	if i < len(v.errs) && v.errs[i] != nil {
		return venue.OrderAck{}, v.errs[i]
	}
	if i < len(v.acks) {
		return v.acks[i], nil
	}
	return venue.OrderAck{OrderID: "ok", Status: "matched"}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, id string) error {
	v.canceled = append(v.canceled, id)
	return nil
}

func newLive(t *testing.T, v *fakeVenue) (*Executor, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.New(nil)
	require.NoError(t, err)
	e := New(Config{Mode: ModeLive, RetryAttempts: 2, RetryDelay: time.Millisecond}, Deps{Ledger: led, Venue: v})
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e, led
}

func TestLive_RetriesRateLimited(t *testing.T) {
	v := &fakeVenue{errs: []error{&venue.RejectError{Kind: venue.KindRateLimited}}}
	e, led := newLive(t, v)
	require.Equal(t, ModeLive, e.Mode())

	sig := pairSignal("10", "10", domain.FOK)
	sig.Trades = sig.Trades[:1]
	res := e.ExecuteSignal(context.Background(), sig, nil)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, 2, v.calls)
	assert.Len(t, led.Open(), 1)
}

func TestLive_NonRetryableRejection(t *testing.T) {
	v := &fakeVenue{errs: []error{&venue.RejectError{Kind: venue.KindInsufficientFunds}}}
	e, led := newLive(t, v)

	res := e.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), nil)
	assert.Equal(t, "venue_rejected_insufficient_funds", res.Reason)
	assert.Equal(t, 1, v.calls)
	assert.Empty(t, led.Open())
}

func TestLive_CancelsUnfilledLegOnFailure(t *testing.T) {
	v := &fakeVenue{
		acks: []venue.OrderAck{{OrderID: "leg1", Status: "live"}},
		errs: []error{nil, &venue.RejectError{Kind: venue.KindMinNotional}},
	}
	e, _ := newLive(t, v)

	res := e.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.GTC), nil)
	assert.Equal(t, "venue_rejected_min_notional", res.Reason)
	assert.Equal(t, []string{"leg1"}, v.canceled)
}

func TestNew_LiveWithoutVenueFallsBack(t *testing.T) {
	e := New(Config{Mode: ModeLive}, Deps{})
	assert.Equal(t, ModePaper, e.Mode())
}

type staticPairs map[string]hedge.Pair

func (p staticPairs) Pair(market string) (hedge.Pair, bool) {
	pair, ok := p[market]
	return pair, ok
}

// openImbalanced 直接在账本里放一组 YES 10 / NO 4 的套利仓位
func (h *harness) openImbalanced(t *testing.T) {
	t.Helper()
	for _, leg := range []struct{ token, outcome, price, qty string }{
		{"yes", "YES", "0.45", "10"},
		{"no", "NO", "0.50", "4"},
	} {
		_, err := h.ledger.OpenPosition(ledger.OpenRequest{
			MarketID: "m1", TokenID: leg.token, Outcome: leg.outcome,
			Strategy: "pairarb", StrategyType: domain.StrategyArbitrage,
			Price: d(leg.price), Quantity: d(leg.qty),
		})
		require.NoError(t, err)
	}
}

func TestHedge_RespectsBreakerAndKillSwitch(t *testing.T) {
	h := newHarness(t, Config{Hedge: HedgeConfig{Enabled: true, Posture: hedge.PostureHard}}, defaultCheck())
	h.quote("yes", "0.44", "0.45")
	h.quote("no", "0.54", "0.55")
	h.openImbalanced(t)
	submitted := h.sim.Stats().Submitted

	h.breaker.ForceTrip("manual")
	assert.Equal(t, 0, h.exec.EvaluateHedges(context.Background()), "熔断期间不下对冲单")

	h.breaker.Reset()
	h.exec.SetKillSwitch(true)
	assert.Equal(t, 0, h.exec.EvaluateHedges(context.Background()), "kill switch 打开时不下对冲单")

	assert.Equal(t, submitted, h.sim.Stats().Submitted, "暂停期间没有新订单")
	assert.Len(t, h.ledger.Open(), 2)
	stats := h.exec.Stats()
	assert.Equal(t, 0, stats.HedgeEvents)
	assert.Equal(t, 2, stats.HedgesBlocked)

	h.exec.SetKillSwitch(false)
	assert.Equal(t, 1, h.exec.EvaluateHedges(context.Background()), "恢复后补齐差额")
	net := h.ledger.NetSharesByToken()
	assert.True(t, net["yes"].Equal(net["no"]))
}

func TestHedge_ConcurrentEvaluationHedgesOnce(t *testing.T) {
	h := newHarness(t, Config{Hedge: HedgeConfig{Enabled: true, Posture: hedge.PostureHard}}, defaultCheck())
	h.quote("yes", "0.44", "0.45")
	h.quote("no", "0.49", "0.50")
	h.openImbalanced(t)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := h.exec.EvaluateHedges(context.Background())
			mu.Lock()
			placed += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed, "同一差额只对冲一次")
	net := h.ledger.NetSharesByToken()
	assert.True(t, net["no"].Equal(d("10")), "no=%s", net["no"])
	assert.Equal(t, 1, h.exec.Stats().HedgeEvents)
}

func TestLive_PartialFillHedgesOneSidedExposure(t *testing.T) {
	v := &fakeVenue{errs: []error{nil, &venue.RejectError{Kind: venue.KindMinNotional}}}
	led, err := ledger.New(nil)
	require.NoError(t, err)
	sim := paper.NewSimulator(paper.Config{FillProbability: 1, Seed: 7})
	sim.UpdateMarket("yes", domain.DecPtr(d("0.44")), domain.DecPtr(d("0.45")))
	sim.UpdateMarket("no", domain.DecPtr(d("0.49")), domain.DecPtr(d("0.50")))

	e := New(Config{
		Mode:          ModeLive,
		RetryAttempts: 1,
		Hedge:         HedgeConfig{Enabled: true, Posture: hedge.PostureHard},
	}, Deps{
		Simulator: sim,
		Ledger:    led,
		Venue:     v,
		Hedger:    hedge.NewHedger(hedge.DefaultConfig()),
		Scheduler: hedge.NewScheduler(time.Minute, time.Now),
		Pairs:     staticPairs{"m1": {MarketID: "m1", YesToken: "yes", NoToken: "no"}},
	})
	e.sleep = func(context.Context, time.Duration) error { return nil }

	res := e.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.FOK), nil)
	assert.False(t, res.Success)
	assert.Equal(t, "venue_rejected_min_notional", res.Reason)
	require.Len(t, res.Fills, 1, "第一条腿已成交")
	assert.True(t, res.HoldsExposure(), "失败但持有仓位，市场仍需占用准入")

	assert.Equal(t, 3, v.calls, "两条腿加一笔对冲")
	net := led.NetSharesByToken()
	assert.True(t, net["yes"].Equal(net["no"]), "单边敞口已对冲 yes=%s no=%s", net["yes"], net["no"])
	assert.Equal(t, 1, e.Stats().HedgeEvents)
}

func TestLive_OpenGTCCapCountsVenueOrders(t *testing.T) {
	v := &fakeVenue{acks: []venue.OrderAck{
		{OrderID: "g1", Status: "live"},
		{OrderID: "g2", Status: "live"},
	}}
	led, err := ledger.New(nil)
	require.NoError(t, err)
	check := risk.NewPreTradeChecker(risk.CheckConfig{MaxOpenGTCPerCondition: 2, Bankroll: d("1000")}, led, nil, nil)
	e := New(Config{Mode: ModeLive}, Deps{Ledger: led, Venue: v, Checker: check})

	res := e.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.GTC), nil)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, map[string]int{"m1": 2}, e.OpenGTCCountByGroup())

	res = e.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.GTC), nil)
	assert.Equal(t, "risk_check_failed_max_open_gtc_orders_per_condition", res.Reason, "live 挂单也计入上限")
	assert.Equal(t, 2, v.calls, "被拒信号不下单")

	assert.Equal(t, 2, e.CancelMarketOrders(context.Background(), "m1"))
	assert.Equal(t, []string{"g1", "g2"}, v.canceled)
	assert.Empty(t, e.OpenGTCCountByGroup())

	res = e.ExecuteSignal(context.Background(), pairSignal("10", "10", domain.GTC), nil)
	assert.True(t, res.Success, res.Reason)
}
