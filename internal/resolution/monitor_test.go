package resolution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/ledger"
)

type fakeSource struct {
	mu       sync.Mutex
	statuses map[string]MarketStatus
	errs     map[string]error
	calls    map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		statuses: make(map[string]MarketStatus),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeSource) MarketStatus(_ context.Context, id string) (MarketStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return MarketStatus{}, err
	}
	return f.statuses[id], nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newMonitor(t *testing.T, src Source, book PositionBook) (*Monitor, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(src, book, time.Minute)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMonitor_PlainMarket(t *testing.T) {
	l, _ := ledger.New(nil)
	yes, _ := l.OpenPosition(ledger.OpenRequest{MarketID: "m1", TokenID: "y", Outcome: "Yes", Price: d("0.40"), Quantity: d("10")})
	no, _ := l.OpenPosition(ledger.OpenRequest{MarketID: "m1", TokenID: "n", Outcome: "No", Price: d("0.55"), Quantity: d("10")})

	src := newFakeSource()
	m, now := newMonitor(t, src, l)

	assert.Empty(t, m.CheckResolutions(context.Background()), "尚未结算")

	src.statuses["m1"] = MarketStatus{MarketID: "m1", Resolved: true, WinningOutcome: "YES"}
	assert.Empty(t, m.CheckResolutions(context.Background()), "检查间隔内直接返回")

	*now = now.Add(time.Minute)
	events := m.CheckResolutions(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, []string{yes.ID}, events[0].Redeemable)
	assert.True(t, events[0].RealizedPnL.Equal(d("-5.5")))

	gy, _ := l.Get(yes.ID)
	assert.Equal(t, domain.PositionRedeemable, gy.Status)
	gn, _ := l.Get(no.ID)
	assert.Equal(t, domain.PositionClosed, gn.Status)
	assert.True(t, gn.ExitPrice.IsZero())

	assert.True(t, m.IsResolved("m1"))
	assert.True(t, m.RedeemableValue().Equal(d("10")))

	// 幂等：已结算市场不再查询
	*now = now.Add(time.Minute)
	calls := src.calls["m1"]
	assert.Empty(t, m.CheckResolutions(context.Background()))
	assert.Equal(t, calls, src.calls["m1"])
}

func TestMonitor_SourceErrorRetries(t *testing.T) {
	l, _ := ledger.New(nil)
	l.OpenPosition(ledger.OpenRequest{MarketID: "m1", TokenID: "y", Outcome: "Yes", Price: d("0.40"), Quantity: d("1")})
	src := newFakeSource()
	src.errs["m1"] = errors.New("timeout")
	m, now := newMonitor(t, src, l)

	assert.Empty(t, m.CheckResolutions(context.Background()))
	assert.Equal(t, 1, m.Stats().SourceErrors)

	delete(src.errs, "m1")
	src.statuses["m1"] = MarketStatus{Resolved: true, WinningOutcome: "Yes"}
	*now = now.Add(time.Minute)
	assert.Len(t, m.CheckResolutions(context.Background()), 1)
}

func openBracket(t *testing.T, l *ledger.Ledger, token, bracket string) domain.Position {
	t.Helper()
	p, err := l.OpenPosition(ledger.OpenRequest{
		MarketID: "0xgroup", TokenID: token, Outcome: "Yes", StrategyType: domain.StrategyMultiOutcomeArb,
		Price: d("0.45"), Quantity: d("10"),
		Metadata: map[string]string{domain.MetaBracketMarketID: bracket},
	})
	require.NoError(t, err)
	return p
}

// TestMonitor_TwoBracketGroup 两个 bracket：一个结算为 No，另一个为 Yes
func TestMonitor_TwoBracketGroup(t *testing.T) {
	l, _ := ledger.New(nil)
	a := openBracket(t, l, "tokA", "bracketA")
	b := openBracket(t, l, "tokB", "bracketB")

	src := newFakeSource()
	src.statuses["bracketA"] = MarketStatus{Resolved: true, WinningOutcome: "No", Question: "A?"}
	src.statuses["bracketB"] = MarketStatus{Resolved: true, WinningOutcome: "Yes", Question: "B?"}
	m, _ := newMonitor(t, src, l)

	events := m.CheckResolutions(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, "0xgroup", events[0].MarketID)
	assert.Equal(t, []string{b.ID}, events[0].Redeemable)

	ga, _ := l.Get(a.ID)
	assert.Equal(t, domain.PositionClosed, ga.Status)
	assert.True(t, ga.RealizedPnL.Equal(d("-4.5")))
	gb, _ := l.Get(b.ID)
	assert.Equal(t, domain.PositionRedeemable, gb.Status)
	assert.True(t, gb.UnrealizedPnL.Equal(d("5.5")))
}

// TestMonitor_GroupDeferredOnError 分组已结算但赢家未知且有查询失败时推迟
func TestMonitor_GroupDeferredOnError(t *testing.T) {
	l, _ := ledger.New(nil)
	a := openBracket(t, l, "tokA", "bracketA")
	openBracket(t, l, "tokB", "bracketB")

	src := newFakeSource()
	src.statuses["bracketA"] = MarketStatus{Resolved: true, WinningOutcome: "No"}
	src.errs["bracketB"] = errors.New("502")
	m, now := newMonitor(t, src, l)

	assert.Empty(t, m.CheckResolutions(context.Background()))
	assert.Equal(t, 1, m.Stats().Deferred)
	ga, _ := l.Get(a.ID)
	assert.Equal(t, domain.PositionOpen, ga.Status, "推迟期间不平仓")

	delete(src.errs, "bracketB")
	src.statuses["bracketB"] = MarketStatus{Resolved: true, WinningOutcome: "Yes"}
	*now = now.Add(time.Minute)
	events := m.CheckResolutions(context.Background())
	require.Len(t, events, 1)
	assert.Len(t, events[0].Redeemable, 1)
}

// TestMonitor_GroupNoWinnerHeld 没持有赢家时全部按 0 平仓
func TestMonitor_GroupNoWinnerHeld(t *testing.T) {
	l, _ := ledger.New(nil)
	openBracket(t, l, "tokA", "bracketA")
	openBracket(t, l, "tokB", "bracketB")

	src := newFakeSource()
	src.statuses["bracketA"] = MarketStatus{Resolved: true, WinningOutcome: "No"}
	src.statuses["bracketB"] = MarketStatus{Resolved: true, WinningOutcome: "No"}
	m, _ := newMonitor(t, src, l)

	events := m.CheckResolutions(context.Background())
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Redeemable)
	assert.Empty(t, l.Open())
	assert.Equal(t, 2, m.Stats().Lost)
}

// TestMonitor_GroupEarlyLosingBracketWaits 先结算的 bracket 为 No 时不动其他腿，等赢家出现
func TestMonitor_GroupEarlyLosingBracketWaits(t *testing.T) {
	l, _ := ledger.New(nil)
	a := openBracket(t, l, "tokA", "bracketA")
	b := openBracket(t, l, "tokB", "bracketB")

	src := newFakeSource()
	src.statuses["bracketA"] = MarketStatus{Resolved: true, WinningOutcome: "No"}
	m, now := newMonitor(t, src, l)

	assert.Empty(t, m.CheckResolutions(context.Background()))
	assert.False(t, m.IsResolved("0xgroup"), "赢家未知时不记录为已结算")
	assert.Equal(t, 1, m.Stats().Deferred)
	for _, id := range []string{a.ID, b.ID} {
		p, _ := l.Get(id)
		assert.Equal(t, domain.PositionOpen, p.Status)
	}

	src.statuses["bracketB"] = MarketStatus{Resolved: true, WinningOutcome: "Yes", Question: "B?"}
	*now = now.Add(time.Minute)
	events := m.CheckResolutions(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, []string{b.ID}, events[0].Redeemable)
	assert.Equal(t, "Yes", events[0].WinningOutcome)

	gb, _ := l.Get(b.ID)
	assert.Equal(t, domain.PositionRedeemable, gb.Status, "真正的获胜 bracket 可赎回")
	ga, _ := l.Get(a.ID)
	assert.Equal(t, domain.PositionClosed, ga.Status)
	assert.True(t, m.IsResolved("0xgroup"))
}

// TestMonitor_GroupWinnerWithoutOutcomeLabel 仓位没有结果标签时按 bracket 市场结果判定
func TestMonitor_GroupWinnerWithoutOutcomeLabel(t *testing.T) {
	l, _ := ledger.New(nil)
	open := func(token, bracket, price string) domain.Position {
		p, err := l.OpenPosition(ledger.OpenRequest{
			MarketID: "0xgroup", TokenID: token, StrategyType: domain.StrategyMultiOutcomeArb,
			Price: d(price), Quantity: d("10"),
			Metadata: map[string]string{domain.MetaBracketMarketID: bracket},
		})
		require.NoError(t, err)
		return p
	}
	w := open("tok_w", "0xwinner", "0.20")
	lo := open("tok_l", "0xloser", "0.30")

	src := newFakeSource()
	src.statuses["0xwinner"] = MarketStatus{Resolved: true, WinningOutcome: "YES", Question: "Winner bracket"}
	m, _ := newMonitor(t, src, l)

	events := m.CheckResolutions(context.Background())
	require.Len(t, events, 1)
	gw, _ := l.Get(w.ID)
	assert.Equal(t, domain.PositionRedeemable, gw.Status)
	gl, _ := l.Get(lo.ID)
	assert.Equal(t, domain.PositionClosed, gl.Status)
	assert.True(t, gl.RealizedPnL.Equal(d("-3")))
}
