package executor

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/hedge"
	"github.com/betbot/gosignal/internal/metrics"
)

const hedgeStrategy = "inventory_hedge"

// EvaluateHedges 检查所有成对持仓市场的 YES/NO 份额差，返回本次下达的对冲单数量
func (e *Executor) EvaluateHedges(ctx context.Context) int {
	if !e.hedgeEnabled() {
		return 0
	}
	held := make(map[string]bool)
	for _, p := range e.ledger.Open() {
		if e.hedgeTypes[p.StrategyType] {
			held[p.MarketID] = true
		}
	}
	markets := make([]string, 0, len(held))
	for m := range held {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	placed := 0
	for _, market := range markets {
		if ctx.Err() != nil {
			break
		}
		if e.evaluateMarket(ctx, market) {
			placed++
		}
	}
	// 已无持仓的市场清除等待状态
	for _, market := range e.scheduler.DueMarkets() {
		if !held[market] {
			e.scheduler.Clear(market)
		}
	}
	return placed
}

func (e *Executor) hedgeEnabled() bool {
	return e.cfg.Hedge.Enabled && e.hedger != nil && e.scheduler != nil && e.ledger != nil && e.sim != nil
}

// tradingAllowed kill switch 与熔断器，任何下单前都要经过
func (e *Executor) tradingAllowed() bool {
	if e.killSwitchOn() {
		return false
	}
	return e.breaker == nil || e.breaker.AllowTrading()
}

// hedgeMarket 成交后只检查该市场
func (e *Executor) hedgeMarket(ctx context.Context, market string) {
	if !e.hedgeEnabled() || market == "" {
		return
	}
	e.evaluateMarket(ctx, market)
}

// hedgeLock 同一市场的对冲评估与下单串行执行
func (e *Executor) hedgeLock(market string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.hedgeLocks[market]
	if !ok {
		l = &sync.Mutex{}
		e.hedgeLocks[market] = l
	}
	return l
}

func (e *Executor) hedgeable(market string) []domain.Position {
	var out []domain.Position
	for _, p := range e.ledger.ByMarket(market) {
		if p.IsOpen() && e.hedgeTypes[p.StrategyType] {
			out = append(out, p)
		}
	}
	return out
}

// evaluateMarket hard 姿态立即对冲；maker 姿态先记录，超时后强制对冲。
// 持锁期间重新读取持仓，避免行情回调与主循环重复对冲同一差额。
func (e *Executor) evaluateMarket(ctx context.Context, market string) bool {
	lock := e.hedgeLock(market)
	lock.Lock()
	defer lock.Unlock()

	positions := e.hedgeable(market)
	if len(positions) == 0 {
		return false
	}
	pair, ok := e.pairFor(market, positions)
	if !ok {
		return false
	}
	if e.hedger.Balanced(hedge.Imbalance(positions, pair)) {
		e.scheduler.Clear(market)
		return false
	}

	forced := false
	if e.cfg.Hedge.Posture == hedge.PostureMaker {
		e.scheduler.NoteImbalance(market)
		if !e.scheduler.Due(market) {
			return false
		}
		forced = true
	}

	if !e.tradingAllowed() {
		e.mu.Lock()
		e.stats.HedgesBlocked++
		e.mu.Unlock()
		log.Debugf("[Executor] %s 存在差额但交易已暂停，跳过对冲", market)
		return false
	}

	dec := e.hedger.Decide(pair, positions, e.sim.LastQuote)
	if dec == nil {
		return false
	}
	if !e.placeHedge(ctx, pair, positions, *dec) {
		return false
	}

	e.mu.Lock()
	e.stats.HedgeEvents++
	if forced {
		e.stats.ForcedHedges++
	}
	e.mu.Unlock()
	kind := "hedge"
	if forced {
		kind = "forced"
	}
	metrics.HedgeEvents.WithLabelValues(kind).Inc()

	if e.hedger.Balanced(hedge.Imbalance(e.openIn(market), pair)) {
		e.scheduler.Clear(market)
	}
	log.Infof("[Executor] 对冲 %s: 差额 %s，买入 %s %s@%s (forced=%v)",
		market, dec.Imbalance, dec.Trade.TokenID, dec.Trade.Size, dec.Trade.Price, forced)
	return true
}

// placeHedge 以 IOC 下达对冲单，返回是否成交
func (e *Executor) placeHedge(ctx context.Context, pair hedge.Pair, positions []domain.Position, dec hedge.Decision) bool {
	t := dec.Trade
	meta := legMeta{
		MarketID:     pair.MarketID,
		Strategy:     hedgeStrategy,
		StrategyType: positions[0].StrategyType,
		Outcome:      "NO",
	}
	if t.TokenID == pair.YesToken {
		meta.Outcome = "YES"
	}

	if e.cfg.Mode == ModeLive {
		ack, err := e.placeWithRetry(ctx, t)
		if err != nil {
			log.WithError(err).Warnf("[Executor] 对冲下单失败 %s", pair.MarketID)
			return false
		}
		if !ack.Matched() {
			return false
		}
		e.applyFillWith(domain.Fill{
			OrderID: ack.OrderID, TokenID: t.TokenID, Side: t.Side, Price: t.Price, Size: t.Size,
			TimeInForce: domain.IOC, GroupID: pair.MarketID, At: e.now(),
		}, meta)
		return true
	}

	_, f := e.sim.ExecuteIOC(t, pair.MarketID)
	if f == nil {
		return false
	}
	e.applyFillWith(*f, meta)
	return true
}

func (e *Executor) openIn(market string) []domain.Position {
	var out []domain.Position
	for _, p := range e.ledger.ByMarket(market) {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// pairFor 优先使用市场目录，否则从持仓的结果标签推断
func (e *Executor) pairFor(market string, positions []domain.Position) (hedge.Pair, bool) {
	if e.pairs != nil {
		if p, ok := e.pairs.Pair(market); ok {
			return p, true
		}
	}
	pair := hedge.Pair{MarketID: market}
	for _, p := range positions {
		switch strings.ToUpper(p.Outcome) {
		case "YES":
			pair.YesToken = p.TokenID
		case "NO":
			pair.NoToken = p.TokenID
		}
	}
	return pair, pair.YesToken != "" && pair.NoToken != ""
}
