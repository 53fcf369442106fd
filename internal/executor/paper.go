package executor

import (
	"context"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/metrics"
	"github.com/betbot/gosignal/internal/paper"
	"github.com/shopspring/decimal"
)

// executePaper FOK 腿原子撮合，IOC 腿立即撮合，GTC 腿挂单等待行情
func (e *Executor) executePaper(ctx context.Context, sig domain.StrategySignal, res *ExecutionResult) {
	group := sig.MarketID()
	e.registerLegs(sig)

	var fok, rest []domain.Trade
	for _, t := range sig.Trades {
		if t.TimeInForce == domain.FOK {
			fok = append(fok, t)
		} else {
			rest = append(rest, t)
		}
	}

	var fills []domain.Fill
	if len(fok) > 0 {
		orders, ff := e.sim.ExecuteFOKGroup(fok, group)
		res.OrderIDs = append(res.OrderIDs, orderIDs(orders)...)
		if len(ff) == 0 {
			res.Reason = ReasonFOKUnfilled
			return
		}
		fills = append(fills, ff...)
	}

	resting := 0
	for _, t := range rest {
		switch t.TimeInForce {
		case domain.IOC:
			o, f := e.sim.ExecuteIOC(t, group)
			res.OrderIDs = append(res.OrderIDs, o.ID)
			if f != nil {
				fills = append(fills, *f)
			}
		default:
			o, ff := e.sim.Submit(t, group)
			res.OrderIDs = append(res.OrderIDs, o.ID)
			fills = append(fills, ff...)
			if o.IsResting() {
				resting++
			}
		}
	}

	for _, f := range fills {
		e.applyFill(f)
	}
	res.Fills = fills
	if len(fills) == 0 && resting == 0 {
		res.Reason = ReasonNoFill
		return
	}
	res.Success = true

	if len(fills) > 0 {
		e.hedgeMarket(ctx, group)
	}
}

// OnMarketUpdate 行情入口：撮合挂单、成交入账、撤单重挂，然后检查受影响市场的对冲
func (e *Executor) OnMarketUpdate(ctx context.Context, tokenID string, bid, ask *decimal.Decimal) []domain.Fill {
	if e.sim == nil {
		return nil
	}
	fills := e.sim.UpdateMarket(tokenID, bid, ask)
	markets := make(map[string]bool)
	for _, f := range fills {
		e.applyFill(f)
		markets[f.GroupID] = true
	}

	if e.requoter != nil {
		for _, group := range e.groupsRestingOn(tokenID) {
			if n := len(e.requoter.Run(group)); n > 0 {
				metrics.Requotes.Add(float64(n))
			}
		}
	}

	for market := range markets {
		e.hedgeMarket(ctx, market)
	}
	return fills
}

// groupsRestingOn 在该 token 上有挂单的分组
func (e *Executor) groupsRestingOn(tokenID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range e.sim.OpenGTCOrders("") {
		if o.TokenID == tokenID && o.GroupID != "" && !seen[o.GroupID] {
			seen[o.GroupID] = true
			out = append(out, o.GroupID)
		}
	}
	return out
}

func orderIDs(orders []paper.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
