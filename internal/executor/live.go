package executor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/metrics"
	"github.com/betbot/gosignal/internal/venue"
)

// executeLive 逐腿签名下单；后续腿失败时尽力撤销已挂未成交的腿
func (e *Executor) executeLive(ctx context.Context, sig domain.StrategySignal, res *ExecutionResult) {
	group := sig.MarketID()
	e.registerLegs(sig)

	var (
		unfilled []string
		resting  = make(map[string]liveOrder)
	)
	for _, t := range sig.Trades {
		ack, err := e.placeWithRetry(ctx, t)
		if err != nil {
			res.Reason = ReasonVenuePrefix + string(rejectKind(err))
			res.Error = err.Error()
			e.cancelBestEffort(ctx, unfilled)
			break
		}
		res.OrderIDs = append(res.OrderIDs, ack.OrderID)
		if !ack.Matched() {
			unfilled = append(unfilled, ack.OrderID)
			if t.TimeInForce == domain.GTC && ack.OrderID != "" {
				resting[ack.OrderID] = liveOrder{GroupID: group, TokenID: t.TokenID, PlacedAt: e.now()}
			}
			continue
		}
		f := domain.Fill{
			OrderID:     ack.OrderID,
			TokenID:     t.TokenID,
			Side:        t.Side,
			Price:       t.Price,
			Size:        t.Size,
			TimeInForce: t.TimeInForce,
			GroupID:     group,
			At:          e.now(),
		}
		e.applyFill(f)
		res.Fills = append(res.Fills, f)
	}

	if res.Reason != "" {
		// 前面的腿已成交：留下的是单边敞口，立即尝试对冲
		if len(res.Fills) > 0 {
			log.Warnf("[Executor] %s 部分腿已成交 (%d/%d)，尝试对冲单边敞口", group, len(res.Fills), len(sig.Trades))
			e.hedgeMarket(ctx, group)
		}
		return
	}
	res.Success = true
	if len(resting) > 0 {
		e.mu.Lock()
		for id, o := range resting {
			e.liveOpen[id] = o
		}
		e.mu.Unlock()
	}
	if len(res.Fills) > 0 {
		e.hedgeMarket(ctx, group)
	}
}

// liveOrder 实盘已挂出、尚未撤销的 GTC 订单
type liveOrder struct {
	GroupID  string
	TokenID  string
	PlacedAt time.Time
}

// OpenGTCCountByGroup 每个市场的挂单数：paper 模式取模拟器，live 模式取已挂出的订单
func (e *Executor) OpenGTCCountByGroup() map[string]int {
	if e.cfg.Mode != ModeLive {
		if e.sim == nil {
			return map[string]int{}
		}
		return e.sim.OpenGTCCountByGroup()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int)
	for _, o := range e.liveOpen {
		out[o.GroupID]++
	}
	return out
}

// CancelMarketOrders 撤掉市场上的全部挂单并停止跟踪，返回撤单数量
func (e *Executor) CancelMarketOrders(ctx context.Context, market string) int {
	if e.cfg.Mode != ModeLive {
		if e.sim == nil {
			return 0
		}
		return len(e.sim.CancelGroup(market))
	}
	e.mu.Lock()
	var ids []string
	for id, o := range e.liveOpen {
		if o.GroupID == market {
			ids = append(ids, id)
			delete(e.liveOpen, id)
		}
	}
	e.mu.Unlock()
	sort.Strings(ids)
	e.cancelBestEffort(ctx, ids)
	return len(ids)
}

// placeWithRetry 只对 blocked / rate_limited 重试，等待时间线性增长
func (e *Executor) placeWithRetry(ctx context.Context, t domain.Trade) (venue.OrderAck, error) {
	req := venue.OrderRequest{
		TokenID:     t.TokenID,
		Side:        t.Side,
		Price:       t.Price,
		Size:        t.Size,
		TimeInForce: t.TimeInForce,
	}
	var lastErr error
	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, time.Duration(attempt)*e.cfg.RetryDelay); err != nil {
				return venue.OrderAck{}, err
			}
		}
		ack, err := e.venue.PlaceOrder(ctx, req)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		kind := rejectKind(err)
		metrics.VenueRejections.WithLabelValues(string(kind)).Inc()
		if !kind.Retryable() {
			return venue.OrderAck{}, err
		}
		log.Warnf("[Executor] 下单被拒 (%s)，第 %d/%d 次重试", kind, attempt+1, e.cfg.RetryAttempts)
	}
	return venue.OrderAck{}, lastErr
}

func (e *Executor) cancelBestEffort(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.venue.CancelOrder(ctx, id); err != nil {
			log.WithError(err).Warnf("[Executor] 撤销未成交腿 %s 失败", id)
		}
	}
}

func rejectKind(err error) venue.RejectKind {
	var rej *venue.RejectError
	if errors.As(err, &rej) {
		return rej.Kind
	}
	return venue.KindUnknown
}
