// Package pairarb 二元市场互补套利：同时买入 YES 与 NO，成本低于 1 时锁定差价
package pairarb

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/strategies"
)

// Name 策略名
const Name = "pairarb"

var one = decimal.NewFromInt(1)

// QuoteSource 执行前复核使用的实时报价
type QuoteSource interface {
	Quote(tokenID string) (domain.Quote, bool)
}

// Strategy 互补套利
type Strategy struct {
	cfg    Config
	quotes QuoteSource
}

var _ strategies.Strategy = (*Strategy)(nil)

// New 创建策略；quotes 为 nil 时 Validate 只做结构检查
func New(cfg Config, quotes QuoteSource) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{cfg: cfg, quotes: quotes}, nil
}

func (s *Strategy) Name() string              { return Name }
func (s *Strategy) Type() domain.StrategyType { return domain.StrategyArbitrage }

// threshold 两腿 ask 之和必须低于该值
func (s *Strategy) threshold() decimal.Decimal {
	return one.Sub(s.cfg.MinEdge)
}

// Scan 遍历二元市场，按市场 ID 排序保证输出稳定
func (s *Strategy) Scan(ctx context.Context, snap domain.MarketSnapshot) ([]domain.StrategySignal, error) {
	ids := make([]string, 0, len(snap.Markets))
	for id := range snap.Markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []domain.StrategySignal
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		m := snap.Markets[id]
		if m.Closed || m.Resolved {
			continue
		}
		yes, no, ok := m.YesNo()
		if !ok {
			continue
		}
		yesAsk, ok1 := bestAsk(snap, yes)
		noAsk, ok2 := bestAsk(snap, no)
		if !ok1 || !ok2 {
			continue
		}
		cost := yesAsk.Add(noAsk)
		if !cost.LessThan(s.threshold()) {
			continue
		}
		out = append(out, s.signal(m, yes, no, yesAsk, noAsk, snap.At))
	}
	return out, nil
}

func bestAsk(snap domain.MarketSnapshot, token string) (decimal.Decimal, bool) {
	q, ok := snap.Quote(token)
	if !ok || q.BestAsk == nil || !q.BestAsk.IsPositive() {
		return decimal.Zero, false
	}
	return *q.BestAsk, true
}

func (s *Strategy) signal(m domain.MarketInfo, yes, no string, yesAsk, noAsk decimal.Decimal, at time.Time) domain.StrategySignal {
	size := s.cfg.Size
	cost := yesAsk.Add(noAsk)
	edge := one.Sub(cost)
	profit := edge.Mul(size)

	md := map[string]any{
		domain.MetaMarketID: m.ID,
		domain.MetaQuestion: m.Question,
	}
	if !m.EndDate.IsZero() {
		md[domain.MetaEndDate] = m.EndDate.UTC().Format(time.RFC3339)
	}
	urgency := int(edge.Mul(decimal.NewFromInt(100)).IntPart())
	return domain.StrategySignal{
		Strategy: Name,
		Opportunity: domain.Opportunity{
			StrategyType:   domain.StrategyArbitrage,
			ExpectedProfit: profit,
			Confidence:     1,
			Urgency:        min(urgency, 10),
			Metadata:       md,
		},
		Trades: []domain.Trade{
			{TokenID: yes, Side: domain.SideBuy, Size: size, Price: yesAsk, TimeInForce: domain.FOK, Outcome: "YES"},
			{TokenID: no, Side: domain.SideBuy, Size: size, Price: noAsk, TimeInForce: domain.FOK, Outcome: "NO"},
		},
		MaxTotalCost:      cost.Mul(size),
		MinExpectedReturn: profit,
		CreatedAt:         at,
	}
}

// Validate 用最新报价复核：价格不能劣于信号限价，且差价仍然存在
func (s *Strategy) Validate(sig domain.StrategySignal) (bool, string) {
	if len(sig.Trades) != 2 {
		return false, "bad_leg_count"
	}
	if s.quotes == nil {
		return true, ""
	}
	total := decimal.Zero
	for _, t := range sig.Trades {
		q, ok := s.quotes.Quote(t.TokenID)
		if !ok || q.BestAsk == nil {
			return false, "no_quote"
		}
		if q.BestAsk.GreaterThan(t.Price) {
			return false, "price_moved"
		}
		total = total.Add(*q.BestAsk)
	}
	if !total.LessThan(s.threshold()) {
		return false, "edge_gone"
	}
	return true, ""
}
