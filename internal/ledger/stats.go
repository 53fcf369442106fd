package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// Bucket 分组统计
type Bucket struct {
	Positions  int             `json:"positions"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	Realized   decimal.Decimal `json:"realized_pnl"`
	Unrealized decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioStats 组合统计
type PortfolioStats struct {
	Total       int                           `json:"total"`
	ByStatus    map[domain.PositionStatus]int `json:"by_status"`
	Realized    decimal.Decimal               `json:"realized_pnl"`
	Unrealized  decimal.Decimal               `json:"unrealized_pnl"`
	TotalPnL    decimal.Decimal               `json:"total_pnl"`
	OpenCost    decimal.Decimal               `json:"open_cost"`
	ClosedCost  decimal.Decimal               `json:"closed_cost"`
	RealizedROI decimal.Decimal               `json:"realized_roi"`
	ByMarket    map[string]*Bucket            `json:"by_market"`
	ByStrategy  map[string]*Bucket            `json:"by_strategy"`
}

func bucket(m map[string]*Bucket, key string) *Bucket {
	b, ok := m[key]
	if !ok {
		b = &Bucket{}
		m[key] = b
	}
	return b
}

// PortfolioStats 汇总组合盈亏
func (l *Ledger) PortfolioStats() PortfolioStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := PortfolioStats{
		ByStatus:   make(map[domain.PositionStatus]int),
		ByMarket:   make(map[string]*Bucket),
		ByStrategy: make(map[string]*Bucket),
	}
	for _, id := range l.order {
		p := l.positions[id]
		st.Total++
		st.ByStatus[p.Status]++

		cost := p.CostBasis()
		st.Realized = st.Realized.Add(p.RealizedPnL)
		switch p.Status {
		case domain.PositionClosed:
			st.ClosedCost = st.ClosedCost.Add(cost)
		default:
			st.Unrealized = st.Unrealized.Add(p.UnrealizedPnL)
			st.OpenCost = st.OpenCost.Add(cost)
		}

		for _, b := range []*Bucket{bucket(st.ByMarket, p.MarketID), bucket(st.ByStrategy, p.Strategy)} {
			b.Positions++
			b.Realized = b.Realized.Add(p.RealizedPnL)
			if p.Status != domain.PositionClosed {
				b.CostBasis = b.CostBasis.Add(cost)
				b.Unrealized = b.Unrealized.Add(p.UnrealizedPnL)
			}
		}
	}
	st.TotalPnL = st.Realized.Add(st.Unrealized)
	if st.ClosedCost.IsPositive() {
		st.RealizedROI = st.Realized.Div(st.ClosedCost)
	}
	return st
}

// RedeemableValue 待赎回仓位的兑付价值（份额 * 1.00）
func (l *Ledger) RedeemableValue() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, p := range l.positions {
		if p.Status == domain.PositionRedeemable {
			total = total.Add(p.Quantity)
		}
	}
	return total
}
