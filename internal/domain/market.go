package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeToken 市场中的一个结果 token
type OutcomeToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// MarketInfo 市场目录信息
type MarketInfo struct {
	ID             string         `json:"id"` // condition id
	Question       string         `json:"question"`
	Slug           string         `json:"slug"`
	GroupID        string         `json:"group_id,omitempty"` // 多结果分组（neg-risk market id）
	EndDate        time.Time      `json:"end_date"`
	Tokens         []OutcomeToken `json:"tokens"`
	Active         bool           `json:"active"`
	Closed         bool           `json:"closed"`
	Resolved       bool           `json:"resolved"`
	WinningOutcome string         `json:"winning_outcome,omitempty"`
}

// TokenFor 按结果名称（不区分大小写）查找 token
func (m MarketInfo) TokenFor(outcome string) (string, bool) {
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, outcome) {
			return t.TokenID, true
		}
	}
	return "", false
}

// YesNo 二元市场的 YES/NO token
func (m MarketInfo) YesNo() (yes, no string, ok bool) {
	yes, ok1 := m.TokenFor("Yes")
	no, ok2 := m.TokenFor("No")
	return yes, no, ok1 && ok2
}

// Quote 单个 token 的最优买卖价；缺失一侧为 nil
type Quote struct {
	BestBid   *decimal.Decimal
	BestAsk   *decimal.Decimal
	UpdatedAt time.Time
}

// Mid 中间价；只有一侧时取该侧
func (q Quote) Mid() (decimal.Decimal, bool) {
	switch {
	case q.BestBid != nil && q.BestAsk != nil:
		return q.BestBid.Add(*q.BestAsk).Div(decimal.NewFromInt(2)), true
	case q.BestBid != nil:
		return *q.BestBid, true
	case q.BestAsk != nil:
		return *q.BestAsk, true
	}
	return decimal.Zero, false
}

// MarketSnapshot 一次扫描看到的市场视图
type MarketSnapshot struct {
	Markets map[string]MarketInfo
	Quotes  map[string]Quote
	At      time.Time
}

// Quote 获取 token 报价
func (s MarketSnapshot) Quote(tokenID string) (Quote, bool) {
	q, ok := s.Quotes[tokenID]
	return q, ok
}

// Fill 一次成交
type Fill struct {
	OrderID     string
	TokenID     string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	TimeInForce TimeInForce
	GroupID     string
	At          time.Time
}

// ResolutionEvent 市场结算事件
type ResolutionEvent struct {
	MarketID          string          `json:"market_id"`
	Question          string          `json:"question"`
	WinningOutcome    string          `json:"winning_outcome"`
	ResolvedAt        time.Time       `json:"resolved_at"`
	AffectedPositions []string        `json:"affected_positions"`
	Redeemable        []string        `json:"redeemable"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"` // 输掉的仓位按 0 平仓产生的已实现盈亏
}

// DecPtr 方便构造 Quote
func DecPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// BookLevel 订单簿档位
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook 订单簿快照
type OrderBook struct {
	TokenID string      `json:"asset_id"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
}
