package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus 仓位状态
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosing    PositionStatus = "CLOSING"
	PositionClosed     PositionStatus = "CLOSED"
	PositionRedeemable PositionStatus = "REDEEMABLE" // 已结算获胜，等待赎回
)

// Position 仓位（由 ledger 独占写入）
type Position struct {
	ID           string          `json:"id"`
	MarketID     string          `json:"market_id"`
	TokenID      string          `json:"token_id"`
	Outcome      string          `json:"outcome"`
	Strategy     string          `json:"strategy"`
	StrategyType StrategyType    `json:"strategy_type"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryTime    time.Time       `json:"entry_time"`
	EntryOrderID string          `json:"entry_order_id"`

	ExitPrice   decimal.Decimal `json:"exit_price"`
	ExitTime    time.Time       `json:"exit_time"`
	ExitOrderID string          `json:"exit_order_id,omitempty"`

	Status        PositionStatus    `json:"status"`
	RealizedPnL   decimal.Decimal   `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal   `json:"unrealized_pnl"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IsOpen 是否仍持有
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// CostBasis 成本 = 入场价 * 数量
func (p *Position) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// Value 当前估值（成本 + 未实现盈亏）
func (p *Position) Value() decimal.Decimal {
	return p.CostBasis().Add(p.UnrealizedPnL)
}

// Clone 深拷贝（元数据 map 不共享）
func (p Position) Clone() Position {
	if p.Metadata != nil {
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	return p
}
