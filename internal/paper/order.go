package paper

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// OrderStatus 模拟订单状态
type OrderStatus string

const (
	OrderOpen     OrderStatus = "OPEN"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Order 模拟订单
type Order struct {
	ID          string
	TokenID     string
	Side        domain.Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	FilledSize  decimal.Decimal
	TimeInForce domain.TimeInForce
	GroupID     string
	Status      OrderStatus
	CreatedAt   time.Time
}

// Remaining 剩余未成交数量
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// IsOpen 是否仍在簿上
func (o Order) IsOpen() bool {
	return o.Status == OrderOpen
}

// IsResting 是否为挂单中的 GTC
func (o Order) IsResting() bool {
	return o.Status == OrderOpen && o.TimeInForce == domain.GTC
}
