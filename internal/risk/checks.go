package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// 拒绝原因
const (
	ReasonMaxInventory   = "max_inventory_usdc_per_condition"
	ReasonMaxOpenGTC     = "max_open_gtc_orders_per_condition"
	ReasonMaxExposure    = "max_total_exposure"
	ReasonInsufficientLq = "insufficient_liquidity"
)

// ExposureView 仓位敞口查询（由 ledger 实现）
type ExposureView interface {
	OpenCostByMarket(marketID string) decimal.Decimal
	TotalOpenCost() decimal.Decimal
}

// OrderView 挂单查询（由执行器实现，paper 模式下转给模拟器）
type OrderView interface {
	OpenGTCCountByGroup() map[string]int
}

// CheckConfig 下单前检查参数；<= 0 表示关闭
type CheckConfig struct {
	MaxInventoryPerCondition decimal.Decimal
	MaxOpenGTCPerCondition   int
	Bankroll                 decimal.Decimal
}

// Decision 检查结果
type Decision struct {
	Allowed bool
	Reason  string
	Detail  string
}

func reject(reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// PreTradeChecker 所有检查都在下单前完成，被拒信号不会产生任何订单
type PreTradeChecker struct {
	cfg      CheckConfig
	exposure ExposureView
	orders   OrderView
	depth    *DepthChecker
}

// NewPreTradeChecker depth 为 nil 时跳过深度检查
func NewPreTradeChecker(cfg CheckConfig, exposure ExposureView, orders OrderView, depth *DepthChecker) *PreTradeChecker {
	return &PreTradeChecker{cfg: cfg, exposure: exposure, orders: orders, depth: depth}
}

// SetOrderView 替换挂单来源；应在开始检查前调用
func (c *PreTradeChecker) SetOrderView(orders OrderView) {
	c.orders = orders
}

// Check 依次检查库存、挂单数、总敞口，live 模式下再检查深度
func (c *PreTradeChecker) Check(ctx context.Context, sig domain.StrategySignal, live bool) Decision {
	market := sig.MarketID()
	incoming := sig.BuyCost()

	if c.cfg.MaxInventoryPerCondition.IsPositive() && c.exposure != nil {
		existing := c.exposure.OpenCostByMarket(market)
		if existing.Add(incoming).GreaterThan(c.cfg.MaxInventoryPerCondition) {
			return reject(ReasonMaxInventory, "market %s inventory %s + %s > %s",
				market, existing.StringFixed(2), incoming.StringFixed(2), c.cfg.MaxInventoryPerCondition)
		}
	}

	if c.cfg.MaxOpenGTCPerCondition > 0 && c.orders != nil {
		if newGTC := sig.GTCLegs(); newGTC > 0 {
			open := c.orders.OpenGTCCountByGroup()[market]
			if open+newGTC > c.cfg.MaxOpenGTCPerCondition {
				return reject(ReasonMaxOpenGTC, "market %s open gtc %d + %d > %d",
					market, open, newGTC, c.cfg.MaxOpenGTCPerCondition)
			}
		}
	}

	if c.cfg.Bankroll.IsPositive() && c.exposure != nil {
		total := c.exposure.TotalOpenCost()
		if total.Add(incoming).GreaterThan(c.cfg.Bankroll) {
			return reject(ReasonMaxExposure, "exposure %s + %s > bankroll %s",
				total.StringFixed(2), incoming.StringFixed(2), c.cfg.Bankroll)
		}
	}

	if live && c.depth != nil {
		for _, t := range sig.Trades {
			ok, notional := c.depth.Sufficient(ctx, t)
			if !ok {
				return reject(ReasonInsufficientLq, "token %s executable %s < %s",
					t.TokenID, notional.StringFixed(2), c.depth.minDepth)
			}
		}
	}
	return Decision{Allowed: true}
}
