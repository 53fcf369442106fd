package orchestrator

import (
	"github.com/betbot/gosignal/internal/domain"
	"github.com/shopspring/decimal"
)

// SizingConfig 分级仓位参数
type SizingConfig struct {
	MaxOrderUSDC decimal.Decimal
	MinOrderUSDC decimal.Decimal
	MinShares    decimal.Decimal
	InitialPct   decimal.Decimal
	MaxStacks    int
}

// TierFraction 第 depth 次入场（0 起）可用预算比例：
// initial + (1-initial)*depth/(max_stacks-1)，最多到 1
func TierFraction(depth, maxStacks int, initial decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if maxStacks <= 1 || depth >= maxStacks-1 {
		return one
	}
	if depth <= 0 {
		return initial
	}
	step := decimal.NewFromInt(int64(depth)).Div(decimal.NewFromInt(int64(maxStacks - 1)))
	return initial.Add(one.Sub(initial).Mul(step))
}

// sizeSignal 按预算只做缩小，不满足最小份额或最小金额时返回跳过原因
func sizeSignal(sig domain.StrategySignal, depth int, stackable bool, cfg SizingConfig) (domain.StrategySignal, string, bool) {
	tier := decimal.NewFromInt(1)
	if stackable {
		tier = TierFraction(depth, cfg.MaxStacks, cfg.InitialPct)
	}
	budget := cfg.MaxOrderUSDC.Mul(tier)

	cost := sig.TotalCost()
	if cost.GreaterThan(budget) && cost.IsPositive() {
		sig = sig.Scaled(budget.Div(cost))
		cost = sig.TotalCost()
	}

	for _, t := range sig.Trades {
		if t.Size.LessThan(cfg.MinShares) {
			return sig, SkipBelowMinShares, false
		}
	}
	if cost.LessThan(cfg.MinOrderUSDC) {
		return sig, SkipBelowMinNotional, false
	}
	return sig, "", true
}
