package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType 策略类型，决定是否允许同市场叠加入场
type StrategyType string

const (
	StrategyArbitrage       StrategyType = "arbitrage"
	StrategyMultiOutcomeArb StrategyType = "multi_outcome_arb"
	StrategyConditionalArb  StrategyType = "conditional_arb"
	StrategyMarketMaking    StrategyType = "market_making"
	StrategyDirectional     StrategyType = "directional"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TimeInForce 订单有效期类型
type TimeInForce string

const (
	FOK TimeInForce = "FOK" // 全部成交或全部取消（多腿原子）
	IOC TimeInForce = "IOC" // 立即成交剩余取消
	GTC TimeInForce = "GTC" // 挂单直到成交或撤单
)

// 元数据键
const (
	MetaMarketID        = "condition_id"
	MetaEndDate         = "end_date"
	MetaBracketMarketID = "bracket_market_id"
	MetaQuestion        = "question"
)

// ShareStep 份额最小精度
var ShareStep = decimal.RequireFromString("0.01")

// FloorShares 份额向下取整到 0.01
func FloorShares(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(2)
}

// Opportunity 策略发现的机会
type Opportunity struct {
	StrategyType   StrategyType
	ExpectedProfit decimal.Decimal // 预期利润（USDC，可为负）
	Confidence     float64         // 0~1
	Urgency        int             // 0~10
	Metadata       map[string]any
}

// Trade 信号中的一条腿
type Trade struct {
	TokenID     string
	Side        Side
	Size        decimal.Decimal // 份额
	Price       decimal.Decimal // 限价 (0,1)
	TimeInForce TimeInForce

	// 多结果市场的腿信息（可选）
	Outcome         string
	BracketMarketID string
}

// Notional 名义金额 price*size
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// StrategySignal 策略产生的可执行信号（不可变，修改均返回副本）
type StrategySignal struct {
	Strategy          string
	Opportunity       Opportunity
	Trades            []Trade
	MaxTotalCost      decimal.Decimal
	MinExpectedReturn decimal.Decimal
	CreatedAt         time.Time
}

// MarketID 信号所属市场（或多结果分组）ID
func (s StrategySignal) MarketID() string {
	v, _ := s.Opportunity.Metadata[MetaMarketID].(string)
	return v
}

// Type 策略类型
func (s StrategySignal) Type() StrategyType {
	return s.Opportunity.StrategyType
}

// EndDate 解析 end_date 元数据，支持 time.Time / RFC3339 / YYYY-MM-DD
func (s StrategySignal) EndDate() (time.Time, bool) {
	switch v := s.Opportunity.Metadata[MetaEndDate].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		return ParseEndDate(v)
	}
	return time.Time{}, false
}

// ParseEndDate 解析结算时间字符串
func ParseEndDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// TotalCost 所有腿的名义金额之和
func (s StrategySignal) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, t := range s.Trades {
		total = total.Add(t.Notional())
	}
	return total
}

// BuyCost 买入腿的名义金额之和
func (s StrategySignal) BuyCost() decimal.Decimal {
	total := decimal.Zero
	for _, t := range s.Trades {
		if t.Side == SideBuy {
			total = total.Add(t.Notional())
		}
	}
	return total
}

// GTCLegs GTC 腿数量
func (s StrategySignal) GTCLegs() int {
	n := 0
	for _, t := range s.Trades {
		if t.TimeInForce == GTC {
			n++
		}
	}
	return n
}

// WithMetadata 返回写入了 key 的副本
func (s StrategySignal) WithMetadata(key string, value any) StrategySignal {
	md := make(map[string]any, len(s.Opportunity.Metadata)+1)
	for k, v := range s.Opportunity.Metadata {
		md[k] = v
	}
	md[key] = value
	s.Opportunity.Metadata = md
	return s
}

// Scaled 按比例缩放所有腿份额（向下取整到 0.01），并同步缩放成本与收益
func (s StrategySignal) Scaled(factor decimal.Decimal) StrategySignal {
	trades := make([]Trade, len(s.Trades))
	for i, t := range s.Trades {
		t.Size = FloorShares(t.Size.Mul(factor))
		trades[i] = t
	}
	s.Trades = trades
	s.MaxTotalCost = s.TotalCost()
	s.Opportunity.ExpectedProfit = s.Opportunity.ExpectedProfit.Mul(factor)
	s.MinExpectedReturn = s.MinExpectedReturn.Mul(factor)
	return s
}

// CheckShape 基本结构校验
func (s StrategySignal) CheckShape() error {
	if s.MarketID() == "" {
		return fmt.Errorf("signal missing %s", MetaMarketID)
	}
	if len(s.Trades) == 0 {
		return fmt.Errorf("signal has no trades")
	}
	one := decimal.NewFromInt(1)
	for i, t := range s.Trades {
		if t.TokenID == "" {
			return fmt.Errorf("trade %d: empty token id", i)
		}
		if t.Size.IsNegative() {
			return fmt.Errorf("trade %d: negative size %s", i, t.Size)
		}
		if !t.Price.IsPositive() || t.Price.GreaterThanOrEqual(one) {
			return fmt.Errorf("trade %d: price %s out of (0,1)", i, t.Price)
		}
		if t.Side != SideBuy && t.Side != SideSell {
			return fmt.Errorf("trade %d: bad side %q", i, t.Side)
		}
		switch t.TimeInForce {
		case FOK, IOC, GTC:
		default:
			return fmt.Errorf("trade %d: bad time in force %q", i, t.TimeInForce)
		}
	}
	return nil
}
