package hedge

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// Posture 对冲姿态
type Posture string

const (
	PostureHard  Posture = "hard"  // 出现不平衡立即对冲
	PostureMaker Posture = "maker" // 先等挂单成交，超时后强制对冲
)

// Pair 二元市场的 YES/NO token
type Pair struct {
	MarketID string
	YesToken string
	NoToken  string
}

// Decision 对冲决策：以卖一价 IOC 买入不足的一侧
type Decision struct {
	MarketID  string
	Imbalance decimal.Decimal // YES - NO
	Trade     domain.Trade
}

// Config 对冲参数
type Config struct {
	MinImbalance decimal.Decimal // 小于该值不处理
	MaxHedgeUSDC decimal.Decimal // 单次对冲金额上限
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		MinImbalance: decimal.NewFromInt(1),
		MaxHedgeUSDC: decimal.NewFromInt(10),
	}
}

// Hedger 根据持仓的 YES/NO 份额差决定补仓
type Hedger struct {
	cfg Config
}

// NewHedger 创建 hedger
func NewHedger(cfg Config) *Hedger {
	return &Hedger{cfg: cfg}
}

// Balanced 份额差低于阈值视为已平衡
func (h *Hedger) Balanced(imbalance decimal.Decimal) bool {
	return imbalance.IsZero() || imbalance.Abs().LessThan(h.cfg.MinImbalance)
}

// Imbalance 统计 OPEN 仓位上 YES 与 NO 的份额差
func Imbalance(positions []domain.Position, pair Pair) decimal.Decimal {
	imb := decimal.Zero
	for _, p := range positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		switch p.TokenID {
		case pair.YesToken:
			imb = imb.Add(p.Quantity)
		case pair.NoToken:
			imb = imb.Sub(p.Quantity)
		}
	}
	return imb
}

// Decide 返回 nil 表示不需要（或无法）对冲
func (h *Hedger) Decide(pair Pair, positions []domain.Position, quote func(token string) (domain.Quote, bool)) *Decision {
	imb := Imbalance(positions, pair)
	if h.Balanced(imb) {
		return nil
	}
	token := pair.NoToken
	if imb.IsNegative() {
		token = pair.YesToken
	}
	q, ok := quote(token)
	if !ok || q.BestAsk == nil || !q.BestAsk.IsPositive() {
		return nil
	}
	ask := *q.BestAsk

	size := imb.Abs()
	if h.cfg.MaxHedgeUSDC.IsPositive() {
		size = decimal.Min(size, h.cfg.MaxHedgeUSDC.Div(ask))
	}
	size = domain.FloorShares(size)
	if !size.IsPositive() {
		return nil
	}
	return &Decision{
		MarketID:  pair.MarketID,
		Imbalance: imb,
		Trade: domain.Trade{
			TokenID:     token,
			Side:        domain.SideBuy,
			Size:        size,
			Price:       ask,
			TimeInForce: domain.IOC,
		},
	}
}
