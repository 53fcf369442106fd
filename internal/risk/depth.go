package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/pkg/cache"
)

// BookFetcher 订单簿来源
type BookFetcher interface {
	OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)
}

// DepthChecker 检查限价内可成交的名义金额是否足够
type DepthChecker struct {
	fetcher  BookFetcher
	minDepth decimal.Decimal
	books    *cache.TTLCache[string, domain.OrderBook]
}

// NewDepthChecker 创建深度检查；订单簿按 ttl 缓存
func NewDepthChecker(fetcher BookFetcher, minDepth decimal.Decimal, ttl time.Duration, now cache.Clock) *DepthChecker {
	return &DepthChecker{
		fetcher:  fetcher,
		minDepth: minDepth,
		books:    cache.NewTTLCache[string, domain.OrderBook](ttl, now),
	}
}

// ExecutableNotional BUY 累加价格 <= 限价的卖盘，SELL 累加价格 >= 限价的买盘
func ExecutableNotional(book domain.OrderBook, t domain.Trade) decimal.Decimal {
	total := decimal.Zero
	if t.Side == domain.SideBuy {
		for _, lvl := range book.Asks {
			if lvl.Price.LessThanOrEqual(t.Price) {
				total = total.Add(lvl.Price.Mul(lvl.Size))
			}
		}
		return total
	}
	for _, lvl := range book.Bids {
		if lvl.Price.GreaterThanOrEqual(t.Price) {
			total = total.Add(lvl.Price.Mul(lvl.Size))
		}
	}
	return total
}

// Sufficient 订单簿获取失败视为深度不足
func (c *DepthChecker) Sufficient(ctx context.Context, t domain.Trade) (bool, decimal.Decimal) {
	book, ok := c.books.Get(t.TokenID)
	if !ok {
		var err error
		book, err = c.fetcher.OrderBook(ctx, t.TokenID)
		if err != nil {
			log.WithError(err).Warnf("[Depth] 获取 %s 订单簿失败", t.TokenID)
			return false, decimal.Zero
		}
		c.books.Set(t.TokenID, book, 0)
	}
	notional := ExecutableNotional(book, t)
	return notional.GreaterThanOrEqual(c.minDepth), notional
}
