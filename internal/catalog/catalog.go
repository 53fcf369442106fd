// Package catalog 维护可交易市场目录，并与实时报价一起组成策略扫描用的市场快照
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/hedge"
)

var log = logrus.WithField("component", "catalog")

// Lister 市场列表来源（gamma API）
type Lister interface {
	Markets(ctx context.Context, limit int) ([]domain.MarketInfo, error)
}

// QuoteSource 实时报价来源
type QuoteSource interface {
	Quotes() map[string]domain.Quote
}

// Catalog 市场目录
type Catalog struct {
	lister Lister
	quotes QuoteSource
	limit  int
	now    func() time.Time

	mu          sync.RWMutex
	markets     map[string]domain.MarketInfo
	tokens      map[string]bool
	lastRefresh time.Time
	refreshes   int
	errors      int
}

// New 创建目录；limit <= 0 时由上游决定数量
func New(lister Lister, quotes QuoteSource, limit int) *Catalog {
	return &Catalog{
		lister:  lister,
		quotes:  quotes,
		limit:   limit,
		now:     time.Now,
		markets: make(map[string]domain.MarketInfo),
		tokens:  make(map[string]bool),
	}
}

// Refresh 拉取活跃市场并合并到目录，已关闭的市场移出；返回新出现的 token
func (c *Catalog) Refresh(ctx context.Context) ([]string, error) {
	list, err := c.lister.Markets(ctx, c.limit)
	if err != nil {
		c.mu.Lock()
		c.errors++
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var fresh []string
	for _, m := range list {
		if m.ID == "" {
			continue
		}
		if m.Closed || m.Resolved {
			delete(c.markets, m.ID)
			continue
		}
		c.markets[m.ID] = m
		for _, t := range m.Tokens {
			if t.TokenID != "" && !c.tokens[t.TokenID] {
				c.tokens[t.TokenID] = true
				fresh = append(fresh, t.TokenID)
			}
		}
	}
	c.lastRefresh = c.now()
	c.refreshes++
	log.Infof("[Catalog] 刷新完成：%d 个市场，新增 %d 个 token", len(c.markets), len(fresh))
	return fresh, nil
}

// Run 按 interval 刷新，把新 token 交给 onTokens（通常是行情订阅）
func (c *Catalog) Run(ctx context.Context, interval time.Duration, onTokens func([]string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fresh, err := c.Refresh(ctx)
			if err != nil {
				log.WithError(err).Warnf("[Catalog] 刷新失败")
				continue
			}
			if len(fresh) > 0 && onTokens != nil {
				onTokens(fresh)
			}
		}
	}
}

// Put 直接登记市场（恢复持仓时补齐目录）
func (c *Catalog) Put(m domain.MarketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	for _, t := range m.Tokens {
		c.tokens[t.TokenID] = true
	}
}

// Market 按 condition id 查找
func (c *Catalog) Market(id string) (domain.MarketInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	return m, ok
}

// Pair 二元市场的 YES/NO token，供库存对冲使用
func (c *Catalog) Pair(marketID string) (hedge.Pair, bool) {
	m, ok := c.Market(marketID)
	if !ok {
		return hedge.Pair{}, false
	}
	yes, no, ok := m.YesNo()
	if !ok {
		return hedge.Pair{}, false
	}
	return hedge.Pair{MarketID: marketID, YesToken: yes, NoToken: no}, true
}

// Tokens 目录中的全部 token（排序）
func (c *Catalog) Tokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tokens))
	for t := range c.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len 市场数量
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

// Snapshot 目录副本加当前报价
func (c *Catalog) Snapshot() domain.MarketSnapshot {
	c.mu.RLock()
	markets := make(map[string]domain.MarketInfo, len(c.markets))
	for k, v := range c.markets {
		markets[k] = v
	}
	c.mu.RUnlock()

	snap := domain.MarketSnapshot{Markets: markets, At: c.now()}
	if c.quotes != nil {
		snap.Quotes = c.quotes.Quotes()
	} else {
		snap.Quotes = map[string]domain.Quote{}
	}
	return snap
}
