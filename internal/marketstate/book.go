// Package marketstate 维护实时行情：token 级最优报价与订单簿，以及行情 WebSocket 接入
package marketstate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// ErrNoBook 尚未收到该 token 的订单簿
var ErrNoBook = fmt.Errorf("marketstate: no book")

// BookStore 并发安全的行情存储，写入来自 Feed，读取来自策略扫描与深度检查
type BookStore struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
	books  map[string]domain.OrderBook
	now    func() time.Time
}

// NewBookStore 创建行情存储
func NewBookStore() *BookStore {
	return &BookStore{
		quotes: make(map[string]domain.Quote),
		books:  make(map[string]domain.OrderBook),
		now:    time.Now,
	}
}

// SetQuote 覆盖 token 的最优报价；nil 表示该侧为空
func (s *BookStore) SetQuote(tokenID string, bid, ask *decimal.Decimal) domain.Quote {
	q := domain.Quote{BestBid: bid, BestAsk: ask, UpdatedAt: s.now()}
	s.mu.Lock()
	s.quotes[tokenID] = q
	s.mu.Unlock()
	return q
}

// ApplyBook 用完整订单簿替换存量，并据此刷新最优报价
func (s *BookStore) ApplyBook(book domain.OrderBook) domain.Quote {
	book = normalize(book)
	var bid, ask *decimal.Decimal
	if len(book.Bids) > 0 {
		bid = domain.DecPtr(book.Bids[0].Price)
	}
	if len(book.Asks) > 0 {
		ask = domain.DecPtr(book.Asks[0].Price)
	}
	s.mu.Lock()
	s.books[book.TokenID] = book
	s.mu.Unlock()
	return s.SetQuote(book.TokenID, bid, ask)
}

// normalize 去掉零数量档位；买盘价格降序，卖盘价格升序
func normalize(book domain.OrderBook) domain.OrderBook {
	keep := func(levels []domain.BookLevel) []domain.BookLevel {
		out := make([]domain.BookLevel, 0, len(levels))
		for _, l := range levels {
			if l.Size.IsPositive() {
				out = append(out, l)
			}
		}
		return out
	}
	book.Bids = keep(book.Bids)
	book.Asks = keep(book.Asks)
	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	return book
}

// Quote 单个 token 的最优报价
func (s *BookStore) Quote(tokenID string) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[tokenID]
	return q, ok
}

// OrderBook 最近一次完整订单簿，满足 risk.BookFetcher
func (s *BookStore) OrderBook(_ context.Context, tokenID string) (domain.OrderBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[tokenID]
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("%w for %s", ErrNoBook, tokenID)
	}
	return book, nil
}

// Quotes 所有报价的副本
func (s *BookStore) Quotes() map[string]domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// Mids 有报价的 token 的中间价，用于盯市
func (s *BookStore) Mids() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.quotes))
	for k, q := range s.quotes {
		if mid, ok := q.Mid(); ok {
			out[k] = mid
		}
	}
	return out
}

// Len 有报价的 token 数
func (s *BookStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}
