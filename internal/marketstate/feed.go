package marketstate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
)

var log = logrus.WithField("component", "marketstate")

const (
	// DefaultMarketURL 行情频道
	DefaultMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// 交易所限制每批最多 100 个资产
	maxBatchSize = 100

	eventBook        = "book"
	eventPriceChange = "price_change"
)

// Handler 报价变化回调（通常驱动执行器的挂单撮合）
type Handler func(ctx context.Context, tokenID string, q domain.Quote)

// FeedConfig 行情连接参数
type FeedConfig struct {
	URL               string
	ProxyURL          string
	PingInterval      time.Duration // 文本 PING 间隔
	ReconnectDelay    time.Duration // 首次重连等待，之后翻倍
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultFeedConfig 默认参数
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		URL:               DefaultMarketURL,
		PingInterval:      10 * time.Second,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		HandshakeTimeout:  15 * time.Second,
	}
}

// Feed 订阅行情频道，把 book / price_change 事件写入 BookStore
type Feed struct {
	cfg     FeedConfig
	store   *BookStore
	handler Handler

	subMu  sync.Mutex
	assets map[string]bool

	connMu sync.Mutex
	conn   *websocket.Conn

	statsMu  sync.Mutex
	messages int
	reconns  int
}

// FeedStats 行情连接计数
type FeedStats struct {
	Messages      int `json:"messages"`
	Reconnects    int `json:"reconnects"`
	Subscriptions int `json:"subscriptions"`
}

// NewFeed 创建行情订阅；handler 可为 nil
func NewFeed(cfg FeedConfig, store *BookStore, handler Handler) *Feed {
	def := DefaultFeedConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(def.MaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	return &Feed{cfg: cfg, store: store, handler: handler, assets: make(map[string]bool)}
}

// Subscribe 增加订阅；已连接时立即发送新增部分，否则在下次连接时发送
func (f *Feed) Subscribe(assetIDs ...string) error {
	f.subMu.Lock()
	var fresh []string
	for _, id := range assetIDs {
		if id != "" && !f.assets[id] {
			f.assets[id] = true
			fresh = append(fresh, id)
		}
	}
	f.subMu.Unlock()

	f.connMu.Lock()
	connected := f.conn != nil
	f.connMu.Unlock()
	if len(fresh) == 0 || !connected {
		return nil
	}
	return f.sendSubscription(fresh)
}

func (f *Feed) subscribed() []string {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	out := make([]string, 0, len(f.assets))
	for id := range f.assets {
		out = append(out, id)
	}
	return out
}

// Stats 计数快照
func (f *Feed) Stats() FeedStats {
	f.statsMu.Lock()
	s := FeedStats{Messages: f.messages, Reconnects: f.reconns}
	f.statsMu.Unlock()
	f.subMu.Lock()
	s.Subscriptions = len(f.assets)
	f.subMu.Unlock()
	return s
}

// Run 连接并持续读取，断线后指数退避重连，直到 ctx 结束
func (f *Feed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// 会话成功建立过，退避从头开始
			delay = f.cfg.ReconnectDelay
		}
		log.WithError(err).Warnf("[Feed] 连接断开，%v 后重连", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, f.cfg.MaxReconnectDelay)
		f.statsMu.Lock()
		f.reconns++
		f.statsMu.Unlock()
	}
}

// session 一次连接的生命周期；连接建立后的读取错误返回 nil
func (f *Feed) session(ctx context.Context) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		conn.Close()
	}()

	if err := f.sendSubscription(f.subscribed()); err != nil {
		return err
	}
	log.Infof("[Feed] 已连接 %s，订阅 %d 个资产", f.cfg.URL, len(f.subscribed()))

	go f.pingLoop(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warnf("[Feed] 读取失败")
			}
			return nil
		}
		f.handleMessage(ctx, data)
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	if f.cfg.ProxyURL != "" {
		proxy, err := url.Parse(f.cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxy)
	}
	headers := make(http.Header)
	headers.Set("User-Agent", "gosignal/1.0")
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, headers)
	return conn, err
}

// pingLoop 定期发送文本 PING；ctx 结束时关闭连接以解除读阻塞
func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			f.connMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			f.connMu.Unlock()
			conn.Close()
			return
		case <-ticker.C:
			f.connMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			f.connMu.Unlock()
			if err != nil {
				log.WithError(err).Warnf("[Feed] PING 发送失败")
				conn.Close()
				return
			}
		}
	}
}

func (f *Feed) sendSubscription(ids []string) error {
	for i := 0; i < len(ids); i += maxBatchSize {
		end := min(i+maxBatchSize, len(ids))
		msg := map[string]any{"type": "market", "assets_ids": ids[i:end]}

		f.connMu.Lock()
		if f.conn == nil {
			f.connMu.Unlock()
			return fmt.Errorf("marketstate: not connected")
		}
		err := f.conn.WriteJSON(msg)
		f.connMu.Unlock()
		if err != nil {
			return fmt.Errorf("send subscription: %w", err)
		}
	}
	return nil
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wirePriceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wireMessage struct {
	EventType    string            `json:"event_type"`
	AssetID      string            `json:"asset_id"`
	Market       string            `json:"market"`
	Bids         []wireLevel       `json:"bids"`
	Asks         []wireLevel       `json:"asks"`
	Buys         []wireLevel       `json:"buys"`
	Sells        []wireLevel       `json:"sells"`
	PriceChanges []wirePriceChange `json:"price_changes"`
}

// handleMessage 支持单个对象或对象数组；PONG 等文本直接忽略
func (f *Feed) handleMessage(ctx context.Context, data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return
	}
	f.statsMu.Lock()
	f.messages++
	f.statsMu.Unlock()

	var msgs []wireMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			log.WithError(err).Debugf("[Feed] 无法解析消息")
			return
		}
	} else {
		var m wireMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			log.WithError(err).Debugf("[Feed] 无法解析消息")
			return
		}
		msgs = []wireMessage{m}
	}
	for _, m := range msgs {
		f.process(ctx, m)
	}
}

func (f *Feed) process(ctx context.Context, m wireMessage) {
	switch {
	case m.EventType == eventBook || (m.EventType == "" && m.AssetID != "" && (m.Bids != nil || m.Asks != nil)):
		bids, asks := m.Bids, m.Asks
		if bids == nil && asks == nil {
			bids, asks = m.Buys, m.Sells
		}
		book := domain.OrderBook{TokenID: m.AssetID, Bids: levels(bids), Asks: levels(asks)}
		q := f.store.ApplyBook(book)
		f.notify(ctx, m.AssetID, q)

	case m.EventType == eventPriceChange || len(m.PriceChanges) > 0:
		for _, c := range m.PriceChanges {
			if c.AssetID == "" || (c.BestBid == "" && c.BestAsk == "") {
				continue
			}
			q := f.store.SetQuote(c.AssetID, price(c.BestBid), price(c.BestAsk))
			f.notify(ctx, c.AssetID, q)
		}
	}
}

func (f *Feed) notify(ctx context.Context, tokenID string, q domain.Quote) {
	if f.handler != nil && tokenID != "" {
		f.handler(ctx, tokenID, q)
	}
}

func levels(in []wireLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(in))
	for _, l := range in {
		p, err1 := decimal.NewFromString(l.Price)
		s, err2 := decimal.NewFromString(l.Size)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.BookLevel{Price: p, Size: s})
	}
	return out
}

// price 空字符串或非正数视为该侧无报价
func price(v string) *decimal.Decimal {
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return nil
	}
	return &d
}
