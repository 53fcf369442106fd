package paper

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
)

var log = logrus.WithField("component", "paper")

// Config 撮合模拟参数
type Config struct {
	FillProbability    float64 // 挂单触价后成交的概率
	RequireVolumeCross bool    // true 时要求价格严格穿越限价
	Seed               uint64
	// TerminalHistory 保留可查询的已终结订单数量，0 取默认值
	TerminalHistory int
}

const defaultTerminalHistory = 1024

// Stats 模拟器计数
type Stats struct {
	Submitted   int            `json:"submitted"`
	Filled      int            `json:"filled"`
	Canceled    int            `json:"canceled"`
	OpenGTC     int            `json:"open_gtc"`
	OpenByGroup map[string]int `json:"open_by_group"`
}

// Simulator 按交易所语义撮合 FOK / IOC / GTC 订单
type Simulator struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	seq     int
	orders  map[string]*Order
	resting []*Order // 按提交顺序排列的挂单
	done    []string // 已终结订单，先进先出淘汰
	quotes  map[string]domain.Quote
	now     func() time.Time

	submitted, filled, canceled int
}

// Option 构造参数
type Option func(*Simulator)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator 创建模拟器；相同 seed 与相同输入得到相同成交序列
func NewSimulator(cfg Config, opts ...Option) *Simulator {
	if cfg.FillProbability < 0 {
		cfg.FillProbability = 0
	}
	if cfg.FillProbability > 1 {
		cfg.FillProbability = 1
	}
	if cfg.TerminalHistory <= 0 {
		cfg.TerminalHistory = defaultTerminalHistory
	}
	s := &Simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		orders: make(map[string]*Order),
		quotes: make(map[string]domain.Quote),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) nextOrder(t domain.Trade, group string) *Order {
	s.seq++
	o := &Order{
		ID:          fmt.Sprintf("paper_%d", s.seq),
		TokenID:     t.TokenID,
		Side:        t.Side,
		Price:       t.Price,
		Size:        t.Size,
		TimeInForce: t.TimeInForce,
		GroupID:     group,
		Status:      OrderOpen,
		CreatedAt:   s.now(),
	}
	s.orders[o.ID] = o
	s.submitted++
	return o
}

// crossing 返回立即可成交的价格：BUY 对卖一，SELL 对买一
func crossing(side domain.Side, limit decimal.Decimal, q domain.Quote, strict bool) (decimal.Decimal, bool) {
	switch side {
	case domain.SideBuy:
		if q.BestAsk == nil {
			return decimal.Zero, false
		}
		ask := *q.BestAsk
		if ask.LessThan(limit) || (!strict && ask.Equal(limit)) {
			return ask, true
		}
	case domain.SideSell:
		if q.BestBid == nil {
			return decimal.Zero, false
		}
		bid := *q.BestBid
		if bid.GreaterThan(limit) || (!strict && bid.Equal(limit)) {
			return bid, true
		}
	}
	return decimal.Zero, false
}

// fillLocked 一次性成交剩余数量
func (s *Simulator) fillLocked(o *Order, price decimal.Decimal) domain.Fill {
	qty := o.Remaining()
	o.FilledSize = o.FilledSize.Add(qty)
	if o.FilledSize.GreaterThan(o.Size) || o.FilledSize.IsNegative() {
		panic(fmt.Sprintf("paper: order %s filled %s exceeds size %s", o.ID, o.FilledSize, o.Size))
	}
	o.Status = OrderFilled
	s.filled++
	s.retireLocked(o)
	return domain.Fill{
		OrderID:     o.ID,
		TokenID:     o.TokenID,
		Side:        o.Side,
		Price:       price,
		Size:        qty,
		TimeInForce: o.TimeInForce,
		GroupID:     o.GroupID,
		At:          s.now(),
	}
}

func (s *Simulator) cancelLocked(o *Order) {
	if o.Status != OrderOpen {
		return
	}
	o.Status = OrderCanceled
	s.canceled++
	s.retireLocked(o)
}

// retireLocked 终结订单只保留最近 TerminalHistory 笔
func (s *Simulator) retireLocked(o *Order) {
	s.done = append(s.done, o.ID)
	for len(s.done) > s.cfg.TerminalHistory {
		delete(s.orders, s.done[0])
		s.done[0] = ""
		s.done = s.done[1:]
	}
}

// Submit 提交单条订单：GTC 挂单，IOC/FOK 立即撮合
func (s *Simulator) Submit(t domain.Trade, group string) (Order, []domain.Fill) {
	switch t.TimeInForce {
	case domain.IOC:
		o, f := s.ExecuteIOC(t, group)
		if f == nil {
			return o, nil
		}
		return o, []domain.Fill{*f}
	case domain.FOK:
		orders, fills := s.ExecuteFOKGroup([]domain.Trade{t}, group)
		return orders[0], fills
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.nextOrder(t, group)
	s.resting = append(s.resting, o)
	return *o, nil
}

// ExecuteIOC 对最近一次报价立即撮合，不成交则直接取消，不留残单
func (s *Simulator) ExecuteIOC(t domain.Trade, group string) (Order, *domain.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.TimeInForce = domain.IOC
	o := s.nextOrder(t, group)
	if price, ok := crossing(o.Side, o.Price, s.quotes[o.TokenID], false); ok && o.Size.IsPositive() {
		f := s.fillLocked(o, price)
		return *o, &f
	}
	s.cancelLocked(o)
	return *o, nil
}

// ExecuteFOKGroup 多腿原子撮合：任意一腿不可成交则全部不成交
func (s *Simulator) ExecuteFOKGroup(trades []domain.Trade, group string) ([]Order, []domain.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := make([]decimal.Decimal, len(trades))
	marketable := true
	for i, t := range trades {
		price, ok := crossing(t.Side, t.Price, s.quotes[t.TokenID], false)
		if !ok || !t.Size.IsPositive() {
			marketable = false
			break
		}
		prices[i] = price
	}

	orders := make([]Order, 0, len(trades))
	var fills []domain.Fill
	for i, t := range trades {
		t.TimeInForce = domain.FOK
		o := s.nextOrder(t, group)
		if marketable {
			fills = append(fills, s.fillLocked(o, prices[i]))
		} else {
			s.cancelLocked(o)
		}
		orders = append(orders, *o)
	}
	if marketable && len(fills) != len(trades) {
		panic(fmt.Sprintf("paper: FOK group %s partially filled %d/%d", group, len(fills), len(trades)))
	}
	return orders, fills
}

// UpdateMarket 记录报价并撮合该 token 上的挂单
func (s *Simulator) UpdateMarket(tokenID string, bid, ask *decimal.Decimal) []domain.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotes[tokenID] = domain.Quote{BestBid: bid, BestAsk: ask, UpdatedAt: s.now()}
	q := s.quotes[tokenID]

	var fills []domain.Fill
	for _, o := range s.resting {
		if o.TokenID != tokenID || !o.IsOpen() {
			continue
		}
		price, ok := crossing(o.Side, o.Price, q, s.cfg.RequireVolumeCross)
		if !ok {
			continue
		}
		if s.rng.Float64() >= s.cfg.FillProbability {
			continue
		}
		fills = append(fills, s.fillLocked(o, price))
	}
	if len(fills) > 0 {
		s.compactLocked()
		log.Debugf("[Paper] %s 挂单成交 %d 笔", tokenID, len(fills))
	}
	return fills
}

// compactLocked 移除已离开簿面的挂单
func (s *Simulator) compactLocked() {
	kept := s.resting[:0]
	for _, o := range s.resting {
		if o.IsOpen() {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(s.resting); i++ {
		s.resting[i] = nil
	}
	s.resting = kept
}

func isStale(o *Order, q domain.Quote, maxDistance decimal.Decimal, maxAge time.Duration, now time.Time) bool {
	var ref *decimal.Decimal
	if o.Side == domain.SideBuy {
		ref = q.BestBid
	} else {
		ref = q.BestAsk
	}
	if ref != nil && o.Price.Sub(*ref).Abs().GreaterThan(maxDistance) {
		return true
	}
	return maxAge > 0 && now.Sub(o.CreatedAt) >= maxAge
}

func (s *Simulator) cancelStaleLocked(match func(*Order) bool, maxDistance decimal.Decimal, maxAge time.Duration) []Order {
	now := s.now()
	var out []Order
	for _, o := range s.resting {
		if !o.IsOpen() || !match(o) {
			continue
		}
		if isStale(o, s.quotes[o.TokenID], maxDistance, maxAge, now) {
			s.cancelLocked(o)
			out = append(out, *o)
		}
	}
	if len(out) > 0 {
		s.compactLocked()
	}
	return out
}

// CancelStaleGTCOrders 撤掉偏离参考价过远或挂单过久的 GTC，返回被撤订单
func (s *Simulator) CancelStaleGTCOrders(tokenID string, maxDistance decimal.Decimal, maxAge time.Duration) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelStaleLocked(func(o *Order) bool { return o.TokenID == tokenID }, maxDistance, maxAge)
}

// CancelStaleGTCOrdersForGroup 同上，作用于整个市场分组
func (s *Simulator) CancelStaleGTCOrdersForGroup(group string, maxDistance decimal.Decimal, maxAge time.Duration) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelStaleLocked(func(o *Order) bool { return o.GroupID == group }, maxDistance, maxAge)
}

// CancelGroup 撤掉分组内所有挂单
func (s *Simulator) CancelGroup(group string) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.resting {
		if o.IsOpen() && o.GroupID == group {
			s.cancelLocked(o)
			out = append(out, *o)
		}
	}
	s.compactLocked()
	return out
}

// Cancel 撤单
func (s *Simulator) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || !o.IsOpen() {
		return false
	}
	s.cancelLocked(o)
	s.compactLocked()
	return true
}

// Order 查询订单
func (s *Simulator) Order(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OpenGTCOrders 分组内的挂单；group 为空返回全部
func (s *Simulator) OpenGTCOrders(group string) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.resting {
		if o.IsResting() && (group == "" || o.GroupID == group) {
			out = append(out, *o)
		}
	}
	return out
}

// OpenGTCCountByGroup 每个分组的挂单数量
func (s *Simulator) OpenGTCCountByGroup() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, o := range s.resting {
		if o.IsResting() {
			out[o.GroupID]++
		}
	}
	return out
}

// KnownGTCTokens 分组内有挂单的 token（排序后返回）
func (s *Simulator) KnownGTCTokens(group string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, o := range s.resting {
		if o.IsResting() && o.GroupID == group {
			seen[o.TokenID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReferenceGTCSize 分组内最大的挂单数量
func (s *Simulator) ReferenceGTCSize(group string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := decimal.Zero
	for _, o := range s.resting {
		if o.IsResting() && o.GroupID == group && o.Size.GreaterThan(ref) {
			ref = o.Size
		}
	}
	return ref
}

// LastQuote 最近一次报价
func (s *Simulator) LastQuote(tokenID string) (domain.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[tokenID]
	return q, ok
}

// Stats 计数快照
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Submitted:   s.submitted,
		Filled:      s.filled,
		Canceled:    s.canceled,
		OpenByGroup: make(map[string]int),
	}
	for _, o := range s.resting {
		if o.IsResting() {
			st.OpenGTC++
			st.OpenByGroup[o.GroupID]++
		}
	}
	return st
}
