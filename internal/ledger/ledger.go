package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
)

var log = logrus.WithField("component", "ledger")

var (
	ErrPositionNotFound = errors.New("ledger: position not found")
	ErrPositionNotOpen  = errors.New("ledger: position not open")
	ErrNotRedeemable    = errors.New("ledger: position not redeemable")
)

var one = decimal.NewFromInt(1)

// OpenRequest 开仓参数
type OpenRequest struct {
	MarketID     string
	TokenID      string
	Outcome      string
	Strategy     string
	StrategyType domain.StrategyType
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	OrderID      string
	Metadata     map[string]string
}

// ReduceResult 卖出成交的 FIFO 减仓结果
type ReduceResult struct {
	Realized  decimal.Decimal
	Closed    []domain.Position
	Unmatched decimal.Decimal // 没有对应持仓的卖出数量
}

// Ledger 仓位与盈亏的唯一权威记录
type Ledger struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	order     []string
	nextID    int
	store     Store
	now       func() time.Time
}

// Option 构造参数
type Option func(*Ledger)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New 创建 ledger 并从 store 恢复；store 为 nil 时只保存在内存中
func New(store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		positions: make(map[string]*domain.Position),
		store:     store,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if store == nil {
		return l, nil
	}
	ps, nextID, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: load positions: %w", err)
	}
	for i := range ps {
		p := ps[i]
		l.positions[p.ID] = &p
		l.order = append(l.order, p.ID)
		if n := positionSeq(p.ID); n > nextID {
			nextID = n
		}
	}
	l.nextID = nextID
	if len(ps) > 0 {
		log.Infof("[Ledger] 恢复 %d 个仓位 (next_id=%d)", len(ps), nextID)
	}
	return l, nil
}

func (l *Ledger) newIDLocked() string {
	l.nextID++
	return fmt.Sprintf("pos_%d", l.nextID)
}

func (l *Ledger) addLocked(p *domain.Position) {
	l.positions[p.ID] = p
	l.order = append(l.order, p.ID)
}

// persistLocked 持久化失败只记录日志，内存状态仍然是权威
func (l *Ledger) persistLocked(ps ...*domain.Position) {
	if l.store == nil {
		return
	}
	out := make([]domain.Position, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Clone())
	}
	if err := l.store.Save(l.nextID, out...); err != nil {
		log.WithError(err).Error("[Ledger] 持久化失败")
	}
}

// OpenPosition 按成交开仓
func (l *Ledger) OpenPosition(req OpenRequest) (domain.Position, error) {
	if !req.Quantity.IsPositive() {
		return domain.Position{}, fmt.Errorf("ledger: quantity must be positive, got %s", req.Quantity)
	}
	if req.Price.IsNegative() || req.Price.GreaterThan(one) {
		return domain.Position{}, fmt.Errorf("ledger: entry price %s out of range", req.Price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var md map[string]string
	if len(req.Metadata) > 0 {
		md = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			md[k] = v
		}
	}
	p := &domain.Position{
		ID:           l.newIDLocked(),
		MarketID:     req.MarketID,
		TokenID:      req.TokenID,
		Outcome:      req.Outcome,
		Strategy:     req.Strategy,
		StrategyType: req.StrategyType,
		EntryPrice:   req.Price,
		Quantity:     req.Quantity,
		EntryTime:    l.now(),
		EntryOrderID: req.OrderID,
		Status:       domain.PositionOpen,
		Metadata:     md,
	}
	l.addLocked(p)
	l.persistLocked(p)

	log.Debugf("[Ledger] 开仓 %s market=%s token=%s %s@%s", p.ID, p.MarketID, p.TokenID, p.Quantity, p.EntryPrice)
	return p.Clone(), nil
}

func (l *Ledger) closeLocked(p *domain.Position, exit decimal.Decimal, orderID string) decimal.Decimal {
	if p.Status == domain.PositionClosed {
		panic(fmt.Sprintf("ledger: position %s closed twice", p.ID))
	}
	realized := exit.Sub(p.EntryPrice).Mul(p.Quantity)
	p.ExitPrice = exit
	p.ExitTime = l.now()
	p.ExitOrderID = orderID
	p.RealizedPnL = realized
	p.UnrealizedPnL = decimal.Zero
	p.Status = domain.PositionClosed
	return realized
}

// ClosePosition 以 exit 价格平掉 OPEN 仓位，返回已实现盈亏
func (l *Ledger) ClosePosition(id string, exit decimal.Decimal, orderID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return decimal.Zero, ErrPositionNotFound
	}
	if p.Status != domain.PositionOpen && p.Status != domain.PositionClosing {
		return decimal.Zero, ErrPositionNotOpen
	}
	realized := l.closeLocked(p, exit, orderID)
	l.persistLocked(p)
	return realized, nil
}

// MarkClosing 标记为平仓中（已提交卖单等待成交）
func (l *Ledger) MarkClosing(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if p.Status != domain.PositionOpen {
		return ErrPositionNotOpen
	}
	p.Status = domain.PositionClosing
	l.persistLocked(p)
	return nil
}

// MarkRedeemable 获胜仓位：退出价固定为 1.0，等待赎回
func (l *Ledger) MarkRedeemable(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if p.Status != domain.PositionOpen && p.Status != domain.PositionClosing {
		return ErrPositionNotOpen
	}
	p.Status = domain.PositionRedeemable
	p.ExitPrice = one
	p.UnrealizedPnL = p.Quantity.Sub(p.CostBasis())
	l.persistLocked(p)
	return nil
}

// SettleRedemption 赎回结算：按 1.0 平仓，返回已实现盈亏
func (l *Ledger) SettleRedemption(id string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return decimal.Zero, ErrPositionNotFound
	}
	if p.Status != domain.PositionRedeemable {
		return decimal.Zero, ErrNotRedeemable
	}
	realized := l.closeLocked(p, one, "redeem")
	l.persistLocked(p)
	return realized, nil
}

// ReduceByToken 卖出成交按 FIFO 减仓；部分减仓时拆出一条 CLOSED 记录
func (l *Ledger) ReduceByToken(tokenID string, size, price decimal.Decimal, orderID string) ReduceResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := ReduceResult{Realized: decimal.Zero, Unmatched: size}
	var touched []*domain.Position
	for _, id := range l.order {
		if !res.Unmatched.IsPositive() {
			break
		}
		p := l.positions[id]
		if p.TokenID != tokenID || p.Status != domain.PositionOpen {
			continue
		}
		if p.Quantity.LessThanOrEqual(res.Unmatched) {
			res.Unmatched = res.Unmatched.Sub(p.Quantity)
			res.Realized = res.Realized.Add(l.closeLocked(p, price, orderID))
			res.Closed = append(res.Closed, p.Clone())
			touched = append(touched, p)
			continue
		}

		slice := p.Clone()
		slice.ID = l.newIDLocked()
		slice.Quantity = res.Unmatched
		p.Quantity = p.Quantity.Sub(res.Unmatched)
		res.Unmatched = decimal.Zero

		sp := &slice
		res.Realized = res.Realized.Add(l.closeLocked(sp, price, orderID))
		l.addLocked(sp)
		res.Closed = append(res.Closed, sp.Clone())
		touched = append(touched, p, sp)
	}
	if len(touched) > 0 {
		l.persistLocked(touched...)
	}
	if res.Unmatched.IsPositive() {
		log.Warnf("[Ledger] 卖出 %s 数量 %s 没有对应持仓", tokenID, res.Unmatched)
	}
	return res
}

// UpdateUnrealizedPnL 按最新价格重估 OPEN 仓位；多结果套利按分组整体估值
func (l *Ledger) UpdateUnrealizedPnL(prices map[string]decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	groups := make(map[string][]*domain.Position)
	for _, id := range l.order {
		p := l.positions[id]
		if p.Status != domain.PositionOpen {
			continue
		}
		if p.StrategyType == domain.StrategyMultiOutcomeArb {
			groups[p.MarketID] = append(groups[p.MarketID], p)
			continue
		}
		if px, ok := prices[p.TokenID]; ok {
			p.UnrealizedPnL = px.Mul(p.Quantity).Sub(p.CostBasis())
		}
	}
	for _, legs := range groups {
		pnl := groupValue(legs).Sub(groupCost(legs))
		share := pnl.Div(decimal.NewFromInt(int64(len(legs))))
		for _, p := range legs {
			p.UnrealizedPnL = share
		}
	}
}

// groupValue 一组完整结果份额在结算时必定兑付 1.00：
// 价值 = 1.00 * 每腿份额 * 执行次数，其中执行次数 = max(1, 仓位数 / 不同 token 数)。
// 每腿份额取各 token 合计份额除以执行次数后的最小值。
func groupValue(legs []*domain.Position) decimal.Decimal {
	perToken := make(map[string]decimal.Decimal)
	for _, p := range legs {
		perToken[p.TokenID] = perToken[p.TokenID].Add(p.Quantity)
	}
	executions := len(legs) / len(perToken)
	if executions < 1 {
		executions = 1
	}
	exec := decimal.NewFromInt(int64(executions))
	var shares decimal.Decimal
	first := true
	for _, q := range perToken {
		per := q.Div(exec)
		if first || per.LessThan(shares) {
			shares = per
			first = false
		}
	}
	return one.Mul(shares).Mul(exec)
}

func groupCost(legs []*domain.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range legs {
		total = total.Add(p.CostBasis())
	}
	return total
}

// Reset 清空所有仓位与 ID 序列
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]*domain.Position)
	l.order = nil
	l.nextID = 0
	if l.store != nil {
		if err := l.store.Reset(); err != nil {
			return fmt.Errorf("ledger: reset store: %w", err)
		}
	}
	return nil
}

// Get 按 ID 查询
func (l *Ledger) Get(id string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return p.Clone(), true
}

func (l *Ledger) filter(keep func(*domain.Position) bool) []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Position
	for _, id := range l.order {
		if p := l.positions[id]; keep(p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// All 全部仓位（按开仓顺序）
func (l *Ledger) All() []domain.Position {
	return l.filter(func(*domain.Position) bool { return true })
}

// Open 所有 OPEN 仓位
func (l *Ledger) Open() []domain.Position {
	return l.ByStatus(domain.PositionOpen)
}

// Redeemable 所有待赎回仓位
func (l *Ledger) Redeemable() []domain.Position {
	return l.ByStatus(domain.PositionRedeemable)
}

// ByStatus 按状态查询
func (l *Ledger) ByStatus(status domain.PositionStatus) []domain.Position {
	return l.filter(func(p *domain.Position) bool { return p.Status == status })
}

// ByMarket 按市场查询
func (l *Ledger) ByMarket(marketID string) []domain.Position {
	return l.filter(func(p *domain.Position) bool { return p.MarketID == marketID })
}

// ByStrategy 按策略名查询
func (l *Ledger) ByStrategy(strategy string) []domain.Position {
	return l.filter(func(p *domain.Position) bool { return strings.EqualFold(p.Strategy, strategy) })
}

// OpenCostByMarket 市场内 OPEN 仓位的成本合计
func (l *Ledger) OpenCostByMarket(marketID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, p := range l.positions {
		if p.Status == domain.PositionOpen && p.MarketID == marketID {
			total = total.Add(p.CostBasis())
		}
	}
	return total
}

// TotalOpenCost 全部 OPEN 仓位的成本合计
func (l *Ledger) TotalOpenCost() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, p := range l.positions {
		if p.Status == domain.PositionOpen {
			total = total.Add(p.CostBasis())
		}
	}
	return total
}

// NetSharesByToken 各 token 的 OPEN 持仓份额
func (l *Ledger) NetSharesByToken() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for _, p := range l.positions {
		if p.Status == domain.PositionOpen {
			out[p.TokenID] = out[p.TokenID].Add(p.Quantity)
		}
	}
	return out
}

// OpenMarkets 有 OPEN 仓位的市场 ID
func (l *Ledger) OpenMarkets() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int)
	for _, p := range l.positions {
		if p.Status == domain.PositionOpen {
			out[p.MarketID]++
		}
	}
	return out
}
