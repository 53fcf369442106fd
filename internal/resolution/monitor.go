package resolution

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
)

var log = logrus.WithField("component", "resolution")

// MarketStatus 市场结算状态
type MarketStatus struct {
	MarketID       string
	Question       string
	Resolved       bool
	WinningOutcome string
	ResolvedAt     time.Time
}

// Source 结算状态来源（交易所 / gamma API）
type Source interface {
	MarketStatus(ctx context.Context, marketID string) (MarketStatus, error)
}

// PositionBook 监控需要的仓位操作
type PositionBook interface {
	Open() []domain.Position
	MarkRedeemable(id string) error
	ClosePosition(id string, exit decimal.Decimal, orderID string) (decimal.Decimal, error)
}

// Stats 监控计数
type Stats struct {
	Checks          int             `json:"checks"`
	ResolvedMarkets int             `json:"resolved_markets"`
	Redeemable      int             `json:"redeemable_positions"`
	Lost            int             `json:"lost_positions"`
	RedeemableValue decimal.Decimal `json:"redeemable_value"`
	SourceErrors    int             `json:"source_errors"`
	Deferred        int             `json:"deferred"`
}

// Monitor 轮询持仓市场的结算结果，并把仓位转为 REDEEMABLE 或按 0 平仓
type Monitor struct {
	source   Source
	book     PositionBook
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
	resolved  map[string]domain.ResolutionEvent
	stats     Stats
}

// NewMonitor 创建监控；interval 内重复调用直接返回
func NewMonitor(source Source, book PositionBook, interval time.Duration) *Monitor {
	return &Monitor{
		source:   source,
		book:     book,
		interval: interval,
		now:      time.Now,
		resolved: make(map[string]domain.ResolutionEvent),
	}
}

// IsGroupID 多结果分组 ID：0x 前缀，且腿上带有 bracket_market_id
func IsGroupID(marketID string, legs []domain.Position) bool {
	if !strings.HasPrefix(marketID, "0x") {
		return false
	}
	for _, p := range legs {
		if p.Metadata[domain.MetaBracketMarketID] != "" {
			return true
		}
	}
	return false
}

// CheckResolutions 检查所有持仓市场，返回本次新产生的结算事件
func (m *Monitor) CheckResolutions(ctx context.Context) []domain.ResolutionEvent {
	now := m.now()
	m.mu.Lock()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.interval {
		m.mu.Unlock()
		return nil
	}
	m.lastCheck = now
	m.stats.Checks++
	m.mu.Unlock()

	byMarket := make(map[string][]domain.Position)
	for _, p := range m.book.Open() {
		byMarket[p.MarketID] = append(byMarket[p.MarketID], p)
	}
	ids := make([]string, 0, len(byMarket))
	for id := range byMarket {
		if !m.IsResolved(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var events []domain.ResolutionEvent
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		legs := byMarket[id]
		var ev *domain.ResolutionEvent
		if IsGroupID(id, legs) {
			ev = m.checkGroup(ctx, id, legs)
		} else {
			ev = m.checkMarket(ctx, id, legs)
		}
		if ev == nil {
			continue
		}
		m.mu.Lock()
		m.resolved[id] = *ev
		m.stats.ResolvedMarkets++
		m.mu.Unlock()
		events = append(events, *ev)
		log.Infof("[Resolution] %s 已结算 winner=%s 获胜 %d / 影响 %d 仓位", id, ev.WinningOutcome, len(ev.Redeemable), len(ev.AffectedPositions))
	}
	return events
}

func (m *Monitor) sourceError(id string, err error) {
	m.mu.Lock()
	m.stats.SourceErrors++
	m.mu.Unlock()
	log.WithError(err).Warnf("[Resolution] 查询 %s 失败，下次重试", id)
}

func (m *Monitor) checkMarket(ctx context.Context, id string, legs []domain.Position) *domain.ResolutionEvent {
	st, err := m.source.MarketStatus(ctx, id)
	if err != nil {
		m.sourceError(id, err)
		return nil
	}
	if !st.Resolved || st.WinningOutcome == "" {
		return nil
	}
	return m.settle(id, st.Question, st.WinningOutcome, st.ResolvedAt, legs, func(p domain.Position) bool {
		return strings.EqualFold(p.Outcome, st.WinningOutcome)
	})
}

// bracketWon bracket 自身市场结算到 YES 一侧
func bracketWon(st MarketStatus, legs []domain.Position) bool {
	if !st.Resolved || st.WinningOutcome == "" || strings.EqualFold(st.WinningOutcome, "no") {
		return false
	}
	if strings.EqualFold(st.WinningOutcome, "yes") {
		return true
	}
	for _, p := range legs {
		if strings.EqualFold(p.Outcome, st.WinningOutcome) {
			return true
		}
	}
	return false
}

// checkGroup 逐个查询分组内的 bracket。
// 出现获胜 bracket 时整组结算；否则仅在全部 bracket 都结算后按 0 平仓，其余情况推迟。
func (m *Monitor) checkGroup(ctx context.Context, id string, legs []domain.Position) *domain.ResolutionEvent {
	byBracket := make(map[string][]domain.Position)
	for _, p := range legs {
		b := p.Metadata[domain.MetaBracketMarketID]
		byBracket[b] = append(byBracket[b], p)
	}
	brackets := make([]string, 0, len(byBracket))
	for b := range byBracket {
		if b != "" {
			brackets = append(brackets, b)
		}
	}
	sort.Strings(brackets)

	var (
		resolved int
		pending  bool
		winner   string
		decided  MarketStatus
	)
	for _, b := range brackets {
		st, err := m.source.MarketStatus(ctx, b)
		if err != nil {
			m.sourceError(b, err)
			pending = true
			continue
		}
		if !st.Resolved {
			pending = true
			continue
		}
		resolved++
		if resolved == 1 {
			decided = st
		}
		if bracketWon(st, byBracket[b]) {
			winner = b
			decided = st
			break
		}
	}
	if resolved == 0 {
		return nil
	}
	if winner == "" && pending {
		m.mu.Lock()
		m.stats.Deferred++
		m.mu.Unlock()
		log.Infof("[Resolution] 分组 %s 已有 %d 个 bracket 结算但赢家未知，等待其余 bracket", id, resolved)
		return nil
	}

	outcome := ""
	if winner != "" {
		outcome = decided.WinningOutcome
	}
	return m.settle(id, decided.Question, outcome, decided.ResolvedAt, legs, func(p domain.Position) bool {
		return winner != "" && p.Metadata[domain.MetaBracketMarketID] == winner &&
			!strings.EqualFold(p.Outcome, "no")
	})
}

func (m *Monitor) settle(id, question, outcome string, at time.Time, legs []domain.Position, wins func(domain.Position) bool) *domain.ResolutionEvent {
	if at.IsZero() {
		at = m.now()
	}
	ev := &domain.ResolutionEvent{
		MarketID:       id,
		Question:       question,
		WinningOutcome: outcome,
		ResolvedAt:     at,
		RealizedPnL:    decimal.Zero,
	}
	redeemValue := decimal.Zero
	lost := 0
	for _, p := range legs {
		ev.AffectedPositions = append(ev.AffectedPositions, p.ID)
		if wins(p) {
			if err := m.book.MarkRedeemable(p.ID); err != nil {
				log.WithError(err).Warnf("[Resolution] 标记 %s 可赎回失败", p.ID)
				continue
			}
			ev.Redeemable = append(ev.Redeemable, p.ID)
			redeemValue = redeemValue.Add(p.Quantity)
			continue
		}
		realized, err := m.book.ClosePosition(p.ID, decimal.Zero, "resolution")
		if err != nil {
			log.WithError(err).Warnf("[Resolution] 平仓 %s 失败", p.ID)
			continue
		}
		ev.RealizedPnL = ev.RealizedPnL.Add(realized)
		lost++
	}

	m.mu.Lock()
	m.stats.Redeemable += len(ev.Redeemable)
	m.stats.Lost += lost
	m.stats.RedeemableValue = m.stats.RedeemableValue.Add(redeemValue)
	m.mu.Unlock()
	return ev
}

// IsResolved 是否已处理过该市场
func (m *Monitor) IsResolved(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resolved[id]
	return ok
}

// Event 已处理的结算事件
func (m *Monitor) Event(id string) (domain.ResolutionEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.resolved[id]
	return ev, ok
}

// RedeemableValue 累计转为可赎回的兑付价值
func (m *Monitor) RedeemableValue() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.RedeemableValue
}

// Stats 计数快照
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
