package paper

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// RequoteConfig 撤单重挂参数
type RequoteConfig struct {
	MaxDistance decimal.Decimal
	MaxAge      time.Duration
	Cooldown    time.Duration
}

// RequoteStats 撤单重挂计数
type RequoteStats struct {
	Canceled int `json:"canceled"`
	Requoted int `json:"requoted"`
}

// Requoter 分组级别的撤单重挂：任意挂单过期即整组撤掉，并在各自一侧的最优价重挂
type Requoter struct {
	sim *Simulator
	cfg RequoteConfig
	now func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time
	stats   RequoteStats
}

// NewRequoter 创建 requoter
func NewRequoter(sim *Simulator, cfg RequoteConfig) *Requoter {
	return &Requoter{
		sim:     sim,
		cfg:     cfg,
		now:     sim.now,
		lastRun: make(map[string]time.Time),
	}
}

// Run 对分组执行一次检查，返回新挂出的订单
func (r *Requoter) Run(group string) []Order {
	now := r.now()
	r.mu.Lock()
	if last, ok := r.lastRun[group]; ok && now.Sub(last) < r.cfg.Cooldown {
		r.mu.Unlock()
		return nil
	}
	r.lastRun[group] = now
	r.mu.Unlock()

	stale := r.sim.CancelStaleGTCOrdersForGroup(group, r.cfg.MaxDistance, r.cfg.MaxAge)
	if len(stale) == 0 {
		return nil
	}
	canceled := append(stale, r.sim.CancelGroup(group)...)

	refSize := decimal.Zero
	for _, o := range canceled {
		if o.Size.GreaterThan(refSize) {
			refSize = o.Size
		}
	}

	one := decimal.NewFromInt(1)
	var placed []Order
	for _, o := range canceled {
		q, ok := r.sim.LastQuote(o.TokenID)
		if !ok {
			continue
		}
		ref := q.BestBid
		if o.Side == domain.SideSell {
			ref = q.BestAsk
		}
		if ref == nil || !ref.IsPositive() || ref.GreaterThanOrEqual(one) {
			continue
		}
		n, _ := r.sim.Submit(domain.Trade{
			TokenID:     o.TokenID,
			Side:        o.Side,
			Size:        refSize,
			Price:       *ref,
			TimeInForce: domain.GTC,
		}, group)
		placed = append(placed, n)
	}

	r.mu.Lock()
	r.stats.Canceled += len(canceled)
	r.stats.Requoted += len(placed)
	r.mu.Unlock()

	log.Infof("[Requote] %s 撤单 %d 重挂 %d (size=%s)", group, len(canceled), len(placed), refSize)
	return placed
}

// Stats 计数快照
func (r *Requoter) Stats() RequoteStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
