package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "risk")

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续交易。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// BreakerState 断路器状态
type BreakerState string

const (
	StateArmed    BreakerState = "ARMED"
	StateTripped  BreakerState = "TRIPPED"
	StateCooldown BreakerState = "COOLDOWN"
)

// Lower 用于拼接拒绝原因，例如 circuit_breaker_tripped
func (s BreakerState) Lower() string {
	return strings.ToLower(string(s))
}

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	MaxDailyLoss         decimal.Decimal // 当日最大亏损（USDC）
	MaxDrawdownPct       decimal.Decimal // 相对峰值的最大回撤比例，例如 0.10
	MaxConsecutiveLosses int
	Cooldown             time.Duration
}

// DefaultCircuitBreakerConfig 默认阈值
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxDailyLoss:         decimal.NewFromInt(50),
		MaxDrawdownPct:       decimal.RequireFromString("0.10"),
		MaxConsecutiveLosses: 5,
		Cooldown:             30 * time.Minute,
	}
}

// BreakerStats 断路器快照
type BreakerStats struct {
	State             BreakerState    `json:"state"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	PeakValue         decimal.Decimal `json:"peak_value"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	Drawdown          decimal.Decimal `json:"drawdown"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	TripCount         int             `json:"trip_count"`
	TripReason        string          `json:"trip_reason,omitempty"`
	TrippedAt         time.Time       `json:"tripped_at,omitempty"`
	Rearms            int             `json:"rearms"`
}

// CircuitBreaker ARMED -> TRIPPED -> COOLDOWN -> ARMED 状态机。
// 阈值只在 ARMED 状态下检查；所有字段由 mu 保护。
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig
	now func() time.Time

	state             BreakerState
	dailyPnL          decimal.Decimal
	dayKey            int
	peakValue         decimal.Decimal
	currentValue      decimal.Decimal
	consecutiveLosses int
	tripCount         int
	tripReason        string
	trippedAt         time.Time
	rearms            int
}

// NewCircuitBreaker 创建断路器；now 为 nil 时使用 time.Now
func NewCircuitBreaker(cfg CircuitBreakerConfig, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	cb := &CircuitBreaker{cfg: cfg, now: now, state: StateArmed}
	cb.dayKey = dayKeyOf(now())
	return cb
}

func dayKeyOf(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// rollDayLocked UTC 零点重置当日盈亏
func (cb *CircuitBreaker) rollDayLocked() {
	key := dayKeyOf(cb.now())
	if key != cb.dayKey {
		cb.dayKey = key
		cb.dailyPnL = decimal.Zero
		log.Infof("[CircuitBreaker] 新交易日 %d，重置当日盈亏", key)
	}
}

func (cb *CircuitBreaker) drawdownLocked() decimal.Decimal {
	if !cb.peakValue.IsPositive() {
		return decimal.Zero
	}
	return cb.peakValue.Sub(cb.currentValue).Div(cb.peakValue)
}

func (cb *CircuitBreaker) tripLocked(reason string) {
	cb.state = StateTripped
	cb.tripCount++
	cb.tripReason = reason
	cb.trippedAt = cb.now()
	log.Warnf("[CircuitBreaker] 熔断: %s (第 %d 次)", reason, cb.tripCount)
}

func (cb *CircuitBreaker) checkLocked() {
	if cb.state != StateArmed {
		return
	}
	if cb.cfg.MaxDailyLoss.IsPositive() && cb.dailyPnL.LessThanOrEqual(cb.cfg.MaxDailyLoss.Neg()) {
		cb.tripLocked(fmt.Sprintf("daily_loss %s <= -%s", cb.dailyPnL.StringFixed(2), cb.cfg.MaxDailyLoss))
		return
	}
	if cb.cfg.MaxDrawdownPct.IsPositive() {
		if dd := cb.drawdownLocked(); dd.GreaterThanOrEqual(cb.cfg.MaxDrawdownPct) {
			cb.tripLocked(fmt.Sprintf("drawdown %s >= %s", dd.StringFixed(4), cb.cfg.MaxDrawdownPct))
			return
		}
	}
	if cb.cfg.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.cfg.MaxConsecutiveLosses {
		cb.tripLocked(fmt.Sprintf("consecutive_losses %d", cb.consecutiveLosses))
	}
}

// RecordTradeResult 记录一笔已实现盈亏
func (cb *CircuitBreaker) RecordTradeResult(pnl decimal.Decimal) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()
	cb.dailyPnL = cb.dailyPnL.Add(pnl)
	if pnl.IsNegative() {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}
	cb.checkLocked()
}

// UpdatePortfolioValue 更新组合市值并维护峰值
func (cb *CircuitBreaker) UpdatePortfolioValue(v decimal.Decimal) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()
	cb.currentValue = v
	if v.GreaterThan(cb.peakValue) {
		cb.peakValue = v
	}
	cb.checkLocked()
}

// AllowTrading 是否允许交易。TRIPPED 会进入 COOLDOWN，冷却结束后重新 ARMED（只发生一次）。
func (cb *CircuitBreaker) AllowTrading() bool {
	if cb == nil {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()

	switch cb.state {
	case StateArmed:
		return true
	case StateTripped:
		cb.state = StateCooldown
	}
	if cb.now().Sub(cb.trippedAt) < cb.cfg.Cooldown {
		return false
	}
	cb.state = StateArmed
	cb.consecutiveLosses = 0
	cb.rearms++
	log.Infof("[CircuitBreaker] 冷却结束，重新启用交易")
	return true
}

// ForceTrip 手动熔断，重新开始冷却计时
func (cb *CircuitBreaker) ForceTrip(reason string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateArmed {
		cb.tripLocked("manual: " + reason)
		return
	}
	cb.state = StateTripped
	cb.tripReason = "manual: " + reason
	cb.trippedAt = cb.now()
}

// Reset 手动恢复：清空计数，峰值重置为当前市值
func (cb *CircuitBreaker) Reset() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateArmed
	cb.dailyPnL = decimal.Zero
	cb.consecutiveLosses = 0
	cb.peakValue = cb.currentValue
	cb.tripReason = ""
	log.Infof("[CircuitBreaker] 手动重置")
}

// State 当前状态
func (cb *CircuitBreaker) State() BreakerState {
	if cb == nil {
		return StateArmed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats 快照
func (cb *CircuitBreaker) Stats() BreakerStats {
	if cb == nil {
		return BreakerStats{State: StateArmed}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:             cb.state,
		DailyPnL:          cb.dailyPnL,
		PeakValue:         cb.peakValue,
		CurrentValue:      cb.currentValue,
		Drawdown:          cb.drawdownLocked(),
		ConsecutiveLosses: cb.consecutiveLosses,
		TripCount:         cb.tripCount,
		TripReason:        cb.tripReason,
		TrippedAt:         cb.trippedAt,
		Rearms:            cb.rearms,
	}
}
