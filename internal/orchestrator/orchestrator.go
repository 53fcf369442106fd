package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/metrics"
	"github.com/betbot/gosignal/internal/strategies"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "orchestrator")

// SnapshotSource 市场快照来源
type SnapshotSource interface {
	Snapshot() domain.MarketSnapshot
}

// Config 编排器配置
type Config struct {
	MaxConcurrent   int
	EnableStacking  bool
	StackableTypes  []domain.StrategyType
	StrategyTimeout time.Duration
	Sizing          SizingConfig
	Score           ScoreConfig
}

// Skip 被跳过的信号
type Skip struct {
	Strategy string `json:"strategy"`
	MarketID string `json:"market_id"`
	Reason   string `json:"reason"`
}

// CycleReport 单个编排周期的结果
type CycleReport struct {
	At             time.Time         `json:"at"`
	Collected      int               `json:"collected"`
	Admitted       int               `json:"admitted"`
	Skipped        []Skip            `json:"skipped"`
	StrategyErrors map[string]string `json:"strategy_errors,omitempty"`
}

// Stats 累计统计
type Stats struct {
	Cycles         int            `json:"cycles"`
	Collected      int            `json:"collected"`
	Admitted       int            `json:"admitted"`
	SkipReasons    map[string]int `json:"skip_reasons"`
	StrategyErrors map[string]int `json:"strategy_errors"`
	ActiveMarkets  map[string]int `json:"active_markets"`
}

// Orchestrator 收集、排序、准入并分级计算信号仓位
type Orchestrator struct {
	registry  *strategies.Registry
	snapshots SnapshotSource
	active    *activeSet
	now       func() time.Time

	mu        sync.Mutex
	cfg       Config
	stackable map[domain.StrategyType]bool
	stats     Stats
	last      CycleReport
}

// New 创建编排器
func New(cfg Config, registry *strategies.Registry, snapshots SnapshotSource) *Orchestrator {
	if cfg.Sizing.MaxStacks <= 0 {
		cfg.Sizing.MaxStacks = 1
	}
	stackable := make(map[domain.StrategyType]bool, len(cfg.StackableTypes))
	for _, t := range cfg.StackableTypes {
		stackable[t] = true
	}
	return &Orchestrator{
		registry:  registry,
		snapshots: snapshots,
		active:    newActiveSet(),
		now:       time.Now,
		cfg:       cfg,
		stackable: stackable,
		stats: Stats{
			SkipReasons:    make(map[string]int),
			StrategyErrors: make(map[string]int),
		},
	}
}

// SetSizing 动态调整仓位参数（例如随资金变化）
func (o *Orchestrator) SetSizing(maxOrderUSDC, minOrderUSDC, initialPct decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.Sizing.MaxOrderUSDC = maxOrderUSDC
	o.cfg.Sizing.MinOrderUSDC = minOrderUSDC
	o.cfg.Sizing.InitialPct = initialPct
	log.Infof("[Orchestrator] 仓位参数更新: max=%s min=%s initial=%s", maxOrderUSDC, minOrderUSDC, initialPct)
}

// MarkPositionActive 记录一次入场
func (o *Orchestrator) MarkPositionActive(marketID string) {
	if marketID == "" {
		return
	}
	o.active.add(marketID)
}

// MarkPositionClosed 移除一次入场
func (o *Orchestrator) MarkPositionClosed(marketID string) {
	o.active.remove(marketID)
}

// ReleaseMarket 市场结算后清除全部入场
func (o *Orchestrator) ReleaseMarket(marketID string) {
	o.active.release(marketID)
}

// ActiveCount 市场当前的入场次数
func (o *Orchestrator) ActiveCount(marketID string) int {
	return o.active.count(marketID)
}

// ActiveMarkets 活跃市场数量
func (o *Orchestrator) ActiveMarkets() int {
	return o.active.distinct()
}

// RunOnce 执行一个编排周期，返回已准入并完成仓位计算的信号（按优先级）
func (o *Orchestrator) RunOnce(ctx context.Context) []domain.StrategySignal {
	o.mu.Lock()
	cfg := o.cfg
	o.mu.Unlock()

	now := o.now()
	report := CycleReport{At: now, StrategyErrors: make(map[string]string)}

	var snap domain.MarketSnapshot
	if o.snapshots != nil {
		snap = o.snapshots.Snapshot()
	}

	collected := o.collect(ctx, snap, cfg.StrategyTimeout, &report)
	report.Collected = len(collected)
	for i := range collected {
		collected[i] = enrich(collected[i], snap)
	}

	ranked := prioritize(collected, cfg.Score, now)
	admitted := o.admit(ranked, cfg, &report)
	report.Admitted = len(admitted)

	o.record(report)
	if report.Collected > 0 {
		log.Infof("[Orchestrator] 周期完成: 收集=%d 准入=%d 跳过=%d", report.Collected, report.Admitted, len(report.Skipped))
	}
	return admitted
}

// collect 逐个调用已启用策略，失败或 panic 的策略被跳过
func (o *Orchestrator) collect(ctx context.Context, snap domain.MarketSnapshot, timeout time.Duration, report *CycleReport) []domain.StrategySignal {
	if o.registry == nil {
		return nil
	}
	var out []domain.StrategySignal
	for _, s := range o.registry.Enabled() {
		signals, err := scanStrategy(ctx, s, snap, timeout)
		if err != nil {
			log.Warnf("[Orchestrator] 策略 %s 扫描失败: %v", s.Name(), err)
			report.StrategyErrors[s.Name()] = err.Error()
			metrics.StrategyErrors.WithLabelValues(s.Name()).Inc()
			continue
		}
		for _, sig := range signals {
			if sig.Strategy == "" {
				sig.Strategy = s.Name()
			}
			if sig.Opportunity.StrategyType == "" {
				sig.Opportunity.StrategyType = s.Type()
			}
			if sig.CreatedAt.IsZero() {
				sig.CreatedAt = report.At
			}
			out = append(out, sig)
		}
		metrics.SignalsCollected.WithLabelValues(s.Name()).Add(float64(len(signals)))
	}
	return out
}

func scanStrategy(ctx context.Context, s strategies.Strategy, snap domain.MarketSnapshot, timeout time.Duration) (signals []domain.StrategySignal, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			signals, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	signals, err = s.Scan(ctx, snap)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return signals, err
}

// enrich 缺少 end_date 时从快照中的市场信息补充
func enrich(sig domain.StrategySignal, snap domain.MarketSnapshot) domain.StrategySignal {
	if _, ok := sig.EndDate(); ok {
		return sig
	}
	m, ok := snap.Markets[sig.MarketID()]
	if !ok || m.EndDate.IsZero() {
		return sig
	}
	return sig.WithMetadata(domain.MetaEndDate, m.EndDate.UTC().Format(time.RFC3339))
}

// admit 去重、叠加、并发上限过滤后做分级仓位计算
func (o *Orchestrator) admit(ranked []scored, cfg Config, report *CycleReport) []domain.StrategySignal {
	skip := func(sig domain.StrategySignal, reason string) {
		report.Skipped = append(report.Skipped, Skip{Strategy: sig.Strategy, MarketID: sig.MarketID(), Reason: reason})
	}

	cycleDepth := make(map[string]int)
	newMarkets := 0
	var admitted []domain.StrategySignal

	for i, r := range ranked {
		sig := r.signal
		if cfg.MaxConcurrent > 0 && o.active.distinct()+newMarkets >= cfg.MaxConcurrent {
			for _, rest := range ranked[i:] {
				skip(rest.signal, SkipMaxConcurrent)
			}
			break
		}

		market := sig.MarketID()
		if market == "" {
			skip(sig, SkipMissingMarketID)
			continue
		}
		if err := sig.CheckShape(); err != nil {
			log.Debugf("[Orchestrator] 信号结构无效 (%s): %v", sig.Strategy, err)
			skip(sig, SkipInvalidSignal)
			continue
		}

		depth := o.active.count(market) + cycleDepth[market]
		stackable := o.isStackable(cfg, sig.Type())
		if depth > 0 {
			if !stackable {
				skip(sig, SkipDuplicateMarket)
				continue
			}
			if depth >= cfg.Sizing.MaxStacks {
				skip(sig, SkipMaxStacksReached)
				continue
			}
		}

		sized, reason, ok := sizeSignal(sig, depth, stackable, cfg.Sizing)
		if !ok {
			skip(sig, reason)
			continue
		}
		if depth == 0 {
			newMarkets++
		}
		cycleDepth[market]++
		admitted = append(admitted, sized)
	}
	return admitted
}

func (o *Orchestrator) isStackable(cfg Config, t domain.StrategyType) bool {
	if !cfg.EnableStacking || cfg.Sizing.MaxStacks <= 1 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stackable[t]
}

func (o *Orchestrator) record(report CycleReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Cycles++
	o.stats.Collected += report.Collected
	o.stats.Admitted += report.Admitted
	for _, s := range report.Skipped {
		o.stats.SkipReasons[s.Reason]++
		metrics.SignalsSkipped.WithLabelValues(s.Reason).Inc()
	}
	for name := range report.StrategyErrors {
		o.stats.StrategyErrors[name]++
	}
	o.last = report

	metrics.OrchestratorCycles.Inc()
	metrics.SignalsAdmitted.Add(float64(report.Admitted))
}

// LastCycle 最近一次周期报告
func (o *Orchestrator) LastCycle() CycleReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.last
	r.Skipped = append([]Skip(nil), o.last.Skipped...)
	return r
}

// Stats 累计统计（副本）
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats
	s.SkipReasons = copyCounts(o.stats.SkipReasons)
	s.StrategyErrors = copyCounts(o.stats.StrategyErrors)
	s.ActiveMarkets = o.active.snapshot()
	return s
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
