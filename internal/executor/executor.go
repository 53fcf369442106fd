package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/hedge"
	"github.com/betbot/gosignal/internal/ledger"
	"github.com/betbot/gosignal/internal/metrics"
	"github.com/betbot/gosignal/internal/paper"
	"github.com/betbot/gosignal/internal/risk"
	"github.com/betbot/gosignal/internal/strategies"
	"github.com/betbot/gosignal/internal/venue"
)

var log = logrus.WithField("component", "executor")

// 运行模式
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Venue 实盘下单接口
type Venue interface {
	PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Journal 执行结果持久化
type Journal interface {
	RecordExecution(res ExecutionResult) error
}

// PairSource 市场的 YES/NO token
type PairSource interface {
	Pair(marketID string) (hedge.Pair, bool)
}

// HedgeConfig 对冲行为
type HedgeConfig struct {
	Enabled bool
	Posture hedge.Posture
	// Types 参与库存对冲的策略类型（成对持仓）
	Types []domain.StrategyType
}

// Config 执行器配置
type Config struct {
	Mode          string
	KillSwitch    bool
	RetryAttempts int
	RetryDelay    time.Duration
	Hedge         HedgeConfig
}

// Deps 执行器依赖；Venue / Requoter / Checker / Journal / Pairs 可为 nil
type Deps struct {
	Simulator *paper.Simulator
	Requoter  *paper.Requoter
	Ledger    *ledger.Ledger
	Breaker   *risk.CircuitBreaker
	Checker   *risk.PreTradeChecker
	Hedger    *hedge.Hedger
	Scheduler *hedge.Scheduler
	Venue     Venue
	Journal   Journal
	Pairs     PairSource
}

// legMeta 成交回流时用于开仓的信号信息
type legMeta struct {
	MarketID        string
	Strategy        string
	StrategyType    domain.StrategyType
	Outcome         string
	BracketMarketID string
}

type legKey struct {
	group string
	token string
}

// StrategyStats 单个策略的执行统计
type StrategyStats struct {
	Executions     int             `json:"executions"`
	Successes      int             `json:"successes"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	Cost           decimal.Decimal `json:"cost"`
}

// Stats 执行器统计快照
type Stats struct {
	Mode           string                    `json:"mode"`
	KillSwitch     bool                      `json:"kill_switch"`
	Executions     int                       `json:"executions"`
	Successes      int                       `json:"successes"`
	Failures       int                       `json:"failures"`
	FailureReasons map[string]int            `json:"failure_reasons"`
	ByStrategy     map[string]*StrategyStats `json:"by_strategy"`
	Fills          int                       `json:"fills"`
	HedgeEvents    int                       `json:"hedge_events"`
	ForcedHedges   int                       `json:"forced_hedge_events"`
	PendingHedges  int                       `json:"pending_hedges"`
	HedgesBlocked  int                       `json:"hedges_blocked"`
	OpenGTCByGroup map[string]int            `json:"open_gtc_by_group"`
	Canceled       int                       `json:"canceled_orders"`
	Requoted       int                       `json:"requoted_orders"`
	Breaker        risk.BreakerStats         `json:"breaker"`
	Portfolio      ledger.PortfolioStats     `json:"portfolio"`
}

// Executor 风控闸门后的信号执行：纸上撮合或实盘下单，并维护对冲
type Executor struct {
	cfg        Config
	sim        *paper.Simulator
	requoter   *paper.Requoter
	ledger     *ledger.Ledger
	breaker    *risk.CircuitBreaker
	checker    *risk.PreTradeChecker
	hedger     *hedge.Hedger
	scheduler  *hedge.Scheduler
	venue      Venue
	journal    Journal
	pairs      PairSource
	hedgeTypes map[domain.StrategyType]bool
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	killSwitch bool
	legs       map[legKey]legMeta
	liveOpen   map[string]liveOrder
	hedgeLocks map[string]*sync.Mutex
	stats      Stats
}

// New 创建执行器；live 模式但没有 venue 时回退到纸上交易
func New(cfg Config, deps Deps) *Executor {
	if cfg.Mode != ModeLive {
		cfg.Mode = ModePaper
	}
	if cfg.Mode == ModeLive && deps.Venue == nil {
		log.Warnf("[Executor] live 模式未配置交易所客户端，回退到 paper 模式")
		cfg.Mode = ModePaper
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.Hedge.Posture == "" {
		cfg.Hedge.Posture = hedge.PostureHard
	}
	if len(cfg.Hedge.Types) == 0 {
		cfg.Hedge.Types = []domain.StrategyType{domain.StrategyArbitrage, domain.StrategyMarketMaking}
	}
	types := make(map[domain.StrategyType]bool, len(cfg.Hedge.Types))
	for _, t := range cfg.Hedge.Types {
		types[t] = true
	}
	e := &Executor{
		cfg:        cfg,
		sim:        deps.Simulator,
		requoter:   deps.Requoter,
		ledger:     deps.Ledger,
		breaker:    deps.Breaker,
		checker:    deps.Checker,
		hedger:     deps.Hedger,
		scheduler:  deps.Scheduler,
		venue:      deps.Venue,
		journal:    deps.Journal,
		pairs:      deps.Pairs,
		hedgeTypes: types,
		now:        time.Now,
		sleep:      sleepCtx,
		killSwitch: cfg.KillSwitch,
		legs:       make(map[legKey]legMeta),
		liveOpen:   make(map[string]liveOrder),
		hedgeLocks: make(map[string]*sync.Mutex),
		stats: Stats{
			FailureReasons: make(map[string]int),
			ByStrategy:     make(map[string]*StrategyStats),
		},
	}
	if e.checker != nil {
		e.checker.SetOrderView(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Mode 当前生效的运行模式
func (e *Executor) Mode() string {
	return e.cfg.Mode
}

// SetKillSwitch 打开后拒绝所有新信号
func (e *Executor) SetKillSwitch(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = on
	log.Warnf("[Executor] kill switch = %v", on)
}

func (e *Executor) killSwitchOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killSwitch
}

// ExecuteSignal 依次经过 kill switch、熔断、策略校验、下单前检查，然后路由到实盘或纸上执行
func (e *Executor) ExecuteSignal(ctx context.Context, sig domain.StrategySignal, strat strategies.Strategy) ExecutionResult {
	res := ExecutionResult{
		ID:       uuid.NewString(),
		At:       e.now(),
		Mode:     e.cfg.Mode,
		Strategy: sig.Strategy,
		MarketID: sig.MarketID(),
		Signal:   sig,
	}

	switch {
	case e.killSwitchOn():
		res.Reason = ReasonKillSwitch
	case e.breaker != nil && !e.breaker.AllowTrading():
		res.Reason = ReasonBreakerPrefix + e.breaker.State().Lower()
	}
	if res.Reason == "" {
		if err := sig.CheckShape(); err != nil {
			res.Reason = ReasonValidationPrefix + "invalid_shape"
			res.Error = err.Error()
		} else if strat != nil {
			if ok, why := strat.Validate(sig); !ok {
				res.Reason = ReasonValidationPrefix + why
			}
		}
	}
	if res.Reason == "" && e.checker != nil {
		if d := e.checker.Check(ctx, sig, e.cfg.Mode == ModeLive); !d.Allowed {
			res.Reason = ReasonRiskPrefix + d.Reason
			res.Error = d.Detail
		}
	}

	if res.Reason == "" {
		if e.cfg.Mode == ModeLive {
			e.executeLive(ctx, sig, &res)
		} else {
			e.executePaper(ctx, sig, &res)
		}
	}

	e.finish(sig, &res)
	return res
}

// finish 记录统计、指标与日志
func (e *Executor) finish(sig domain.StrategySignal, res *ExecutionResult) {
	e.mu.Lock()
	e.stats.Executions++
	st := e.stats.ByStrategy[sig.Strategy]
	if st == nil {
		st = &StrategyStats{ExpectedProfit: decimal.Zero, Cost: decimal.Zero}
		e.stats.ByStrategy[sig.Strategy] = st
	}
	st.Executions++
	if res.Success {
		e.stats.Successes++
		st.Successes++
		st.ExpectedProfit = st.ExpectedProfit.Add(sig.Opportunity.ExpectedProfit)
		for _, f := range res.Fills {
			if f.Side == domain.SideBuy {
				st.Cost = st.Cost.Add(f.Price.Mul(f.Size))
			}
		}
	} else {
		e.stats.Failures++
		e.stats.FailureReasons[res.Reason]++
	}
	e.mu.Unlock()

	metrics.Executions.WithLabelValues(res.Mode, res.Outcome()).Inc()
	if res.Success {
		log.Infof("[Executor] %s 执行成功 market=%s 订单=%d 成交=%d", sig.Strategy, res.MarketID, len(res.OrderIDs), len(res.Fills))
	} else {
		log.Infof("[Executor] %s 执行失败 market=%s reason=%s", sig.Strategy, res.MarketID, res.Reason)
	}

	if e.journal != nil {
		if err := e.journal.RecordExecution(*res); err != nil {
			metrics.JournalErrors.Inc()
			log.WithError(err).Warnf("[Executor] 写入执行日志失败 %s", res.ID)
		}
	}
}

// registerLegs 记录信号每条腿的归属，供挂单成交与重挂时开仓
func (e *Executor) registerLegs(sig domain.StrategySignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	market := sig.MarketID()
	for _, t := range sig.Trades {
		bracket := t.BracketMarketID
		if bracket == "" {
			if v, ok := sig.Opportunity.Metadata[domain.MetaBracketMarketID].(string); ok {
				bracket = v
			}
		}
		e.legs[legKey{market, t.TokenID}] = legMeta{
			MarketID:        market,
			Strategy:        sig.Strategy,
			StrategyType:    sig.Type(),
			Outcome:         t.Outcome,
			BracketMarketID: bracket,
		}
	}
}

func (e *Executor) legFor(group, token string) legMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.legs[legKey{group, token}]; ok {
		return m
	}
	return legMeta{MarketID: group}
}

// applyFill 按信号腿的归属入账
func (e *Executor) applyFill(f domain.Fill) {
	e.applyFillWith(f, e.legFor(f.GroupID, f.TokenID))
}

// applyFillWith 买入开仓；卖出按 FIFO 减仓并把已实现盈亏交给熔断器
func (e *Executor) applyFillWith(f domain.Fill, meta legMeta) {
	metrics.Fills.WithLabelValues(string(f.TimeInForce)).Inc()
	e.mu.Lock()
	e.stats.Fills++
	e.mu.Unlock()

	if e.ledger == nil {
		return
	}
	if f.Side == domain.SideBuy {
		var md map[string]string
		if meta.BracketMarketID != "" {
			md = map[string]string{domain.MetaBracketMarketID: meta.BracketMarketID}
		}
		if _, err := e.ledger.OpenPosition(ledger.OpenRequest{
			MarketID:     meta.MarketID,
			TokenID:      f.TokenID,
			Outcome:      meta.Outcome,
			Strategy:     meta.Strategy,
			StrategyType: meta.StrategyType,
			Price:        f.Price,
			Quantity:     f.Size,
			OrderID:      f.OrderID,
			Metadata:     md,
		}); err != nil {
			log.WithError(err).Errorf("[Executor] 成交开仓失败 order=%s", f.OrderID)
		}
		return
	}

	r := e.ledger.ReduceByToken(f.TokenID, f.Size, f.Price, f.OrderID)
	if len(r.Closed) > 0 {
		e.RecordRealizedPnL(r.Realized)
	}
	if r.Unmatched.IsPositive() {
		log.Warnf("[Executor] 卖出 %s 超出持仓 %s 份", f.TokenID, r.Unmatched)
	}
}

// RecordRealizedPnL 把已实现盈亏（平仓、结算）交给熔断器
func (e *Executor) RecordRealizedPnL(pnl decimal.Decimal) {
	if e.breaker == nil {
		return
	}
	e.breaker.RecordTradeResult(pnl)
	metrics.SetBreaker(e.breaker.State() != risk.StateArmed)
}

// Stats 执行器统计快照
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	s := e.stats
	s.Mode = e.cfg.Mode
	s.KillSwitch = e.killSwitch
	s.FailureReasons = make(map[string]int, len(e.stats.FailureReasons))
	for k, v := range e.stats.FailureReasons {
		s.FailureReasons[k] = v
	}
	s.ByStrategy = make(map[string]*StrategyStats, len(e.stats.ByStrategy))
	for k, v := range e.stats.ByStrategy {
		cp := *v
		s.ByStrategy[k] = &cp
	}
	e.mu.Unlock()

	if e.scheduler != nil {
		s.PendingHedges = e.scheduler.Pending()
	}
	s.OpenGTCByGroup = e.OpenGTCCountByGroup()
	if e.sim != nil {
		s.Canceled = e.sim.Stats().Canceled
	}
	if e.requoter != nil {
		s.Requoted = e.requoter.Stats().Requoted
	}
	if e.breaker != nil {
		s.Breaker = e.breaker.Stats()
	}
	if e.ledger != nil {
		s.Portfolio = e.ledger.PortfolioStats()
	}
	return s
}
