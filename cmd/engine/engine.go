package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/catalog"
	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/executor"
	"github.com/betbot/gosignal/internal/hedge"
	"github.com/betbot/gosignal/internal/journal"
	"github.com/betbot/gosignal/internal/ledger"
	"github.com/betbot/gosignal/internal/marketstate"
	"github.com/betbot/gosignal/internal/metrics"
	"github.com/betbot/gosignal/internal/orchestrator"
	"github.com/betbot/gosignal/internal/paper"
	"github.com/betbot/gosignal/internal/resolution"
	"github.com/betbot/gosignal/internal/risk"
	"github.com/betbot/gosignal/internal/strategies"
	"github.com/betbot/gosignal/internal/strategies/pairarb"
	"github.com/betbot/gosignal/internal/venue"
	"github.com/betbot/gosignal/pkg/config"
	"github.com/betbot/gosignal/pkg/ratelimit"
	"github.com/betbot/gosignal/pkg/syncgroup"
)

var log = logrus.WithField("component", "engine")

// sources 外部数据来源，测试时可替换
type sources struct {
	Markets     catalog.Lister
	Resolutions resolution.Source
	Venue       executor.Venue
	Books       risk.BookFetcher // live 模式的深度来源
}

// engine 组装好的运行时
type engine struct {
	cfg      *config.Config
	bankroll decimal.Decimal

	store    ledger.Store
	ledger   *ledger.Ledger
	journal  *journal.Journal
	books    *marketstate.BookStore
	catalog  *catalog.Catalog
	feed     *marketstate.Feed
	sim      *paper.Simulator
	requoter *paper.Requoter
	breaker  *risk.CircuitBreaker
	exec     *executor.Executor
	registry *strategies.Registry
	orch     *orchestrator.Orchestrator
	monitor  *resolution.Monitor
	tasks    *syncgroup.Group

	lastStats time.Time
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// liveSources 真实的 gamma / CLOB 客户端
func liveSources(cfg *config.Config) (sources, error) {
	gamma := venue.NewGammaClient(cfg.Venue.GammaURL, 15*time.Second)
	src := sources{Markets: gamma, Resolutions: gamma}

	var signer *venue.Signer
	if cfg.Venue.PrivateKey != "" {
		s, err := venue.NewSigner(cfg.Venue.PrivateKey, cfg.Venue.ChainID, cfg.Venue.FunderAddress)
		if err != nil {
			return src, fmt.Errorf("init signer: %w", err)
		}
		signer = s
	}
	client := venue.NewClient(venue.ClientConfig{
		BaseURL: cfg.Venue.ClobURL,
		Creds: venue.Credentials{
			Key:        cfg.Venue.APIKey,
			Secret:     cfg.Venue.APISecret,
			Passphrase: cfg.Venue.APIPassphrase,
		},
		Signer:  signer,
		Limiter: ratelimit.NewTokenBucket(cfg.Venue.RateLimitBurst, cfg.Venue.RateLimitPerSec),
	})
	src.Books = client
	if client.CanTrade() {
		src.Venue = client
	}
	return src, nil
}

func openStore(cfg config.StorageConfig) (ledger.Store, error) {
	switch cfg.Backend {
	case "json":
		return ledger.NewJSONFileStore(cfg.Path), nil
	default:
		return ledger.OpenBadgerStore(cfg.Path)
	}
}

// newEngine 按启动顺序组装：存储、行情、撮合与风控、执行与编排、结算监控
func newEngine(cfg *config.Config, src sources) (*engine, error) {
	e := &engine{cfg: cfg, bankroll: dec(cfg.BankrollUSDC), tasks: syncgroup.New()}
	paperMode := cfg.Mode != config.ModeLive || src.Venue == nil

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	e.store = store
	if e.ledger, err = ledger.New(store); err != nil {
		return nil, err
	}
	if paperMode && cfg.Paper.ResetOnStart {
		if err := e.ledger.Reset(); err != nil {
			return nil, fmt.Errorf("reset ledger: %w", err)
		}
		log.Infof("[Engine] paper 模式干净启动，已清空仓位")
	}
	if cfg.Storage.JournalPath != "" {
		if e.journal, err = journal.Open(cfg.Storage.JournalPath); err != nil {
			return nil, err
		}
	}

	e.books = marketstate.NewBookStore()
	e.catalog = catalog.New(src.Markets, e.books, cfg.Orchestrator.CatalogMarketLimit)

	e.sim = paper.NewSimulator(paper.Config{
		FillProbability:    cfg.Paper.FillProbability,
		RequireVolumeCross: cfg.Paper.RequireVolumeCross,
		Seed:               cfg.Paper.Seed,
	})
	if cfg.Paper.RequoteEnabled {
		e.requoter = paper.NewRequoter(e.sim, paper.RequoteConfig{
			MaxDistance: dec(cfg.Paper.RequoteMaxDistance),
			MaxAge:      secs(cfg.Paper.RequoteMaxAgeSec),
			Cooldown:    secs(cfg.Paper.RequoteCooldownSec),
		})
	}
	e.breaker = risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxDailyLoss:         dec(cfg.Risk.MaxDailyLossUSDC),
		MaxDrawdownPct:       dec(cfg.Risk.MaxDrawdownPct),
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             secs(cfg.Risk.CooldownSec),
	}, time.Now)
	e.breaker.UpdatePortfolioValue(e.bankroll)

	var depth *risk.DepthChecker
	if src.Books != nil && cfg.Risk.MinDepthUSDC > 0 {
		depth = risk.NewDepthChecker(src.Books, dec(cfg.Risk.MinDepthUSDC), secs(cfg.Risk.DepthCacheTTLSec), nil)
	}
	checker := risk.NewPreTradeChecker(risk.CheckConfig{
		MaxInventoryPerCondition: dec(cfg.Risk.MaxInventoryUSDCPerCondition),
		MaxOpenGTCPerCondition:   cfg.Risk.MaxOpenGTCPerCondition,
		Bankroll:                 e.bankroll,
	}, e.ledger, nil, depth)

	deps := executor.Deps{
		Simulator: e.sim,
		Requoter:  e.requoter,
		Ledger:    e.ledger,
		Breaker:   e.breaker,
		Checker:   checker,
		Hedger: hedge.NewHedger(hedge.Config{
			MinImbalance: dec(cfg.Hedge.MinImbalanceShares),
			MaxHedgeUSDC: dec(cfg.Hedge.MaxHedgeUSDC),
		}),
		Scheduler: hedge.NewScheduler(secs(cfg.Hedge.TimeoutSec), time.Now),
		Pairs:     e.catalog,
	}
	if src.Venue != nil {
		deps.Venue = src.Venue
	}
	if e.journal != nil {
		deps.Journal = e.journal
	}
	e.exec = executor.New(executor.Config{
		Mode:          cfg.Mode,
		KillSwitch:    cfg.KillSwitch,
		RetryAttempts: cfg.Venue.RetryAttempts,
		RetryDelay:    time.Duration(cfg.Venue.RetryDelayMs) * time.Millisecond,
		Hedge: executor.HedgeConfig{
			Enabled: cfg.Hedge.Enabled,
			Posture: hedge.Posture(cfg.Hedge.Posture),
		},
	}, deps)

	e.feed = marketstate.NewFeed(marketstate.FeedConfig{URL: cfg.Venue.WSURL}, e.books, e.onQuote)

	if err := e.buildStrategies(); err != nil {
		return nil, err
	}
	e.orch = orchestrator.New(orchestratorConfig(cfg), e.registry, e.catalog)
	e.monitor = resolution.NewMonitor(src.Resolutions, e.ledger, secs(cfg.Resolution.CheckIntervalSec))

	e.restoreActive()
	return e, nil
}

func (e *engine) buildStrategies() error {
	e.registry = strategies.NewRegistry()
	arb, err := pairarb.New(pairarb.Config{
		MinEdge: dec(e.cfg.Orchestrator.PairArbMinEdge),
		Size:    dec(e.cfg.Orchestrator.PairArbSize),
	}, e.books)
	if err != nil {
		return fmt.Errorf("pairarb: %w", err)
	}
	if err := e.registry.Register(arb); err != nil {
		return err
	}

	enabled := make(map[string]bool, len(e.cfg.Orchestrator.EnabledStrategies))
	for _, name := range e.cfg.Orchestrator.EnabledStrategies {
		enabled[name] = true
	}
	for _, name := range e.registry.List() {
		if len(enabled) > 0 && !enabled[name] {
			_ = e.registry.SetEnabled(name, false)
		}
	}
	return nil
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := cfg.Orchestrator
	types := make([]domain.StrategyType, 0, len(oc.StackableTypes))
	for _, t := range oc.StackableTypes {
		types = append(types, domain.StrategyType(t))
	}
	return orchestrator.Config{
		MaxConcurrent:   oc.MaxConcurrentTrades,
		EnableStacking:  oc.EnableStacking,
		StackableTypes:  types,
		StrategyTimeout: secs(oc.StrategyTimeoutSec),
		Sizing: orchestrator.SizingConfig{
			MaxOrderUSDC: dec(oc.MaxOrderUSDC),
			MinOrderUSDC: dec(oc.MinOrderUSDC),
			MinShares:    dec(oc.MinOrderShares),
			InitialPct:   dec(oc.InitialPct),
			MaxStacks:    oc.MaxStacks,
		},
		Score: orchestrator.ScoreConfig{
			EdgeWeight:        oc.EdgeWeight,
			TimeWeight:        oc.TimeWeight,
			SweetSpotHours:    oc.SweetSpotHours,
			ResolutionMaxDays: oc.ResolutionMaxDays,
		},
	}
}

// restoreActive 重启后按现有持仓恢复去重状态
func (e *engine) restoreActive() {
	open := e.ledger.OpenMarkets()
	for market := range open {
		e.orch.MarkPositionActive(market)
	}
	if len(open) > 0 {
		log.Infof("[Engine] 从持仓恢复 %d 个活跃市场", len(open))
	}
}

// onQuote 行情回调：驱动纸上挂单撮合与对冲
func (e *engine) onQuote(ctx context.Context, tokenID string, q domain.Quote) {
	e.exec.OnMarketUpdate(ctx, tokenID, q.BestBid, q.BestAsk)
}

// start 首次拉取目录并启动行情、目录刷新后台任务
func (e *engine) start(ctx context.Context) {
	if _, err := e.catalog.Refresh(ctx); err != nil {
		log.WithError(err).Warnf("[Engine] 首次拉取市场目录失败，稍后重试")
	}
	tokens := e.catalog.Tokens()
	for _, p := range e.ledger.Open() {
		tokens = append(tokens, p.TokenID)
	}
	_ = e.feed.Subscribe(tokens...)

	e.tasks.Go("feed", func() {
		if err := e.feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Errorf("[Engine] 行情连接退出")
		}
	})
	e.tasks.Go("catalog", func() {
		e.catalog.Run(ctx, secs(e.cfg.Orchestrator.CatalogRefreshSec), func(fresh []string) {
			if err := e.feed.Subscribe(fresh...); err != nil {
				log.WithError(err).Warnf("[Engine] 订阅新 token 失败")
			}
		})
	})
}

// tick 单次主循环
func (e *engine) tick(ctx context.Context) {
	e.checkResolutions(ctx)
	if e.exec.Mode() == executor.ModePaper && e.cfg.Paper.AutoRedeem {
		e.autoRedeem()
	}
	e.markToMarket()
	e.reconcileAdmission()

	for _, sig := range e.orch.RunOnce(ctx) {
		if ctx.Err() != nil {
			return
		}
		strat, _ := e.registry.Get(sig.Strategy)
		res := e.exec.ExecuteSignal(ctx, sig, strat)
		if res.HoldsExposure() {
			e.orch.MarkPositionActive(sig.MarketID())
		}
	}

	e.exec.EvaluateHedges(ctx)
}

func (e *engine) checkResolutions(ctx context.Context) {
	for _, ev := range e.monitor.CheckResolutions(ctx) {
		metrics.ResolvedMarkets.Inc()
		if !ev.RealizedPnL.IsZero() {
			e.exec.RecordRealizedPnL(ev.RealizedPnL)
		}
		if n := e.exec.CancelMarketOrders(ctx, ev.MarketID); n > 0 {
			log.Infof("[Engine] %s 已结算，撤销剩余挂单 %d 笔", ev.MarketID, n)
		}
		e.orch.ReleaseMarket(ev.MarketID)
		if e.journal != nil {
			if err := e.journal.RecordResolution(ev); err != nil {
				metrics.JournalErrors.Inc()
				log.WithError(err).Warnf("[Engine] 写入结算日志失败 %s", ev.MarketID)
			}
		}
	}
}

// autoRedeem 纸上模式按 1.0 结算获胜仓位
func (e *engine) autoRedeem() {
	for _, p := range e.ledger.Redeemable() {
		pnl, err := e.ledger.SettleRedemption(p.ID)
		if err != nil {
			log.WithError(err).Warnf("[Engine] 赎回 %s 失败", p.ID)
			continue
		}
		e.exec.RecordRealizedPnL(pnl)
		log.Infof("[Engine] 赎回 %s (%s) 已实现 %s", p.ID, p.MarketID, pnl.StringFixed(4))
	}
}

// markToMarket 中间价盯市，并把组合市值交给熔断器
func (e *engine) markToMarket() {
	e.ledger.UpdateUnrealizedPnL(e.books.Mids())
	ps := e.ledger.PortfolioStats()
	e.breaker.UpdatePortfolioValue(e.bankroll.Add(ps.Realized).Add(ps.Unrealized))

	metrics.OpenPositions.Set(float64(ps.ByStatus[domain.PositionOpen]))
	metrics.PortfolioPnL.WithLabelValues("realized").Set(ps.Realized.InexactFloat64())
	metrics.PortfolioPnL.WithLabelValues("unrealized").Set(ps.Unrealized.InexactFloat64())
	metrics.SetBreaker(e.breaker.State() != risk.StateArmed)
}

// reconcileAdmission 让准入集合与实际持仓一致：
// 没有持仓也没有挂单的市场释放，有持仓却未登记的市场补登记
func (e *engine) reconcileAdmission() {
	open := e.ledger.OpenMarkets()
	resting := e.exec.OpenGTCCountByGroup()
	for market := range e.orch.Stats().ActiveMarkets {
		if open[market] == 0 && resting[market] == 0 {
			e.orch.ReleaseMarket(market)
		}
	}
	for market, n := range open {
		if n > 0 && e.orch.ActiveCount(market) == 0 {
			e.orch.MarkPositionActive(market)
		}
	}
}

// maybePrintStats 按 stats_interval 打印统计面板
func (e *engine) maybePrintStats(now time.Time) {
	interval := secs(e.cfg.StatsIntervalSec)
	if interval <= 0 || now.Sub(e.lastStats) < interval {
		return
	}
	e.lastStats = now
	fmt.Println(renderStats(e.snapshot()))
}

func (e *engine) snapshot() statsView {
	return statsView{
		Executor:     e.exec.Stats(),
		Orchestrator: e.orch.Stats(),
		Resolution:   e.monitor.Stats(),
		Feed:         e.feed.Stats(),
		Markets:      e.catalog.Len(),
		Bankroll:     e.bankroll,
	}
}

// close 等待后台任务退出后再关闭存储，调用前 ctx 应已取消
func (e *engine) close() {
	if !e.tasks.WaitTimeout(10 * time.Second) {
		log.Warnf("[Engine] 后台任务未按时退出: %v", e.tasks.Running())
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			log.WithError(err).Warnf("[Engine] 关闭执行日志失败")
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.WithError(err).Warnf("[Engine] 关闭仓位存储失败")
		}
	}
}
