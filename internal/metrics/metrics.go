package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrchestratorCycles 编排周期数
	OrchestratorCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gosignal_orchestrator_cycles_total",
		Help: "Number of orchestration cycles run",
	})

	// SignalsCollected 策略产出的信号数
	SignalsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosignal_signals_collected_total",
		Help: "Signals produced by strategies",
	}, []string{"strategy"})

	// SignalsAdmitted 通过准入与仓位计算的信号数
	SignalsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gosignal_signals_admitted_total",
		Help: "Signals admitted for execution",
	})

	// SignalsSkipped 被过滤的信号数（按原因）
	SignalsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosignal_signals_skipped_total",
		Help: "Signals skipped by admission or sizing",
	}, []string{"reason"})

	// StrategyErrors 策略扫描失败数
	StrategyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosignal_strategy_errors_total",
		Help: "Strategy scan failures",
	}, []string{"strategy"})

	// Executions 执行结果（success / 拒绝原因）
	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosignal_executions_total",
		Help: "Signal execution outcomes",
	}, []string{"mode", "outcome"})

	// Fills 成交笔数（按 time in force）
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosignal_fills_total",
		Help: "Order fills",
	}, []string{"tif"})

	// Requotes 重新挂单数
	Requotes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gosignal_requotes_total",
		Help: "Resting orders re-anchored to the book",
	})

	// HedgeEvents 对冲事件（kind=hedge/forced）
	HedgeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosignal_hedge_events_total",
		Help: "Hedge orders placed",
	}, []string{"kind"})

	// BreakerTripped 熔断器状态（1=非 ARMED）
	BreakerTripped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gosignal_breaker_tripped",
		Help: "1 when the circuit breaker blocks trading",
	})

	// OpenPositions 持仓数量
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gosignal_open_positions",
		Help: "Open positions in the ledger",
	})

	// PortfolioPnL 组合盈亏（kind=realized/unrealized）
	PortfolioPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gosignal_portfolio_pnl_usdc",
		Help: "Portfolio profit and loss in USDC",
	}, []string{"kind"})

	// ResolvedMarkets 已结算市场数
	ResolvedMarkets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gosignal_resolved_markets_total",
		Help: "Markets observed as resolved",
	})

	// VenueRejections 交易所拒单（按类别）
	VenueRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosignal_venue_rejections_total",
		Help: "Live order rejections by kind",
	}, []string{"kind"})

	// JournalErrors 执行日志写入失败数
	JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gosignal_journal_errors_total",
		Help: "Failed journal writes",
	})
)

// SetBreaker 同步熔断器状态
func SetBreaker(tripped bool) {
	if tripped {
		BreakerTripped.Set(1)
		return
	}
	BreakerTripped.Set(0)
}
