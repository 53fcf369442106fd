package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/executor"
	"github.com/betbot/gosignal/internal/marketstate"
	"github.com/betbot/gosignal/internal/orchestrator"
	"github.com/betbot/gosignal/internal/resolution"
	"github.com/betbot/gosignal/internal/risk"
)

// statsView 面板所需的全部快照
type statsView struct {
	Executor     executor.Stats
	Orchestrator orchestrator.Stats
	Resolution   resolution.Stats
	Feed         marketstate.FeedStats
	Markets      int
	Bankroll     decimal.Decimal
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	badStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

func pnlText(d decimal.Decimal) string {
	s := d.StringFixed(2)
	switch {
	case d.IsPositive():
		return okStyle.Render("+" + s)
	case d.IsNegative():
		return badStyle.Render(s)
	}
	return s
}

func renderSignals(v statsView) string {
	o := v.Orchestrator
	lines := []string{
		titleStyle.Render("信号"),
		fmt.Sprintf("周期 %d  收集 %d  准入 %d", o.Cycles, o.Collected, o.Admitted),
		fmt.Sprintf("活跃市场 %d  目录 %d  行情订阅 %d", len(o.ActiveMarkets), v.Markets, v.Feed.Subscriptions),
	}
	lines = append(lines, topCounts("跳过", o.SkipReasons, 4)...)
	if len(o.StrategyErrors) > 0 {
		lines = append(lines, topCounts(warnStyle.Render("策略错误"), o.StrategyErrors, 3)...)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderExecution(v statsView) string {
	x := v.Executor
	mode := okStyle.Render(x.Mode)
	if x.KillSwitch {
		mode = badStyle.Render(x.Mode + " (KILL)")
	}
	gtc := 0
	for _, n := range x.OpenGTCByGroup {
		gtc += n
	}
	lines := []string{
		titleStyle.Render("执行 ") + mode,
		fmt.Sprintf("执行 %d  成功 %d  失败 %d  成交 %d", x.Executions, x.Successes, x.Failures, x.Fills),
		fmt.Sprintf("挂单 %d  撤单 %d  重挂 %d", gtc, x.Canceled, x.Requoted),
		fmt.Sprintf("对冲 %d  强制 %d  等待 %d", x.HedgeEvents, x.ForcedHedges, x.PendingHedges),
	}
	lines = append(lines, topCounts("失败", x.FailureReasons, 4)...)
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderPortfolio(v statsView) string {
	p := v.Executor.Portfolio
	b := v.Executor.Breaker
	state := okStyle.Render(string(b.State))
	if b.State != risk.StateArmed {
		state = badStyle.Render(string(b.State))
	}
	lines := []string{
		titleStyle.Render("组合"),
		fmt.Sprintf("本金 %s  持仓成本 %s", v.Bankroll.StringFixed(2), p.OpenCost.StringFixed(2)),
		fmt.Sprintf("已实现 %s  未实现 %s", pnlText(p.Realized), pnlText(p.Unrealized)),
		fmt.Sprintf("熔断 %s  当日 %s  回撤 %s%%  连亏 %d",
			state, pnlText(b.DailyPnL), b.Drawdown.Mul(decimal.NewFromInt(100)).StringFixed(1), b.ConsecutiveLosses),
		fmt.Sprintf("结算 %d  待赎回 %s", v.Resolution.ResolvedMarkets, v.Resolution.RedeemableValue.StringFixed(2)),
	}
	if b.TripReason != "" {
		lines = append(lines, warnStyle.Render("原因: "+b.TripReason))
	}

	names := make([]string, 0, len(p.ByStrategy))
	for name := range p.ByStrategy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bk := p.ByStrategy[name]
		lines = append(lines, fmt.Sprintf("  %-16s %3d 仓  %s", name, bk.Positions, pnlText(bk.Realized.Add(bk.Unrealized))))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// topCounts 计数从大到小取前 n 项
func topCounts(label string, m map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	list := make([]kv, 0, len(m))
	for k, v := range m {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].v != list[j].v {
			return list[i].v > list[j].v
		}
		return list[i].k < list[j].k
	})
	var out []string
	for i, e := range list {
		if i >= n {
			break
		}
		out = append(out, fmt.Sprintf("  %s %-24s %d", label, e.k, e.v))
	}
	return out
}

// renderStats 三栏统计面板
func renderStats(v statsView) string {
	left := lipgloss.JoinVertical(lipgloss.Left, renderSignals(v), renderExecution(v))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", renderPortfolio(v))
}
