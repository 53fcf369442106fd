package executor

import (
	"time"

	"github.com/betbot/gosignal/internal/domain"
)

// 失败原因前缀
const (
	ReasonKillSwitch       = "kill_switch_enabled"
	ReasonBreakerPrefix    = "circuit_breaker_"
	ReasonValidationPrefix = "validation_failed_"
	ReasonRiskPrefix       = "risk_check_failed_"
	ReasonVenuePrefix      = "venue_rejected_"
	ReasonFOKUnfilled      = "fok_unfilled"
	ReasonNoFill           = "no_fill"
)

// ExecutionResult 一次信号执行的结果
type ExecutionResult struct {
	ID       string                `json:"id"`
	At       time.Time             `json:"at"`
	Mode     string                `json:"mode"`
	Strategy string                `json:"strategy"`
	MarketID string                `json:"market_id"`
	Success  bool                  `json:"success"`
	Reason   string                `json:"reason,omitempty"`
	Signal   domain.StrategySignal `json:"-"`
	OrderIDs []string              `json:"order_ids,omitempty"`
	Fills    []domain.Fill         `json:"fills,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Outcome 指标标签：成功为 success，否则为失败原因
func (r ExecutionResult) Outcome() string {
	if r.Success {
		return "success"
	}
	return r.Reason
}

// HoldsExposure 执行后市场上留有仓位或挂单（包括失败但已有腿成交的情况）
func (r ExecutionResult) HoldsExposure() bool {
	return r.Success || len(r.Fills) > 0
}
