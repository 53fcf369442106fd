package venue

import (
	"fmt"
	"strings"
)

// RejectKind 拒单类别
type RejectKind string

const (
	KindInsufficientFunds RejectKind = "insufficient_funds"
	KindMinNotional       RejectKind = "min_notional"
	KindBlocked           RejectKind = "blocked"
	KindRateLimited       RejectKind = "rate_limited"
	KindUnknown           RejectKind = "unknown"
)

// Retryable 只有被拦截和限流值得重试
func (k RejectKind) Retryable() bool {
	return k == KindBlocked || k == KindRateLimited
}

// RejectError 交易所拒单
type RejectError struct {
	Kind    RejectKind
	Status  int
	Message string
}

func (e *RejectError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("venue rejected (%s, http %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("venue rejected (%s): %s", e.Kind, e.Message)
}

// Classify 根据 HTTP 状态与错误文本归类拒单
func Classify(status int, message string) *RejectError {
	lowered := strings.ToLower(message)
	kind := KindUnknown
	switch {
	case status == 429 || strings.Contains(lowered, "rate limit") || strings.Contains(lowered, "too many requests"):
		kind = KindRateLimited
	case status == 403 && (strings.Contains(lowered, "cloudflare") || strings.Contains(lowered, "blocked")),
		strings.Contains(lowered, "you have been blocked"):
		kind = KindBlocked
	case strings.Contains(lowered, "insufficient_funds"),
		strings.Contains(lowered, "not enough balance"),
		strings.Contains(lowered, "insufficient funds"),
		strings.Contains(lowered, "allowance"):
		kind = KindInsufficientFunds
	case strings.Contains(lowered, "invalid amount") && strings.Contains(lowered, "min size"),
		strings.Contains(lowered, "min_order"):
		kind = KindMinNotional
	}
	if len(message) > 300 {
		message = message[:300] + "..."
	}
	return &RejectError{Kind: kind, Status: status, Message: message}
}
