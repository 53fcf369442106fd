package orchestrator

import "sync"

// 跳过原因
const (
	SkipMissingMarketID  = "missing_market_id"
	SkipInvalidSignal    = "invalid_signal"
	SkipDuplicateMarket  = "duplicate_market"
	SkipMaxStacksReached = "max_stacks_reached"
	SkipMaxConcurrent    = "max_concurrent_reached"
	SkipBelowMinShares   = "below_min_shares"
	SkipBelowMinNotional = "below_min_notional"
)

// activeSet 活跃市场多重集合：market -> 入场次数
type activeSet struct {
	mu     sync.Mutex
	counts map[string]int
}

func newActiveSet() *activeSet {
	return &activeSet{counts: make(map[string]int)}
}

func (a *activeSet) add(market string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[market]++
}

// remove 移除一次入场，计数归零时删除
func (a *activeSet) remove(market string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := a.counts[market]; n > 1 {
		a.counts[market] = n - 1
		return
	}
	delete(a.counts, market)
}

// release 清除市场的全部入场
func (a *activeSet) release(market string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, market)
}

func (a *activeSet) count(market string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[market]
}

// distinct 不同市场数量
func (a *activeSet) distinct() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.counts)
}

func (a *activeSet) snapshot() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}
