package hedge

import (
	"sort"
	"sync"
	"time"
)

// Scheduler 记录每个市场首次出现不平衡的时间，超时后到期
type Scheduler struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]time.Time
	now     func() time.Time
}

// NewScheduler 创建调度器；now 为 nil 时使用 time.Now
func NewScheduler(timeout time.Duration, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{timeout: timeout, pending: make(map[string]time.Time), now: now}
}

// NoteImbalance 只保留第一次记录的时间
func (s *Scheduler) NoteImbalance(market string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[market]; ok {
		return t
	}
	t := s.now()
	s.pending[market] = t
	return t
}

// Clear 不平衡已消除
func (s *Scheduler) Clear(market string) {
	s.mu.Lock()
	delete(s.pending, market)
	s.mu.Unlock()
}

// Due 是否已超时需要强制对冲
func (s *Scheduler) Due(market string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[market]
	return ok && s.now().Sub(t) >= s.timeout
}

// DueMarkets 所有到期市场（排序）
func (s *Scheduler) DueMarkets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []string
	for m, t := range s.pending {
		if now.Sub(t) >= s.timeout {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Pending 等待中的市场数量
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
