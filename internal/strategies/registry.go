package strategies

import (
	"context"
	"fmt"
	"sync"

	"github.com/betbot/gosignal/internal/domain"
)

// Strategy 信号策略接口
type Strategy interface {
	Name() string
	Type() domain.StrategyType
	// Scan 基于市场快照产生候选信号
	Scan(ctx context.Context, snap domain.MarketSnapshot) ([]domain.StrategySignal, error)
	// Validate 执行前的最后校验，返回 false 时附带原因
	Validate(sig domain.StrategySignal) (bool, string)
}

// Registry 策略注册表（按注册顺序遍历，支持启停）
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	order      []string
	disabled   map[string]bool
}

// NewRegistry 创建新的策略注册表
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		disabled:   make(map[string]bool),
	}
}

// Register 注册策略
func (r *Registry) Register(strategy Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strategy.Name()
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("策略 %s 已存在", name)
	}
	r.strategies[name] = strategy
	r.order = append(r.order, name)
	return nil
}

// Get 获取策略
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, exists := r.strategies[name]
	if !exists {
		return nil, fmt.Errorf("策略 %s 不存在", name)
	}
	return strategy, nil
}

// SetEnabled 启用或停用策略
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[name]; !exists {
		return fmt.Errorf("策略 %s 不存在", name)
	}
	if enabled {
		delete(r.disabled, name)
	} else {
		r.disabled[name] = true
	}
	return nil
}

// List 列出所有策略名称（注册顺序）
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Enabled 已启用的策略（注册顺序）
func (r *Registry) Enabled() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		if !r.disabled[name] {
			out = append(out, r.strategies[name])
		}
	}
	return out
}
