package pairarb

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config 二元互补套利配置
type Config struct {
	MinEdge decimal.Decimal // YES ask + NO ask 至少低于 1 的幅度
	Size    decimal.Decimal // 每条腿的份额（编排器会再按分级缩小）
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MinEdge: decimal.RequireFromString("0.01"),
		Size:    decimal.NewFromInt(20),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MinEdge.IsNegative() || c.MinEdge.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("min_edge 必须在 [0,1) 之间，当前 %s", c.MinEdge)
	}
	if !c.Size.IsPositive() {
		return fmt.Errorf("size 必须大于 0")
	}
	return nil
}
