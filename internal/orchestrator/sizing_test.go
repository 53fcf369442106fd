package orchestrator

import (
	"testing"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTierFraction(t *testing.T) {
	initial := d("0.25")
	assert.True(t, TierFraction(0, 3, initial).Equal(d("0.25")))
	assert.True(t, TierFraction(1, 3, initial).Equal(d("0.625")))
	assert.True(t, TierFraction(2, 3, initial).Equal(d("1")))
	assert.True(t, TierFraction(5, 3, initial).Equal(d("1")))
	assert.True(t, TierFraction(0, 1, initial).Equal(d("1")), "单档时直接满仓")

	// 单调不减
	prev := d("0")
	for depth := 0; depth < 6; depth++ {
		f := TierFraction(depth, 6, initial)
		assert.True(t, f.GreaterThanOrEqual(prev))
		prev = f
	}
}

func TestSizeSignal_NeverScalesUp(t *testing.T) {
	cfg := testConfig().Sizing
	sig := pairSignal("m", domain.StrategyDirectional, "10", "1") // $10
	sized, _, ok := sizeSignal(sig, 0, true, cfg)
	assert.True(t, ok)
	assert.True(t, sized.TotalCost().Equal(d("5")), "超出首档预算时缩小")

	sized, _, ok = sizeSignal(sig, 2, true, cfg)
	assert.True(t, ok)
	assert.True(t, sized.TotalCost().Equal(d("10")), "低于预算时不放大")
}
