package orchestrator

import (
	"sort"
	"time"

	"github.com/betbot/gosignal/internal/domain"
)

// unknownDateScore 无结算时间时的时间分
const unknownDateScore = 0.1

const profitEpsilon = 1e-9

// ScoreConfig 优先级打分参数
type ScoreConfig struct {
	EdgeWeight        float64
	TimeWeight        float64
	SweetSpotHours    float64
	ResolutionMaxDays float64
}

// weights 归一化权重，全零时各取一半
func (c ScoreConfig) weights() (edge, tm float64) {
	edge, tm = max(c.EdgeWeight, 0), max(c.TimeWeight, 0)
	sum := edge + tm
	if sum <= 0 {
		return 0.5, 0.5
	}
	return edge / sum, tm / sum
}

// TimeScore 结算越近分数越高：甜区内为 1，之后线性衰减到 resolution_max_days 处为 0
func TimeScore(end time.Time, known bool, now time.Time, sweetSpotHours, maxDays float64) float64 {
	if !known {
		return unknownDateScore
	}
	hours := end.Sub(now).Hours()
	if hours <= sweetSpotHours {
		return 1
	}
	maxHours := maxDays * 24
	if maxHours <= sweetSpotHours || hours >= maxHours {
		return 0
	}
	return 1 - (hours-sweetSpotHours)/(maxHours-sweetSpotHours)
}

type scored struct {
	signal domain.StrategySignal
	score  float64
}

// prioritize 按综合得分降序排列，同分时 urgency 高者优先，其余保持输入顺序
func prioritize(signals []domain.StrategySignal, cfg ScoreConfig, now time.Time) []scored {
	if len(signals) == 0 {
		return nil
	}
	maxProfit := profitEpsilon
	for _, s := range signals {
		if p := s.Opportunity.ExpectedProfit.InexactFloat64(); p > maxProfit {
			maxProfit = p
		}
	}
	we, wt := cfg.weights()

	out := make([]scored, len(signals))
	for i, s := range signals {
		end, known := s.EndDate()
		edge := s.Opportunity.ExpectedProfit.InexactFloat64() / maxProfit
		ts := TimeScore(end, known, now, cfg.SweetSpotHours, cfg.ResolutionMaxDays)
		out[i] = scored{signal: s, score: we*edge + wt*ts}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].signal.Opportunity.Urgency > out[j].signal.Opportunity.Urgency
	})
	return out
}
