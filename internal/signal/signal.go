package signal

import (
	"math"

	"ictagent/internal/pattern"
)

// Signal 由多个同向形态共振合成的方向性交易信号。
// 合成后不可变；止损止盈留空，由风控模块按 ATR 填充。
type Signal struct {
	Direction  pattern.Direction  `json:"direction"`
	Price      float64            `json:"price"` // 预期入场价，取最近收盘
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit"`
	Confidence float64            `json:"confidence"`
	Time       int64              `json:"time"`
	Patterns   []pattern.Instance `json:"patterns"` // 参与共振的形态
}

// Kinds 返回参与共振的去重形态类别。
func (s *Signal) Kinds() []pattern.Kind {
	seen := make(map[pattern.Kind]bool, len(s.Patterns))
	var out []pattern.Kind
	for _, in := range s.Patterns {
		if !seen[in.Kind] {
			seen[in.Kind] = true
			out = append(out, in.Kind)
		}
	}
	return out
}

// Params 信号合成参数。权重刻画类别的可信度优先级，可按需覆盖。
type Params struct {
	Proximity   float64                  `json:"proximity"`   // 形态价位与现价的最大相对距离
	MinKinds    int                      `json:"min_kinds"`   // 共振要求的最少不同类别数
	KindWeights map[pattern.Kind]float64 `json:"kind_weights"`
}

func defaultKindWeights() map[pattern.Kind]float64 {
	return map[pattern.Kind]float64{
		pattern.KindStructureBreak: 1.0,
		pattern.KindOrderZone:      0.8,
		pattern.KindLiquidityLevel: 0.75,
		pattern.KindGap:            0.6,
	}
}

func (p *Params) applyDefaults() {
	if p.Proximity <= 0 {
		p.Proximity = 0.01
	}
	if p.MinKinds <= 0 {
		p.MinKinds = 2
	}
	if p.KindWeights == nil {
		p.KindWeights = defaultKindWeights()
	}
}

// Synthesizer 把未失效且贴近现价的形态按方向归并成信号。
type Synthesizer struct {
	params Params
}

func NewSynthesizer(p Params) *Synthesizer {
	p.applyDefaults()
	return &Synthesizer{params: p}
}

// Synthesize 对时刻 now 的活跃形态做共振判定。
// 仅当某一方向聚齐至少 MinKinds 个不同类别时给出信号；
// 两个方向同时满足视为方向冲突，放弃出信号。
func (s *Synthesizer) Synthesize(instances []pattern.Instance, lastClose float64, now int64) *Signal {
	active := pattern.Active(instances, lastClose, s.params.Proximity)
	if len(active) == 0 {
		return nil
	}

	byDir := make(map[pattern.Direction][]pattern.Instance, 2)
	for _, in := range active {
		byDir[in.Direction] = append(byDir[in.Direction], in)
	}

	var qualified []pattern.Direction
	for _, dir := range []pattern.Direction{pattern.DirectionUp, pattern.DirectionDown} {
		if distinctKinds(byDir[dir]) >= s.params.MinKinds {
			qualified = append(qualified, dir)
		}
	}
	if len(qualified) != 1 {
		return nil
	}

	dir := qualified[0]
	contributors := byDir[dir]
	return &Signal{
		Direction:  dir,
		Price:      lastClose,
		Confidence: s.confidence(contributors),
		Time:       now,
		Patterns:   contributors,
	}
}

func distinctKinds(instances []pattern.Instance) int {
	seen := make(map[pattern.Kind]bool, 4)
	for _, in := range instances {
		seen[in.Kind] = true
	}
	return len(seen)
}

// confidence 为强度的权重均值：权重取类别优先级，未配置的类别权重记 0.5。
func (s *Synthesizer) confidence(instances []pattern.Instance) float64 {
	var num, den float64
	for _, in := range instances {
		w, ok := s.params.KindWeights[in.Kind]
		if !ok {
			w = 0.5
		}
		num += w * in.Strength
		den += w
	}
	if den == 0 {
		return 0
	}
	return math.Max(0, math.Min(num/den, 1))
}
