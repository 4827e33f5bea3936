package pattern

import (
	"math"
	"sort"

	"ictagent/internal/indicator"
	"ictagent/internal/market"
)

// Detector 对一段 K 线执行全部形态扫描。相同输入必然产出相同结果：
// 先发射候选实例，再统一向后扫尾（触碰计数与失效判定），两趟分离使
// “不前视”约束可以按阶段检验。
type Detector struct {
	params Params
}

// NewDetector 构造检测器，未设置的参数取缺省。
func NewDetector(p Params) *Detector {
	p.applyDefaults()
	return &Detector{params: p}
}

// Params 返回生效的参数快照。
func (d *Detector) Params() Params { return d.params }

// Detect 返回按 (EndIdx, 类别优先级, StartIdx) 排序的形态实例。
// 序列长度不足某个检测器的最小回看时，该检测器给出空结果而非报错。
func (d *Detector) Detect(candles []market.Candle) []Instance {
	if len(candles) == 0 {
		return nil
	}
	atr := indicator.ATRSeries(candles, d.params.ATRPeriod)

	out := make([]Instance, 0, 16)
	out = append(out, d.detectGaps(candles)...)
	out = append(out, d.detectOrderZones(candles, atr)...)
	out = append(out, d.detectLiquidityLevels(candles)...)
	out = append(out, d.detectStructureBreaks(candles)...)

	d.sweep(candles, out)
	out = d.filterLiquidity(out)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EndIdx != b.EndIdx {
			return a.EndIdx < b.EndIdx
		}
		if kindRank(a.Kind) != kindRank(b.Kind) {
			return kindRank(a.Kind) < kindRank(b.Kind)
		}
		if a.StartIdx != b.StartIdx {
			return a.StartIdx < b.StartIdx
		}
		return a.PriceLow < b.PriceLow
	})
	return out
}

// sweep 为每个实例向后（EndIdx 之后）重放价格：先计触碰，首个收盘
// 突破保护边界即置 Mitigated 并停止该实例的检查。
func (d *Detector) sweep(candles []market.Candle, instances []Instance) {
	for k := range instances {
		in := &instances[k]
		for t := in.EndIdx + 1; t < len(candles); t++ {
			c := candles[t]
			if d.violates(in, c) {
				in.Mitigated = true
				in.MitigatedIdx = t
				break
			}
			if d.touches(in, c) {
				in.Touches++
			}
		}
		d.reviseStrength(in)
	}
}

// violates 判定收盘是否突破实例的保护边界。
func (d *Detector) violates(in *Instance, c market.Candle) bool {
	noise := d.params.NoiseThreshold
	switch in.Kind {
	case KindGap, KindOrderZone:
		// 看涨区间是下方支撑，收盘跌穿区间下沿即失效；看跌对称。
		if in.Direction == DirectionUp {
			return c.Close < in.PriceLow*(1-noise)
		}
		return c.Close > in.PriceHigh*(1+noise)
	case KindLiquidityLevel:
		if in.Direction == DirectionDown { // 阻力
			return c.Close > in.PriceHigh*(1+noise)
		}
		return c.Close < in.PriceLow*(1-noise)
	case KindStructureBreak:
		// 收盘回到被突破摆动点的另一侧，视为假突破。
		if in.Direction == DirectionUp {
			return c.Close < in.PriceLow*(1-noise)
		}
		return c.Close > in.PriceHigh*(1+noise)
	}
	return false
}

// touches 判定一次未失效的重访。
func (d *Detector) touches(in *Instance, c market.Candle) bool {
	switch in.Kind {
	case KindGap, KindOrderZone:
		if in.Direction == DirectionUp {
			return c.Low <= in.PriceHigh
		}
		return c.High >= in.PriceLow
	case KindLiquidityLevel:
		level := in.Level()
		if level <= 0 {
			return false
		}
		if in.Direction == DirectionDown {
			return math.Abs(c.High-level)/level <= d.params.LiquidityTolerance
		}
		return math.Abs(c.Low-level)/level <= d.params.LiquidityTolerance
	}
	return false
}

// reviseStrength 按扫尾结果修正强度：订单区的有效触碰体现吸筹，
// 流动性水平的强度完全由触碰次数给出。
func (d *Detector) reviseStrength(in *Instance) {
	switch in.Kind {
	case KindOrderZone:
		in.Strength = math.Min(in.Strength+float64(in.Touches)*0.05, 1)
	case KindLiquidityLevel:
		in.Strength = math.Min(float64(in.Touches)/10, 1)
	}
}

// filterLiquidity 剔除触碰不足的流动性候选。
func (d *Detector) filterLiquidity(instances []Instance) []Instance {
	out := instances[:0]
	for _, in := range instances {
		if in.Kind == KindLiquidityLevel && in.Touches < d.params.MinTouches {
			continue
		}
		out = append(out, in)
	}
	return out
}

// Active 返回在 lastClose 附近（相对距离 proximity 以内）仍未失效的实例。
func Active(instances []Instance, lastClose, proximity float64) []Instance {
	if lastClose <= 0 {
		return nil
	}
	out := make([]Instance, 0, len(instances))
	for _, in := range instances {
		if in.Mitigated {
			continue
		}
		level := in.Level()
		if level <= 0 {
			continue
		}
		if math.Abs(lastClose-level)/lastClose <= proximity {
			out = append(out, in)
		}
	}
	return out
}
