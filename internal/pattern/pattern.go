package pattern

// Kind 标识形态类别（封闭集合，下游按类别穷举处理）。
type Kind string

const (
	KindGap            Kind = "gap"
	KindOrderZone      Kind = "order_zone"
	KindLiquidityLevel Kind = "liquidity_level"
	KindStructureBreak Kind = "structure_break"
)

// Direction 标识形态的多空方向。
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Opposite 返回反方向。
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// Instance 表示一次形态实例。PriceLow/PriceHigh 描述价格区间，
// 单一价位（流动性水平、结构突破）时两者相等。
// Mitigated 一旦置真不再回退；MitigatedIdx 为触发失效的 K 线下标（-1 表示仍有效）。
type Instance struct {
	Kind              Kind      `json:"kind"`
	Direction         Direction `json:"direction"`
	StartIdx          int       `json:"start_idx"`
	EndIdx            int       `json:"end_idx"`
	PriceLow          float64   `json:"price_low"`
	PriceHigh         float64   `json:"price_high"`
	Strength          float64   `json:"strength"`
	Touches           int       `json:"touches"`
	ChangeOfCharacter bool      `json:"change_of_character,omitempty"`
	Mitigated         bool      `json:"mitigated"`
	MitigatedIdx      int       `json:"mitigated_idx"`
	Time              int64     `json:"time"`
}

// Level 返回区间中值，供近邻分组使用。
func (in Instance) Level() float64 {
	return (in.PriceLow + in.PriceHigh) / 2
}

// Params 汇总各检测器的阈值参数，零值按缺省补齐。
type Params struct {
	// GapMinSize 为缺口相对价格的最小占比。
	GapMinSize float64
	// DisplacementATR 为判定驱动行情的实体/ATR 倍数。
	DisplacementATR float64
	// ZoneMaxBars 为订单区包含的最大起源 K 线数。
	ZoneMaxBars int
	// LiquidityTolerance 为等高/等低判定的相对容差。
	LiquidityTolerance float64
	// NoiseThreshold 为收盘突破的噪声过滤比例。
	NoiseThreshold float64
	// PivotLookback 为摆动点两侧的确认窗口。
	PivotLookback int
	// MinTouches 为流动性水平成立所需的最少触碰次数。
	MinTouches int
	// VolumeLookback 为量能确认的回看长度。
	VolumeLookback int
	// ATRPeriod 为位移判定使用的 ATR 周期。
	ATRPeriod int
}

func (p *Params) applyDefaults() {
	if p.GapMinSize <= 0 {
		p.GapMinSize = 0.001
	}
	if p.DisplacementATR <= 0 {
		p.DisplacementATR = 2
	}
	if p.ZoneMaxBars <= 0 {
		p.ZoneMaxBars = 3
	}
	if p.LiquidityTolerance <= 0 {
		p.LiquidityTolerance = 0.005
	}
	if p.NoiseThreshold <= 0 {
		p.NoiseThreshold = 0.001
	}
	if p.PivotLookback <= 0 {
		p.PivotLookback = 5
	}
	if p.MinTouches <= 0 {
		p.MinTouches = 2
	}
	if p.VolumeLookback <= 0 {
		p.VolumeLookback = 10
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = 14
	}
}

func kindRank(k Kind) int {
	switch k {
	case KindStructureBreak:
		return 0
	case KindOrderZone:
		return 1
	case KindLiquidityLevel:
		return 2
	default:
		return 3
	}
}
