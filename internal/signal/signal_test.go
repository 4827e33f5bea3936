package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictagent/internal/pattern"
)

func inst(k pattern.Kind, dir pattern.Direction, level, strength float64) pattern.Instance {
	return pattern.Instance{
		Kind:         k,
		Direction:    dir,
		PriceLow:     level,
		PriceHigh:    level,
		Strength:     strength,
		MitigatedIdx: -1,
	}
}

func TestSynthesizeConfluence(t *testing.T) {
	instances := []pattern.Instance{
		inst(pattern.KindGap, pattern.DirectionUp, 99.8, 0.5),
		inst(pattern.KindOrderZone, pattern.DirectionUp, 100.2, 0.6),
	}
	sig := NewSynthesizer(Params{}).Synthesize(instances, 100, 42)
	require.NotNil(t, sig)

	assert.Equal(t, pattern.DirectionUp, sig.Direction)
	assert.Equal(t, 100.0, sig.Price)
	assert.Equal(t, int64(42), sig.Time)
	assert.Zero(t, sig.StopLoss)
	assert.Zero(t, sig.TakeProfit)
	assert.Len(t, sig.Patterns, 2)
	// (0.6×0.5 + 0.8×0.6) / (0.6+0.8)
	assert.InDelta(t, 0.557142857, sig.Confidence, 1e-9)
}

func TestSynthesizeRequiresDistinctKinds(t *testing.T) {
	// 同类别堆叠不构成共振
	instances := []pattern.Instance{
		inst(pattern.KindGap, pattern.DirectionUp, 99.8, 0.5),
		inst(pattern.KindGap, pattern.DirectionUp, 100.2, 0.9),
	}
	sig := NewSynthesizer(Params{}).Synthesize(instances, 100, 1)
	assert.Nil(t, sig)
}

func TestSynthesizeDirectionConflict(t *testing.T) {
	instances := []pattern.Instance{
		inst(pattern.KindGap, pattern.DirectionUp, 99.8, 0.5),
		inst(pattern.KindOrderZone, pattern.DirectionUp, 100.2, 0.6),
		inst(pattern.KindLiquidityLevel, pattern.DirectionDown, 100.1, 0.7),
		inst(pattern.KindStructureBreak, pattern.DirectionDown, 99.9, 0.8),
	}
	sig := NewSynthesizer(Params{}).Synthesize(instances, 100, 1)
	assert.Nil(t, sig)
}

func TestSynthesizeIgnoresMitigatedAndFar(t *testing.T) {
	mitigated := inst(pattern.KindOrderZone, pattern.DirectionUp, 100.2, 0.6)
	mitigated.Mitigated = true
	instances := []pattern.Instance{
		inst(pattern.KindGap, pattern.DirectionUp, 99.8, 0.5),
		mitigated,
		inst(pattern.KindStructureBreak, pattern.DirectionUp, 120, 0.9), // 距现价 20%
	}
	sig := NewSynthesizer(Params{}).Synthesize(instances, 100, 1)
	assert.Nil(t, sig)
}

func TestSynthesizeCustomWeights(t *testing.T) {
	instances := []pattern.Instance{
		inst(pattern.KindGap, pattern.DirectionDown, 100.1, 1),
		inst(pattern.KindLiquidityLevel, pattern.DirectionDown, 99.9, 0.4),
	}
	s := NewSynthesizer(Params{
		KindWeights: map[pattern.Kind]float64{
			pattern.KindGap:            3,
			pattern.KindLiquidityLevel: 1,
		},
	})
	sig := s.Synthesize(instances, 100, 1)
	require.NotNil(t, sig)
	assert.Equal(t, pattern.DirectionDown, sig.Direction)
	// (3×1 + 1×0.4) / 4
	assert.InDelta(t, 0.85, sig.Confidence, 1e-9)
}

func TestSignalKinds(t *testing.T) {
	sig := &Signal{Patterns: []pattern.Instance{
		inst(pattern.KindGap, pattern.DirectionUp, 100, 0.5),
		inst(pattern.KindGap, pattern.DirectionUp, 100, 0.6),
		inst(pattern.KindOrderZone, pattern.DirectionUp, 100, 0.7),
	}}
	assert.Equal(t, []pattern.Kind{pattern.KindGap, pattern.KindOrderZone}, sig.Kinds())
}
