package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceSimulator(t *testing.T) {
	p := NewPriceSimulator(MarketConfig{MaxSwingPct: 5, SwingThresholdPct: 3}, 42)

	for i := 0; i < 1000; i++ {
		pct := p.Swing()
		assert.GreaterOrEqual(t, pct, -5.0)
		assert.LessOrEqual(t, pct, 5.0)
	}

	assert.False(t, p.Significant(3))
	assert.False(t, p.Significant(-3))
	assert.True(t, p.Significant(3.01))
	assert.True(t, p.Significant(-4.5))

	assert.Equal(t, TrendDown, trendOf(-0.5))
	assert.Equal(t, TrendUp, trendOf(0))
}

func TestPriceSimulatorDeterministicSeed(t *testing.T) {
	a := NewPriceSimulator(MarketConfig{MaxSwingPct: 5}, 7)
	b := NewPriceSimulator(MarketConfig{MaxSwingPct: 5}, 7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Swing(), b.Swing())
	}
}

func TestPriceSimulatorTune(t *testing.T) {
	p := NewPriceSimulator(MarketConfig{MaxSwingPct: 5, SwingThresholdPct: 3}, 1)

	require.NoError(t, p.Tune(MarketTuning{SwingThresholdPct: ptr(1.0)}))
	cur := p.Tuning()
	assert.InDelta(t, 1.0, *cur.SwingThresholdPct, 0)
	assert.InDelta(t, 5.0, *cur.MaxSwingPct, 0)
	assert.True(t, p.Significant(1.5))

	require.NoError(t, p.Tune(MarketTuning{MaxSwingPct: ptr(0.0)}))
	assert.InDelta(t, 0.0, p.Swing(), 0)

	err := p.Tune(MarketTuning{SwingThresholdPct: ptr(2.0), MaxSwingPct: ptr(-1.0)})
	require.Error(t, err)
	assert.InDelta(t, 1.0, *p.Tuning().SwingThresholdPct, 0)
}
