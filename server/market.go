package server

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// PriceSimulator 每笔成交触发一次模拟价格波动，幅度在 [-max, max] 之间均匀分布
type PriceSimulator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	maxSwing  float64
	threshold float64
}

// NewPriceSimulator seed 为 0 时使用当前时间
func NewPriceSimulator(cfg MarketConfig, seed int64) *PriceSimulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PriceSimulator{
		// #nosec G404 -- 游戏内行情模拟，不涉及安全
		rng:       rand.New(rand.NewSource(seed)),
		maxSwing:  cfg.MaxSwingPct,
		threshold: cfg.SwingThresholdPct,
	}
}

// Swing 返回本次波动百分比（保留两位小数）
func (p *PriceSimulator) Swing() float64 {
	p.mu.Lock()
	r := p.rng.Float64()
	maxSwing := p.maxSwing
	p.mu.Unlock()
	pct := (r*2 - 1) * maxSwing
	return math.Round(pct*100) / 100
}

// Significant 波动幅度严格超过阈值才需要全服广播
func (p *PriceSimulator) Significant(pct float64) bool {
	p.mu.Lock()
	threshold := p.threshold
	p.mu.Unlock()
	return math.Abs(pct) > threshold
}

// MarketTuning 可热更新的行情参数；指针为 nil 表示不修改
type MarketTuning struct {
	SwingThresholdPct *float64 `json:"swingThresholdPct,omitempty"`
	MaxSwingPct       *float64 `json:"maxSwingPct,omitempty"`
}

// Tuning 当前参数
func (p *PriceSimulator) Tuning() MarketTuning {
	p.mu.Lock()
	defer p.mu.Unlock()
	threshold, maxSwing := p.threshold, p.maxSwing
	return MarketTuning{SwingThresholdPct: &threshold, MaxSwingPct: &maxSwing}
}

// Tune 部分更新；任一值为负则整体不生效
func (p *PriceSimulator) Tune(t MarketTuning) error {
	if t.SwingThresholdPct != nil && *t.SwingThresholdPct < 0 {
		return errors.New("swingThresholdPct must not be negative")
	}
	if t.MaxSwingPct != nil && *t.MaxSwingPct < 0 {
		return errors.New("maxSwingPct must not be negative")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.SwingThresholdPct != nil {
		p.threshold = *t.SwingThresholdPct
	}
	if t.MaxSwingPct != nil {
		p.maxSwing = *t.MaxSwingPct
	}
	return nil
}

func trendOf(pct float64) Trend {
	if pct < 0 {
		return TrendDown
	}
	return TrendUp
}
