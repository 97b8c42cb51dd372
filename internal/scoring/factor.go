// Package scoring computes deterministic weighted scores for candidates.
package scoring

import (
	"math"
	"time"
)

// Metric names read by the standard factors.
const (
	MetricSearchVolume   = "search_volume"
	MetricTrendGrowth    = "trend_growth"
	MetricSignalQuality  = "signal_quality"
	MetricCompetitionGap = "competition_gap"
)

// Factor names of the standard selection set.
const (
	FactorVolume   = "volume"
	FactorUntapped = "untapped"
	FactorTrend    = "trend"
	FactorSignal   = "signal"
	FactorGap      = "gap"
)

// Neutral is the value assumed for a factor whose input is missing.
const Neutral = 0.5

// Candidate is one item to score. Metrics hold raw provider inputs; absent
// entries mean "no data".
type Candidate struct {
	Key       string             `json:"key" yaml:"key"`
	Display   string             `json:"display" yaml:"display"`
	Metrics   map[string]float64 `json:"metrics,omitempty" yaml:"metrics"`
	LastUsed  *time.Time         `json:"last_used,omitempty" yaml:"last_used"`
	NeverUsed bool               `json:"never_used,omitempty" yaml:"never_used"`
}

// Metric returns a raw input and whether it was supplied.
func (c Candidate) Metric(name string) (float64, bool) {
	v, ok := c.Metrics[name]
	return v, ok
}

// Env carries inputs shared by all candidates of one scoring pass.
type Env struct {
	Now              time.Time
	UntappedHalfLife time.Duration
}

// ValueFunc computes a raw factor value. ok=false means the input is
// missing and Neutral is used instead.
type ValueFunc func(c Candidate, env Env) (v float64, ok bool)

// Factor is a named, weighted value function.
type Factor struct {
	Name   string
	Weight float64
	Value  ValueFunc
}

// StandardFactors is the selection set: volume 30, untapped 25, trend 20,
// signal 15, gap 10.
func StandardFactors() []Factor {
	return []Factor{
		{Name: FactorVolume, Weight: 30, Value: volume},
		{Name: FactorUntapped, Weight: 25, Value: untapped},
		{Name: FactorTrend, Weight: 20, Value: trend},
		{Name: FactorSignal, Weight: 15, Value: MetricValue(MetricSignalQuality)},
		{Name: FactorGap, Weight: 10, Value: MetricValue(MetricCompetitionGap)},
	}
}

// MetricValue reads a metric that is already on a 0..1 scale.
func MetricValue(name string) ValueFunc {
	return func(c Candidate, _ Env) (float64, bool) {
		return c.Metric(name)
	}
}

// volume is log-scaled: 10 searches = 0.17, 1k = 0.5, 1M = 1.
func volume(c Candidate, _ Env) (float64, bool) {
	v, ok := c.Metric(MetricSearchVolume)
	if !ok {
		return 0, false
	}
	if v <= 0 {
		return 0, true
	}
	return math.Log10(1+v) / 6, true
}

// untapped grows toward 1 the longer a candidate has gone unused.
func untapped(c Candidate, env Env) (float64, bool) {
	if c.NeverUsed {
		return 1, true
	}
	if c.LastUsed == nil || c.LastUsed.IsZero() {
		return 0, false
	}
	age := env.Now.Sub(*c.LastUsed)
	if age <= 0 {
		return 0, true
	}
	halfLife := env.UntappedHalfLife
	if halfLife <= 0 {
		halfLife = DefaultUntappedHalfLife
	}
	return 1 - math.Pow(0.5, age.Hours()/halfLife.Hours()), true
}

// trend maps relative growth (-1 = -100%, +1 = +100%) onto 0..1.
func trend(c Candidate, _ Env) (float64, bool) {
	g, ok := c.Metric(MetricTrendGrowth)
	if !ok {
		return 0, false
	}
	return 0.5 + g/2, true
}

// DefaultUntappedHalfLife: a candidate last used this long ago scores 0.5 on untapped.
const DefaultUntappedHalfLife = 90 * 24 * time.Hour

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return Neutral
	}
	return math.Max(0, math.Min(1, v))
}
