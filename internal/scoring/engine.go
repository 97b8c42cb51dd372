package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// WeightTotal is the sum every active factor set must reach.
const WeightTotal = 100.0

var (
	ErrWeightSum     = errors.New("scoring: factor weights must sum to 100")
	ErrNoFactors     = errors.New("scoring: no factors")
	ErrFactorInvalid = errors.New("scoring: invalid factor")

	ErrUnknownStrategy = errors.New("scoring: unknown strategy")
)

// ScoreFactor is one factor's contribution to a candidate's score.
type ScoreFactor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Neutral      bool    `json:"neutral,omitempty"`
}

// ScoredCandidate is a candidate with its factor breakdown. Rank is 1-based
// and set by Sort.
type ScoredCandidate struct {
	Candidate
	Factors []ScoreFactor `json:"factors"`
	Score   float64       `json:"score"`
	Rank    int           `json:"rank"`
}

// Factor returns the named factor's breakdown.
func (s ScoredCandidate) Factor(name string) (ScoreFactor, bool) {
	for _, f := range s.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return ScoreFactor{}, false
}

// Engine scores candidates against a validated factor set.
type Engine struct {
	factors  []Factor
	halfLife time.Duration
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock fixes the time used by recency factors.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithUntappedHalfLife overrides DefaultUntappedHalfLife.
func WithUntappedHalfLife(d time.Duration) Option { return func(e *Engine) { e.halfLife = d } }

// NewEngine validates factors: unique non-empty names, non-negative weights
// summing to WeightTotal.
func NewEngine(factors []Factor, opts ...Option) (*Engine, error) {
	if len(factors) == 0 {
		return nil, ErrNoFactors
	}
	seen := make(map[string]bool, len(factors))
	sum := 0.0
	for _, f := range factors {
		switch {
		case f.Name == "":
			return nil, fmt.Errorf("%w: empty name", ErrFactorInvalid)
		case seen[f.Name]:
			return nil, fmt.Errorf("%w: duplicate %q", ErrFactorInvalid, f.Name)
		case f.Weight < 0:
			return nil, fmt.Errorf("%w: %q has negative weight", ErrFactorInvalid, f.Name)
		case f.Value == nil:
			return nil, fmt.Errorf("%w: %q has no value function", ErrFactorInvalid, f.Name)
		}
		seen[f.Name] = true
		sum += f.Weight
	}
	if math.Abs(sum-WeightTotal) > 1e-9 {
		return nil, fmt.Errorf("%w: got %g", ErrWeightSum, sum)
	}
	e := &Engine{
		factors:  append([]Factor(nil), factors...),
		halfLife: DefaultUntappedHalfLife,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Factors returns the engine's factor names in evaluation order.
func (e *Engine) Factors() []string {
	out := make([]string, len(e.factors))
	for i, f := range e.factors {
		out[i] = f.Name
	}
	return out
}

// Score computes one candidate's breakdown. Rank is left zero.
func (e *Engine) Score(c Candidate) ScoredCandidate {
	return e.score(c, e.env())
}

func (e *Engine) env() Env {
	return Env{Now: e.now(), UntappedHalfLife: e.halfLife}
}

func (e *Engine) score(c Candidate, env Env) ScoredCandidate {
	sc := ScoredCandidate{Candidate: c, Factors: make([]ScoreFactor, 0, len(e.factors))}
	for _, f := range e.factors {
		v, ok := f.Value(c, env)
		sf := ScoreFactor{Name: f.Name, Weight: f.Weight}
		if ok {
			sf.Value = clamp01(v)
		} else {
			sf.Value = Neutral
			sf.Neutral = true
		}
		sf.Contribution = sf.Value * f.Weight
		sc.Score += sf.Contribution
		sc.Factors = append(sc.Factors, sf)
	}
	return sc
}

// ScoreAll scores every candidate with one clock reading and returns them
// ranked by ByScore.
func (e *Engine) ScoreAll(cs []Candidate) []ScoredCandidate {
	env := e.env()
	out := make([]ScoredCandidate, len(cs))
	for i, c := range cs {
		out[i] = e.score(c, env)
	}
	return Sort(out, ByScore)
}
