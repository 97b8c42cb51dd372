package scoring

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var fixedNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func standard(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(StandardFactors(), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStandardFactors_SumTo100(t *testing.T) {
	sum := 0.0
	for _, f := range StandardFactors() {
		sum += f.Weight
	}
	if sum != WeightTotal {
		t.Fatalf("weights sum to %g", sum)
	}
}

func TestNewEngine_Validation(t *testing.T) {
	v := MetricValue("x")
	cases := []struct {
		name    string
		factors []Factor
		want    error
	}{
		{"empty", nil, ErrNoFactors},
		{"bad sum", []Factor{{Name: "a", Weight: 60, Value: v}, {Name: "b", Weight: 30, Value: v}}, ErrWeightSum},
		{"duplicate", []Factor{{Name: "a", Weight: 50, Value: v}, {Name: "a", Weight: 50, Value: v}}, ErrFactorInvalid},
		{"negative", []Factor{{Name: "a", Weight: 110, Value: v}, {Name: "b", Weight: -10, Value: v}}, ErrFactorInvalid},
		{"no func", []Factor{{Name: "a", Weight: 100}}, ErrFactorInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEngine(tc.factors); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestScore_MissingDataIsNeutral(t *testing.T) {
	sc := standard(t).Score(Candidate{Key: "empty"})
	if !near(sc.Score, 50) {
		t.Errorf("score = %g, want 50", sc.Score)
	}
	for _, f := range sc.Factors {
		if !f.Neutral || f.Value != Neutral {
			t.Errorf("factor %s = %+v, want neutral", f.Name, f)
		}
	}
}

func TestScore_ClampsBeforeWeighting(t *testing.T) {
	sc := standard(t).Score(Candidate{
		Key: "wild",
		Metrics: map[string]float64{
			MetricSignalQuality:  7,
			MetricCompetitionGap: -3,
			MetricTrendGrowth:    5,
			MetricSearchVolume:   1e12,
		},
		NeverUsed: true,
	})
	want := map[string]float64{FactorVolume: 1, FactorUntapped: 1, FactorTrend: 1, FactorSignal: 1, FactorGap: 0}
	for _, f := range sc.Factors {
		if !near(f.Value, want[f.Name]) {
			t.Errorf("%s value = %g, want %g", f.Name, f.Value, want[f.Name])
		}
	}
	if !near(sc.Score, 90) {
		t.Errorf("score = %g, want 90", sc.Score)
	}
}

func TestScore_Untapped(t *testing.T) {
	e := standard(t)
	half := fixedNow.Add(-DefaultUntappedHalfLife)
	sc := e.Score(Candidate{Key: "k", LastUsed: &half})
	f, _ := sc.Factor(FactorUntapped)
	if !near(f.Value, 0.5) {
		t.Errorf("untapped at one half-life = %g, want 0.5", f.Value)
	}
	future := fixedNow.Add(time.Hour)
	sc = e.Score(Candidate{Key: "k", LastUsed: &future})
	if f, _ := sc.Factor(FactorUntapped); f.Value != 0 {
		t.Errorf("untapped for future use = %g, want 0", f.Value)
	}
}

func TestScoreAll_TieBreaksByKey(t *testing.T) {
	e := standard(t)
	got := e.ScoreAll([]Candidate{{Key: "zeta"}, {Key: "alpha"}, {Key: "mid"}})
	var keys []string
	var ranks []int
	for _, sc := range got {
		keys = append(keys, sc.Key)
		ranks = append(ranks, sc.Rank)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, keys); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, ranks); diff != "" {
		t.Errorf("ranks (-want +got):\n%s", diff)
	}
}

func TestScoreAll_Deterministic(t *testing.T) {
	e := standard(t)
	in := []Candidate{
		{Key: "a", Metrics: map[string]float64{MetricSearchVolume: 5000, MetricTrendGrowth: 0.2}},
		{Key: "b", Metrics: map[string]float64{MetricSearchVolume: 5000, MetricTrendGrowth: 0.2}},
		{Key: "c", Metrics: map[string]float64{MetricSearchVolume: 90000}},
	}
	first := e.ScoreAll(in)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, e.ScoreAll(in)); diff != "" {
			t.Fatalf("run %d differs:\n%s", i, diff)
		}
	}
}

func TestSort_StrategiesReuseFactors(t *testing.T) {
	e := standard(t)
	scored := e.ScoreAll([]Candidate{
		{Key: "popular", Metrics: map[string]float64{MetricSearchVolume: 1e6, MetricTrendGrowth: 0}},
		{Key: "fresh", NeverUsed: true, Metrics: map[string]float64{MetricSearchVolume: 10, MetricTrendGrowth: -0.5}},
		{Key: "rising", Metrics: map[string]float64{MetricSearchVolume: 100, MetricTrendGrowth: 1}},
	})
	untappedCmp, err := ComparatorFor(PreferUntapped)
	if err != nil {
		t.Fatal(err)
	}
	byUntapped := Sort(scored, untappedCmp)
	if byUntapped[0].Key != "fresh" || byUntapped[0].Rank != 1 {
		t.Errorf("prefer-untapped first = %s (rank %d)", byUntapped[0].Key, byUntapped[0].Rank)
	}

	trendCmp, _ := ComparatorFor(PreferTrending)
	if got := Sort(scored, trendCmp)[0].Key; got != "rising" {
		t.Errorf("prefer-trending first = %s", got)
	}

	for _, sc := range byUntapped {
		orig := findKey(scored, sc.Key)
		if diff := cmp.Diff(orig.Factors, sc.Factors); diff != "" {
			t.Errorf("%s factors changed on re-sort:\n%s", sc.Key, diff)
		}
	}
	if scored[0].Key != "popular" || scored[0].Rank != 1 {
		t.Errorf("Sort mutated its input: first = %s rank %d", scored[0].Key, scored[0].Rank)
	}

	if _, err := ComparatorFor("random"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func findKey(s []ScoredCandidate, key string) ScoredCandidate {
	for _, sc := range s {
		if sc.Key == key {
			return sc
		}
	}
	return ScoredCandidate{}
}

func TestReason(t *testing.T) {
	e := standard(t)
	cases := []struct {
		c    Candidate
		want string
	}{
		{Candidate{Key: "v", Metrics: map[string]float64{MetricSearchVolume: 1e6, MetricTrendGrowth: -1, MetricSignalQuality: 0, MetricCompetitionGap: 0}}, "High search volume"},
		{Candidate{Key: "u", NeverUsed: true, Metrics: map[string]float64{MetricSearchVolume: 0, MetricTrendGrowth: -1, MetricSignalQuality: 0, MetricCompetitionGap: 0}}, "Not covered recently"},
		{Candidate{Key: "t", Metrics: map[string]float64{MetricSearchVolume: 0, MetricTrendGrowth: 1, MetricSignalQuality: 0, MetricCompetitionGap: 0}}, "Trending up"},
	}
	for _, tc := range cases {
		if got := Reason(e.Score(tc.c)); got != tc.want {
			t.Errorf("Reason(%s) = %q, want %q", tc.c.Key, got, tc.want)
		}
	}
	if got := Reason(ScoredCandidate{}); got != "Unscored" {
		t.Errorf("Reason(empty) = %q", got)
	}
}

func TestReasonWith(t *testing.T) {
	sc := ScoredCandidate{Factors: []ScoreFactor{
		{Name: "a", Contribution: 10},
		{Name: "b", Contribution: 30},
		{Name: "c", Contribution: 30},
	}}
	if got := ReasonWith(map[string]string{"b": "Bee wins"}, sc); got != "Bee wins" {
		t.Errorf("ReasonWith = %q, want first of the tied leaders", got)
	}
	if got := ReasonWith(nil, sc); got != "b" {
		t.Errorf("ReasonWith(nil) = %q, want factor name", got)
	}
	if got := Reason(sc); got != "b" {
		t.Errorf("Reason = %q, standard table must not know %q", got, "b")
	}
}

func TestSelect(t *testing.T) {
	e := standard(t)
	scored := e.ScoreAll([]Candidate{{Key: "a"}, {Key: "b"}, {Key: "c"}})
	if got := Select(scored, 2); len(got) != 2 || got[1].Key != "b" {
		t.Errorf("Select(2) = %+v", got)
	}
	if got := Select(scored, 0); len(got) != 3 {
		t.Errorf("Select(0) should return all, got %d", len(got))
	}
}
