package ranking

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"contentmill/internal/pipeline"
	"contentmill/internal/scoring"
)

func boolp(b bool) *bool { return &b }

func artifacts() []Artifact {
	return []Artifact{
		{ID: "r1", Display: "A guide to Go generics for working engineers today", SelectionScore: 80, Completeness: 1, KeywordInTitle: boolp(true)},
		{ID: "r2", Display: "Go", SelectionScore: 40, Completeness: 0.5, KeywordInTitle: boolp(false)},
		{ID: "r3", Display: "Context cancellation patterns in Go services you ship", SelectionScore: 60, Completeness: 1, KeywordInTitle: boolp(true)},
		{ID: "r4", Display: "Errors", SelectionScore: 20, Completeness: 1},
	}
}

func ids(items []Ranked) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.Artifact.ID
	}
	return out
}

func ranks(items []Ranked) []int {
	out := make([]int, len(items))
	for i, r := range items {
		out[i] = r.Rank
	}
	return out
}

type fixedReorder struct {
	out   string
	err   error
	panic bool
	seen  []string
}

func (f *fixedReorder) Reorder(_ context.Context, top []Ranked) (string, error) {
	f.seen = ids(top)
	if f.panic {
		panic("model crashed")
	}
	return f.out, f.err
}

func TestDeterministic(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	got := e.Rank(context.Background(), artifacts())
	if diff := cmp.Diff([]string{"r1", "r3", "r4", "r2"}, ids(got.Items)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, ranks(got.Items)); diff != "" {
		t.Errorf("ranks (-want +got):\n%s", diff)
	}
	if got.Reordered || got.Degradation != nil {
		t.Errorf("no reorderer configured, got %+v", got)
	}
	if got.Items[0].Reason != "Strong topic selection" {
		t.Errorf("reason = %q, want the selection label", got.Items[0].Reason)
	}
}

func TestReason_OwnLabelTable(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	top := e.Deterministic(artifacts())[0].ScoredCandidate
	if got := Reason(top); got != "Strong topic selection" {
		t.Errorf("Reason = %q", got)
	}
	// The candidate table knows nothing about artifact factors.
	if got := scoring.Reason(top); got != FactorSelection {
		t.Errorf("scoring.Reason = %q, want bare factor name", got)
	}
}

func TestRank_ReorderApplied(t *testing.T) {
	r := &fixedReorder{out: "```json\n[\"r3\", \"r1\"]\n```"}
	e, _ := NewEngine(WithReorderer(r), WithTopN(3))

	got := e.Rank(context.Background(), artifacts())
	if !got.Reordered {
		t.Fatalf("expected reorder, degradation = %v", got.Degradation)
	}
	// r4 was in the top 3 but omitted: appended in deterministic order.
	if diff := cmp.Diff([]string{"r3", "r1", "r4", "r2"}, ids(got.Items)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, ranks(got.Items)); diff != "" {
		t.Errorf("ranks (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"r1", "r3", "r4"}, r.seen); diff != "" {
		t.Errorf("reorderer saw (-want +got):\n%s", diff)
	}
}

func TestRank_ReorderObjectForms(t *testing.T) {
	for _, out := range []string{
		`[{"id":"r2"},{"id":"r1"}]`,
		`Sure: {"order": ["r2", "r1"]}`,
	} {
		e, _ := NewEngine(WithReorderer(&fixedReorder{out: out}))
		got := e.Rank(context.Background(), artifacts())
		if !got.Reordered || got.Items[0].Artifact.ID != "r2" {
			t.Errorf("%s: got %v (degradation %v)", out, ids(got.Items), got.Degradation)
		}
	}
}

func TestRank_FallbackEqualsDeterministic(t *testing.T) {
	e, _ := NewEngine()
	want := e.Rank(context.Background(), artifacts()).Items

	cases := []struct {
		name string
		r    *fixedReorder
	}{
		{"error", &fixedReorder{err: errors.New("rate limited")}},
		{"unparseable", &fixedReorder{out: "I think the second one is best."}},
		{"unknown id", &fixedReorder{out: `["r1","r9"]`}},
		{"duplicate id", &fixedReorder{out: `["r1","r1"]`}},
		{"empty", &fixedReorder{out: `[]`}},
		{"wrong shape", &fixedReorder{out: `{"best": "r2"}`}},
		{"panic", &fixedReorder{panic: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := NewEngine(WithReorderer(tc.r))
			got := e.Rank(context.Background(), artifacts())
			if got.Reordered {
				t.Fatal("reorder should have been discarded")
			}
			if got.Degradation == nil {
				t.Fatal("expected a degradation")
			}
			if diff := cmp.Diff(want, got.Items); diff != "" {
				t.Errorf("fallback differs from deterministic (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRank_Empty(t *testing.T) {
	e, _ := NewEngine(WithReorderer(&fixedReorder{out: `[]`}))
	got := e.Rank(context.Background(), nil)
	if len(got.Items) != 0 || got.Degradation != nil {
		t.Errorf("got %+v", got)
	}
}

func TestGeneratorReorderer(t *testing.T) {
	var prompt string
	gen := pipeline.GeneratorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return `["r4"]`, nil
	})
	e, _ := NewEngine(WithReorderer(GeneratorReorderer{Generator: gen, Audience: "backend developers"}))
	got := e.Rank(context.Background(), artifacts())
	if got.Items[0].Artifact.ID != "r4" {
		t.Errorf("first = %s", got.Items[0].Artifact.ID)
	}
	for _, want := range []string{"id=r1", "id=r2", "backend developers", "JSON array"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
