package report

import (
	"strings"
	"testing"
	"time"

	"contentmill/internal/batch"
	"contentmill/internal/generate"
	"contentmill/internal/pipeline"
	"contentmill/internal/ranking"
	"contentmill/internal/scoring"
)

func TestTable_ASCIIAndMarkdown(t *testing.T) {
	tb := NewTable(ASCII)
	tb.Header("Key", "Score")
	tb.Row("go-generics", 71.5)
	out := tb.String()
	if !strings.Contains(out, "go-generics") || !strings.Contains(out, "───") {
		t.Errorf("ASCII output:\n%s", out)
	}

	md := NewTable(Markdown).Title("Ranking")
	md.Header("Key", "Score")
	md.Row("go-generics", 71.5)
	md.Footer("TOTAL", 71.5)
	out = md.String()
	for _, want := range []string{"### Ranking", "| Key", "---", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q:\n%s", want, out)
		}
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("md") != Markdown || ParseMode("markdown") != Markdown || ParseMode("table") != ASCII {
		t.Error("ParseMode mismatch")
	}
}

func TestBatch_ItemizesFailures(t *testing.T) {
	s := batch.Summary{
		ID: "b1", Candidates: 5, Dispatched: 5, Completed: 4, Failed: 1,
		Status: batch.StatusPartial, FailedKeys: []string{"k3"},
		Results: []batch.RunResult{{Index: 2, Key: "k3", Err: "model overloaded"}},
	}
	out := Batch(Markdown, s)
	for _, want := range []string{"partial", "Failed runs", "k3", "model overloaded"} {
		if !strings.Contains(out, want) {
			t.Errorf("batch report missing %q:\n%s", want, out)
		}
	}
	clean := Batch(ASCII, batch.Summary{ID: "b2", Status: batch.StatusCompleted})
	if strings.Contains(clean, "Failed runs") {
		t.Errorf("completed batch lists failures:\n%s", clean)
	}
}

func TestRanking_NotesDegradation(t *testing.T) {
	r := ranking.Result{
		Items: []ranking.Ranked{{
			ScoredCandidate: scoring.ScoredCandidate{Candidate: scoring.Candidate{Key: "run-1"}, Score: 80, Rank: 1},
			Artifact:        ranking.Artifact{ID: "0123456789abcdef", Display: "Learn Go in a weekend"},
			Reason:          "Strong topic selection",
		}},
		Degradation: &ranking.Degradation{Reason: "unknown id"},
	}
	out := Ranking(ASCII, r)
	for _, want := range []string{"Learn Go in a weekend", "01234567", "reorder discarded: unknown id"} {
		if !strings.Contains(out, want) {
			t.Errorf("ranking report missing %q:\n%s", want, out)
		}
	}
}

func TestCandidates(t *testing.T) {
	out := Candidates(ASCII, []scoring.ScoredCandidate{{
		Candidate: scoring.Candidate{Key: "go", Display: "Go generics"},
		Score:     62.5, Rank: 1,
		Factors: []scoring.ScoreFactor{{Name: scoring.FactorVolume, Value: 1, Weight: 30, Contribution: 30}},
	}})
	if !strings.Contains(out, "62.5") || !strings.Contains(out, "High search volume") {
		t.Errorf("candidates report:\n%s", out)
	}
}

func TestRun(t *testing.T) {
	run, err := pipeline.RestoreRun("r-123456789", pipeline.Seed{"topic": "Go"}, pipeline.RunCompleted, []pipeline.StepRecord{
		{StepID: 1, Phase: 1, Name: "title", Outputs: map[pipeline.Key]pipeline.Value{"title": {Raw: "sorry,\nno", Reason: "no JSON"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := Run(ASCII, run)
	for _, want := range []string{"topic", `"Go"`, "✗", "no JSON: sorry, no"} {
		if !strings.Contains(out, want) {
			t.Errorf("run report missing %q:\n%s", want, out)
		}
	}
}

func TestUsage(t *testing.T) {
	out := Usage(ASCII, generate.UsageSummary{
		Calls: 2, PromptTokens: 1500, ResponseTokens: 300, CostUSD: 0.0012,
		PerStep: []generate.StepUsage{{Step: "title", Calls: 2, PromptTokens: 1500, ResponseTokens: 300, Elapsed: 90 * time.Second}},
	})
	for _, want := range []string{"title", "1.5K", "1m 30s", "$0.0012"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage report missing %q:\n%s", want, out)
		}
	}
}

func TestHelpers(t *testing.T) {
	if got := FmtTokens(2_500_000); got != "2.5M" {
		t.Errorf("FmtTokens = %q", got)
	}
	if got := FmtDuration(250 * time.Millisecond); got != "250ms" {
		t.Errorf("FmtDuration = %q", got)
	}
	if got := Truncate("héllo world", 8); got != "héllo..." {
		t.Errorf("Truncate = %q", got)
	}
	if BoolMark(true) != "✓" || BoolMark(false) != "✗" {
		t.Error("BoolMark")
	}
}
