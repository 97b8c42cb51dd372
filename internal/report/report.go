package report

import (
	"fmt"
	"strings"

	"contentmill/internal/batch"
	"contentmill/internal/generate"
	"contentmill/internal/pipeline"
	"contentmill/internal/ranking"
	"contentmill/internal/scoring"
)

// Candidates lists scored candidates with their leading reason.
func Candidates(m Mode, scored []scoring.ScoredCandidate) string {
	t := NewTable(m).Title("Candidates")
	t.Header("#", "Key", "Topic", "Score", "Why")
	t.Columns(Column{Number: 1, Align: AlignRight}, Column{Number: 3, MaxWidth: 48}, Column{Number: 4, Align: AlignRight})
	for _, sc := range scored {
		t.Row(sc.Rank, sc.Key, Truncate(sc.Display, 48), fmt.Sprintf("%.1f", sc.Score), scoring.Reason(sc))
	}
	return t.String()
}

// Batch summarizes a batch outcome. Failed runs are itemized below the
// totals.
func Batch(m Mode, s batch.Summary) string {
	t := NewTable(m).Title("Batch " + s.ID)
	t.Header("Metric", "Value")
	t.Columns(Column{Number: 1, Align: AlignLeft}, Column{Number: 2, Align: AlignRight})
	t.Row("Status", string(s.Status))
	t.Row("Candidates", s.Candidates)
	t.Row("Dispatched", s.Dispatched)
	t.Row("Completed", s.Completed)
	t.Row("Failed", s.Failed)
	if s.Err != "" {
		t.Row("Error", Truncate(s.Err, 60))
	}
	out := t.String()

	if len(s.FailedKeys) == 0 {
		return out
	}
	f := NewTable(m).Title("Failed runs")
	f.Header("Candidate", "Error")
	f.Columns(Column{Number: 2, MaxWidth: 72})
	for _, r := range s.Results {
		if r.Err != "" {
			f.Row(r.Key, Truncate(r.Err, 72))
		}
	}
	return out + "\n" + f.String()
}

// Ranking renders the final order and notes whether it was reordered or
// degraded to the deterministic order.
func Ranking(m Mode, r ranking.Result) string {
	t := NewTable(m).Title("Ranking")
	t.Header("#", "Title", "Score", "Why", "Run")
	t.Columns(Column{Number: 1, Align: AlignRight}, Column{Number: 2, MaxWidth: 60}, Column{Number: 3, Align: AlignRight})
	for _, it := range r.Items {
		t.Row(it.Rank, Truncate(it.Artifact.Display, 60), fmt.Sprintf("%.1f", it.Score), it.Reason, shortID(it.Artifact.ID))
	}
	out := t.String()
	switch {
	case r.Degradation != nil:
		out += "\nreorder discarded: " + r.Degradation.Reason + "\n"
	case r.Reordered:
		out += "\ntop items reordered\n"
	}
	return out
}

// Run lists a run's state keys with their usability.
func Run(m Mode, run *pipeline.Run) string {
	t := NewTable(m).Title(fmt.Sprintf("Run %s (%s)", shortID(run.ID), run.Status))
	t.Header("Key", "OK", "Writer", "Value")
	t.Columns(Column{Number: 4, MaxWidth: 70})
	for _, k := range run.State.Keys() {
		v, _ := run.State.Get(k)
		val := string(v.Data)
		if !v.Usable {
			val = v.Reason + ": " + v.Raw
		}
		t.Row(string(k), BoolMark(v.Usable), v.Writer, Truncate(oneLine(val), 70))
	}
	return t.String()
}

// Usage renders generator usage and estimated cost.
func Usage(m Mode, s generate.UsageSummary) string {
	t := NewTable(m).Title("Generation usage")
	t.Header("Step", "Calls", "Failed", "Prompt", "Response", "Time")
	t.Columns(
		Column{Number: 2, Align: AlignRight}, Column{Number: 3, Align: AlignRight},
		Column{Number: 4, Align: AlignRight}, Column{Number: 5, Align: AlignRight},
		Column{Number: 6, Align: AlignRight},
	)
	for _, su := range s.PerStep {
		t.Row(su.Step, su.Calls, su.Failures, FmtTokens(su.PromptTokens), FmtTokens(su.ResponseTokens), FmtDuration(su.Elapsed))
	}
	t.Footer("TOTAL", s.Calls, s.Failures, FmtTokens(s.PromptTokens), FmtTokens(s.ResponseTokens), fmt.Sprintf("$%.4f", s.CostUSD))
	return t.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
