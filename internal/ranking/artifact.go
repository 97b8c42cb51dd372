// Package ranking orders the artifacts of completed runs, optionally
// letting an external reorderer adjust the top of the list.
package ranking

import (
	"math"

	"contentmill/internal/scoring"
)

// Factor and metric names for artifact ranking.
const (
	FactorSelection    = "selection"
	FactorCompleteness = "completeness"
	FactorTitleFit     = "title_fit"
	FactorKeywordMatch = "keyword_match"

	metricSelection    = "selection_score"
	metricCompleteness = "completeness"
	metricTitleLength  = "title_length"
	metricKeywordMatch = "keyword_match"
)

// IdealTitleLength is the title length scoring 1 on title_fit.
const IdealTitleLength = 55

var reasonLabels = map[string]string{
	FactorSelection:    "Strong topic selection",
	FactorCompleteness: "All steps parsed cleanly",
	FactorTitleFit:     "Well-sized title",
	FactorKeywordMatch: "Title carries the keyword",
}

// Reason labels the artifact factor that contributed most to sc.
func Reason(sc scoring.ScoredCandidate) string {
	return scoring.ReasonWith(reasonLabels, sc)
}

// Artifact is what one completed run contributes to ranking.
type Artifact struct {
	ID             string  `json:"id"`
	Key            string  `json:"key"`
	Display        string  `json:"display"`
	Keyword        string  `json:"keyword,omitempty"`
	SelectionScore float64 `json:"selection_score"`
	Completeness   float64 `json:"completeness"`
	KeywordInTitle *bool   `json:"keyword_in_title,omitempty"`
}

// ArtifactFactors: selection 40, completeness 25, title fit 20, keyword 15.
func ArtifactFactors() []scoring.Factor {
	return []scoring.Factor{
		{Name: FactorSelection, Weight: 40, Value: selection},
		{Name: FactorCompleteness, Weight: 25, Value: scoring.MetricValue(metricCompleteness)},
		{Name: FactorTitleFit, Weight: 20, Value: titleFit},
		{Name: FactorKeywordMatch, Weight: 15, Value: scoring.MetricValue(metricKeywordMatch)},
	}
}

func selection(c scoring.Candidate, _ scoring.Env) (float64, bool) {
	v, ok := c.Metric(metricSelection)
	return v / scoring.WeightTotal, ok
}

func titleFit(c scoring.Candidate, _ scoring.Env) (float64, bool) {
	n, ok := c.Metric(metricTitleLength)
	if !ok || n == 0 {
		return 0, false
	}
	return 1 - math.Abs(n-IdealTitleLength)/IdealTitleLength, true
}

func (a Artifact) candidate() scoring.Candidate {
	m := map[string]float64{
		metricSelection:    a.SelectionScore,
		metricCompleteness: a.Completeness,
	}
	if n := len([]rune(a.Display)); n > 0 {
		m[metricTitleLength] = float64(n)
	}
	if a.KeywordInTitle != nil {
		m[metricKeywordMatch] = 0
		if *a.KeywordInTitle {
			m[metricKeywordMatch] = 1
		}
	}
	return scoring.Candidate{Key: a.ID, Display: a.Display, Metrics: m}
}
