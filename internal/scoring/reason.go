package scoring

// reasonLabels maps a dominant factor to a human label.
var reasonLabels = map[string]string{
	FactorVolume:   "High search volume",
	FactorUntapped: "Not covered recently",
	FactorTrend:    "Trending up",
	FactorSignal:   "Strong external signal",
	FactorGap:      "Low competition",
}

// Reason labels the factor with the largest weighted contribution using the
// standard factor labels. Ties go to the factor evaluated first.
func Reason(sc ScoredCandidate) string {
	return ReasonWith(reasonLabels, sc)
}

// ReasonWith is Reason over a caller's label table. A factor missing from
// labels is reported by name. labels is only read.
func ReasonWith(labels map[string]string, sc ScoredCandidate) string {
	best := -1
	for i, f := range sc.Factors {
		if best < 0 || f.Contribution > sc.Factors[best].Contribution {
			best = i
		}
	}
	if best < 0 {
		return "Unscored"
	}
	name := sc.Factors[best].Name
	if label, ok := labels[name]; ok {
		return label
	}
	return name
}
