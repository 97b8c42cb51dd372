package generate

import (
	"context"
	"sort"
	"sync"
	"time"

	"contentmill/internal/pipeline"
)

// UsageRecord captures one generator call.
type UsageRecord struct {
	Step           string        `json:"step"`
	PromptBytes    int           `json:"prompt_bytes"`
	ResponseBytes  int           `json:"response_bytes"`
	PromptTokens   int           `json:"prompt_tokens"`   // estimated: bytes / 4
	ResponseTokens int           `json:"response_tokens"` // estimated: bytes / 4
	Elapsed        time.Duration `json:"elapsed"`
	Failed         bool          `json:"failed,omitempty"`
}

// StepUsage aggregates calls for one step.
type StepUsage struct {
	Step           string        `json:"step"`
	Calls          int           `json:"calls"`
	Failures       int           `json:"failures"`
	PromptTokens   int           `json:"prompt_tokens"`
	ResponseTokens int           `json:"response_tokens"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Pricing holds USD per million tokens for cost estimates.
type Pricing struct {
	InputPerMToken  float64
	OutputPerMToken float64
}

// DefaultPricing is a typical flash-tier price list.
func DefaultPricing() Pricing {
	return Pricing{InputPerMToken: 0.30, OutputPerMToken: 2.50}
}

// UsageSummary is the aggregate view of a Tracker.
type UsageSummary struct {
	Calls          int         `json:"calls"`
	Failures       int         `json:"failures"`
	PromptTokens   int         `json:"prompt_tokens"`
	ResponseTokens int         `json:"response_tokens"`
	TotalTokens    int         `json:"total_tokens"`
	CostUSD        float64     `json:"cost_usd"`
	PerStep        []StepUsage `json:"per_step"`
}

// Tracker records generator usage. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records []UsageRecord
	pricing Pricing
}

func NewTracker(p Pricing) *Tracker { return &Tracker{pricing: p} }

func (t *Tracker) Record(r UsageRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, r)
}

// Summary aggregates all records; PerStep is sorted by step name.
func (t *Tracker) Summary() UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s UsageSummary
	per := make(map[string]*StepUsage)
	for _, r := range t.records {
		s.Calls++
		s.PromptTokens += r.PromptTokens
		s.ResponseTokens += r.ResponseTokens

		su, ok := per[r.Step]
		if !ok {
			su = &StepUsage{Step: r.Step}
			per[r.Step] = su
		}
		su.Calls++
		su.PromptTokens += r.PromptTokens
		su.ResponseTokens += r.ResponseTokens
		su.Elapsed += r.Elapsed
		if r.Failed {
			s.Failures++
			su.Failures++
		}
	}
	s.TotalTokens = s.PromptTokens + s.ResponseTokens
	s.CostUSD = float64(s.PromptTokens)/1_000_000*t.pricing.InputPerMToken +
		float64(s.ResponseTokens)/1_000_000*t.pricing.OutputPerMToken

	for _, su := range per {
		s.PerStep = append(s.PerStep, *su)
	}
	sort.Slice(s.PerStep, func(i, j int) bool { return s.PerStep[i].Step < s.PerStep[j].Step })
	return s
}

// EstimateTokens converts a byte count to an estimated token count.
func EstimateTokens(bytes int) int {
	if bytes <= 0 {
		return 0
	}
	return bytes / 4
}

// Metered reports every call of a generator to a Tracker.
type Metered struct {
	Generator pipeline.Generator
	Step      string
	Tracker   *Tracker
	now       func() time.Time
}

// Meter wraps every generator the factory returns.
func (f Factory) Meter(t *Tracker) Factory {
	return func(step pipeline.StepDescriptor) pipeline.Generator {
		return Metered{Generator: f(step), Step: step.Name, Tracker: t}
	}
}

func (m Metered) Generate(ctx context.Context, prompt string) (string, error) {
	now := m.now
	if now == nil {
		now = time.Now
	}
	start := now()
	out, err := m.Generator.Generate(ctx, prompt)
	m.Tracker.Record(UsageRecord{
		Step:           m.Step,
		PromptBytes:    len(prompt),
		ResponseBytes:  len(out),
		PromptTokens:   EstimateTokens(len(prompt)),
		ResponseTokens: EstimateTokens(len(out)),
		Elapsed:        now().Sub(start),
		Failed:         err != nil,
	})
	return out, err
}
