package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"contentmill/internal/logging"
	"contentmill/internal/parse"
	"contentmill/internal/scoring"
)

// DefaultTopN is how many leading items are offered to the reorderer.
const DefaultTopN = 15

// Ranked is one artifact with its deterministic score and final rank.
type Ranked struct {
	scoring.ScoredCandidate
	Artifact Artifact `json:"artifact"`
	Reason   string   `json:"reason"`
}

// Reorderer proposes a new order for the top items. It returns raw text
// which is run through the response parser.
type Reorderer interface {
	Reorder(ctx context.Context, top []Ranked) (string, error)
}

// Degradation records why an external reorder was discarded. It is logged
// and attached to the Result, never returned as an error.
type Degradation struct {
	Reason string
	Err    error
}

func (d *Degradation) Error() string {
	if d.Err != nil {
		return fmt.Sprintf("ranking degraded: %s: %v", d.Reason, d.Err)
	}
	return "ranking degraded: " + d.Reason
}

func (d *Degradation) Unwrap() error { return d.Err }

// Result is the outcome of Rank.
type Result struct {
	Items       []Ranked     `json:"items"`
	Reordered   bool         `json:"reordered"`
	Degradation *Degradation `json:"-"`
}

// Engine ranks artifacts deterministically and optionally reorders the top.
type Engine struct {
	scorer    *scoring.Engine
	reorderer Reorderer
	topN      int
	timeout   time.Duration
	parser    parse.Chain
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithReorderer enables the external reorder pass.
func WithReorderer(r Reorderer) Option { return func(e *Engine) { e.reorderer = r } }

// WithTopN sets how many leading items the reorderer sees.
func WithTopN(n int) Option { return func(e *Engine) { e.topN = n } }

// WithTimeout bounds the reorder call.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine builds a ranking engine over ArtifactFactors.
func NewEngine(opts ...Option) (*Engine, error) {
	scorer, err := scoring.NewEngine(ArtifactFactors())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		scorer: scorer,
		topN:   DefaultTopN,
		parser: parse.ListStrategies(),
		logger: logging.New("ranking"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.topN <= 0 {
		e.topN = DefaultTopN
	}
	return e, nil
}

// Deterministic scores and sorts artifacts, assigning Rank 1..N.
func (e *Engine) Deterministic(arts []Artifact) []Ranked {
	byID := make(map[string]Artifact, len(arts))
	cands := make([]scoring.Candidate, len(arts))
	for i, a := range arts {
		byID[a.ID] = a
		cands[i] = a.candidate()
	}
	scored := e.scorer.ScoreAll(cands)
	out := make([]Ranked, len(scored))
	for i, sc := range scored {
		out[i] = Ranked{ScoredCandidate: sc, Artifact: byID[sc.Key], Reason: Reason(sc)}
	}
	return out
}

// Rank never fails: any problem with the reorder pass leaves the
// deterministic ranking unchanged and is reported as a Degradation.
func (e *Engine) Rank(ctx context.Context, arts []Artifact) Result {
	base := e.Deterministic(arts)
	if e.reorderer == nil || len(base) < 2 {
		return Result{Items: base}
	}

	n := min(e.topN, len(base))
	top := base[:n]

	reordered, deg := e.reorder(ctx, top)
	if deg != nil {
		e.logger.Warn("reorder discarded", "reason", deg.Reason, "error", deg.Err)
		return Result{Items: base, Degradation: deg}
	}

	items := make([]Ranked, 0, len(base))
	items = append(items, reordered...)
	items = append(items, base[n:]...)
	for i := range items {
		items[i].Rank = i + 1
	}
	return Result{Items: items, Reordered: true}
}

func (e *Engine) reorder(ctx context.Context, top []Ranked) (out []Ranked, deg *Degradation) {
	defer func() {
		if r := recover(); r != nil {
			out, deg = nil, &Degradation{Reason: "reorderer panicked", Err: fmt.Errorf("%v", r)}
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	raw, err := e.reorderer.Reorder(ctx, top)
	if err != nil {
		return nil, &Degradation{Reason: "reorderer failed", Err: err}
	}
	res := e.parser.Parse(raw)
	if !res.OK() {
		return nil, &Degradation{Reason: "reorder output unparseable: " + res.Reason()}
	}
	ids, err := orderIDs(res.Data())
	if err != nil {
		return nil, &Degradation{Reason: "reorder output malformed", Err: err}
	}
	if len(ids) == 0 {
		return nil, &Degradation{Reason: "reorder output empty"}
	}

	index := make(map[string]int, len(top))
	for i, r := range top {
		index[r.Artifact.ID] = i
	}
	used := make([]bool, len(top))
	out = make([]Ranked, 0, len(top))
	for _, id := range ids {
		i, ok := index[id]
		if !ok {
			return nil, &Degradation{Reason: fmt.Sprintf("reorder named unknown id %q", id)}
		}
		if used[i] {
			return nil, &Degradation{Reason: fmt.Sprintf("reorder repeated id %q", id)}
		}
		used[i] = true
		out = append(out, top[i])
	}
	// Items the reorderer left out keep their deterministic relative order.
	for i, r := range top {
		if !used[i] {
			out = append(out, r)
		}
	}
	return out, nil
}

// orderIDs accepts ["id", ...], [{"id": ...}, ...] or {"order": [...]}.
func orderIDs(data json.RawMessage) ([]string, error) {
	var wrapped struct {
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Order) > 0 {
		data = wrapped.Order
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err == nil {
		return ids, nil
	}
	var objs []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &objs); err != nil {
		return nil, fmt.Errorf("expected id list: %w", err)
	}
	ids = make([]string, len(objs))
	for i, o := range objs {
		if o.ID == "" {
			return nil, fmt.Errorf("entry %d has no id", i)
		}
		ids[i] = o.ID
	}
	return ids, nil
}
