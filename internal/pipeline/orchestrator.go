package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"contentmill/internal/logging"
	"contentmill/internal/parse"
)

// Progress is delivered after every executed step.
type Progress struct {
	RunID  string
	Phase  int
	StepID int
	Name   string
	Result StepResult
}

// ProgressFunc observes steps. Its errors and panics are logged and never
// abort execution.
type ProgressFunc func(Progress) error

// StepRecord is the append-only persistence record of one step execution.
type StepRecord struct {
	RunID   string        `json:"run_id"`
	StepID  int           `json:"step_id"`
	Phase   int           `json:"phase"`
	Name    string        `json:"name"`
	Outputs map[Key]Value `json:"outputs"`
	Parsed  bool          `json:"parsed"`
	At      time.Time     `json:"at"`
}

// Recorder persists step events and run status transitions.
type Recorder interface {
	RecordStep(ctx context.Context, rec StepRecord) error
	RecordRunStatus(ctx context.Context, runID string, status RunStatus, cause string) error
}

// StateLoader restores a previously recorded run.
type StateLoader interface {
	LoadRun(ctx context.Context, runID string) (*Run, error)
}

// Orchestrator executes registered steps against a Run.
type Orchestrator struct {
	registry    *Registry
	parser      parse.Chain
	recorder    Recorder
	loader      StateLoader
	logger      *slog.Logger
	stepTimeout time.Duration
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option       { return func(o *Orchestrator) { o.recorder = r } }
func WithStateLoader(l StateLoader) Option { return func(o *Orchestrator) { o.loader = l } }
func WithLogger(l *slog.Logger) Option     { return func(o *Orchestrator) { o.logger = l } }
func WithParser(c parse.Chain) Option      { return func(o *Orchestrator) { o.parser = c } }

// WithStepTimeout bounds each generator call. Zero means no bound.
func WithStepTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.stepTimeout = d } }

// NewOrchestrator builds an orchestrator over a validated registry.
func NewOrchestrator(reg *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		parser:   parse.DefaultStrategies(),
		logger:   logging.New("orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry exposes the step registry the orchestrator dispatches through.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// RunPhase executes every step of phase in ascending ID order. The first
// failing step aborts the phase and marks the run failed.
func (o *Orchestrator) RunPhase(ctx context.Context, phase int, run *Run, progress ProgressFunc) (*PhaseResult, error) {
	steps := o.registry.PhaseSteps(phase)
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrPhaseNotFound, phase)
	}
	o.setStatus(ctx, run, RunRunning, "")

	pr := &PhaseResult{Phase: phase}
	for _, d := range steps {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, run, err)
			return pr, fmt.Errorf("phase %d: %w", phase, err)
		}
		res, err := o.execStep(ctx, d, run, progress)
		if err != nil {
			o.fail(ctx, run, err)
			return pr, err
		}
		pr.Steps = append(pr.Steps, *res)
	}

	if o.allPhasesDone(run) {
		o.setStatus(ctx, run, RunCompleted, "")
	}
	return pr, nil
}

// RunSingleStep merges seed into the run's state and executes one step. It
// does not require the rest of the step's phase to have run; the run is
// marked completed only once every registered step has a result.
func (o *Orchestrator) RunSingleStep(ctx context.Context, stepID int, run *Run, seed Seed, progress ProgressFunc) (*StepResult, error) {
	d, err := o.registry.Describe(stepID)
	if err != nil {
		return nil, err
	}
	if err := run.State.Merge(seed); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.setStatus(ctx, run, RunRunning, "")
	res, err := o.execStep(ctx, d, run, progress)
	if err != nil {
		o.fail(ctx, run, err)
		return nil, err
	}
	if o.allPhasesDone(run) {
		o.setStatus(ctx, run, RunCompleted, "")
	}
	return res, nil
}

// RunAll creates a run for seed and executes every phase in order,
// stopping at the first failing phase. The returned slice holds only the
// phases that completed.
func (o *Orchestrator) RunAll(ctx context.Context, seed Seed, progress ProgressFunc) (*Run, []*PhaseResult, error) {
	return o.RunAllWithID(ctx, "", seed, progress)
}

// RunAllWithID is RunAll with a caller-chosen run ID.
func (o *Orchestrator) RunAllWithID(ctx context.Context, runID string, seed Seed, progress ProgressFunc) (*Run, []*PhaseResult, error) {
	run, err := NewRun(runID, seed)
	if err != nil {
		return nil, nil, err
	}
	if missing := run.State.Missing(o.registry.SeedKeys()); len(missing) > 0 {
		err := &InputValidationError{StepID: 0, Step: SeedWriter, Missing: missing}
		o.fail(ctx, run, err)
		return run, nil, err
	}

	var done []*PhaseResult
	for _, phase := range o.registry.Phases() {
		pr, err := o.RunPhase(ctx, phase, run, progress)
		if err != nil {
			return run, done, err
		}
		done = append(done, pr)
	}
	return run, done, nil
}

// Resume loads a recorded run and re-enters it at stepID.
func (o *Orchestrator) Resume(ctx context.Context, runID string, stepID int, seed Seed, progress ProgressFunc) (*Run, *StepResult, error) {
	if o.loader == nil {
		return nil, nil, ErrNoStateLoader
	}
	run, err := o.loader.LoadRun(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	res, err := o.RunSingleStep(ctx, stepID, run, seed, progress)
	return run, res, err
}

func (o *Orchestrator) execStep(ctx context.Context, d StepDescriptor, run *Run, progress ProgressFunc) (*StepResult, error) {
	logger := o.logger.With("run_id", run.ID, "step", d.Name, "step_id", d.ID)

	if missing := run.State.Missing(d.Requires); len(missing) > 0 {
		return nil, &InputValidationError{StepID: d.ID, Step: d.Name, Missing: missing}
	}
	inputs := run.State.Select(d.Requires)

	stepCtx := ctx
	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	start := o.now()
	raw, err := o.registry.Dispatch(stepCtx, d.ID, inputs)
	if err != nil {
		logger.Error("step failed", "error", err)
		return nil, err
	}

	parsed := o.parser.Parse(raw)
	if !parsed.OK() {
		logger.Warn("output unparseable, storing as unusable", "reason", parsed.Reason())
	}
	outputs := splitOutputs(d.Produces, parsed)
	for k, v := range outputs {
		v.Writer = d.Name
		outputs[k] = v
	}
	if err := run.State.put(d.Name, outputs); err != nil {
		return nil, err
	}

	res := &StepResult{
		StepID:   d.ID,
		Phase:    d.Phase,
		Name:     d.Name,
		Outputs:  outputs,
		Parsed:   parsed.OK(),
		Strategy: parsed.Strategy(),
		Elapsed:  o.now().Sub(start),
	}
	run.record(*res)
	logger.Debug("step done", "parsed", res.Parsed, "strategy", res.Strategy)

	if o.recorder != nil {
		rec := StepRecord{
			RunID: run.ID, StepID: d.ID, Phase: d.Phase, Name: d.Name,
			Outputs: outputs, Parsed: res.Parsed, At: o.now(),
		}
		if err := o.recorder.RecordStep(ctx, rec); err != nil {
			logger.Warn("record step failed", "error", err)
		}
	}

	o.notify(logger, progress, Progress{RunID: run.ID, Phase: d.Phase, StepID: d.ID, Name: d.Name, Result: *res})
	return res, nil
}

func (o *Orchestrator) notify(logger *slog.Logger, progress ProgressFunc, p Progress) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("progress callback panicked", "panic", r)
		}
	}()
	if err := progress(p); err != nil {
		logger.Warn("progress callback failed", "error", err)
	}
}

func (o *Orchestrator) allPhasesDone(run *Run) bool {
	for _, p := range o.registry.Phases() {
		if len(run.PhaseResults[p]) < len(o.registry.PhaseSteps(p)) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, err error) {
	run.Err = err.Error()
	o.setStatus(context.WithoutCancel(ctx), run, RunFailed, err.Error())
}

func (o *Orchestrator) setStatus(ctx context.Context, run *Run, status RunStatus, cause string) {
	if run.Status == status {
		return
	}
	run.Status = status
	if status != RunFailed {
		run.Err = ""
	}
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordRunStatus(ctx, run.ID, status, cause); err != nil {
		o.logger.Warn("record run status failed", "run_id", run.ID, "status", status, "error", err)
	}
}

// splitOutputs maps a parse result onto the declared output keys. An object
// with a field named after a key contributes that field; a single-key step
// otherwise takes the whole document.
func splitOutputs(produces []Key, res parse.Result) map[Key]Value {
	out := make(map[Key]Value, len(produces))
	if !res.OK() {
		for _, k := range produces {
			out[k] = Value{Raw: res.Raw(), Reason: res.Reason()}
		}
		return out
	}

	var fields map[string]json.RawMessage
	_ = json.Unmarshal(res.Data(), &fields)

	for _, k := range produces {
		if f, ok := fields[string(k)]; ok {
			out[k] = Value{Data: f, Usable: true}
			continue
		}
		if len(produces) == 1 {
			out[k] = Value{Data: res.Data(), Usable: true}
			continue
		}
		out[k] = Value{Raw: parse.Truncate(string(res.Data()), parse.MaxRaw), Reason: fmt.Sprintf("field %q absent", k)}
	}
	return out
}
