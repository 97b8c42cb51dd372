package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunDraft     RunStatus = "draft"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	StepID   int           `json:"step_id"`
	Phase    int           `json:"phase"`
	Name     string        `json:"name"`
	Outputs  map[Key]Value `json:"outputs"`
	Parsed   bool          `json:"parsed"`
	Strategy string        `json:"strategy,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// PhaseResult collects the steps of one phase in execution order.
type PhaseResult struct {
	Phase int          `json:"phase"`
	Steps []StepResult `json:"steps"`
}

// Run is one execution of the catalog for one seed. A Run is driven by a
// single goroutine at a time.
type Run struct {
	ID           string                        `json:"id"`
	Seed         Seed                          `json:"seed"`
	State        *State                        `json:"-"`
	PhaseResults map[int]map[string]StepResult `json:"phase_results"`
	Status       RunStatus                     `json:"status"`
	Err          string                        `json:"error,omitempty"`
}

// NewRun creates a draft run with the seed merged into its state. An empty
// id gets a fresh UUID.
func NewRun(id string, seed Seed) (*Run, error) {
	if id == "" {
		id = uuid.NewString()
	}
	st := NewState()
	if err := st.Merge(seed); err != nil {
		return nil, err
	}
	return &Run{
		ID:           id,
		Seed:         seed,
		State:        st,
		PhaseResults: make(map[int]map[string]StepResult),
		Status:       RunDraft,
	}, nil
}

func (r *Run) record(res StepResult) {
	m, ok := r.PhaseResults[res.Phase]
	if !ok {
		m = make(map[string]StepResult)
		r.PhaseResults[res.Phase] = m
	}
	m[res.Name] = res
}

// Output returns the first usable value among keys, searching in order.
func (r *Run) Output(keys ...Key) (Value, bool) {
	for _, k := range keys {
		if v, ok := r.State.Get(k); ok && v.Usable {
			return v, true
		}
	}
	return Value{}, false
}

// RestoreRun rebuilds a run from its seed and recorded step events, applied
// in order so later executions of a step replace earlier ones.
func RestoreRun(id string, seed Seed, status RunStatus, events []StepRecord) (*Run, error) {
	run, err := NewRun(id, seed)
	if err != nil {
		return nil, err
	}
	snap := run.State.Snapshot()
	for _, ev := range events {
		for k, v := range ev.Outputs {
			if v.Writer == "" {
				v.Writer = ev.Name
			}
			snap[k] = v
		}
		run.record(StepResult{StepID: ev.StepID, Phase: ev.Phase, Name: ev.Name, Outputs: ev.Outputs, Parsed: ev.Parsed})
	}
	run.State = StateFrom(snap)
	if status != "" {
		run.Status = status
	}
	return run, nil
}
