package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// StepDescriptor declares one step: where it runs and what it reads and writes.
type StepDescriptor struct {
	ID       int    `json:"id" yaml:"id"`
	Phase    int    `json:"phase" yaml:"phase"`
	Name     string `json:"name" yaml:"name"`
	Requires []Key  `json:"requires,omitempty" yaml:"requires"`
	Produces []Key  `json:"produces" yaml:"produces"`
}

// Generator turns a prompt into raw text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// PromptFunc renders a step's prompt from its gathered inputs.
type PromptFunc func(step StepDescriptor, inputs map[Key]Value) (string, error)

// Binding attaches a prompt and a generator to a descriptor.
type Binding struct {
	Step      StepDescriptor
	Prompt    PromptFunc
	Generator Generator
}

var errNoGenerator = errors.New("pipeline: binding has no generator")

// Registry holds every step of a catalog in ascending ID order. It is the
// only place steps are defined; registration rejects any descriptor whose
// inputs cannot be satisfied by the seed keys or an earlier step.
type Registry struct {
	seed      map[Key]bool
	bindings  []Binding
	byID      map[int]int
	names     map[string]bool
	producers map[Key]int
}

// NewRegistry registers bindings in ascending ID order against the given
// seed keys.
func NewRegistry(seedKeys []Key, bindings ...Binding) (*Registry, error) {
	r := &Registry{
		seed:      make(map[Key]bool, len(seedKeys)),
		byID:      make(map[int]int),
		names:     make(map[string]bool),
		producers: make(map[Key]int),
	}
	for _, k := range seedKeys {
		r.seed[k] = true
	}
	sorted := append([]Binding(nil), bindings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Step.ID < sorted[j].Step.ID })
	for _, b := range sorted {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends one binding. Its ID must exceed every registered ID.
func (r *Registry) Register(b Binding) error {
	d := b.Step
	fail := func(k Key, err error) error {
		return &RegistrationError{StepID: d.ID, Key: k, Err: err}
	}

	if _, dup := r.byID[d.ID]; dup {
		return fail("", ErrDuplicateStep)
	}
	if d.Name == "" {
		return fail("", errors.New("pipeline: step name is empty"))
	}
	if r.names[d.Name] {
		return fail("", fmt.Errorf("%w: name %q", ErrDuplicateStep, d.Name))
	}
	if b.Generator == nil {
		return fail("", errNoGenerator)
	}
	if n := len(r.bindings); n > 0 {
		last := r.bindings[n-1].Step
		if d.ID < last.ID {
			return fail("", ErrStepOrder)
		}
		if d.Phase < last.Phase {
			return fail("", ErrPhaseOrder)
		}
	}
	if len(d.Produces) == 0 {
		return fail("", errors.New("pipeline: step produces nothing"))
	}
	for _, k := range d.Requires {
		if r.seed[k] {
			continue
		}
		if _, ok := r.producers[k]; ok {
			continue
		}
		return fail(k, ErrForwardReference)
	}
	for _, k := range d.Produces {
		if r.seed[k] {
			return fail(k, fmt.Errorf("%w: seed key", ErrDuplicateProducer))
		}
		if owner, ok := r.producers[k]; ok {
			return fail(k, fmt.Errorf("%w: step %d", ErrDuplicateProducer, owner))
		}
	}

	d.Requires = append([]Key(nil), d.Requires...)
	d.Produces = append([]Key(nil), d.Produces...)
	b.Step = d

	r.byID[d.ID] = len(r.bindings)
	r.names[d.Name] = true
	for _, k := range d.Produces {
		r.producers[k] = d.ID
	}
	r.bindings = append(r.bindings, b)
	return nil
}

// Describe returns the descriptor for id.
func (r *Registry) Describe(id int) (StepDescriptor, error) {
	b, err := r.binding(id)
	if err != nil {
		return StepDescriptor{}, err
	}
	return b.Step, nil
}

// Dispatch renders the step's prompt from inputs and calls its generator.
func (r *Registry) Dispatch(ctx context.Context, id int, inputs map[Key]Value) (string, error) {
	b, err := r.binding(id)
	if err != nil {
		return "", err
	}
	render := b.Prompt
	if render == nil {
		render = DefaultPrompt
	}
	prompt, err := render(b.Step, inputs)
	if err != nil {
		return "", &GenerationError{StepID: id, Step: b.Step.Name, Err: fmt.Errorf("render prompt: %w", err)}
	}
	raw, err := b.Generator.Generate(ctx, prompt)
	if err != nil {
		return "", &GenerationError{StepID: id, Step: b.Step.Name, Err: err}
	}
	return raw, nil
}

func (r *Registry) binding(id int) (Binding, error) {
	i, ok := r.byID[id]
	if !ok {
		return Binding{}, &NotFoundError{StepID: id}
	}
	return r.bindings[i], nil
}

// Steps returns every descriptor in ID order.
func (r *Registry) Steps() []StepDescriptor {
	out := make([]StepDescriptor, len(r.bindings))
	for i, b := range r.bindings {
		out[i] = b.Step
	}
	return out
}

// PhaseSteps returns the descriptors of one phase in ID order.
func (r *Registry) PhaseSteps(phase int) []StepDescriptor {
	var out []StepDescriptor
	for _, b := range r.bindings {
		if b.Step.Phase == phase {
			out = append(out, b.Step)
		}
	}
	return out
}

// Phases returns the distinct phase numbers in ascending order.
func (r *Registry) Phases() []int {
	var out []int
	for _, b := range r.bindings {
		if n := len(out); n == 0 || out[n-1] != b.Step.Phase {
			out = append(out, b.Step.Phase)
		}
	}
	return out
}

// SeedKeys returns the declared seed keys sorted.
func (r *Registry) SeedKeys() []Key {
	out := make([]Key, 0, len(r.seed))
	for k := range r.seed {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultPrompt lists the step name and its inputs as JSON lines. Unusable
// inputs contribute their raw text.
func DefaultPrompt(step StepDescriptor, inputs map[Key]Value) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "step: %s\n", step.Name)
	for _, k := range step.Requires {
		v, ok := inputs[k]
		if !ok {
			continue
		}
		if v.Usable {
			fmt.Fprintf(&b, "%s: %s\n", k, v.Data)
			continue
		}
		quoted, _ := json.Marshal(v.Raw)
		fmt.Fprintf(&b, "%s: %s\n", k, quoted)
	}
	produces := make([]string, len(step.Produces))
	for i, k := range step.Produces {
		produces[i] = string(k)
	}
	fmt.Fprintf(&b, "respond with JSON containing: %s\n", strings.Join(produces, ", "))
	return b.String(), nil
}
