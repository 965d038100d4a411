package workflow

import (
	"time"

	"github.com/luminetic/ensemble/types"
)

// Kind identifies what a step does when its wave runs.
type Kind string

const (
	// KindInference calls the inference client with the rendered prompt.
	KindInference Kind = "inference"
	// KindTransform applies a registered named handler to the run context.
	KindTransform Kind = "transform"
	// KindBranch compares a context value against an expected value and
	// stores the bool. Fault-tolerant.
	KindBranch Kind = "branch"
	// KindCheckpoint persists a snapshot of the run context. Fault-tolerant.
	KindCheckpoint Kind = "checkpoint"
)

// faultTolerant reports whether a failure of this kind is recorded without
// aborting the remaining waves.
func (k Kind) faultTolerant() bool {
	return k == KindBranch || k == KindCheckpoint
}

// ExecutionHint carries scheduling metadata attached by Optimize. The
// executor derives waves itself; hints exist for callers that want to
// inspect or display the plan.
type ExecutionHint struct {
	// Wave is the dependency level the step lands in, 0-based.
	Wave int `json:"wave" yaml:"wave"`
	// Concurrent is true when the step shares its wave with other steps.
	Concurrent bool `json:"concurrent" yaml:"concurrent"`
}

// Step is one node of the workflow graph.
type Step struct {
	// ID uniquely identifies the step within its workflow.
	ID string `json:"id"`
	// Name is a human-readable label.
	Name string `json:"name,omitempty"`
	// Kind selects the dispatch behavior. Empty defaults to inference.
	Kind Kind `json:"kind,omitempty"`
	// BackendRef names the model or target handed to the client.
	BackendRef string `json:"backend_ref,omitempty"`
	// PromptTemplate is the prompt with {{key}} placeholders resolved
	// against the run context.
	PromptTemplate string `json:"prompt_template,omitempty"`
	// Options carries kind-specific settings (handler, when, equals, ...)
	// and passes through to the backend for inference steps.
	Options types.Map `json:"options,omitempty"`
	// DependsOn lists step IDs that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`
	// OutputKey stores the step result in the run context when set.
	OutputKey string `json:"output_key,omitempty"`
	// Hint is populated by Optimize.
	Hint ExecutionHint `json:"hint,omitempty"`
}

// kind returns the effective kind, defaulting empty to inference.
func (s *Step) kind() Kind {
	if s.Kind == "" {
		return KindInference
	}
	return s.Kind
}

// clone returns a deep enough copy: slices are copied, option Values are
// shared (treated as immutable).
func (s *Step) clone() Step {
	out := *s
	out.DependsOn = append([]string(nil), s.DependsOn...)
	out.Options = types.CloneMap(s.Options)
	return out
}

// Workflow is an immutable pipeline definition. Executing a workflow never
// mutates it; Optimize returns an annotated copy.
type Workflow struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Steps      []Step    `json:"steps"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// New creates a workflow with the given name and steps, stamping both
// timestamps.
func New(name string, steps ...Step) *Workflow {
	now := time.Now()
	return &Workflow{
		Name:       name,
		Steps:      steps,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// stepIndex maps step IDs to their position in wf.Steps.
func (wf *Workflow) stepIndex() map[string]int {
	idx := make(map[string]int, len(wf.Steps))
	for i := range wf.Steps {
		idx[wf.Steps[i].ID] = i
	}
	return idx
}

// StepError records one failed step inside a run.
type StepError struct {
	StepID  string `json:"step_id"`
	Message string `json:"message"`
}

// Result is the structured outcome of one run. Success is derived: a run
// succeeded exactly when no step errored.
type Result struct {
	RunID         string        `json:"run_id"`
	Success       bool          `json:"success"`
	Outputs       types.Map     `json:"outputs"`
	Errors        []StepError   `json:"errors,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}
