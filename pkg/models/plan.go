package models

import "time"

// PhaseStatus represents the execution state of a single plan phase.
type PhaseStatus string

const (
	// PhasePending indicates the phase has not started.
	PhasePending PhaseStatus = "pending"
	// PhaseRunning indicates the phase is being worked by its agent.
	PhaseRunning PhaseStatus = "running"
	// PhaseCompleted indicates the phase finished. Completion is terminal:
	// a completed phase is never re-executed.
	PhaseCompleted PhaseStatus = "completed"
	// PhaseFailed indicates the phase exhausted its retry budget.
	PhaseFailed PhaseStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhasePending, PhaseRunning, PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// Phase is one named step of an execution plan, owned by one agent role.
type Phase struct {
	// Name is the unique phase identifier within the plan.
	Name string `json:"name" yaml:"name"`
	// Role is the agent role responsible for this phase.
	Role AgentRole `json:"role" yaml:"role"`
	// Goal describes what the agent should accomplish.
	Goal string `json:"goal" yaml:"goal"`
	// CompletionCriteria describes when the phase counts as done.
	CompletionCriteria string `json:"completion_criteria,omitempty" yaml:"completion_criteria,omitempty"`
	// DependsOn lists phase names that must complete before this phase.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// MaxRetries is the number of retries allowed after an agent error.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// Status is the current execution state of the phase.
	Status PhaseStatus `json:"status" yaml:"-"`
	// Attempts counts dispatches of this phase, including retries.
	Attempts int `json:"attempts,omitempty" yaml:"-"`
}

// ExecutionPlan is the orchestrator's decomposition of a task: an ordered
// list of phases with explicit dependency edges. Plans are built from the
// task type's declared template, not computed by search.
type ExecutionPlan struct {
	// ContextID is the task this plan belongs to.
	ContextID string `json:"context_id"`
	// TaskType names the template the plan was built from.
	TaskType string `json:"task_type"`
	// Phases is the ordered phase list. Order is the template's declaration
	// order; eligibility is governed by DependsOn edges.
	Phases []*Phase `json:"phases"`
	// CreatedAt is when the plan was constructed.
	CreatedAt time.Time `json:"created_at"`
}

// Phase returns the named phase, or nil if the plan does not contain it.
func (p *ExecutionPlan) Phase(name string) *Phase {
	for _, ph := range p.Phases {
		if ph.Name == name {
			return ph
		}
	}
	return nil
}

// FirstEligible returns the first declared phase whose dependencies are all
// completed and which is itself pending. Returns nil when nothing is
// eligible (either the plan is done or everything runnable is running).
func (p *ExecutionPlan) FirstEligible(completed map[string]bool) *Phase {
	for _, ph := range p.Phases {
		if ph.Status != PhasePending || completed[ph.Name] {
			continue
		}
		ready := true
		for _, dep := range ph.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			return ph
		}
	}
	return nil
}

// Eligible returns every pending phase whose dependencies are completed.
// Multiple eligible phases may be executed concurrently.
func (p *ExecutionPlan) Eligible(completed map[string]bool) []*Phase {
	var out []*Phase
	for _, ph := range p.Phases {
		if ph.Status != PhasePending || completed[ph.Name] {
			continue
		}
		ready := true
		for _, dep := range ph.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, ph)
		}
	}
	return out
}

// Done reports whether every phase has completed.
func (p *ExecutionPlan) Done(completed map[string]bool) bool {
	for _, ph := range p.Phases {
		if !completed[ph.Name] {
			return false
		}
	}
	return true
}
