// Package models defines the shared domain types for the task context engine.
package models

import "time"

// TaskStatus represents the lifecycle status of a task context.
// This is distinct from the task's current phase: status describes whether
// the task as a whole is runnable, while the phase describes where in its
// execution plan the task currently is.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been created but not advanced.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusActive indicates the task is runnable.
	TaskStatusActive TaskStatus = "active"
	// TaskStatusPausedForInput indicates the task is suspended waiting for
	// a human response or a resume token.
	TaskStatusPausedForInput TaskStatus = "paused_for_input"
	// TaskStatusCompleted indicates all phases finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task ended with an unrecoverable error.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusPausedForInput,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status permits no further state transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// AgentWorkingState is one agent's private scratch space inside a task
// context. Findings and deliverables accumulate; they are never replaced
// wholesale by later events.
type AgentWorkingState struct {
	// State is a free-form label describing what the agent is doing.
	State string `json:"state,omitempty"`
	// Requirements lists outstanding inputs the agent still needs.
	Requirements []string `json:"requirements,omitempty"`
	// Findings accumulates facts the agent has established.
	Findings []map[string]any `json:"findings,omitempty"`
	// Deliverables accumulates the agent's produced artifacts.
	Deliverables []map[string]any `json:"deliverables,omitempty"`
}

// Clone returns a deep copy of the working state.
func (w *AgentWorkingState) Clone() *AgentWorkingState {
	if w == nil {
		return nil
	}
	c := &AgentWorkingState{State: w.State}
	c.Requirements = append(c.Requirements, w.Requirements...)
	for _, f := range w.Findings {
		c.Findings = append(c.Findings, cloneMap(f))
	}
	for _, d := range w.Deliverables {
		c.Deliverables = append(c.Deliverables, cloneMap(d))
	}
	return c
}

// TaskContext is the root aggregate for one unit of work. It is derived
// state: the only way to mutate it is to append events to its log and
// re-project. Direct field writes never persist.
type TaskContext struct {
	// ContextID is the immutable identifier of this task instance.
	ContextID string `json:"context_id"`
	// TaskType names the declared phase template this task follows.
	TaskType string `json:"task_type"`
	// TenantID is the business boundary this task belongs to.
	TenantID string `json:"tenant_id"`
	// Status is the task lifecycle status.
	Status TaskStatus `json:"status"`
	// CurrentPhase is the phase the task is currently executing.
	// Always present in the task type's declared phase list.
	CurrentPhase string `json:"current_phase"`
	// CompletedPhases is the monotonically growing set of finished phases.
	CompletedPhases map[string]bool `json:"completed_phases"`
	// SharedContext is free-form data visible to all agents on this task.
	SharedContext map[string]any `json:"shared_context"`
	// AgentContexts holds each agent role's private working state.
	AgentContexts map[AgentRole]*AgentWorkingState `json:"agent_contexts,omitempty"`
	// FailureReason carries the triggering error when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`
	// LastSequence is the sequence number of the last event folded in.
	LastSequence int64 `json:"last_sequence"`
	// CreatedAt is when the task was initiated.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the timestamp of the last folded event.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskContext creates an empty projection for a new task.
func NewTaskContext(contextID, taskType, tenantID string) *TaskContext {
	return &TaskContext{
		ContextID:       contextID,
		TaskType:        taskType,
		TenantID:        tenantID,
		Status:          TaskStatusPending,
		CompletedPhases: make(map[string]bool),
		SharedContext:   make(map[string]any),
		AgentContexts:   make(map[AgentRole]*AgentWorkingState),
	}
}

// PhaseCompleted reports whether the named phase has finished.
func (t *TaskContext) PhaseCompleted(phase string) bool {
	return t.CompletedPhases[phase]
}

// AgentContext returns the working state for a role, creating it if absent.
func (t *TaskContext) AgentContext(role AgentRole) *AgentWorkingState {
	if t.AgentContexts == nil {
		t.AgentContexts = make(map[AgentRole]*AgentWorkingState)
	}
	ws, ok := t.AgentContexts[role]
	if !ok {
		ws = &AgentWorkingState{}
		t.AgentContexts[role] = ws
	}
	return ws
}

// Clone returns a deep copy of the projection. Callers receive clones so
// that a cached projection can never be mutated from outside the store.
func (t *TaskContext) Clone() *TaskContext {
	if t == nil {
		return nil
	}
	c := *t
	c.CompletedPhases = make(map[string]bool, len(t.CompletedPhases))
	for k, v := range t.CompletedPhases {
		c.CompletedPhases[k] = v
	}
	c.SharedContext = cloneMap(t.SharedContext)
	c.AgentContexts = make(map[AgentRole]*AgentWorkingState, len(t.AgentContexts))
	for role, ws := range t.AgentContexts {
		c.AgentContexts[role] = ws.Clone()
	}
	return &c
}

// cloneMap shallow-copies a data map. Values are treated as immutable once
// recorded in an event.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
