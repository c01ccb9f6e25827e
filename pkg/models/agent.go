package models

import "time"

// AgentRole is the logical name of an agent capability. Roles are resolved
// to concrete agent instances by the router's registration table.
type AgentRole string

const (
	// RolePlanning decomposes and sequences work.
	RolePlanning AgentRole = "planning"
	// RoleDataCollection gathers business data, asking the user when needed.
	RoleDataCollection AgentRole = "data_collection"
	// RoleCompliance evaluates collected data against compliance rules.
	RoleCompliance AgentRole = "compliance"
	// RoleMonitoring watches long-running external processes.
	RoleMonitoring AgentRole = "monitoring"
)

// ResponseStatus is the outcome class of an agent dispatch.
type ResponseStatus string

const (
	// ResponseCompleted indicates the phase goal was met.
	ResponseCompleted ResponseStatus = "completed"
	// ResponseNeedsInput indicates the agent requires human input and has
	// attached a UI augmentation request.
	ResponseNeedsInput ResponseStatus = "needs_input"
	// ResponseError indicates the agent failed; retryable per phase config.
	ResponseError ResponseStatus = "error"
)

// Valid returns true if the status is a known value.
func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseCompleted, ResponseNeedsInput, ResponseError:
		return true
	default:
		return false
	}
}

// AgentRequest is what the orchestrator hands an agent when dispatching a
// phase: the goal plus the slice of task state the agent is entitled to see.
type AgentRequest struct {
	// ContextID is the task being worked.
	ContextID string `json:"context_id"`
	// Phase is the plan phase being executed.
	Phase string `json:"phase"`
	// Goal is the phase goal from the plan template.
	Goal string `json:"goal"`
	// CompletionCriteria describes when the phase counts as done.
	CompletionCriteria string `json:"completion_criteria,omitempty"`
	// SharedContext is the task's shared key/value data.
	SharedContext map[string]any `json:"shared_context,omitempty"`
	// PriorFindings carries findings already recorded by any role.
	PriorFindings []map[string]any `json:"prior_findings,omitempty"`
	// Attempt is the 1-indexed dispatch attempt for this phase.
	Attempt int `json:"attempt"`
}

// AgentResponse is the typed result of one agent dispatch. The engine only
// sequences and persists responses; how the agent decided is opaque to it.
type AgentResponse struct {
	// Status classifies the outcome.
	Status ResponseStatus `json:"status"`
	// Findings are facts to append to the agent's working state.
	Findings []map[string]any `json:"findings,omitempty"`
	// Deliverables are artifacts to append to the agent's working state.
	Deliverables []map[string]any `json:"deliverables,omitempty"`
	// ContextUpdates merge into the task's shared context.
	ContextUpdates map[string]any `json:"context_updates,omitempty"`
	// UIRequest must be set when Status is needs_input.
	UIRequest *UIAugmentationRequest `json:"ui_request,omitempty"`
	// PauseType classifies the suspension when Status is needs_input.
	// Defaults to user_approval when empty.
	PauseType PauseType `json:"pause_type,omitempty"`
	// Reasoning is the agent's justification, preserved in the event log.
	Reasoning string `json:"reasoning,omitempty"`
	// Error describes the failure when Status is error.
	Error string `json:"error,omitempty"`
	// Duration is how long the dispatch took.
	Duration time.Duration `json:"duration,omitempty"`
}
