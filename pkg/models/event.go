package models

import "time"

// ActorType identifies who caused a context event.
type ActorType string

const (
	// ActorUser indicates the event was caused by a human response.
	ActorUser ActorType = "user"
	// ActorAgent indicates the event was recorded by an agent.
	ActorAgent ActorType = "agent"
	// ActorSystem indicates the event was recorded by the engine itself.
	ActorSystem ActorType = "system"
)

// Valid returns true if the actor type is a known value.
func (a ActorType) Valid() bool {
	switch a {
	case ActorUser, ActorAgent, ActorSystem:
		return true
	default:
		return false
	}
}

// Operation tags understood by the projector. Events carrying other tags are
// still stored and folded generically (their Data merges into SharedContext).
const (
	// OpTaskCreated initializes a context with its type, tenant and plan.
	OpTaskCreated = "task_created"
	// OpPhaseStarted marks the current phase as running.
	OpPhaseStarted = "phase_started"
	// OpPhaseCompleted marks the current phase done and names the next one.
	OpPhaseCompleted = "phase_completed"
	// OpAgentState updates an agent's private working state.
	OpAgentState = "agent_state"
	// OpFindingRecorded appends a finding to an agent's working state.
	OpFindingRecorded = "finding_recorded"
	// OpDeliverableRecorded appends a deliverable to an agent's working state.
	OpDeliverableRecorded = "deliverable_recorded"
	// OpUIRequestCreated records that a UI augmentation request was issued.
	OpUIRequestCreated = "ui_request_created"
	// OpUIResponseReceived records a validated human response.
	OpUIResponseReceived = "ui_response_received"
	// OpUIRequestSkipped records a skipped or expired UI request.
	OpUIRequestSkipped = "ui_request_skipped"
	// OpTaskPaused records suspension and the pause reason.
	OpTaskPaused = "task_paused"
	// OpTaskResumed records reactivation with merged resume data.
	OpTaskResumed = "task_resumed"
	// OpTaskCompleted marks the task completed.
	OpTaskCompleted = "task_completed"
	// OpTaskFailed marks the task failed with a reason.
	OpTaskFailed = "task_failed"
	// OpTaskCanceled marks the task canceled. Idempotent at the engine level.
	OpTaskCanceled = "task_canceled"
	// OpAuditAnnotation is the only operation accepted on terminal contexts.
	OpAuditAnnotation = "audit_annotation"
)

// ContextEvent is the unit of the append-only log. Events are immutable
// once written; the current TaskContext is always reproducible by folding
// all events for a context in sequence order.
type ContextEvent struct {
	// ContextID identifies the task context this event belongs to.
	ContextID string `json:"context_id"`
	// SequenceNumber is strictly increasing and gapless per context.
	// Assigned by the store on append, never by the caller.
	SequenceNumber int64 `json:"sequence_number"`
	// Operation is the semantic tag the projector folds on.
	Operation string `json:"operation"`
	// ActorType identifies the class of actor that produced the event.
	ActorType ActorType `json:"actor_type"`
	// ActorID identifies the specific actor (user ID, agent role, "engine").
	ActorID string `json:"actor_id"`
	// Data is the operation payload.
	Data map[string]any `json:"data,omitempty"`
	// Reasoning is a human-readable justification kept for the audit trail.
	Reasoning string `json:"reasoning,omitempty"`
	// CreatedAt is when the event was accepted by the store.
	CreatedAt time.Time `json:"created_at"`
}

// Terminal returns true if the operation ends the task.
func (e *ContextEvent) Terminal() bool {
	switch e.Operation {
	case OpTaskCompleted, OpTaskFailed, OpTaskCanceled:
		return true
	default:
		return false
	}
}
