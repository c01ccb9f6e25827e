package contextstore

import (
	"strings"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// ProjectEvents folds an ordered event list into a task context. The fold is
// a pure function: identical event lists always yield identical projections.
// Later events override earlier ones for the same logical field; findings,
// deliverables and completed phases only accumulate.
func ProjectEvents(contextID string, events []*models.ContextEvent) *models.TaskContext {
	tc := models.NewTaskContext(contextID, "", "")

	for _, ev := range events {
		applyEvent(tc, ev)
		tc.LastSequence = ev.SequenceNumber
		tc.UpdatedAt = ev.CreatedAt
	}

	return tc
}

// applyEvent folds a single event into the projection.
func applyEvent(tc *models.TaskContext, ev *models.ContextEvent) {
	switch ev.Operation {
	case models.OpTaskCreated:
		tc.TaskType, _ = ev.Data["task_type"].(string)
		tc.TenantID, _ = ev.Data["tenant_id"].(string)
		tc.Status = models.TaskStatusPending
		tc.CreatedAt = ev.CreatedAt
		if phase, ok := ev.Data["first_phase"].(string); ok {
			tc.CurrentPhase = phase
		}
		if initial, ok := ev.Data["initial_data"].(map[string]any); ok {
			mergeInto(tc.SharedContext, initial)
		}

	case models.OpPhaseStarted:
		if phase, ok := ev.Data["phase"].(string); ok {
			tc.CurrentPhase = phase
		}
		tc.Status = models.TaskStatusActive

	case models.OpPhaseCompleted:
		if phase, ok := ev.Data["phase"].(string); ok {
			tc.CompletedPhases[phase] = true
		}
		if next, ok := ev.Data["next_phase"].(string); ok && next != "" {
			tc.CurrentPhase = next
		}
		if updates, ok := ev.Data["context_updates"].(map[string]any); ok {
			mergeInto(tc.SharedContext, updates)
		}

	case models.OpAgentState:
		ws := tc.AgentContext(models.AgentRole(ev.ActorID))
		if state, ok := ev.Data["state"].(string); ok {
			ws.State = state
		}
		if reqs, ok := ev.Data["requirements"].([]any); ok {
			ws.Requirements = ws.Requirements[:0]
			for _, r := range reqs {
				if s, ok := r.(string); ok {
					ws.Requirements = append(ws.Requirements, s)
				}
			}
		}

	case models.OpFindingRecorded:
		ws := tc.AgentContext(models.AgentRole(ev.ActorID))
		if finding, ok := ev.Data["finding"].(map[string]any); ok {
			ws.Findings = append(ws.Findings, finding)
		}

	case models.OpDeliverableRecorded:
		ws := tc.AgentContext(models.AgentRole(ev.ActorID))
		if deliverable, ok := ev.Data["deliverable"].(map[string]any); ok {
			ws.Deliverables = append(ws.Deliverables, deliverable)
		}

	case models.OpUIRequestCreated:
		// Tracked by the UI subsystem; the projection only notes the ask.
		ws := tc.AgentContext(models.AgentRole(ev.ActorID))
		ws.State = "awaiting_input"

	case models.OpUIResponseReceived:
		if formData, ok := ev.Data["form_data"].(map[string]any); ok {
			path, _ := ev.Data["target_path"].(string)
			mergeAtPath(tc.SharedContext, path, formData)
		}

	case models.OpUIRequestSkipped:
		// No shared-context change; the request record carries the outcome.

	case models.OpTaskPaused:
		tc.Status = models.TaskStatusPausedForInput

	case models.OpTaskResumed:
		tc.Status = models.TaskStatusActive
		if data, ok := ev.Data["resume_data"].(map[string]any); ok {
			mergeInto(tc.SharedContext, data)
		}

	case models.OpTaskCompleted:
		tc.Status = models.TaskStatusCompleted

	case models.OpTaskFailed:
		tc.Status = models.TaskStatusFailed
		if reason, ok := ev.Data["reason"].(string); ok {
			tc.FailureReason = reason
		}

	case models.OpTaskCanceled:
		// Cancellation surfaces as a failed terminal status with an
		// explicit reason; the event log preserves the distinction.
		tc.Status = models.TaskStatusFailed
		tc.FailureReason = "canceled"
		if reason, ok := ev.Data["reason"].(string); ok && reason != "" {
			tc.FailureReason = reason
		}

	case models.OpAuditAnnotation:
		// Annotations never change projected state.

	default:
		// Unknown operations fold generically: their data merges into the
		// shared context so custom agent operations still surface.
		mergeInto(tc.SharedContext, ev.Data)
	}
}

// mergeInto copies src keys into dst, overriding existing values.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// mergeAtPath merges data under a dot-separated path in the shared context.
// An empty path merges at the top level.
func mergeAtPath(dst map[string]any, path string, data map[string]any) {
	if path == "" {
		mergeInto(dst, data)
		return
	}

	cur := dst
	for _, part := range strings.Split(path, ".") {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	mergeInto(cur, data)
}
