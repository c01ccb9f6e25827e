package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/internal/config"
	"github.com/gianmatteo-arcana/engine-lever/internal/pauseresume"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// Advance drives a task forward until it reaches a terminal status, pauses
// for input, or runs out of eligible phases. At most one advancement loop
// runs per context; a second caller marks the trigger and returns, and the
// running loop either consumes the mark or hands the task to a fresh loop
// when it releases the guard.
func (e *Engine) Advance(ctx context.Context, tc *models.TenantContext, contextID string) error {
	e.pending.Store(contextID, struct{}{})
	if _, loaded := e.advancing.LoadOrStore(contextID, struct{}{}); loaded {
		return nil
	}
	defer e.releaseAdvance(tc, contextID)

	for {
		e.pending.Delete(contextID)
		proj, err := e.store.Project(ctx, tc, contextID)
		if err != nil {
			return err
		}
		if proj.Status.Terminal() || proj.Status == models.TaskStatusPausedForInput {
			return nil
		}

		tmpl, err := e.templates.Get(proj.TaskType)
		if err != nil {
			e.failTask(ctx, tc, contextID, fmt.Sprintf("task type %s has no template", proj.TaskType))
			return err
		}
		plan := BuildPlan(contextID, tmpl)

		if plan.Done(proj.CompletedPhases) {
			_, err := e.store.Append(ctx, tc, contextID, &models.ContextEvent{
				Operation: models.OpTaskCompleted,
				ActorType: models.ActorSystem,
				ActorID:   "engine",
				Reasoning: "all plan phases completed",
			})
			if err != nil {
				return fmt.Errorf("record completion: %w", err)
			}
			log.Printf("[engine] task %s completed", contextID)
			return nil
		}

		phase := plan.FirstEligible(proj.CompletedPhases)
		if phase == nil {
			// Nothing runnable and the plan is not done: a dependency can
			// never be satisfied. This is a template defect, not agent error.
			e.failTask(ctx, tc, contextID, "no eligible phase and plan incomplete")
			return nil
		}

		advanced, err := e.runPhase(ctx, tc, contextID, proj, phase)
		if err != nil {
			return err
		}
		if !advanced {
			// Paused or failed inside the phase; the next trigger resumes.
			return nil
		}
	}
}

// releaseAdvance frees the single-advancer guard. A trigger that lost the
// guard while the loop was finishing left its pending mark; the task is
// handed to a fresh loop instead of sitting active with no advancer.
func (e *Engine) releaseAdvance(tc *models.TenantContext, contextID string) {
	e.advancing.Delete(contextID)
	if _, ok := e.pending.Load(contextID); ok {
		e.kick(tc, contextID)
	}
}

// runPhase dispatches one phase, retrying agent errors within the phase's
// retry budget. It returns true when the phase completed and advancement
// should continue.
func (e *Engine) runPhase(ctx context.Context, tc *models.TenantContext, contextID string, proj *models.TaskContext, phase *models.Phase) (bool, error) {
	for attempt := 1; ; attempt++ {
		_, err := e.store.Append(ctx, tc, contextID, &models.ContextEvent{
			Operation: models.OpPhaseStarted,
			ActorType: models.ActorSystem,
			ActorID:   "engine",
			Data: map[string]any{
				"phase":   phase.Name,
				"role":    string(phase.Role),
				"attempt": attempt,
			},
			Reasoning: phase.Goal,
		})
		if err != nil {
			return false, fmt.Errorf("record phase start: %w", err)
		}

		req := buildAgentRequest(contextID, proj, phase, attempt)
		resp, err := e.router.Dispatch(ctx, phase.Role, tc, req)
		if err != nil {
			// Routing errors (unknown role, forbidden) are not retryable.
			e.failTask(ctx, tc, contextID, fmt.Sprintf("phase %s: %v", phase.Name, err))
			return false, nil
		}

		status := resp.Status
		if status == models.ResponseNeedsInput && resp.UIRequest == nil {
			// A needs_input response must carry the ask. Without it the
			// agent has malfunctioned; the attempt counts against the
			// retry budget like any other agent error.
			status = models.ResponseError
			resp.Error = "needs_input response carried no augmentation request"
		}

		switch status {
		case models.ResponseCompleted:
			if err := e.completePhase(ctx, tc, contextID, proj, phase, resp); err != nil {
				return false, err
			}
			return true, nil

		case models.ResponseNeedsInput:
			if err := e.pauseForInput(ctx, tc, contextID, phase, resp); err != nil {
				return false, err
			}
			return false, nil

		case models.ResponseError:
			log.Printf("[engine] phase %s attempt %d failed on task %s: %s",
				phase.Name, attempt, contextID, resp.Error)
			if attempt > phase.MaxRetries {
				e.failTask(ctx, tc, contextID,
					fmt.Sprintf("phase %s failed after %d attempts: %s", phase.Name, attempt, resp.Error))
				return false, nil
			}
			if err := e.backoff(ctx, attempt); err != nil {
				return false, err
			}

		default:
			e.failTask(ctx, tc, contextID,
				fmt.Sprintf("phase %s returned unknown status %q", phase.Name, status))
			return false, nil
		}

		// Refresh the projection so retries see context written meanwhile.
		fresh, err := e.store.Project(ctx, tc, contextID)
		if err != nil {
			return false, err
		}
		if fresh.Status.Terminal() {
			return false, nil
		}
		proj = fresh
	}
}

// completePhase records the agent's outputs and the phase completion.
func (e *Engine) completePhase(ctx context.Context, tc *models.TenantContext, contextID string, proj *models.TaskContext, phase *models.Phase, resp *models.AgentResponse) error {
	for _, finding := range resp.Findings {
		_, err := e.store.Append(ctx, tc, contextID, &models.ContextEvent{
			Operation: models.OpFindingRecorded,
			ActorType: models.ActorAgent,
			ActorID:   string(phase.Role),
			Data:      map[string]any{"finding": finding},
			Reasoning: resp.Reasoning,
		})
		if err != nil {
			return fmt.Errorf("record finding: %w", err)
		}
	}
	for _, deliverable := range resp.Deliverables {
		_, err := e.store.Append(ctx, tc, contextID, &models.ContextEvent{
			Operation: models.OpDeliverableRecorded,
			ActorType: models.ActorAgent,
			ActorID:   string(phase.Role),
			Data:      map[string]any{"deliverable": deliverable},
			Reasoning: resp.Reasoning,
		})
		if err != nil {
			return fmt.Errorf("record deliverable: %w", err)
		}
	}

	completed := make(map[string]bool, len(proj.CompletedPhases)+1)
	for name := range proj.CompletedPhases {
		completed[name] = true
	}
	completed[phase.Name] = true

	tmpl, err := e.templates.Get(proj.TaskType)
	if err != nil {
		return err
	}
	next := ""
	if nextPhase := BuildPlan(contextID, tmpl).FirstEligible(completed); nextPhase != nil {
		next = nextPhase.Name
	}

	data := map[string]any{
		"phase":      phase.Name,
		"next_phase": next,
	}
	if len(resp.ContextUpdates) > 0 {
		data["context_updates"] = resp.ContextUpdates
	}

	_, err = e.store.Append(ctx, tc, contextID, &models.ContextEvent{
		Operation: models.OpPhaseCompleted,
		ActorType: models.ActorAgent,
		ActorID:   string(phase.Role),
		Data:      data,
		Reasoning: resp.Reasoning,
	})
	if err != nil {
		return fmt.Errorf("record phase completion: %w", err)
	}

	log.Printf("[engine] task %s completed phase %s (next=%s)", contextID, phase.Name, next)
	return nil
}

// pauseForInput registers the agent's UI request and suspends the task.
// The paused phase is retried on reactivation, not skipped.
func (e *Engine) pauseForInput(ctx context.Context, tc *models.TenantContext, contextID string, phase *models.Phase, resp *models.AgentResponse) error {
	uiReq := resp.UIRequest
	uiReq.ContextID = contextID

	created, err := e.requests.CreateRequest(ctx, tc, uiReq)
	if errors.Is(err, models.ErrConflict) {
		// A stale pending request for this role blocks the new ask.
		created, err = e.requests.Supersede(ctx, tc, uiReq)
	}
	if err != nil {
		return fmt.Errorf("create augmentation request: %w", err)
	}

	_, err = e.tokens.Pause(ctx, tc, pauseresume.PauseSpec{
		TaskID:         contextID,
		Phase:          phase.Name,
		PauseType:      resp.PauseType,
		Reason:         resp.Reasoning,
		RequiredAction: fmt.Sprintf("resolve augmentation request %s", created.RequestID),
	})
	if err != nil {
		return fmt.Errorf("pause task: %w", err)
	}

	log.Printf("[engine] task %s paused for input (phase=%s request=%s)",
		contextID, phase.Name, created.RequestID)
	return nil
}

// backoff waits between retry attempts: base doubled per attempt, plus up
// to 25% jitter so retrying tasks spread out.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	delay := e.retryBackoff << (attempt - 1)
	delay += time.Duration(rand.Int64N(int64(delay)/4 + 1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildAgentRequest assembles the slice of task state a phase's agent sees.
func buildAgentRequest(contextID string, proj *models.TaskContext, phase *models.Phase, attempt int) *models.AgentRequest {
	var prior []map[string]any
	for _, ws := range proj.AgentContexts {
		prior = append(prior, ws.Findings...)
	}

	return &models.AgentRequest{
		ContextID:          contextID,
		Phase:              phase.Name,
		Goal:               phase.Goal,
		CompletionCriteria: phase.CompletionCriteria,
		SharedContext:      proj.SharedContext,
		PriorFindings:      prior,
		Attempt:            attempt,
	}
}

// BuildPlan constructs an execution plan from a task template. Phases copy
// the template's declaration order; eligibility is governed by DependsOn.
func BuildPlan(contextID string, tmpl *config.TaskTemplate) *models.ExecutionPlan {
	phases := make([]*models.Phase, 0, len(tmpl.Phases))
	for i := range tmpl.Phases {
		ph := tmpl.Phases[i]
		ph.Status = models.PhasePending
		ph.Attempts = 0
		phases = append(phases, &ph)
	}
	return &models.ExecutionPlan{
		ContextID: contextID,
		TaskType:  tmpl.TaskType,
		Phases:    phases,
		CreatedAt: time.Now().UTC(),
	}
}
