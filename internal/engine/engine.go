// Package engine coordinates task execution: it builds plans from task
// templates, dispatches phases to agents through the router, and drives
// the pause, resume, and UI augmentation lifecycles. Every state change
// flows through the context store's event log; the engine holds no task
// state of its own.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gianmatteo-arcana/engine-lever/internal/agent"
	"github.com/gianmatteo-arcana/engine-lever/internal/config"
	"github.com/gianmatteo-arcana/engine-lever/internal/contextstore"
	"github.com/gianmatteo-arcana/engine-lever/internal/pauseresume"
	"github.com/gianmatteo-arcana/engine-lever/internal/uiaugment"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

const (
	defaultRetryBackoff  = 2 * time.Second
	defaultSweepInterval = time.Minute
)

// Options wires an Engine's collaborators.
type Options struct {
	// Store is the event log all state changes flow through.
	Store contextstore.Store
	// Router resolves agent roles and dispatches phase work.
	Router *agent.Router
	// Requests owns the UI augmentation request lifecycle.
	Requests *uiaugment.Manager
	// Tokens owns resume token issue and redemption.
	Tokens *pauseresume.Manager
	// Templates supplies task-type plan templates.
	Templates *config.TemplateRegistry
	// RetryBackoff is the base delay between phase retry attempts.
	RetryBackoff time.Duration
	// SweepInterval is how often expired UI requests are resolved.
	SweepInterval time.Duration
}

// Engine is the orchestration core. One Engine serves many concurrent
// tasks; per-task ordering comes from the store's sequence assignment and
// the single-advancer guard, not from a global lock.
type Engine struct {
	store     contextstore.Store
	router    *agent.Router
	requests  *uiaugment.Manager
	tokens    *pauseresume.Manager
	templates *config.TemplateRegistry

	retryBackoff  time.Duration
	sweepInterval time.Duration

	// advancing guards against two advancement loops for the same context;
	// pending marks triggers that arrived while a loop held the guard.
	advancing sync.Map // contextID -> struct{}
	pending   sync.Map // contextID -> struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates an Engine. All five collaborators are required; the timing
// knobs fall back to defaults when unset.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: engine needs a store", models.ErrValidation)
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("%w: engine needs a router", models.ErrValidation)
	}
	if opts.Requests == nil {
		return nil, fmt.Errorf("%w: engine needs a request manager", models.ErrValidation)
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("%w: engine needs a token manager", models.ErrValidation)
	}
	if opts.Templates == nil {
		return nil, fmt.Errorf("%w: engine needs a template registry", models.ErrValidation)
	}

	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	return &Engine{
		store:         opts.Store,
		router:        opts.Router,
		requests:      opts.Requests,
		tokens:        opts.Tokens,
		templates:     opts.Templates,
		retryBackoff:  retryBackoff,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}, nil
}

// Start launches the background expiry sweeper. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	e.wg.Add(1)
	go e.sweepLoop()
	log.Printf("[engine] started (sweep interval %s)", e.sweepInterval)
}

// Stop halts background work and waits for in-flight advancement to
// finish or ctx to expire.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.stopped {
		close(e.done)
		e.stopped = true
	}
	e.started = false
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		e.router.Stop()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}
}

// CreateTask registers a new task of the given type and starts advancing
// it in the background. The returned projection reflects the creation
// event only; callers observe progress via GetState or StreamUpdates.
func (e *Engine) CreateTask(ctx context.Context, tc *models.TenantContext, taskType string, initialData map[string]any) (*models.TaskContext, error) {
	tmpl, err := e.templates.Get(taskType)
	if err != nil {
		return nil, err
	}

	contextID := uuid.New().String()
	if err := e.store.CreateContext(ctx, tc, contextID, taskType); err != nil {
		return nil, err
	}

	data := map[string]any{
		"task_type":   taskType,
		"tenant_id":   tc.BusinessID,
		"first_phase": tmpl.Phases[0].Name,
	}
	if len(initialData) > 0 {
		data["initial_data"] = initialData
	}

	_, err = e.store.Append(ctx, tc, contextID, &models.ContextEvent{
		Operation: models.OpTaskCreated,
		ActorType: models.ActorUser,
		ActorID:   tc.SessionUserID,
		Data:      data,
		Reasoning: "task created",
	})
	if err != nil {
		return nil, fmt.Errorf("record creation: %w", err)
	}

	log.Printf("[engine] created task %s (type=%s tenant=%s)", contextID, taskType, tc.BusinessID)
	e.kick(tc, contextID)

	return e.store.Project(ctx, tc, contextID)
}

// GetState returns the current projection of a task.
func (e *Engine) GetState(ctx context.Context, tc *models.TenantContext, contextID string) (*models.TaskContext, error) {
	return e.store.Project(ctx, tc, contextID)
}

// Events returns a task's events after sinceSeq in order.
func (e *Engine) Events(ctx context.Context, tc *models.TenantContext, contextID string, sinceSeq int64) ([]*models.ContextEvent, error) {
	return e.store.ReadEvents(ctx, tc, contextID, sinceSeq)
}

// PendingRequests returns a task's pending UI augmentation requests.
func (e *Engine) PendingRequests(ctx context.Context, tc *models.TenantContext, contextID string) ([]*models.UIAugmentationRequest, error) {
	// Project performs the tenant read check before any request is exposed.
	if _, err := e.store.Project(ctx, tc, contextID); err != nil {
		return nil, err
	}
	return e.requests.ListPending(contextID)
}

// SubmitUIResponse resolves a pending augmentation request and reactivates
// the owning task. Validation failures surface with field-level detail and
// change nothing.
func (e *Engine) SubmitUIResponse(ctx context.Context, tc *models.TenantContext, resp *models.UIAugmentationResponse) (*models.UIAugmentationRequest, error) {
	req, err := e.requests.Respond(ctx, tc, resp)
	if err != nil {
		return nil, err
	}

	_, err = e.store.Append(ctx, tc, req.ContextID, &models.ContextEvent{
		Operation: models.OpTaskResumed,
		ActorType: models.ActorSystem,
		ActorID:   "engine",
		Data: map[string]any{
			"request_id": req.RequestID,
		},
		Reasoning: "augmentation request resolved",
	})
	if err != nil {
		return nil, fmt.Errorf("reactivate task: %w", err)
	}

	e.kick(tc, req.ContextID)
	return req, nil
}

// Resume redeems a resume token and restarts advancement at the paused
// phase. The token is single-use: a second redemption fails with a
// conflict regardless of outcome.
func (e *Engine) Resume(ctx context.Context, tc *models.TenantContext, tokenValue string, resumeData map[string]any) (*models.ResumeToken, error) {
	token, err := e.tokens.Resume(ctx, tc, tokenValue, resumeData)
	if err != nil {
		return nil, err
	}
	e.kick(tc, token.TaskID)
	return token, nil
}

// Cancel terminates a task. Canceling an already-terminal task is a no-op
// success; the first cancellation wins and later ones observe it.
func (e *Engine) Cancel(ctx context.Context, tc *models.TenantContext, contextID, reason string) (*models.TaskContext, error) {
	proj, err := e.store.Project(ctx, tc, contextID)
	if err != nil {
		return nil, err
	}
	if proj.Status.Terminal() {
		return proj, nil
	}

	data := map[string]any{}
	if reason != "" {
		data["reason"] = reason
	}
	_, err = e.store.Append(ctx, tc, contextID, &models.ContextEvent{
		Operation: models.OpTaskCanceled,
		ActorType: models.ActorUser,
		ActorID:   tc.SessionUserID,
		Data:      data,
		Reasoning: "task canceled",
	})
	if err != nil {
		// A concurrent terminal transition makes the cancel moot.
		if cur, perr := e.store.Project(ctx, tc, contextID); perr == nil && cur.Status.Terminal() {
			return cur, nil
		}
		return nil, err
	}

	// The task's pending requests can no longer be answered; close them so
	// the expiry sweeper does not keep finding them.
	if err := e.requests.CancelPending(contextID); err != nil {
		log.Printf("[engine] closing pending requests of %s: %v", contextID, err)
	}

	log.Printf("[engine] canceled task %s", contextID)
	return e.store.Project(ctx, tc, contextID)
}

// Annotate appends an audit annotation to a task. Annotations are the one
// event class terminal contexts still accept, so reviews of finished work
// land in the same log as the work itself.
func (e *Engine) Annotate(ctx context.Context, tc *models.TenantContext, contextID, note string, data map[string]any) (int64, error) {
	if note == "" {
		return 0, fmt.Errorf("%w: annotation note is required", models.ErrValidation)
	}
	return e.store.Append(ctx, tc, contextID, &models.ContextEvent{
		Operation: models.OpAuditAnnotation,
		ActorType: models.ActorUser,
		ActorID:   tc.SessionUserID,
		Data:      data,
		Reasoning: note,
	})
}

// kick advances a task in the background.
func (e *Engine) kick(tc *models.TenantContext, contextID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Advance(context.Background(), tc, contextID); err != nil {
			log.Printf("[engine] advance %s: %v", contextID, err)
		}
	}()
}

// sweepLoop periodically resolves expired UI requests.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.SweepExpired(context.Background())
		}
	}
}

// SweepExpired resolves every pending request whose expiry has passed.
// Requests with required, non-skippable fields fail their task with a
// timeout reason; the rest resolve as skipped and the task continues.
func (e *Engine) SweepExpired(ctx context.Context) {
	expired, err := e.requests.ExpiredRequests(time.Now())
	if err != nil {
		log.Printf("[engine] listing expired requests: %v", err)
		return
	}

	for _, req := range expired {
		owner, err := e.store.Owner(ctx, req.ContextID)
		if err != nil {
			log.Printf("[engine] expiring request %s: %v", req.RequestID, err)
			continue
		}

		fatal, err := e.requests.Expire(ctx, owner, req)
		if err != nil {
			log.Printf("[engine] expiring request %s: %v", req.RequestID, err)
			continue
		}

		if fatal {
			e.failTask(ctx, owner, req.ContextID,
				fmt.Sprintf("required input request %s expired", req.RequestID))
			continue
		}

		_, err = e.store.Append(ctx, owner, req.ContextID, &models.ContextEvent{
			Operation: models.OpTaskResumed,
			ActorType: models.ActorSystem,
			ActorID:   "engine",
			Data:      map[string]any{"request_id": req.RequestID},
			Reasoning: "augmentation request expired; continuing without input",
		})
		if err != nil {
			log.Printf("[engine] reactivating after expiry of %s: %v", req.RequestID, err)
			continue
		}
		e.kick(owner, req.ContextID)
	}
}

// failTask records a terminal failure.
func (e *Engine) failTask(ctx context.Context, tc *models.TenantContext, contextID, reason string) {
	_, err := e.store.Append(ctx, tc, contextID, &models.ContextEvent{
		Operation: models.OpTaskFailed,
		ActorType: models.ActorSystem,
		ActorID:   "engine",
		Data:      map[string]any{"reason": reason},
		Reasoning: reason,
	})
	if err != nil {
		log.Printf("[engine] recording failure of %s: %v", contextID, err)
		return
	}
	log.Printf("[engine] task %s failed: %s", contextID, reason)
}
