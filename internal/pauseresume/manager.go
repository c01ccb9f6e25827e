package pauseresume

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// defaultTokenTTL applies when a pause does not specify its own expiry.
const defaultTokenTTL = 72 * time.Hour

// EventAppender is the slice of the context store the manager needs:
// pauses and resumes are recorded in the task's event log.
type EventAppender interface {
	Append(ctx context.Context, tc *models.TenantContext, contextID string, ev *models.ContextEvent) (int64, error)
}

// PauseSpec describes one suspension: which execution paused, why, and what
// a resume must supply.
type PauseSpec struct {
	// TaskID is the context being suspended.
	TaskID string
	// ExecutionID identifies the paused dispatch. Generated when empty.
	ExecutionID string
	// Phase is the plan phase to retry on resume.
	Phase string
	// PauseType classifies the suspension.
	PauseType models.PauseType
	// Reason is recorded in the event log.
	Reason string
	// RequiredAction describes what must happen before resuming.
	RequiredAction string
	// RequiredData names keys resume data must supply.
	RequiredData []string
	// TTL bounds token validity. Zero applies the manager default.
	TTL time.Duration
}

// Manager issues single-use resume tokens on pause and redeems them on
// resume. Suspension is per task: pausing one execution never stops
// unrelated tasks.
type Manager struct {
	tokens TokenStore
	events EventAppender
	ttl    time.Duration
}

// NewManager creates a Manager. ttl is the default token lifetime; zero
// selects the built-in default.
func NewManager(tokens TokenStore, events EventAppender, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Manager{tokens: tokens, events: events, ttl: ttl}
}

// Pause snapshots the minimum information needed to continue and issues a
// single-use token. The suspension is recorded in the task's event log.
func (m *Manager) Pause(ctx context.Context, tc *models.TenantContext, spec PauseSpec) (*models.ResumeToken, error) {
	if spec.TaskID == "" || spec.Phase == "" {
		return nil, fmt.Errorf("%w: pause needs task id and phase", models.ErrValidation)
	}
	if !spec.PauseType.Valid() {
		return nil, fmt.Errorf("%w: unknown pause type %q", models.ErrValidation, spec.PauseType)
	}

	executionID := spec.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	ttl := spec.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}

	now := time.Now().UTC()
	token := &models.ResumeToken{
		Token:          newTokenValue(),
		TaskID:         spec.TaskID,
		ExecutionID:    executionID,
		Phase:          spec.Phase,
		PauseType:      spec.PauseType,
		RequiredAction: spec.RequiredAction,
		RequiredData:   spec.RequiredData,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
	}

	if err := m.tokens.Put(token); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	_, err := m.events.Append(ctx, tc, spec.TaskID, &models.ContextEvent{
		Operation: models.OpTaskPaused,
		ActorType: models.ActorSystem,
		ActorID:   "engine",
		Data: map[string]any{
			"execution_id": executionID,
			"phase":        spec.Phase,
			"pause_type":   string(spec.PauseType),
		},
		Reasoning: spec.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("record pause event: %w", err)
	}

	log.Printf("[pauseresume] paused task %s (phase=%s type=%s execution=%s)",
		spec.TaskID, spec.Phase, spec.PauseType, executionID)
	return token, nil
}

// Resume validates and atomically consumes the token, then records the
// reactivation with the supplied resume data merged into the task's shared
// context. The paused phase is retried by the caller, not skipped.
//
// Errors are user-safe: they distinguish missing, expired, and already-used
// tokens without leaking internal task state.
func (m *Manager) Resume(ctx context.Context, tc *models.TenantContext, tokenValue string, resumeData map[string]any) (*models.ResumeToken, error) {
	token, err := m.tokens.Get(tokenValue)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if token.Expired(now) {
		return nil, fmt.Errorf("%w: resume token expired", models.ErrExpired)
	}

	for _, key := range token.RequiredData {
		if _, ok := resumeData[key]; !ok {
			return nil, fmt.Errorf("%w: resume data missing required key %q", models.ErrValidation, key)
		}
	}

	// Mark consumed before applying the resume so a double-resume race
	// succeeds at most once.
	if err := m.tokens.Consume(tokenValue, now); err != nil {
		return nil, err
	}

	_, err = m.events.Append(ctx, tc, token.TaskID, &models.ContextEvent{
		Operation: models.OpTaskResumed,
		ActorType: models.ActorUser,
		ActorID:   tc.SessionUserID,
		Data: map[string]any{
			"execution_id": token.ExecutionID,
			"phase":        token.Phase,
			"resume_data":  resumeData,
		},
		Reasoning: "resume token redeemed",
	})
	if err != nil {
		return nil, fmt.Errorf("record resume event: %w", err)
	}

	consumed := now
	token.ConsumedAt = &consumed
	log.Printf("[pauseresume] resumed task %s (phase=%s execution=%s)",
		token.TaskID, token.Phase, token.ExecutionID)
	return token, nil
}

// Inspect returns a token without consuming it.
func (m *Manager) Inspect(tokenValue string) (*models.ResumeToken, error) {
	return m.tokens.Get(tokenValue)
}

// newTokenValue returns an unguessable token value.
func newTokenValue() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// a UUID rather than panicking the engine.
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
