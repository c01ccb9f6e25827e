package uiaugment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// EventAppender is the slice of the context store the manager needs: every
// request resolution is recorded as a context event.
type EventAppender interface {
	Append(ctx context.Context, tc *models.TenantContext, contextID string, ev *models.ContextEvent) (int64, error)
}

// Manager owns the UI augmentation request lifecycle. It enforces the
// at-most-one-pending-request-per-agent-role invariant, validates incoming
// responses against the request's field rules, and records every resolution
// in the context's event log.
type Manager struct {
	requests       RequestStore
	events         EventAppender
	defaultTimeout time.Duration
}

// NewManager creates a Manager. defaultTimeout applies to requests whose
// ResponseConfig does not set one; zero disables default expiry.
func NewManager(requests RequestStore, events EventAppender, defaultTimeout time.Duration) *Manager {
	return &Manager{
		requests:       requests,
		events:         events,
		defaultTimeout: defaultTimeout,
	}
}

// CreateRequest registers a new pending request and records it in the
// event log. Creating a second request for a role that already has one
// pending fails with models.ErrConflict; the agent must resolve or
// explicitly supersede the first.
func (m *Manager) CreateRequest(ctx context.Context, tc *models.TenantContext, req *models.UIAugmentationRequest) (*models.UIAugmentationRequest, error) {
	if req == nil || req.ContextID == "" || req.AgentRole == "" {
		return nil, fmt.Errorf("%w: request needs context id and agent role", models.ErrValidation)
	}

	prepared := *req
	if prepared.RequestID == "" {
		prepared.RequestID = uuid.New().String()
	}
	prepared.Status = models.UIRequestPending
	prepared.CreatedAt = time.Now().UTC()

	count, err := m.requests.CountByContext(prepared.ContextID)
	if err != nil {
		return nil, fmt.Errorf("request sequence: %w", err)
	}
	prepared.SequenceNumber = count + 1

	timeout := prepared.ResponseConfig.Timeout
	if timeout == 0 {
		timeout = m.defaultTimeout
	}
	if timeout > 0 {
		expires := prepared.CreatedAt.Add(timeout)
		prepared.ExpiresAt = &expires
	}

	if err := m.requests.Put(&prepared); err != nil {
		return nil, err
	}

	_, err = m.events.Append(ctx, tc, prepared.ContextID, &models.ContextEvent{
		Operation: models.OpUIRequestCreated,
		ActorType: models.ActorAgent,
		ActorID:   string(prepared.AgentRole),
		Data: map[string]any{
			"request_id": prepared.RequestID,
			"title":      prepared.Presentation.Title,
		},
		Reasoning: "agent requested human input",
	})
	if err != nil {
		// The request exists but the log write failed; mark it skipped so
		// the role is not wedged behind an unrecorded request.
		_ = m.requests.SetStatus(prepared.RequestID, models.UIRequestSkipped)
		return nil, fmt.Errorf("record request event: %w", err)
	}

	log.Printf("[uiaugment] created request %s (context=%s role=%s)",
		prepared.RequestID, prepared.ContextID, prepared.AgentRole)
	return &prepared, nil
}

// Supersede resolves any pending request for the new request's role as
// skipped, then creates the new request. This is the explicit path around
// the one-pending-per-role conflict.
func (m *Manager) Supersede(ctx context.Context, tc *models.TenantContext, req *models.UIAugmentationRequest) (*models.UIAugmentationRequest, error) {
	pending, err := m.requests.ListPending(req.ContextID)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.AgentRole != req.AgentRole {
			continue
		}
		if err := m.resolveSkip(ctx, tc, p, "superseded by a newer request"); err != nil {
			return nil, fmt.Errorf("supersede request %s: %w", p.RequestID, err)
		}
	}
	return m.CreateRequest(ctx, tc, req)
}

// Respond resolves a pending request with a user response. The submission
// is validated against the request's field rules before anything is
// written; failures surface with field-level detail.
func (m *Manager) Respond(ctx context.Context, tc *models.TenantContext, resp *models.UIAugmentationResponse) (*models.UIAugmentationRequest, error) {
	if resp == nil || resp.RequestID == "" {
		return nil, fmt.Errorf("%w: response needs a request id", models.ErrValidation)
	}

	req, err := m.requests.Get(resp.RequestID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case models.UIRequestPending:
		// Fall through to resolution.
	case models.UIRequestExpired:
		return nil, fmt.Errorf("%w: request %s expired", models.ErrExpired, req.RequestID)
	default:
		return nil, fmt.Errorf("%w: request %s already %s", models.ErrConflict, req.RequestID, req.Status)
	}

	if req.ExpiresAt != nil && time.Now().After(*req.ExpiresAt) {
		return nil, fmt.Errorf("%w: request %s expired", models.ErrExpired, req.RequestID)
	}

	switch resp.ActionTaken {
	case models.ActionSkip:
		if !req.ResponseConfig.AllowSkip {
			return nil, fmt.Errorf("%w: request %s does not allow skipping", models.ErrValidation, req.RequestID)
		}
		if err := m.resolveSkip(ctx, tc, req, "skipped by user"); err != nil {
			return nil, err
		}
		req.Status = models.UIRequestSkipped
		return req, nil

	case models.ActionPillTaken:
		pill := findPill(req, resp.PillID)
		if pill == nil {
			return nil, fmt.Errorf("%w: unknown action pill %q", models.ErrValidation, resp.PillID)
		}
		data := map[string]any{"action": pill.ID}
		if pill.Value != "" {
			data["value"] = pill.Value
		}
		if err := m.resolveResponded(ctx, tc, req, resp, data); err != nil {
			return nil, err
		}
		req.Status = models.UIRequestResponded
		return req, nil

	case models.ActionSubmit:
		if err := validateFormData(req, resp.FormData); err != nil {
			return nil, err
		}
		if err := m.resolveResponded(ctx, tc, req, resp, resp.FormData); err != nil {
			return nil, err
		}
		req.Status = models.UIRequestResponded
		return req, nil

	default:
		return nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, resp.ActionTaken)
	}
}

// resolveResponded records the accepted response and marks the request.
// The event's fold writes the validated data into the task's shared context
// at the request's configured target path.
func (m *Manager) resolveResponded(ctx context.Context, tc *models.TenantContext, req *models.UIAugmentationRequest, resp *models.UIAugmentationResponse, data map[string]any) error {
	actorID := resp.RespondedBy
	if actorID == "" && tc != nil {
		actorID = tc.SessionUserID
	}

	_, err := m.events.Append(ctx, tc, req.ContextID, &models.ContextEvent{
		Operation: models.OpUIResponseReceived,
		ActorType: models.ActorUser,
		ActorID:   actorID,
		Data: map[string]any{
			"request_id":  req.RequestID,
			"target_path": req.ResponseConfig.TargetContextPath,
			"form_data":   data,
		},
		Reasoning: "user responded to augmentation request",
	})
	if err != nil {
		return fmt.Errorf("record response event: %w", err)
	}

	return m.requests.SetStatus(req.RequestID, models.UIRequestResponded)
}

// resolveSkip records a skip and marks the request skipped.
func (m *Manager) resolveSkip(ctx context.Context, tc *models.TenantContext, req *models.UIAugmentationRequest, reason string) error {
	_, err := m.events.Append(ctx, tc, req.ContextID, &models.ContextEvent{
		Operation: models.OpUIRequestSkipped,
		ActorType: models.ActorUser,
		ActorID:   tc.SessionUserID,
		Data: map[string]any{
			"request_id": req.RequestID,
		},
		Reasoning: reason,
	})
	if err != nil {
		return fmt.Errorf("record skip event: %w", err)
	}
	return m.requests.SetStatus(req.RequestID, models.UIRequestSkipped)
}

// Get returns a request by ID.
func (m *Manager) Get(requestID string) (*models.UIAugmentationRequest, error) {
	return m.requests.Get(requestID)
}

// ListPending returns a context's pending requests in creation order.
func (m *Manager) ListPending(contextID string) ([]*models.UIAugmentationRequest, error) {
	return m.requests.ListPending(contextID)
}

// ExpiredRequests returns pending requests whose expiry has passed. The
// engine resolves each via Expire.
func (m *Manager) ExpiredRequests(now time.Time) ([]*models.UIAugmentationRequest, error) {
	return m.requests.ListExpired(now)
}

// Expire resolves an expired request. The resolution path is identical to
// a skip unless the request declares required fields and forbids skipping,
// in which case fatal is true and the owning task must fail with a timeout
// reason. The request is marked expired either way.
func (m *Manager) Expire(ctx context.Context, tc *models.TenantContext, req *models.UIAugmentationRequest) (fatal bool, err error) {
	nonSkippable := hasRequiredFields(req) && !req.ResponseConfig.AllowSkip

	_, err = m.events.Append(ctx, tc, req.ContextID, &models.ContextEvent{
		Operation: models.OpUIRequestSkipped,
		ActorType: models.ActorSystem,
		ActorID:   "engine",
		Data: map[string]any{
			"request_id": req.RequestID,
			"expired":    true,
		},
		Reasoning: "augmentation request expired before a response",
	})
	switch {
	case err == nil:
	case errors.Is(err, models.ErrConflict):
		// The owning task already reached a terminal status and its log
		// rejects resolutions. There is nothing left to time out; the
		// request just closes so the sweeper stops re-listing it.
		nonSkippable = false
	default:
		return false, fmt.Errorf("record expiry event: %w", err)
	}

	if err := m.requests.SetStatus(req.RequestID, models.UIRequestExpired); err != nil {
		return false, err
	}

	log.Printf("[uiaugment] request %s expired (context=%s role=%s fatal=%v)",
		req.RequestID, req.ContextID, req.AgentRole, nonSkippable)
	return nonSkippable, nil
}

// CancelPending closes a context's pending requests as skipped without
// touching the event log. Used when the owning task reached a terminal
// status and its log no longer accepts request resolutions.
func (m *Manager) CancelPending(contextID string) error {
	pending, err := m.requests.ListPending(contextID)
	if err != nil {
		return err
	}
	for _, req := range pending {
		if err := m.requests.SetStatus(req.RequestID, models.UIRequestSkipped); err != nil {
			return err
		}
		log.Printf("[uiaugment] closed request %s after task %s ended", req.RequestID, contextID)
	}
	return nil
}

// findPill returns the pill with the given ID, or nil.
func findPill(req *models.UIAugmentationRequest, pillID string) *models.ActionPill {
	for i := range req.ActionPills {
		if req.ActionPills[i].ID == pillID {
			return &req.ActionPills[i]
		}
	}
	return nil
}
