package contextstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/internal/tenant"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// memContext holds one context's log and metadata. Each context carries its
// own mutex so appends to different contexts proceed fully in parallel.
type memContext struct {
	taskType  string
	tenantID  string
	createdBy string
	events    []*models.ContextEvent
	// projection is the cached fold of events; rebuilt incrementally.
	projection *models.TaskContext
	mu         sync.Mutex
}

// MemoryStore is an in-memory EventStore. It is the reference
// implementation for the append/projection semantics and the backend used
// by tests and embedded runs.
type MemoryStore struct {
	contexts map[string]*memContext
	notifier *Notifier
	// mu protects the contexts map, not the per-context logs.
	mu sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]*memContext),
		notifier: NewNotifier(),
	}
}

// CreateContext registers a new context owned by the tenant.
func (s *MemoryStore) CreateContext(_ context.Context, tc *models.TenantContext, contextID, taskType string) error {
	if err := tenant.Authorize(tc, tenant.Write, tc.BusinessID, tc.SessionUserID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contexts[contextID]; exists {
		return fmt.Errorf("%w: context %s already exists", models.ErrConflict, contextID)
	}

	mc := &memContext{
		taskType:   taskType,
		tenantID:   tc.BusinessID,
		createdBy:  tc.SessionUserID,
		projection: models.NewTaskContext(contextID, taskType, tc.BusinessID),
	}
	s.contexts[contextID] = mc
	return nil
}

// get returns the context record, checking tenant access.
func (s *MemoryStore) get(tc *models.TenantContext, contextID string, kind tenant.AccessKind) (*memContext, error) {
	s.mu.RLock()
	mc, ok := s.contexts[contextID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: context %s", models.ErrNotFound, contextID)
	}
	if err := tenant.Authorize(tc, kind, mc.tenantID, mc.createdBy); err != nil {
		return nil, err
	}
	return mc, nil
}

// Append assigns the next sequence number and writes the event. The
// per-context mutex is the serialization point: two agents racing to record
// events for the same task cannot collide or skip a number.
func (s *MemoryStore) Append(_ context.Context, tc *models.TenantContext, contextID string, ev *models.ContextEvent) (int64, error) {
	if err := validateEvent(ev); err != nil {
		return 0, err
	}

	mc, err := s.get(tc, contextID, tenant.Write)
	if err != nil {
		return 0, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.projection.Status.Terminal() && ev.Operation != models.OpAuditAnnotation {
		return 0, fmt.Errorf("%w: context %s is terminal, only audit annotations accepted",
			models.ErrConflict, contextID)
	}

	stored := *ev
	stored.ContextID = contextID
	stored.SequenceNumber = int64(len(mc.events)) + 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	mc.events = append(mc.events, &stored)
	applyEvent(mc.projection, &stored)
	mc.projection.LastSequence = stored.SequenceNumber
	mc.projection.UpdatedAt = stored.CreatedAt

	s.notifier.Publish(&stored)
	return stored.SequenceNumber, nil
}

// ReadEvents returns events after sinceSeq in sequence order.
func (s *MemoryStore) ReadEvents(_ context.Context, tc *models.TenantContext, contextID string, sinceSeq int64) ([]*models.ContextEvent, error) {
	mc, err := s.get(tc, contextID, tenant.Read)
	if err != nil {
		return nil, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	var out []*models.ContextEvent
	for _, ev := range mc.events {
		if ev.SequenceNumber > sinceSeq {
			copied := *ev
			out = append(out, &copied)
		}
	}
	return out, nil
}

// Project returns a clone of the current projection.
func (s *MemoryStore) Project(_ context.Context, tc *models.TenantContext, contextID string) (*models.TaskContext, error) {
	mc, err := s.get(tc, contextID, tenant.Read)
	if err != nil {
		return nil, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.projection.Clone(), nil
}

// Owner returns the owning tenant and creating user as a tenant context.
func (s *MemoryStore) Owner(_ context.Context, contextID string) (*models.TenantContext, error) {
	s.mu.RLock()
	mc, ok := s.contexts[contextID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: context %s", models.ErrNotFound, contextID)
	}
	return &models.TenantContext{
		BusinessID:    mc.tenantID,
		SessionUserID: mc.createdBy,
		DataScope:     models.ScopeBusiness,
	}, nil
}

// Notifier returns the store's subscription hub.
func (s *MemoryStore) Notifier() *Notifier {
	return s.notifier
}

// Close releases the store. In-memory state is discarded.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = make(map[string]*memContext)
	return nil
}

// validateEvent rejects structurally invalid events before assignment.
func validateEvent(ev *models.ContextEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", models.ErrValidation)
	}
	if ev.Operation == "" {
		return fmt.Errorf("%w: event operation is required", models.ErrValidation)
	}
	if !ev.ActorType.Valid() {
		return fmt.Errorf("%w: unknown actor type %q", models.ErrValidation, ev.ActorType)
	}
	return nil
}

// Compile-time verification that both stores implement Store.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
