package contextstore

import (
	"context"
	"io"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// maxAppendRetries bounds local retries after a sequence conflict before the
// error is surfaced as fatal.
const maxAppendRetries = 5

// EventStore is the append-only log contract. Sequence numbers are assigned
// by the store, atomically per context: concurrent appenders for the same
// context never collide or skip a number. Appends to different contexts
// proceed fully in parallel.
type EventStore interface {
	// CreateContext registers a new context owned by the tenant.
	// Fails with models.ErrConflict if the ID already exists.
	CreateContext(ctx context.Context, tc *models.TenantContext, contextID, taskType string) error
	// Append assigns the next sequence number and writes the event.
	// Fails with models.ErrNotFound for an unknown context and with
	// models.ErrConflict after exhausting sequence-race retries. Terminal
	// contexts accept only audit annotation events.
	Append(ctx context.Context, tc *models.TenantContext, contextID string, ev *models.ContextEvent) (int64, error)
	// ReadEvents returns events with sequence number greater than sinceSeq,
	// in sequence order. sinceSeq of 0 returns the full log.
	ReadEvents(ctx context.Context, tc *models.TenantContext, contextID string, sinceSeq int64) ([]*models.ContextEvent, error)
	// Project folds the full event log into the current task context.
	// Identical event lists always yield identical projections.
	Project(ctx context.Context, tc *models.TenantContext, contextID string) (*models.TaskContext, error)
	// Owner returns a tenant context representing the context's owning
	// tenant and creating user. System-side work (expiry sweeps) uses it
	// to append on the owner's behalf.
	Owner(ctx context.Context, contextID string) (*models.TenantContext, error)
	// Notifier exposes the per-context subscription hub fed by Append.
	Notifier() *Notifier
}

// Store composes the event log contract with lifecycle management.
type Store interface {
	EventStore
	io.Closer
}
