package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/internal/tenant"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// SQLiteStore is the durable EventStore. Events live in an append-only
// table keyed (context_id, sequence_number) with a uniqueness constraint on
// the pair; the contexts table holds a projected snapshot as a read cache,
// never the source of truth.
type SQLiteStore struct {
	db       *DB
	notifier *Notifier
	// locks serializes in-process appends per context. The unique index on
	// (context_id, sequence_number) backstops cross-process writers.
	locks sync.Map // contextID -> *sync.Mutex
}

// NewSQLiteStore creates a store over an opened, migrated database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{
		db:       db,
		notifier: NewNotifier(),
	}
}

// OpenSQLiteStore opens the database at path, migrates it, and returns the
// store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return NewSQLiteStore(db), nil
}

// DB exposes the underlying database for sibling subsystems (UI requests,
// resume tokens) that share the same file.
func (s *SQLiteStore) DB() *DB {
	return s.db
}

// contextLock returns the append mutex for a context.
func (s *SQLiteStore) contextLock(contextID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(contextID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateContext registers a new context owned by the tenant.
func (s *SQLiteStore) CreateContext(_ context.Context, tc *models.TenantContext, contextID, taskType string) error {
	if err := tenant.Authorize(tc, tenant.Write, tc.BusinessID, tc.SessionUserID); err != nil {
		return err
	}

	snapshot, err := json.Marshal(models.NewTaskContext(contextID, taskType, tc.BusinessID))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO contexts (context_id, task_type, tenant_id, created_by, status, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, contextID, taskType, tc.BusinessID, tc.SessionUserID,
		string(models.TaskStatusPending), string(snapshot), formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: context %s already exists", models.ErrConflict, contextID)
		}
		return fmt.Errorf("create context: %w", err)
	}
	return nil
}

// ownership holds the access-check columns of a context row.
type ownership struct {
	taskType  string
	tenantID  string
	createdBy string
	status    models.TaskStatus
}

// loadOwnership reads a context's ownership row.
func (s *SQLiteStore) loadOwnership(contextID string) (*ownership, error) {
	var o ownership
	var status string
	row := s.db.QueryRow(`
		SELECT task_type, tenant_id, created_by, status FROM contexts WHERE context_id = ?
	`, contextID)
	if err := row.Scan(&o.taskType, &o.tenantID, &o.createdBy, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: context %s", models.ErrNotFound, contextID)
		}
		return nil, fmt.Errorf("load context: %w", err)
	}
	o.status = models.TaskStatus(status)
	return &o, nil
}

// Append assigns the next sequence number and writes the event. The
// insert races on the (context_id, sequence_number) primary key; conflicts
// are retried with a freshly read next-sequence value, bounded by
// maxAppendRetries before surfacing models.ErrConflict.
func (s *SQLiteStore) Append(ctx context.Context, tc *models.TenantContext, contextID string, ev *models.ContextEvent) (int64, error) {
	if err := validateEvent(ev); err != nil {
		return 0, err
	}

	own, err := s.loadOwnership(contextID)
	if err != nil {
		return 0, err
	}
	if err := tenant.Authorize(tc, tenant.Write, own.tenantID, own.createdBy); err != nil {
		return 0, err
	}
	if own.status.Terminal() && ev.Operation != models.OpAuditAnnotation {
		return 0, fmt.Errorf("%w: context %s is terminal, only audit annotations accepted",
			models.ErrConflict, contextID)
	}

	mu := s.contextLock(contextID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		seq, err := s.appendOnce(contextID, ev)
		if err == nil {
			stored := *ev
			stored.ContextID = contextID
			stored.SequenceNumber = seq
			s.refreshSnapshot(contextID, &stored)
			s.notifier.Publish(&stored)
			return seq, nil
		}
		if !isUniqueViolation(err) {
			return 0, fmt.Errorf("append event: %w", err)
		}
		lastErr = err
	}

	return 0, fmt.Errorf("%w: sequence race on context %s persisted after %d retries: %v",
		models.ErrConflict, contextID, maxAppendRetries, lastErr)
}

// appendOnce performs one conditional insert with a freshly read sequence.
func (s *SQLiteStore) appendOnce(contextID string, ev *models.ContextEvent) (int64, error) {
	var seq int64
	err := s.db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT COALESCE(MAX(sequence_number), 0) FROM context_events WHERE context_id = ?
		`, contextID)
		var last int64
		if err := row.Scan(&last); err != nil {
			return err
		}
		seq = last + 1

		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}

		createdAt := ev.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		ev.CreatedAt = createdAt

		_, err = tx.Exec(`
			INSERT INTO context_events (context_id, sequence_number, operation, actor_type, actor_id, data, reasoning, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, contextID, seq, ev.Operation, string(ev.ActorType), ev.ActorID,
			string(data), ev.Reasoning, formatTime(createdAt))
		return err
	})
	return seq, err
}

// refreshSnapshot folds the appended event into the cached projection and
// stores it. Failures here never fail the append; the log is the source of
// truth.
func (s *SQLiteStore) refreshSnapshot(contextID string, ev *models.ContextEvent) {
	projection := s.projectionAfter(contextID, ev)
	if projection == nil {
		return
	}
	snapshot, err := json.Marshal(projection)
	if err != nil {
		return
	}
	s.db.Exec(`
		UPDATE contexts SET status = ?, snapshot = ? WHERE context_id = ?
	`, string(projection.Status), string(snapshot), contextID)
}

// projectionAfter extends the stored snapshot by one event when the
// snapshot is exactly one event behind; a missing, unreadable, or stale
// snapshot falls back to a full log replay.
func (s *SQLiteStore) projectionAfter(contextID string, ev *models.ContextEvent) *models.TaskContext {
	var body sql.NullString
	row := s.db.QueryRow(`SELECT snapshot FROM contexts WHERE context_id = ?`, contextID)
	if err := row.Scan(&body); err == nil && body.Valid && body.String != "" {
		var cur models.TaskContext
		if err := json.Unmarshal([]byte(body.String), &cur); err == nil && cur.LastSequence == ev.SequenceNumber-1 {
			applyEvent(&cur, ev)
			cur.LastSequence = ev.SequenceNumber
			cur.UpdatedAt = ev.CreatedAt
			return &cur
		}
	}

	events, err := s.readAll(contextID)
	if err != nil {
		return nil
	}
	return ProjectEvents(contextID, events)
}

// ReadEvents returns events after sinceSeq in sequence order.
func (s *SQLiteStore) ReadEvents(_ context.Context, tc *models.TenantContext, contextID string, sinceSeq int64) ([]*models.ContextEvent, error) {
	own, err := s.loadOwnership(contextID)
	if err != nil {
		return nil, err
	}
	if err := tenant.Authorize(tc, tenant.Read, own.tenantID, own.createdBy); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT context_id, sequence_number, operation, actor_type, actor_id, data, reasoning, created_at
		FROM context_events
		WHERE context_id = ? AND sequence_number > ?
		ORDER BY sequence_number ASC
	`, contextID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// readAll reads the full log without tenant checks, for snapshot refresh.
func (s *SQLiteStore) readAll(contextID string) ([]*models.ContextEvent, error) {
	rows, err := s.db.Query(`
		SELECT context_id, sequence_number, operation, actor_type, actor_id, data, reasoning, created_at
		FROM context_events
		WHERE context_id = ?
		ORDER BY sequence_number ASC
	`, contextID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents decodes event rows.
func scanEvents(rows *sql.Rows) ([]*models.ContextEvent, error) {
	var out []*models.ContextEvent
	for rows.Next() {
		var ev models.ContextEvent
		var actorType, data, createdAt string
		var reasoning sql.NullString
		if err := rows.Scan(&ev.ContextID, &ev.SequenceNumber, &ev.Operation,
			&actorType, &ev.ActorID, &data, &reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ActorType = models.ActorType(actorType)
		ev.Reasoning = reasoning.String
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		ev.CreatedAt = t
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// Project replays the full event log into the current task context.
func (s *SQLiteStore) Project(ctx context.Context, tc *models.TenantContext, contextID string) (*models.TaskContext, error) {
	events, err := s.ReadEvents(ctx, tc, contextID, 0)
	if err != nil {
		return nil, err
	}
	return ProjectEvents(contextID, events), nil
}

// Owner returns the owning tenant and creating user as a tenant context.
func (s *SQLiteStore) Owner(_ context.Context, contextID string) (*models.TenantContext, error) {
	own, err := s.loadOwnership(contextID)
	if err != nil {
		return nil, err
	}
	return &models.TenantContext{
		BusinessID:    own.tenantID,
		SessionUserID: own.createdBy,
		DataScope:     models.ScopeBusiness,
	}, nil
}

// Notifier returns the store's subscription hub.
func (s *SQLiteStore) Notifier() *Notifier {
	return s.notifier
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether the error is an SQLite uniqueness
// constraint failure. The driver surfaces these as extended result code
// 1555/2067 messages.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: context_events.context_id")
}
