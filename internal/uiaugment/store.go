package uiaugment

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/internal/contextstore"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// RequestStore persists UI augmentation requests.
type RequestStore interface {
	// Put writes a new request. Fails with models.ErrConflict if a pending
	// request already exists for the same (context, role) pair.
	Put(req *models.UIAugmentationRequest) error
	// Get returns a request by ID, or models.ErrNotFound.
	Get(requestID string) (*models.UIAugmentationRequest, error)
	// SetStatus transitions a request's lifecycle state.
	SetStatus(requestID string, status models.UIRequestStatus) error
	// ListPending returns a context's pending requests ordered by their
	// request sequence number.
	ListPending(contextID string) ([]*models.UIAugmentationRequest, error)
	// ListExpired returns pending requests whose expiry has passed.
	ListExpired(now time.Time) ([]*models.UIAugmentationRequest, error)
	// CountByContext returns how many requests exist for a context.
	CountByContext(contextID string) (int64, error)
}

// MemoryRequestStore is the in-memory RequestStore used by tests and
// embedded runs.
type MemoryRequestStore struct {
	requests map[string]*models.UIAugmentationRequest
	mu       sync.RWMutex
}

// NewMemoryRequestStore creates an empty MemoryRequestStore.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{
		requests: make(map[string]*models.UIAugmentationRequest),
	}
}

// Put writes a new request, enforcing the one-pending-per-role invariant.
func (s *MemoryRequestStore) Put(req *models.UIAugmentationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.ContextID == req.ContextID &&
			existing.AgentRole == req.AgentRole &&
			existing.Status == models.UIRequestPending {
			return fmt.Errorf("%w: role %s already has pending request %s on context %s",
				models.ErrConflict, req.AgentRole, existing.RequestID, req.ContextID)
		}
	}

	copied := *req
	s.requests[req.RequestID] = &copied
	return nil
}

// Get returns a request by ID.
func (s *MemoryRequestStore) Get(requestID string) (*models.UIAugmentationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", models.ErrNotFound, requestID)
	}
	copied := *req
	return &copied, nil
}

// SetStatus transitions a request's lifecycle state.
func (s *MemoryRequestStore) SetStatus(requestID string, status models.UIRequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: request %s", models.ErrNotFound, requestID)
	}
	req.Status = status
	return nil
}

// ListPending returns a context's pending requests in sequence order.
func (s *MemoryRequestStore) ListPending(contextID string) ([]*models.UIAugmentationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.UIAugmentationRequest
	for _, req := range s.requests {
		if req.ContextID == contextID && req.Status == models.UIRequestPending {
			copied := *req
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out, nil
}

// ListExpired returns pending requests whose expiry has passed.
func (s *MemoryRequestStore) ListExpired(now time.Time) ([]*models.UIAugmentationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.UIAugmentationRequest
	for _, req := range s.requests {
		if req.Status == models.UIRequestPending && req.ExpiresAt != nil && now.After(*req.ExpiresAt) {
			copied := *req
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestID < out[j].RequestID
	})
	return out, nil
}

// CountByContext returns how many requests exist for a context.
func (s *MemoryRequestStore) CountByContext(contextID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, req := range s.requests {
		if req.ContextID == contextID {
			n++
		}
	}
	return n, nil
}

// SQLiteRequestStore persists requests in the engine database's ui_requests
// table. The full request body is stored as JSON; the indexed columns exist
// for the pending-lookup paths.
type SQLiteRequestStore struct {
	db *contextstore.DB
	// mu serializes Put so the pending-per-role check and insert are atomic.
	mu sync.Mutex
}

// NewSQLiteRequestStore creates a store over an opened, migrated database.
func NewSQLiteRequestStore(db *contextstore.DB) *SQLiteRequestStore {
	return &SQLiteRequestStore{db: db}
}

// Put writes a new request, enforcing the one-pending-per-role invariant.
func (s *SQLiteRequestStore) Put(req *models.UIAugmentationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	row := s.db.QueryRow(`
		SELECT request_id FROM ui_requests
		WHERE context_id = ? AND agent_role = ? AND status = ?
	`, req.ContextID, string(req.AgentRole), string(models.UIRequestPending))
	if err := row.Scan(&existing); err == nil {
		return fmt.Errorf("%w: role %s already has pending request %s on context %s",
			models.ErrConflict, req.AgentRole, existing, req.ContextID)
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("check pending request: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var expiresAt any
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(`
		INSERT INTO ui_requests (request_id, context_id, agent_role, sequence_number, status, body, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, req.RequestID, req.ContextID, string(req.AgentRole), req.SequenceNumber,
		string(req.Status), string(body), req.CreatedAt.UTC().Format(time.RFC3339Nano), expiresAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Get returns a request by ID.
func (s *SQLiteRequestStore) Get(requestID string) (*models.UIAugmentationRequest, error) {
	var body, status string
	row := s.db.QueryRow(`SELECT body, status FROM ui_requests WHERE request_id = ?`, requestID)
	if err := row.Scan(&body, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: request %s", models.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("get request: %w", err)
	}

	var req models.UIAugmentationRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	req.Status = models.UIRequestStatus(status)
	return &req, nil
}

// SetStatus transitions a request's lifecycle state.
func (s *SQLiteRequestStore) SetStatus(requestID string, status models.UIRequestStatus) error {
	result, err := s.db.Exec(`UPDATE ui_requests SET status = ? WHERE request_id = ?`,
		string(status), requestID)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: request %s", models.ErrNotFound, requestID)
	}
	return nil
}

// ListPending returns a context's pending requests in sequence order.
func (s *SQLiteRequestStore) ListPending(contextID string) ([]*models.UIAugmentationRequest, error) {
	rows, err := s.db.Query(`
		SELECT body, status FROM ui_requests
		WHERE context_id = ? AND status = ?
		ORDER BY sequence_number ASC
	`, contextID, string(models.UIRequestPending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

// ListExpired returns pending requests whose expiry has passed.
func (s *SQLiteRequestStore) ListExpired(now time.Time) ([]*models.UIAugmentationRequest, error) {
	rows, err := s.db.Query(`
		SELECT body, status FROM ui_requests
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY request_id ASC
	`, string(models.UIRequestPending), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

// CountByContext returns how many requests exist for a context.
func (s *SQLiteRequestStore) CountByContext(contextID string) (int64, error) {
	var n int64
	row := s.db.QueryRow(`SELECT COUNT(*) FROM ui_requests WHERE context_id = ?`, contextID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}

// scanRequests decodes request rows.
func scanRequests(rows *sql.Rows) ([]*models.UIAugmentationRequest, error) {
	var out []*models.UIAugmentationRequest
	for rows.Next() {
		var body, status string
		if err := rows.Scan(&body, &status); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		var req models.UIAugmentationRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		req.Status = models.UIRequestStatus(status)
		out = append(out, &req)
	}
	return out, rows.Err()
}

// Compile-time verification that both stores implement RequestStore.
var (
	_ RequestStore = (*MemoryRequestStore)(nil)
	_ RequestStore = (*SQLiteRequestStore)(nil)
)
