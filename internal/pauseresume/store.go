// Package pauseresume issues and redeems the single-use tokens that bind a
// suspended task execution to the conditions required to continue it.
package pauseresume

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/internal/contextstore"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// TokenStore persists resume tokens.
type TokenStore interface {
	// Put writes a freshly issued token.
	Put(token *models.ResumeToken) error
	// Get returns a token by value, or models.ErrNotFound.
	Get(value string) (*models.ResumeToken, error)
	// Consume atomically marks the token consumed. It fails with
	// models.ErrConflict if the token was already consumed; the mark
	// happens before the resume is applied, so a double-resume race can
	// succeed at most once.
	Consume(value string, at time.Time) error
}

// MemoryTokenStore is the in-memory TokenStore used by tests and embedded
// runs.
type MemoryTokenStore struct {
	tokens map[string]*models.ResumeToken
	mu     sync.Mutex
}

// NewMemoryTokenStore creates an empty MemoryTokenStore.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*models.ResumeToken)}
}

// Put writes a freshly issued token.
func (s *MemoryTokenStore) Put(token *models.ResumeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.Token]; exists {
		return fmt.Errorf("%w: token already issued", models.ErrConflict)
	}
	copied := *token
	s.tokens[token.Token] = &copied
	return nil
}

// Get returns a token by value.
func (s *MemoryTokenStore) Get(value string) (*models.ResumeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return nil, fmt.Errorf("%w: unknown resume token", models.ErrNotFound)
	}
	copied := *token
	return &copied, nil
}

// Consume atomically marks the token consumed.
func (s *MemoryTokenStore) Consume(value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return fmt.Errorf("%w: unknown resume token", models.ErrNotFound)
	}
	if token.ConsumedAt != nil {
		return fmt.Errorf("%w: resume token already used", models.ErrConflict)
	}
	consumed := at
	token.ConsumedAt = &consumed
	return nil
}

// SQLiteTokenStore persists tokens in the engine database's resume_tokens
// table.
type SQLiteTokenStore struct {
	db *contextstore.DB
}

// NewSQLiteTokenStore creates a store over an opened, migrated database.
func NewSQLiteTokenStore(db *contextstore.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db}
}

// Put writes a freshly issued token.
func (s *SQLiteTokenStore) Put(token *models.ResumeToken) error {
	requiredData, err := json.Marshal(token.RequiredData)
	if err != nil {
		return fmt.Errorf("marshal required data: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO resume_tokens (token, task_id, execution_id, phase, pause_type, required_action, required_data, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, token.Token, token.TaskID, token.ExecutionID, token.Phase,
		string(token.PauseType), token.RequiredAction, string(requiredData),
		token.IssuedAt.UTC().Format(time.RFC3339Nano),
		token.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Get returns a token by value.
func (s *SQLiteTokenStore) Get(value string) (*models.ResumeToken, error) {
	var t models.ResumeToken
	var pauseType, requiredData, issuedAt, expiresAt string
	var requiredAction, consumedAt sql.NullString

	row := s.db.QueryRow(`
		SELECT token, task_id, execution_id, phase, pause_type, required_action, required_data, issued_at, expires_at, consumed_at
		FROM resume_tokens WHERE token = ?
	`, value)
	err := row.Scan(&t.Token, &t.TaskID, &t.ExecutionID, &t.Phase, &pauseType,
		&requiredAction, &requiredData, &issuedAt, &expiresAt, &consumedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: unknown resume token", models.ErrNotFound)
		}
		return nil, fmt.Errorf("get token: %w", err)
	}

	t.PauseType = models.PauseType(pauseType)
	t.RequiredAction = requiredAction.String
	if requiredData != "" && requiredData != "null" {
		if err := json.Unmarshal([]byte(requiredData), &t.RequiredData); err != nil {
			return nil, fmt.Errorf("decode required data: %w", err)
		}
	}
	if t.IssuedAt, err = time.Parse(time.RFC3339Nano, issuedAt); err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	if t.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if consumedAt.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, consumedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse consumed_at: %w", err)
		}
		t.ConsumedAt = &parsed
	}
	return &t, nil
}

// Consume atomically marks the token consumed. The conditional update is
// the race arbiter: of two concurrent resumes, exactly one sees a row
// change.
func (s *SQLiteTokenStore) Consume(value string, at time.Time) error {
	result, err := s.db.Exec(`
		UPDATE resume_tokens SET consumed_at = ? WHERE token = ? AND consumed_at IS NULL
	`, at.UTC().Format(time.RFC3339Nano), value)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish unknown from already-used for the caller's taxonomy.
	if _, err := s.Get(value); err != nil {
		return err
	}
	return fmt.Errorf("%w: resume token already used", models.ErrConflict)
}

// Compile-time verification that both stores implement TokenStore.
var (
	_ TokenStore = (*MemoryTokenStore)(nil)
	_ TokenStore = (*SQLiteTokenStore)(nil)
)
