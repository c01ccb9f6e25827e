package models

import "time"

// PauseType classifies why a task execution was suspended.
type PauseType string

const (
	// PauseUserApproval waits for an explicit human approval or answer.
	PauseUserApproval PauseType = "user_approval"
	// PausePayment waits for a payment to clear.
	PausePayment PauseType = "payment"
	// PauseExternalWait waits on an external system (agency filing, API).
	PauseExternalWait PauseType = "external_wait"
	// PauseError waits for a human to resolve a blocking error.
	PauseError PauseType = "error"
)

// Valid returns true if the pause type is a known value.
func (p PauseType) Valid() bool {
	switch p {
	case PauseUserApproval, PausePayment, PauseExternalWait, PauseError:
		return true
	default:
		return false
	}
}

// ResumeToken is an opaque, single-use credential binding a suspended
// execution to the conditions required to continue it.
type ResumeToken struct {
	// Token is the unguessable credential value.
	Token string `json:"token"`
	// TaskID is the context the token reactivates.
	TaskID string `json:"task_id"`
	// ExecutionID identifies the paused execution (phase dispatch).
	ExecutionID string `json:"execution_id"`
	// Phase is the plan phase that was suspended. Resume retries it.
	Phase string `json:"phase"`
	// PauseType classifies why the task was suspended.
	PauseType PauseType `json:"pause_type"`
	// RequiredAction describes what must happen before resuming.
	RequiredAction string `json:"required_action,omitempty"`
	// RequiredData names the keys resume data must supply.
	RequiredData []string `json:"required_data,omitempty"`
	// IssuedAt is when the token was created.
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt is when the token stops being valid.
	ExpiresAt time.Time `json:"expires_at"`
	// ConsumedAt is set exactly once, when the token is used.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Expired reports whether the token is stale at the given instant.
func (t *ResumeToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Consumed reports whether the token has already been used.
func (t *ResumeToken) Consumed() bool {
	return t.ConsumedAt != nil
}
