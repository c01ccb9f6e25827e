package models

// DataScope restricts how widely a session may read task data.
type DataScope string

const (
	// ScopeUser limits reads to contexts initiated by the session user.
	ScopeUser DataScope = "user"
	// ScopeBusiness permits reads across the whole business.
	ScopeBusiness DataScope = "business"
)

// IsolationLevel selects how strictly tenant checks are applied.
type IsolationLevel string

const (
	// IsolationStrict enforces data scope on every read in addition to the
	// tenant boundary.
	IsolationStrict IsolationLevel = "strict"
	// IsolationStandard enforces the tenant boundary only.
	IsolationStandard IsolationLevel = "standard"
)

// TenantContext is the security boundary carried alongside every operation.
// Every context store read/write and every agent dispatch is checked
// against it.
type TenantContext struct {
	// BusinessID is the business boundary.
	BusinessID string `json:"business_id"`
	// SessionUserID is the user driving this session.
	SessionUserID string `json:"session_user_id"`
	// DataScope restricts read visibility.
	DataScope DataScope `json:"data_scope"`
	// AllowedAgents lists the roles this tenant may dispatch to.
	// Empty means unrestricted.
	AllowedAgents []AgentRole `json:"allowed_agents,omitempty"`
	// IsolationLevel selects strict or standard checking.
	IsolationLevel IsolationLevel `json:"isolation_level"`
}

// AgentAllowed reports whether the tenant may dispatch to the given role.
// An empty allow-list leaves dispatch unrestricted.
func (t *TenantContext) AgentAllowed(role AgentRole) bool {
	if len(t.AllowedAgents) == 0 {
		return true
	}
	for _, r := range t.AllowedAgents {
		if r == role {
			return true
		}
	}
	return false
}
