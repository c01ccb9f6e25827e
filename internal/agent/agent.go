// Package agent defines the capability interface agents implement, the
// router that resolves roles to instances, and the reasoning provider
// agents use to decide their next action.
package agent

import (
	"context"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// Agent is the capability interface every agent implements. There is no
// base-agent hierarchy: shared helpers (event recording, configuration)
// are injected collaborators, and independent types implement this one
// method.
type Agent interface {
	// HandleRequest executes one phase dispatch and returns a typed
	// response. Implementations must honor ctx cancellation; the router
	// enforces a per-dispatch timeout above this call.
	HandleRequest(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error)
}

// Scope selects how agent instances are shared across tasks.
type Scope int

const (
	// ScopeSingleton shares one instance across all tasks of the role.
	ScopeSingleton Scope = iota
	// ScopeTenant constructs and caches one instance per
	// (role, businessID, userID) tuple.
	ScopeTenant
)

// Factory constructs an agent instance. For singleton roles the tenant is
// nil; for tenant-scoped roles it identifies the cache key's owner.
type Factory func(tc *models.TenantContext) (Agent, error)

// Registration binds a role to its constructor in the router's startup
// table. New agent types are added by registering an entry, not by
// touching the router.
type Registration struct {
	// Role is the logical role name.
	Role models.AgentRole
	// Scope selects singleton or per-tenant instantiation.
	Scope Scope
	// New constructs the agent.
	New Factory
}
