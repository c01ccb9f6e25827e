package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/internal/tenant"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// defaultDispatchTimeout bounds a single agent dispatch.
const defaultDispatchTimeout = 5 * time.Minute

// Router resolves roles to agent instances and dispatches phase requests.
// It provides thread-safe instance caching with scope-aware keys.
type Router struct {
	// registrations maps roles to their constructors.
	registrations map[models.AgentRole]Registration
	// instances caches constructed agents by scope key.
	instances map[string]Agent
	// dispatchTimeout bounds each HandleRequest call.
	dispatchTimeout time.Duration
	// mu protects instances.
	mu sync.Mutex
}

// NewRouter creates a Router from a registration table.
// Duplicate roles return an error rather than silently overwriting.
func NewRouter(regs []Registration) (*Router, error) {
	table := make(map[models.AgentRole]Registration, len(regs))
	for _, reg := range regs {
		if reg.Role == "" {
			return nil, fmt.Errorf("%w: registration missing role", models.ErrValidation)
		}
		if reg.New == nil {
			return nil, fmt.Errorf("%w: registration for %s missing factory", models.ErrValidation, reg.Role)
		}
		if _, dup := table[reg.Role]; dup {
			return nil, fmt.Errorf("%w: duplicate registration for role %s", models.ErrValidation, reg.Role)
		}
		table[reg.Role] = reg
	}
	return &Router{
		registrations:   table,
		instances:       make(map[string]Agent),
		dispatchTimeout: defaultDispatchTimeout,
	}, nil
}

// SetDispatchTimeout overrides the per-dispatch timeout. Zero or negative
// values are ignored.
func (r *Router) SetDispatchTimeout(d time.Duration) {
	if d > 0 {
		r.dispatchTimeout = d
	}
}

// Roles returns the registered role names.
func (r *Router) Roles() []models.AgentRole {
	roles := make([]models.AgentRole, 0, len(r.registrations))
	for role := range r.registrations {
		roles = append(roles, role)
	}
	return roles
}

// Resolve returns the agent instance for a role under the given tenant,
// constructing and caching it on first use. Concurrent resolutions of the
// same key construct at most one instance.
func (r *Router) Resolve(role models.AgentRole, tc *models.TenantContext) (Agent, error) {
	reg, ok := r.registrations[role]
	if !ok {
		return nil, fmt.Errorf("%w: no agent registered for role %s", models.ErrNotFound, role)
	}

	key := cacheKey(reg, tc)

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	factoryTenant := tc
	if reg.Scope == ScopeSingleton {
		factoryTenant = nil
	}
	inst, err := reg.New(factoryTenant)
	if err != nil {
		return nil, fmt.Errorf("constructing agent %s: %w", role, err)
	}
	r.instances[key] = inst
	return inst, nil
}

// Dispatch routes a phase request to the agent for the given role. Tenant
// authorization is checked before any instance is constructed. Timeouts
// and agent panics surface as error responses, never as missing state.
func (r *Router) Dispatch(ctx context.Context, role models.AgentRole, tc *models.TenantContext, req *models.AgentRequest) (*models.AgentResponse, error) {
	if err := tenant.AuthorizeDispatch(tc, role); err != nil {
		return nil, err
	}

	inst, err := r.Resolve(role, tc)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.handle(dctx, inst, req)
	elapsed := time.Since(start)

	if err != nil {
		log.Printf("[router] dispatch %s phase=%s failed after %s: %v", role, req.Phase, elapsed.Round(time.Millisecond), err)
		return &models.AgentResponse{
			Status:   models.ResponseError,
			Error:    err.Error(),
			Duration: elapsed,
		}, nil
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: agent %s returned no response", models.ErrAgentFailure, role)
	}
	if !resp.Status.Valid() {
		return nil, fmt.Errorf("%w: agent %s returned invalid status %q", models.ErrAgentFailure, role, resp.Status)
	}
	resp.Duration = elapsed
	return resp, nil
}

// handle invokes the agent, converting panics and deadline expiry into
// ordinary errors so one misbehaving agent cannot take the engine down.
func (r *Router) handle(ctx context.Context, inst Agent, req *models.AgentRequest) (resp *models.AgentResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: agent panic: %v", models.ErrAgentFailure, rec)
		}
	}()

	resp, err = inst.HandleRequest(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: dispatch timed out: %v", models.ErrAgentFailure, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", models.ErrAgentFailure, err)
	}
	return resp, nil
}

// Stop clears the instance cache. Cached agents holding resources are
// closed if they implement io.Closer-compatible shutdown.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, inst := range r.instances {
		if c, ok := inst.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				log.Printf("[router] closing agent %s: %v", key, err)
			}
		}
	}
	r.instances = make(map[string]Agent)
}

// cacheKey derives the instance cache key for a registration under a
// tenant. Singleton roles share one key regardless of tenant.
func cacheKey(reg Registration, tc *models.TenantContext) string {
	if reg.Scope == ScopeSingleton || tc == nil {
		return string(reg.Role)
	}
	return fmt.Sprintf("%s|%s|%s", reg.Role, tc.BusinessID, tc.SessionUserID)
}
