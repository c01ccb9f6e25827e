// Package tenant enforces the business/user isolation boundary.
// Every context store access and every agent dispatch passes through it.
package tenant

import (
	"fmt"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// AccessKind distinguishes reads from writes for scope checks.
type AccessKind int

const (
	// Read is a projection or event read.
	Read AccessKind = iota
	// Write is an append or context creation.
	Write
)

// Authorize checks a tenant context against a stored context's ownership.
// ownerTenant is the tenant the context belongs to; createdBy is the user
// who initiated it. Returns a models.ErrForbidden wrap on violation.
func Authorize(tc *models.TenantContext, kind AccessKind, ownerTenant, createdBy string) error {
	if tc == nil {
		return fmt.Errorf("%w: missing tenant context", models.ErrForbidden)
	}
	if tc.BusinessID == "" {
		return fmt.Errorf("%w: missing business id", models.ErrForbidden)
	}
	if tc.BusinessID != ownerTenant {
		return fmt.Errorf("%w: tenant %s cannot access context owned by %s",
			models.ErrForbidden, tc.BusinessID, ownerTenant)
	}

	// Strict isolation pins user-scoped reads to the session user.
	if kind == Read && tc.IsolationLevel == models.IsolationStrict &&
		tc.DataScope == models.ScopeUser && createdBy != tc.SessionUserID {
		return fmt.Errorf("%w: user-scoped session cannot read context created by another user",
			models.ErrForbidden)
	}

	return nil
}

// AuthorizeDispatch checks that the tenant may route work to the given role.
func AuthorizeDispatch(tc *models.TenantContext, role models.AgentRole) error {
	if tc == nil {
		return fmt.Errorf("%w: missing tenant context", models.ErrForbidden)
	}
	if !tc.AgentAllowed(role) {
		return fmt.Errorf("%w: role %s not in tenant's allowed agents", models.ErrForbidden, role)
	}
	return nil
}
