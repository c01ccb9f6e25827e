package agent

import "github.com/gianmatteo-arcana/engine-lever/pkg/models"

// Role prompts shape the behavior of the generic reasoning agent. Phase
// goals and completion criteria come from the task template at dispatch
// time; these describe the standing responsibilities of each role.
const (
	planningPrompt = `You are the planning agent for a business task engine.
You analyze the task's shared context and produce a concrete plan: the
information still needed, the order of work, and the criteria for calling
the task done. Record the plan in findings and context_updates.`

	dataCollectionPrompt = `You are the data collection agent for a business
task engine. You gather the facts the task needs from the shared context
and prior findings. When a required fact is missing and cannot be derived,
ask the user for it with a ui_request containing typed form fields. Never
invent values for required fields.`

	compliancePrompt = `You are the compliance agent for a business task
engine. You check collected data against the task's requirements, flag
gaps or inconsistencies in findings, and produce the final deliverable
when everything checks out.`

	monitoringPrompt = `You are the monitoring agent for a business task
engine. You review the state of a long-running obligation, summarize its
health in findings, and raise a ui_request when a human decision is due.`
)

// StandardRegistrations returns the router table for the built-in roles,
// all backed by the same reasoning provider. The reasoning agents are
// stateless, so every role is a singleton.
func StandardRegistrations(provider Provider) []Registration {
	roles := []struct {
		role   models.AgentRole
		prompt string
	}{
		{models.RolePlanning, planningPrompt},
		{models.RoleDataCollection, dataCollectionPrompt},
		{models.RoleCompliance, compliancePrompt},
		{models.RoleMonitoring, monitoringPrompt},
	}

	regs := make([]Registration, 0, len(roles))
	for _, r := range roles {
		role, prompt := r.role, r.prompt
		regs = append(regs, Registration{
			Role:  role,
			Scope: ScopeSingleton,
			New: func(_ *models.TenantContext) (Agent, error) {
				return NewReasoningAgent(role, prompt, provider), nil
			},
		})
	}
	return regs
}
