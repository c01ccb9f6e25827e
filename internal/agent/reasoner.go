package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// ReasoningAgent is a generic agent that consults a reasoning Provider to
// decide its next action for a phase. Role behavior is shaped entirely by
// the role prompt; the request/response contract is shared.
type ReasoningAgent struct {
	role       models.AgentRole
	rolePrompt string
	provider   Provider
}

var _ Agent = (*ReasoningAgent)(nil)

// NewReasoningAgent creates an agent for a role backed by a provider.
func NewReasoningAgent(role models.AgentRole, rolePrompt string, provider Provider) *ReasoningAgent {
	return &ReasoningAgent{
		role:       role,
		rolePrompt: rolePrompt,
		provider:   provider,
	}
}

// decision is the JSON contract the model must answer with.
type decision struct {
	Status         string             `json:"status"`
	Reasoning      string             `json:"reasoning,omitempty"`
	Findings       []map[string]any   `json:"findings,omitempty"`
	Deliverables   []map[string]any   `json:"deliverables,omitempty"`
	ContextUpdates map[string]any     `json:"context_updates,omitempty"`
	UIRequest      *decisionUIRequest `json:"ui_request,omitempty"`
	PauseType      string             `json:"pause_type,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// decisionUIRequest is the model-facing shape of a UI augmentation
// request. It mirrors models.UIAugmentationRequest minus the fields the
// engine assigns (IDs, status, expiry).
type decisionUIRequest struct {
	Presentation models.Presentation    `json:"presentation"`
	ActionPills  []models.ActionPill    `json:"action_pills,omitempty"`
	FormSections []models.FormSection   `json:"form_sections,omitempty"`
	Config       *models.ResponseConfig `json:"response_config,omitempty"`
}

// HandleRequest builds the phase prompt, consults the provider, and
// translates the model's decision into a typed response.
func (a *ReasoningAgent) HandleRequest(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	prompt, err := buildPhasePrompt(req)
	if err != nil {
		return nil, err
	}

	raw, err := a.provider.Complete(ctx, a.systemPrompt(), prompt)
	if err != nil {
		return nil, fmt.Errorf("reasoning for phase %s: %w", req.Phase, err)
	}

	var d decision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &d); err != nil {
		return nil, fmt.Errorf("%w: unparseable decision for phase %s: %v", models.ErrAgentFailure, req.Phase, err)
	}

	return a.toResponse(req, &d)
}

func (a *ReasoningAgent) toResponse(req *models.AgentRequest, d *decision) (*models.AgentResponse, error) {
	status := models.ResponseStatus(d.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("%w: decision has invalid status %q", models.ErrAgentFailure, d.Status)
	}

	resp := &models.AgentResponse{
		Status:         status,
		Findings:       d.Findings,
		Deliverables:   d.Deliverables,
		ContextUpdates: d.ContextUpdates,
		Reasoning:      d.Reasoning,
		Error:          d.Error,
	}

	switch status {
	case models.ResponseNeedsInput:
		if d.UIRequest == nil {
			return nil, fmt.Errorf("%w: needs_input decision without ui_request", models.ErrAgentFailure)
		}
		uiReq := &models.UIAugmentationRequest{
			AgentRole:    a.role,
			Presentation: d.UIRequest.Presentation,
			ActionPills:  d.UIRequest.ActionPills,
			FormSections: d.UIRequest.FormSections,
		}
		if d.UIRequest.Config != nil {
			uiReq.ResponseConfig = *d.UIRequest.Config
		}
		resp.UIRequest = uiReq

		pt := models.PauseType(d.PauseType)
		if d.PauseType != "" && !pt.Valid() {
			return nil, fmt.Errorf("%w: decision has invalid pause_type %q", models.ErrAgentFailure, d.PauseType)
		}
		if d.PauseType == "" {
			pt = models.PauseUserApproval
		}
		resp.PauseType = pt
	case models.ResponseError:
		if resp.Error == "" {
			resp.Error = "agent reported failure without detail"
		}
	}

	return resp, nil
}

func (a *ReasoningAgent) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString(a.rolePrompt)
	sb.WriteString("\n\nAnswer with a single JSON object and nothing else:\n")
	sb.WriteString(`{
  "status": "completed" | "needs_input" | "error",
  "reasoning": "one sentence explaining the decision",
  "findings": [{"key": "value"}],
  "deliverables": [{"key": "value"}],
  "context_updates": {"key": "value"},
  "ui_request": {"presentation": {"title": "...", "description": "..."}, "form_sections": [...], "action_pills": [...], "response_config": {...}},
  "pause_type": "user_approval" | "payment" | "external_wait" | "error",
  "error": "detail when status is error"
}`)
	sb.WriteString("\nOmit fields that do not apply. When information needed to satisfy the completion criteria is missing and cannot be derived, return needs_input with a ui_request describing the form the user should fill.")
	return sb.String()
}

// buildPhasePrompt renders the dispatch request as the user message.
func buildPhasePrompt(req *models.AgentRequest) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Phase: %s\n", req.Phase)
	fmt.Fprintf(&sb, "Goal: %s\n", req.Goal)
	if req.CompletionCriteria != "" {
		fmt.Fprintf(&sb, "Completion criteria: %s\n", req.CompletionCriteria)
	}
	if req.Attempt > 1 {
		fmt.Fprintf(&sb, "Attempt: %d\n", req.Attempt)
	}

	if len(req.SharedContext) > 0 {
		shared, err := json.MarshalIndent(req.SharedContext, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding shared context: %w", err)
		}
		fmt.Fprintf(&sb, "\nShared context:\n%s\n", shared)
	}
	if len(req.PriorFindings) > 0 {
		prior, err := json.MarshalIndent(req.PriorFindings, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding prior findings: %w", err)
		}
		fmt.Fprintf(&sb, "\nPrior findings:\n%s\n", prior)
	}
	return sb.String(), nil
}

// extractJSON extracts JSON content from a response that may include
// markdown fencing or surrounding prose.
func extractJSON(response string) string {
	start := strings.Index(response, "```json")
	if start != -1 {
		start += 7
		end := strings.Index(response[start:], "```")
		if end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	start = strings.Index(response, "```")
	if start != -1 {
		start += 3
		end := strings.Index(response[start:], "```")
		if end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	start = strings.Index(response, "{")
	if start != -1 {
		depth := 0
		for i := start; i < len(response); i++ {
			switch response[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}

	return strings.TrimSpace(response)
}
