package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// stubProvider returns a canned completion.
type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) Complete(_ context.Context, _, _ string) (string, error) {
	return p.text, p.err
}

func TestReasoningAgentCompleted(t *testing.T) {
	provider := &stubProvider{text: "```json\n" + `{
		"status": "completed",
		"reasoning": "all criteria satisfied",
		"findings": [{"verified": true}],
		"context_updates": {"review": "passed"}
	}` + "\n```"}

	agent := NewReasoningAgent(models.RoleCompliance, compliancePrompt, provider)
	resp, err := agent.HandleRequest(context.Background(), &models.AgentRequest{
		Phase: "review",
		Goal:  "verify collected data",
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Status != models.ResponseCompleted {
		t.Errorf("expected completed, got %s", resp.Status)
	}
	if len(resp.Findings) != 1 {
		t.Errorf("expected 1 finding, got %d", len(resp.Findings))
	}
	if resp.ContextUpdates["review"] != "passed" {
		t.Errorf("expected context update, got %v", resp.ContextUpdates)
	}
}

func TestReasoningAgentNeedsInput(t *testing.T) {
	provider := &stubProvider{text: `{
		"status": "needs_input",
		"reasoning": "business name missing",
		"ui_request": {
			"presentation": {"title": "Business details needed"},
			"form_sections": [{
				"level": "minimum_required",
				"fields": [{"name": "business_name", "label": "Business name", "type": "text", "required": true}]
			}],
			"response_config": {"target_context_path": "business"}
		}
	}`}

	agent := NewReasoningAgent(models.RoleDataCollection, dataCollectionPrompt, provider)
	resp, err := agent.HandleRequest(context.Background(), &models.AgentRequest{Phase: "collect_data"})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Status != models.ResponseNeedsInput {
		t.Fatalf("expected needs_input, got %s", resp.Status)
	}
	if resp.UIRequest == nil {
		t.Fatal("expected attached UI request")
	}
	if resp.UIRequest.AgentRole != models.RoleDataCollection {
		t.Errorf("expected role stamped on request, got %s", resp.UIRequest.AgentRole)
	}
	if resp.UIRequest.Field("business_name") == nil {
		t.Error("expected business_name field definition")
	}
	if resp.UIRequest.ResponseConfig.TargetContextPath != "business" {
		t.Errorf("expected target path, got %q", resp.UIRequest.ResponseConfig.TargetContextPath)
	}
	if resp.PauseType != models.PauseUserApproval {
		t.Errorf("expected default pause type, got %s", resp.PauseType)
	}
}

func TestReasoningAgentNeedsInputWithoutRequest(t *testing.T) {
	provider := &stubProvider{text: `{"status": "needs_input"}`}

	agent := NewReasoningAgent(models.RoleDataCollection, dataCollectionPrompt, provider)
	_, err := agent.HandleRequest(context.Background(), &models.AgentRequest{Phase: "collect_data"})
	if !errors.Is(err, models.ErrAgentFailure) {
		t.Errorf("expected ErrAgentFailure, got %v", err)
	}
}

func TestReasoningAgentInvalidStatus(t *testing.T) {
	provider := &stubProvider{text: `{"status": "done"}`}

	agent := NewReasoningAgent(models.RolePlanning, planningPrompt, provider)
	_, err := agent.HandleRequest(context.Background(), &models.AgentRequest{Phase: "plan"})
	if !errors.Is(err, models.ErrAgentFailure) {
		t.Errorf("expected ErrAgentFailure, got %v", err)
	}
}

func TestReasoningAgentUnparseableDecision(t *testing.T) {
	provider := &stubProvider{text: "I could not decide."}

	agent := NewReasoningAgent(models.RolePlanning, planningPrompt, provider)
	_, err := agent.HandleRequest(context.Background(), &models.AgentRequest{Phase: "plan"})
	if !errors.Is(err, models.ErrAgentFailure) {
		t.Errorf("expected ErrAgentFailure, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "fenced json",
			input:    "Here is the result:\n```json\n{\"key\": \"value\"}\n```\nDone!",
			expected: `{"key": "value"}`,
		},
		{
			name:     "plain fence",
			input:    "```\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "raw object with prose",
			input:    `The answer is {"a": {"b": 1}} as requested.`,
			expected: `{"a": {"b": 1}}`,
		},
		{
			name:     "bare json",
			input:    `{"status": "completed"}`,
			expected: `{"status": "completed"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.input); got != tc.expected {
				t.Errorf("extractJSON(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestStandardRegistrations(t *testing.T) {
	regs := StandardRegistrations(&stubProvider{text: `{"status": "completed"}`})
	if len(regs) != 4 {
		t.Fatalf("expected 4 registrations, got %d", len(regs))
	}

	router, err := NewRouter(regs)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	for _, role := range []models.AgentRole{models.RolePlanning, models.RoleDataCollection, models.RoleCompliance, models.RoleMonitoring} {
		if _, err := router.Resolve(role, testTenant()); err != nil {
			t.Errorf("Resolve(%s): %v", role, err)
		}
	}
}
