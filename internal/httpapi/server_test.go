package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gianmatteo-arcana/engine-lever/internal/agent"
	"github.com/gianmatteo-arcana/engine-lever/internal/config"
	"github.com/gianmatteo-arcana/engine-lever/internal/contextstore"
	"github.com/gianmatteo-arcana/engine-lever/internal/engine"
	"github.com/gianmatteo-arcana/engine-lever/internal/pauseresume"
	"github.com/gianmatteo-arcana/engine-lever/internal/uiaugment"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// scriptAgent runs a scripted handler.
type scriptAgent struct {
	mu sync.Mutex
	fn func(req *models.AgentRequest) (*models.AgentResponse, error)
}

func (a *scriptAgent) HandleRequest(_ context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fn(req)
}

// collectAgent asks for the business name once, then completes.
func collectAgent() *scriptAgent {
	return &scriptAgent{fn: func(req *models.AgentRequest) (*models.AgentResponse, error) {
		if business, ok := req.SharedContext["business"].(map[string]any); ok {
			if name, ok := business["business_name"].(string); ok && name != "" {
				return &models.AgentResponse{
					Status:    models.ResponseCompleted,
					Reasoning: "profile gathered",
					Findings:  []map[string]any{{"business_name": name}},
				}, nil
			}
		}
		return &models.AgentResponse{
			Status:    models.ResponseNeedsInput,
			Reasoning: "business name missing",
			UIRequest: &models.UIAugmentationRequest{
				Presentation: models.Presentation{Title: "Business details needed"},
				FormSections: []models.FormSection{{
					Level: models.RequirementMinimum,
					Fields: []models.FormField{{
						Name: "business_name", Label: "Business name", Type: "text", Required: true,
					}},
				}},
				ResponseConfig: models.ResponseConfig{TargetContextPath: "business"},
			},
			PauseType: models.PauseUserApproval,
		}, nil
	}}
}

func reviewAgent() *scriptAgent {
	return &scriptAgent{fn: func(_ *models.AgentRequest) (*models.AgentResponse, error) {
		return &models.AgentResponse{
			Status:       models.ResponseCompleted,
			Reasoning:    "review passed",
			Deliverables: []map[string]any{{"report": "approved"}},
		}, nil
	}}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := contextstore.NewMemoryStore()

	regs := []agent.Registration{
		{
			Role:  models.RoleDataCollection,
			Scope: agent.ScopeSingleton,
			New: func(_ *models.TenantContext) (agent.Agent, error) {
				return collectAgent(), nil
			},
		},
		{
			Role:  models.RoleCompliance,
			Scope: agent.ScopeSingleton,
			New: func(_ *models.TenantContext) (agent.Agent, error) {
				return reviewAgent(), nil
			},
		},
	}
	router, err := agent.NewRouter(regs)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	router.SetDispatchTimeout(time.Second)

	requests := uiaugment.NewManager(uiaugment.NewMemoryRequestStore(), store, time.Hour)
	tokens := pauseresume.NewManager(pauseresume.NewMemoryTokenStore(), store, time.Hour)

	registry, err := config.NewTemplateRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewTemplateRegistry: %v", err)
	}
	if err := registry.Register(&config.TaskTemplate{
		TaskType: "business_onboarding",
		Phases: []models.Phase{
			{Name: "collect_data", Role: models.RoleDataCollection, Goal: "Gather the business profile.", MaxRetries: 1},
			{Name: "review", Role: models.RoleCompliance, Goal: "Verify the profile.", DependsOn: []string{"collect_data"}},
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	eng, err := engine.New(engine.Options{
		Store:        store,
		Router:       router,
		Requests:     requests,
		Tokens:       tokens,
		Templates:    registry,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})

	srv := httptest.NewServer(NewServer("127.0.0.1:0", eng).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-Business-ID", "biz-1")
	req.Header.Set("X-User-ID", "user-1")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding %s %s response: %v", method, path, err)
	}
	return resp, decoded
}

// waitForTaskStatus polls the state endpoint until the task reaches the
// wanted status.
func waitForTaskStatus(t *testing.T, srv *httptest.Server, contextID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, body := doRequest(t, srv, http.MethodGet, "/api/v1/tasks/"+contextID, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get task: status %d", resp.StatusCode)
		}
		if body["status"] == want {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s never reached %s (currently %v)", contextID, want, body["status"])
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, created := doRequest(t, srv, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		TaskType: "business_onboarding",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d body %v", resp.StatusCode, created)
	}
	contextID, _ := created["context_id"].(string)
	if contextID == "" {
		t.Fatalf("create task returned no context_id: %v", created)
	}

	waitForTaskStatus(t, srv, contextID, string(models.TaskStatusPausedForInput))

	resp, pending := doRequest(t, srv, http.MethodGet, "/api/v1/tasks/"+contextID+"/requests", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list requests: status %d", resp.StatusCode)
	}
	reqs, _ := pending["requests"].([]any)
	if len(reqs) != 1 {
		t.Fatalf("pending requests = %d, want 1", len(reqs))
	}
	uiReq := reqs[0].(map[string]any)
	requestID, _ := uiReq["request_id"].(string)
	if requestID == "" {
		t.Fatalf("pending request has no request_id: %v", uiReq)
	}

	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/responses", models.UIAugmentationResponse{
		RequestID:   requestID,
		ActionTaken: models.ActionSubmit,
		FormData:    map[string]any{"business_name": "Acme LLC"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit response: status %d", resp.StatusCode)
	}

	final := waitForTaskStatus(t, srv, contextID, string(models.TaskStatusCompleted))
	shared, _ := final["shared_context"].(map[string]any)
	business, _ := shared["business"].(map[string]any)
	if business["business_name"] != "Acme LLC" {
		t.Fatalf("business_name = %v", business["business_name"])
	}

	resp, events := doRequest(t, srv, http.MethodGet, "/api/v1/tasks/"+contextID+"/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list events: status %d", resp.StatusCode)
	}
	list, _ := events["events"].([]any)
	if len(list) == 0 {
		t.Fatal("expected events in the log")
	}
	for i, raw := range list {
		event := raw.(map[string]any)
		if seq, _ := event["sequence_number"].(float64); int(seq) != i+1 {
			t.Fatalf("event %d has sequence %v", i, event["sequence_number"])
		}
	}
}

func TestMissingTenantHeadersRejected(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/tasks/ctx-1", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown task", http.MethodGet, "/api/v1/tasks/nope", nil, http.StatusNotFound},
		{"unknown task type", http.MethodPost, "/api/v1/tasks", createTaskRequest{TaskType: "nope"}, http.StatusNotFound},
		{"missing task type", http.MethodPost, "/api/v1/tasks", createTaskRequest{}, http.StatusBadRequest},
		{"missing resume token", http.MethodPost, "/api/v1/resume", resumeRequest{}, http.StatusBadRequest},
		{"unknown resume token", http.MethodPost, "/api/v1/resume", resumeRequest{Token: "nope"}, http.StatusNotFound},
		{"unknown response request", http.MethodPost, "/api/v1/responses", models.UIAugmentationResponse{
			RequestID:   "nope",
			ActionTaken: models.ActionSubmit,
			FormData:    map[string]any{"x": "y"},
		}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, srv, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tt.want, body)
			}
			if body["error"] == "" {
				t.Fatalf("expected error message, got %v", body)
			}
		})
	}
}

func TestCancelOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, created := doRequest(t, srv, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		TaskType: "business_onboarding",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d", resp.StatusCode)
	}
	contextID := created["context_id"].(string)
	waitForTaskStatus(t, srv, contextID, string(models.TaskStatusPausedForInput))

	resp, canceled := doRequest(t, srv, http.MethodPost, "/api/v1/tasks/"+contextID+"/cancel", cancelRequest{
		Reason: "changed my mind",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}
	if canceled["status"] != string(models.TaskStatusFailed) {
		t.Fatalf("status after cancel = %v", canceled["status"])
	}
}

func TestStreamOverWebSocket(t *testing.T) {
	srv := newTestServer(t)

	resp, created := doRequest(t, srv, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		TaskType: "business_onboarding",
		InitialData: map[string]any{
			"business": map[string]any{"business_name": "Acme LLC"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d", resp.StatusCode)
	}
	contextID := created["context_id"].(string)
	waitForTaskStatus(t, srv, contextID, string(models.TaskStatusCompleted))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/api/v1/tasks/%s/stream?since=0", contextID)
	header := http.Header{}
	header.Set("X-Business-ID", "biz-1")
	header.Set("X-User-ID", "user-1")

	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var lastSeq int64
	for {
		var event models.ContextEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("ReadJSON after seq %d: %v", lastSeq, err)
		}
		if event.SequenceNumber != lastSeq+1 {
			t.Fatalf("sequence jumped from %d to %d", lastSeq, event.SequenceNumber)
		}
		lastSeq = event.SequenceNumber
		if event.Operation == models.OpTaskCompleted {
			break
		}
	}
	if lastSeq == 0 {
		t.Fatal("stream produced no events")
	}
}
