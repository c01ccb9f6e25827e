package uiaugment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// logRecorder stands in for the context store: it records appended events
// and hands out sequence numbers.
type logRecorder struct {
	mu     sync.Mutex
	events []*models.ContextEvent
	seq    int64
	fail   error
}

func (r *logRecorder) Append(ctx context.Context, tc *models.TenantContext, contextID string, ev *models.ContextEvent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	r.seq++
	copied := *ev
	copied.ContextID = contextID
	copied.SequenceNumber = r.seq
	r.events = append(r.events, &copied)
	return r.seq, nil
}

func (r *logRecorder) lastOp() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ""
	}
	return r.events[len(r.events)-1].Operation
}

func testTenant() *models.TenantContext {
	return &models.TenantContext{
		BusinessID:    "biz-1",
		SessionUserID: "user-1",
		DataScope:     models.ScopeBusiness,
	}
}

func newTestManager(timeout time.Duration) (*Manager, *logRecorder) {
	log := &logRecorder{}
	return NewManager(NewMemoryRequestStore(), log, timeout), log
}

func sampleRequest(role string) *models.UIAugmentationRequest {
	return &models.UIAugmentationRequest{
		ContextID: "ctx-1",
		AgentRole: models.AgentRole(role),
		Presentation: models.Presentation{
			Title:    "Confirm business details",
			Category: "identity",
		},
		FormSections: []models.FormSection{{
			Title: "Business",
			Fields: []models.FormField{
				{Name: "business_name", Type: "text", Required: true, MinLength: 2},
				{Name: "entity_type", Type: "select", Options: []string{"llc", "corp"}},
				{Name: "ein", Type: "text", Pattern: `^\d{2}-\d{7}$`},
			},
		}},
		ResponseConfig: models.ResponseConfig{
			TargetContextPath: "business",
		},
	}
}

func TestCreateRequestAssignsIdentityAndExpiry(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	created, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if created.RequestID == "" {
		t.Error("expected a generated request id")
	}
	if created.Status != models.UIRequestPending {
		t.Errorf("status = %s, want pending", created.Status)
	}
	if created.SequenceNumber != 1 {
		t.Errorf("sequence = %d, want 1", created.SequenceNumber)
	}
	if created.ExpiresAt == nil {
		t.Fatal("expected default timeout to set an expiry")
	}
	if got := created.ExpiresAt.Sub(created.CreatedAt); got != time.Hour {
		t.Errorf("expiry window = %s, want 1h", got)
	}
	if op := log.lastOp(); op != models.OpUIRequestCreated {
		t.Errorf("last event = %s, want %s", op, models.OpUIRequestCreated)
	}

	// A second request on the same context from another role takes the
	// next sequence number.
	second, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("compliance"))
	if err != nil {
		t.Fatalf("CreateRequest second role: %v", err)
	}
	if second.SequenceNumber != 2 {
		t.Errorf("second sequence = %d, want 2", second.SequenceNumber)
	}

	pending, err := mgr.ListPending("ctx-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].SequenceNumber > pending[1].SequenceNumber {
		t.Error("pending requests out of sequence order")
	}
}

func TestCreateRequestZeroTimeoutNeverExpires(t *testing.T) {
	mgr, _ := newTestManager(0)

	created, err := mgr.CreateRequest(context.Background(), testTenant(), sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if created.ExpiresAt != nil {
		t.Errorf("expected no expiry, got %v", created.ExpiresAt)
	}
}

func TestOnePendingRequestPerRole(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	first, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	_, err = mgr.CreateRequest(context.Background(), tc, sampleRequest("data_collection"))
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second pending request for role: err = %v, want ErrConflict", err)
	}

	// Supersede is the explicit path around the conflict: the old request
	// resolves as skipped and the new one becomes the pending request.
	replacement, err := mgr.Supersede(context.Background(), tc, sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	if replacement.RequestID == first.RequestID {
		t.Error("supersede reused the old request id")
	}

	old, err := mgr.Get(first.RequestID)
	if err != nil {
		t.Fatalf("Get superseded: %v", err)
	}
	if old.Status != models.UIRequestSkipped {
		t.Errorf("superseded status = %s, want skipped", old.Status)
	}
	if op := log.lastOp(); op != models.OpUIRequestCreated {
		t.Errorf("last event = %s, want %s", op, models.OpUIRequestCreated)
	}

	pending, _ := mgr.ListPending("ctx-1")
	if len(pending) != 1 || pending[0].RequestID != replacement.RequestID {
		t.Fatalf("pending after supersede = %+v, want only the replacement", pending)
	}
}

func TestRespondValidatesFormData(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	tc := testTenant()

	created, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	_, err = mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionSubmit,
		FormData: map[string]any{
			"entity_type": "partnership",
			"ein":         "123",
			"surprise":    "value",
		},
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("invalid submission: err = %v, want ErrValidation", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	wantFields := map[string]bool{
		"business_name": false, // required, missing
		"entity_type":   false, // not an allowed option
		"ein":           false, // pattern mismatch
		"surprise":      false, // unknown key
	}
	for _, fe := range verr.Fields {
		if _, ok := wantFields[fe.Field]; !ok {
			t.Errorf("unexpected field error %s: %s", fe.Field, fe.Message)
			continue
		}
		wantFields[fe.Field] = true
	}
	for field, seen := range wantFields {
		if !seen {
			t.Errorf("missing field error for %s", field)
		}
	}

	// Rejected submissions leave the request pending.
	cur, _ := mgr.Get(created.RequestID)
	if cur.Status != models.UIRequestPending {
		t.Errorf("status after rejection = %s, want pending", cur.Status)
	}
}

func TestRespondAcceptsValidSubmission(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	created, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	resolved, err := mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionSubmit,
		FormData: map[string]any{
			"business_name": "Acme LLC",
			"entity_type":   "llc",
			"ein":           "12-3456789",
		},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resolved.Status != models.UIRequestResponded {
		t.Errorf("status = %s, want responded", resolved.Status)
	}

	ev := log.events[len(log.events)-1]
	if ev.Operation != models.OpUIResponseReceived {
		t.Fatalf("last event = %s, want %s", ev.Operation, models.OpUIResponseReceived)
	}
	if ev.ActorType != models.ActorUser || ev.ActorID != "user-1" {
		t.Errorf("event actor = %s/%s, want user/user-1", ev.ActorType, ev.ActorID)
	}
	if ev.Data["target_path"] != "business" {
		t.Errorf("target_path = %v, want business", ev.Data["target_path"])
	}
	form, ok := ev.Data["form_data"].(map[string]any)
	if !ok || form["business_name"] != "Acme LLC" {
		t.Errorf("form_data = %v, want submitted values", ev.Data["form_data"])
	}

	// Resolving twice conflicts.
	_, err = mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionSubmit,
		FormData:    map[string]any{"business_name": "Acme LLC"},
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("double resolution: err = %v, want ErrConflict", err)
	}
}

func TestRespondSkip(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	created, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	// The sample request does not permit skipping.
	_, err = mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionSkip,
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("skip on non-skippable request: err = %v, want ErrValidation", err)
	}

	skippable := sampleRequest("compliance")
	skippable.ResponseConfig.AllowSkip = true
	created, err = mgr.CreateRequest(context.Background(), tc, skippable)
	if err != nil {
		t.Fatalf("CreateRequest skippable: %v", err)
	}

	resolved, err := mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionSkip,
	})
	if err != nil {
		t.Fatalf("Respond skip: %v", err)
	}
	if resolved.Status != models.UIRequestSkipped {
		t.Errorf("status = %s, want skipped", resolved.Status)
	}
	if op := log.lastOp(); op != models.OpUIRequestSkipped {
		t.Errorf("last event = %s, want %s", op, models.OpUIRequestSkipped)
	}
}

func TestRespondPill(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	req := sampleRequest("data_collection")
	req.FormSections = nil
	req.ActionPills = []models.ActionPill{
		{ID: "approve", Label: "Approve", Value: "approved"},
		{ID: "defer", Label: "Ask me later"},
	}
	created, err := mgr.CreateRequest(context.Background(), tc, req)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	_, err = mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionPillTaken,
		PillID:      "reject",
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("unknown pill: err = %v, want ErrValidation", err)
	}

	resolved, err := mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionPillTaken,
		PillID:      "approve",
	})
	if err != nil {
		t.Fatalf("Respond pill: %v", err)
	}
	if resolved.Status != models.UIRequestResponded {
		t.Errorf("status = %s, want responded", resolved.Status)
	}

	ev := log.events[len(log.events)-1]
	form, _ := ev.Data["form_data"].(map[string]any)
	if form["action"] != "approve" || form["value"] != "approved" {
		t.Errorf("pill data = %v, want action=approve value=approved", form)
	}
}

func TestRespondUnknownRequest(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)

	_, err := mgr.Respond(context.Background(), testTenant(), &models.UIAugmentationResponse{
		RequestID:   "nope",
		ActionTaken: models.ActionSubmit,
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	_, err = mgr.Respond(context.Background(), testTenant(), &models.UIAugmentationResponse{})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("empty response: err = %v, want ErrValidation", err)
	}
}

func TestRespondAfterExpiry(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	tc := testTenant()

	req := sampleRequest("data_collection")
	req.ResponseConfig.Timeout = time.Nanosecond
	created, err := mgr.CreateRequest(context.Background(), tc, req)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err = mgr.Respond(context.Background(), tc, &models.UIAugmentationResponse{
		RequestID:   created.RequestID,
		ActionTaken: models.ActionSubmit,
		FormData:    map[string]any{"business_name": "Acme LLC"},
	})
	if !errors.Is(err, models.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestExpireFatalOnlyForRequiredNonSkippable(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	// Required fields and no skip allowed: expiry is fatal for the task.
	strict := sampleRequest("data_collection")
	strict.ResponseConfig.Timeout = time.Nanosecond
	created, err := mgr.CreateRequest(context.Background(), tc, strict)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	expired, err := mgr.ExpiredRequests(time.Now())
	if err != nil {
		t.Fatalf("ExpiredRequests: %v", err)
	}
	if len(expired) != 1 || expired[0].RequestID != created.RequestID {
		t.Fatalf("expired = %+v, want the strict request", expired)
	}

	fatal, err := mgr.Expire(context.Background(), tc, expired[0])
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if !fatal {
		t.Error("expected fatal expiry for required non-skippable request")
	}
	cur, _ := mgr.Get(created.RequestID)
	if cur.Status != models.UIRequestExpired {
		t.Errorf("status = %s, want expired", cur.Status)
	}
	if op := log.lastOp(); op != models.OpUIRequestSkipped {
		t.Errorf("last event = %s, want %s", op, models.OpUIRequestSkipped)
	}

	// Skippable requests expire quietly.
	lax := sampleRequest("compliance")
	lax.ResponseConfig.AllowSkip = true
	lax.ResponseConfig.Timeout = time.Nanosecond
	created, err = mgr.CreateRequest(context.Background(), tc, lax)
	if err != nil {
		t.Fatalf("CreateRequest lax: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	fatal, err = mgr.Expire(context.Background(), tc, created)
	if err != nil {
		t.Fatalf("Expire lax: %v", err)
	}
	if fatal {
		t.Error("skippable request expiry should not be fatal")
	}
}

func TestExpireClosesRequestWhenTaskAlreadyEnded(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	strict := sampleRequest("data_collection")
	strict.ResponseConfig.Timeout = time.Nanosecond
	created, err := mgr.CreateRequest(context.Background(), tc, strict)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// The owning task reached a terminal status; its log rejects the
	// expiry event. The request must still close, and the expiry cannot
	// be fatal for a task that already ended.
	log.fail = fmt.Errorf("%w: context ctx-1 is terminal", models.ErrConflict)

	fatal, err := mgr.Expire(context.Background(), tc, created)
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if fatal {
		t.Error("expiry on an ended task must not be fatal")
	}
	cur, err := mgr.Get(created.RequestID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Status != models.UIRequestExpired {
		t.Errorf("status = %s, want expired", cur.Status)
	}

	// The sweeper stops finding it.
	expired, err := mgr.ExpiredRequests(time.Now())
	if err != nil {
		t.Fatalf("ExpiredRequests: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expired list = %d entries, want 0", len(expired))
	}
}

func TestCancelPendingClosesAllRoles(t *testing.T) {
	mgr, log := newTestManager(time.Hour)
	tc := testTenant()

	first, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("data_collection"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	second, err := mgr.CreateRequest(context.Background(), tc, sampleRequest("compliance"))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	eventsBefore := len(log.events)

	if err := mgr.CancelPending("ctx-1"); err != nil {
		t.Fatalf("CancelPending: %v", err)
	}

	for _, id := range []string{first.RequestID, second.RequestID} {
		req, err := mgr.Get(id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if req.Status != models.UIRequestSkipped {
			t.Errorf("request %s status = %s, want skipped", id, req.Status)
		}
	}
	// Closing writes no events: the terminal task event already closed
	// the log.
	if len(log.events) != eventsBefore {
		t.Errorf("CancelPending appended %d events", len(log.events)-eventsBefore)
	}

	pending, err := mgr.ListPending("ctx-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{
		{Field: "business_name", Message: "required"},
		{Field: "ein", Message: "does not match required pattern"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "business_name: required") {
		t.Errorf("message %q missing first field detail", msg)
	}
	if !strings.Contains(msg, "ein: does not match required pattern") {
		t.Errorf("message %q missing second field detail", msg)
	}
}
