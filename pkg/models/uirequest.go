package models

import "time"

// UIRequestStatus is the lifecycle state of a UI augmentation request.
type UIRequestStatus string

const (
	// UIRequestPending indicates the request is waiting for a human.
	UIRequestPending UIRequestStatus = "pending"
	// UIRequestResponded indicates a validated response was accepted.
	UIRequestResponded UIRequestStatus = "responded"
	// UIRequestSkipped indicates the request was explicitly skipped.
	UIRequestSkipped UIRequestStatus = "skipped"
	// UIRequestExpired indicates the request timed out before a response.
	UIRequestExpired UIRequestStatus = "expired"
)

// Valid returns true if the status is a known value.
func (s UIRequestStatus) Valid() bool {
	switch s {
	case UIRequestPending, UIRequestResponded, UIRequestSkipped, UIRequestExpired:
		return true
	default:
		return false
	}
}

// RequirementLevel classifies how necessary a requested field group is.
type RequirementLevel string

const (
	// RequirementMinimum fields are required for the task to proceed.
	RequirementMinimum RequirementLevel = "minimum_required"
	// RequirementRecommended fields improve outcomes but are optional.
	RequirementRecommended RequirementLevel = "recommended"
	// RequirementOptional fields are purely optional.
	RequirementOptional RequirementLevel = "optional"
	// RequirementConditional fields are required only when a named
	// condition holds.
	RequirementConditional RequirementLevel = "conditionally_required"
)

// Presentation carries semantic display hints for a request. It never
// contains pixel or layout data; rendering is entirely the client's concern.
type Presentation struct {
	// Title is a short human-readable headline for the request.
	Title string `json:"title"`
	// Description elaborates on what is being asked and why.
	Description string `json:"description,omitempty"`
	// Urgency is a semantic priority hint (low, normal, high).
	Urgency string `json:"urgency,omitempty"`
	// Category groups related requests (identity, financial, legal, ...).
	Category string `json:"category,omitempty"`
}

// ActionPill is a quick-response choice presented alongside the form.
type ActionPill struct {
	// ID identifies the pill in the response's ActionTaken.
	ID string `json:"id"`
	// Label is the display text.
	Label string `json:"label"`
	// Value is written to the target path when the pill is chosen.
	Value string `json:"value,omitempty"`
}

// FormField is a typed field definition with validation rules.
type FormField struct {
	// Name is the form data key.
	Name string `json:"name"`
	// Label is the display label.
	Label string `json:"label"`
	// Type is the semantic field type (text, number, date, select, bool).
	Type string `json:"type"`
	// Required rejects submissions that omit the field.
	Required bool `json:"required,omitempty"`
	// Pattern is a regular expression the value must match, if set.
	Pattern string `json:"pattern,omitempty"`
	// MinLength is the minimum accepted value length.
	MinLength int `json:"min_length,omitempty"`
	// MaxLength is the maximum accepted value length; 0 means unlimited.
	MaxLength int `json:"max_length,omitempty"`
	// Options lists allowed values for select fields.
	Options []string `json:"options,omitempty"`
}

// FormSection groups fields under a requirement level.
type FormSection struct {
	// Title is the section headline.
	Title string `json:"title,omitempty"`
	// Level classifies how necessary the section's fields are.
	Level RequirementLevel `json:"level,omitempty"`
	// Fields are the section's field definitions.
	Fields []FormField `json:"fields"`
}

// ResponseConfig declares where an accepted response is written back.
type ResponseConfig struct {
	// TargetContextPath is the SharedContext key prefix the validated form
	// data is merged under. Empty means merge at the top level.
	TargetContextPath string `json:"target_context_path,omitempty"`
	// AllowSkip permits the user to skip the request.
	AllowSkip bool `json:"allow_skip,omitempty"`
	// Timeout expires the request after this duration. Zero means the
	// subsystem default applies.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// UIAugmentationRequest is a structured, semantic ask for human input,
// created by an agent mid-task. At most one request per agent role may be
// pending on a context at a time.
type UIAugmentationRequest struct {
	// RequestID is the unique identifier of this request.
	RequestID string `json:"request_id"`
	// ContextID is the task the request belongs to.
	ContextID string `json:"context_id"`
	// AgentRole is the role that created the request.
	AgentRole AgentRole `json:"agent_role"`
	// SequenceNumber orders requests within a context.
	SequenceNumber int64 `json:"sequence_number"`
	// Status is the request lifecycle state.
	Status UIRequestStatus `json:"status"`
	// Presentation carries semantic display hints.
	Presentation Presentation `json:"presentation"`
	// ActionPills are quick responses.
	ActionPills []ActionPill `json:"action_pills,omitempty"`
	// FormSections are the typed field definitions with validation rules.
	FormSections []FormSection `json:"form_sections,omitempty"`
	// ResponseConfig declares where the answer is written back.
	ResponseConfig ResponseConfig `json:"response_config"`
	// CreatedAt is when the request was created.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is when the request expires, if a timeout applies.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Field returns the named field definition across all sections, or nil.
func (r *UIAugmentationRequest) Field(name string) *FormField {
	for si := range r.FormSections {
		for fi := range r.FormSections[si].Fields {
			if r.FormSections[si].Fields[fi].Name == name {
				return &r.FormSections[si].Fields[fi]
			}
		}
	}
	return nil
}

// ActionType classifies how the user resolved a request.
type ActionType string

const (
	// ActionSubmit indicates form data was submitted.
	ActionSubmit ActionType = "submit"
	// ActionPillTaken indicates a quick-response pill was chosen.
	ActionPillTaken ActionType = "pill"
	// ActionSkip indicates the user skipped the request.
	ActionSkip ActionType = "skip"
)

// UIAugmentationResponse resolves exactly one pending request.
type UIAugmentationResponse struct {
	// RequestID identifies the request being resolved.
	RequestID string `json:"request_id"`
	// FormData is the submitted field values.
	FormData map[string]any `json:"form_data,omitempty"`
	// ActionTaken classifies the resolution.
	ActionTaken ActionType `json:"action_taken"`
	// PillID names the chosen pill when ActionTaken is pill.
	PillID string `json:"pill_id,omitempty"`
	// RespondedBy identifies the responding user.
	RespondedBy string `json:"responded_by,omitempty"`
}
