// Package crm models the tenant-owned entities: leads, pipelines,
// automation rules, messaging templates and conversations. Every row lives
// in that tenant's own Postgres database, reached through the connection
// the tenant registry resolves — never the central store.
package crm

import "time"

// LeadStatus is a lead's lifecycle state.
type LeadStatus string

const (
	LeadOpen     LeadStatus = "open"
	LeadWon      LeadStatus = "won"
	LeadLost     LeadStatus = "lost"
	LeadArchived LeadStatus = "archived"
)

// LeadScore breaks a lead's composite score into its contributing factors.
type LeadScore struct {
	Total         float64 `json:"total"`
	Recency       float64 `json:"recency"`
	Engagement    float64 `json:"engagement"`
	StageDepth    float64 `json:"stageDepth"`
	DealSize      float64 `json:"dealSize"`
	SourceQuality float64 `json:"sourceQuality"`
}

// LeadRefs links a lead out to tenant-private collections this core does
// not model directly.
type LeadRefs struct {
	AppointmentID string `json:"appointmentId,omitempty"`
	BookingID     string `json:"bookingId,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	MeetingID     string `json:"meetingId,omitempty"`
}

// LeadMetadata carries the structured refs plus a free-form extra bag that
// dotted-path condition evaluation reads into.
type LeadMetadata struct {
	Refs  LeadRefs               `json:"refs"`
	Extra map[string]interface{} `json:"extra"`
}

// Lead is the tenant's core CRM record. (tenantCode, phone, pipelineId)
// uniquely identifies a lead.
type Lead struct {
	ID              string       `json:"id"`
	TenantCode      string       `json:"tenantCode"`
	FirstName       string       `json:"firstName"`
	LastName        string       `json:"lastName"`
	Email           string       `json:"email,omitempty"`
	Phone           string       `json:"phone"`
	PipelineID      string       `json:"pipelineId"`
	StageID         string       `json:"stageId"`
	Status          LeadStatus   `json:"status"`
	DealValue       float64      `json:"dealValue"`
	Source          string       `json:"source,omitempty"`
	AssignedTo      string       `json:"assignedTo,omitempty"`
	Tags            []string     `json:"tags"`
	Metadata        LeadMetadata `json:"metadata"`
	Score           LeadScore    `json:"score"`
	LastContactedAt *time.Time   `json:"lastContactedAt,omitempty"`
	ConvertedAt     *time.Time   `json:"convertedAt,omitempty"`
	IsArchived      bool         `json:"isArchived"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// HasTag reports whether the lead already carries tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds tag if absent, returning whether the tag set changed.
func (l *Lead) AddTag(tag string) bool {
	if l.HasTag(tag) {
		return false
	}
	l.Tags = append(l.Tags, tag)
	return true
}

// RemoveTag removes tag if present, returning whether the tag set changed.
func (l *Lead) RemoveTag(tag string) bool {
	for i, t := range l.Tags {
		if t == tag {
			l.Tags = append(l.Tags[:i], l.Tags[i+1:]...)
			return true
		}
	}
	return false
}

// Pipeline groups an ordered set of stages.
type Pipeline struct {
	ID         string    `json:"id"`
	TenantCode string    `json:"tenantCode"`
	Name       string    `json:"name"`
	IsDefault  bool      `json:"isDefault"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PipelineStage is one ordered stage within a Pipeline. A stage may be
// IsWon or IsLost, never both.
type PipelineStage struct {
	ID          string  `json:"id"`
	TenantCode  string  `json:"tenantCode"`
	PipelineID  string  `json:"pipelineId"`
	Name        string  `json:"name"`
	Order       int     `json:"order"`
	IsDefault   bool    `json:"isDefault"`
	IsWon       bool    `json:"isWon"`
	IsLost      bool    `json:"isLost"`
	Probability int     `json:"probability"`
}

// TriggerKind enumerates the automation rule gate types.
type TriggerKind string

const (
	TriggerStageEnter  TriggerKind = "stage_enter"
	TriggerStageExit   TriggerKind = "stage_exit"
	TriggerScoreAbove  TriggerKind = "score_above"
	TriggerScoreBelow  TriggerKind = "score_below"
	TriggerTagAdded    TriggerKind = "tag_added"
	TriggerTagRemoved  TriggerKind = "tag_removed"
	TriggerNoContact   TriggerKind = "no_contact"
)

// TriggerConfig carries whichever gate parameters a rule's TriggerKind
// needs; unused fields are left zero.
type TriggerConfig struct {
	StageID        string  `json:"stageId,omitempty"`
	ScoreThreshold float64 `json:"scoreThreshold,omitempty"`
	TagName        string  `json:"tagName,omitempty"`
	InactiveDays   int     `json:"inactiveDays,omitempty"`
}

// ConditionOperator is one comparison operator a rule's condition may use.
type ConditionOperator string

const (
	OpEq       ConditionOperator = "eq"
	OpNeq      ConditionOperator = "neq"
	OpGt       ConditionOperator = "gt"
	OpGte      ConditionOperator = "gte"
	OpLt       ConditionOperator = "lt"
	OpLte      ConditionOperator = "lte"
	OpIn       ConditionOperator = "in"
	OpContains ConditionOperator = "contains"
)

// Condition gates a rule's firing on a dotted-path field comparison.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value"`
}

// ActionType enumerates the automation action effects.
type ActionType string

const (
	ActionSendWhatsApp   ActionType = "send_whatsapp"
	ActionSendEmail      ActionType = "send_email"
	ActionMoveStage      ActionType = "move_stage"
	ActionAssignTo       ActionType = "assign_to"
	ActionAddTag         ActionType = "add_tag"
	ActionRemoveTag      ActionType = "remove_tag"
	ActionWebhookNotify  ActionType = "webhook_notify"
	ActionCreateMeeting  ActionType = "create_meeting"
)

// RuleAction is one step of a rule's action list.
type RuleAction struct {
	Type         ActionType             `json:"type"`
	DelayMinutes int                    `json:"delayMinutes"`
	Config       map[string]interface{} `json:"config"`
}

// AutomationRule is a tenant-owned (trigger, condition) -> actions[] spec.
type AutomationRule struct {
	ID             string        `json:"id"`
	TenantCode     string        `json:"tenantCode"`
	Trigger        TriggerKind   `json:"trigger"`
	TriggerConfig  TriggerConfig `json:"triggerConfig"`
	Condition      *Condition    `json:"condition,omitempty"`
	Actions        []RuleAction  `json:"actions"`
	IsActive       bool          `json:"isActive"`
	ExecutionCount int           `json:"executionCount"`
	LastExecutedAt *time.Time    `json:"lastExecutedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// VariableSourceKind is one way a template placeholder resolves its value.
type VariableSourceKind string

const (
	VarLeadField     VariableSourceKind = "lead_field"
	VarStaticValue   VariableSourceKind = "static_value"
	VarFormula       VariableSourceKind = "formula"
	VarSystemInject  VariableSourceKind = "system_inject"
	VarManual        VariableSourceKind = "manual"
)

// EmptyVariablePolicy governs what happens when a variable resolves empty.
type EmptyVariablePolicy string

const (
	PolicySkipSend    EmptyVariablePolicy = "skip_send"
	PolicyUseFallback EmptyVariablePolicy = "use_fallback"
	PolicySendAnyway  EmptyVariablePolicy = "send_anyway"
)

// VariableMapping binds one placeholder position to a source.
type VariableMapping struct {
	Position int                `json:"position"`
	Source   VariableSourceKind `json:"source"`
	Path     string             `json:"path,omitempty"`     // lead field path or formula expression
	Value    string             `json:"value,omitempty"`    // static literal
	Fallback string             `json:"fallback,omitempty"`
	Policy   EmptyVariablePolicy `json:"policy"`
}

// MessagingTemplate is a vendor-side template referenced by name, with
// placeholder positions resolved from a trigger context.
type MessagingTemplate struct {
	ID         string            `json:"id"`
	TenantCode string            `json:"tenantCode"`
	Name       string            `json:"name"`
	Language   string            `json:"language"`
	Variables  []VariableMapping `json:"variables"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// MessageDirection is inbound or outbound relative to the tenant.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageStatus tracks an outbound message's delivery lifecycle.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// Conversation keys off (tenantCode, phone).
type Conversation struct {
	ID         string    `json:"id"`
	TenantCode string    `json:"tenantCode"`
	Phone      string    `json:"phone"`
	LeadID     string    `json:"leadId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Message is one message within a Conversation.
type Message struct {
	ID                string           `json:"id"`
	TenantCode        string           `json:"tenantCode"`
	ConversationID    string           `json:"conversationId"`
	Direction         MessageDirection `json:"direction"`
	Status            MessageStatus    `json:"status"`
	TemplateName      string           `json:"templateName,omitempty"`
	Body              string           `json:"body,omitempty"`
	ProviderMessageID string           `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
}
