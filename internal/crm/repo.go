package crm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repo is the tenant-database access layer. Every method takes the
// tenant's own *sql.DB, resolved upstream through the tenant registry —
// tenantCode is still carried as a column and a hard filter on every query,
// even though the connection itself is already
// tenant-scoped.
type Repo struct {
	db *sql.DB
}

// NewRepo wraps a tenant connection.
func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// ---------------------------------------------------------------------------
// Leads
// ---------------------------------------------------------------------------

// GetLeadByPhone looks up a lead by (tenantCode, pipelineId, phone). Returns
// (nil, nil) if absent.
func (r *Repo) GetLeadByPhone(ctx context.Context, tenantCode, pipelineID, phone string) (*Lead, error) {
	const q = `
		SELECT id, tenant_code, first_name, last_name, email, phone, pipeline_id, stage_id, status,
		       deal_value, source, assigned_to, tags, metadata, score, last_contacted_at, converted_at,
		       is_archived, created_at, updated_at
		FROM leads
		WHERE tenant_code = $1 AND phone = $2 AND pipeline_id = $3
	`
	row := r.db.QueryRowContext(ctx, q, tenantCode, phone, pipelineID)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crm: get lead by phone: %w", err)
	}
	return lead, nil
}

// GetLeadByID looks up a lead by id, still filtered by tenantCode.
func (r *Repo) GetLeadByID(ctx context.Context, tenantCode, id string) (*Lead, error) {
	const q = `
		SELECT id, tenant_code, first_name, last_name, email, phone, pipeline_id, stage_id, status,
		       deal_value, source, assigned_to, tags, metadata, score, last_contacted_at, converted_at,
		       is_archived, created_at, updated_at
		FROM leads
		WHERE tenant_code = $1 AND id = $2
	`
	row := r.db.QueryRowContext(ctx, q, tenantCode, id)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crm: get lead by id: %w", err)
	}
	return lead, nil
}

// CreateLead inserts a new lead.
func (r *Repo) CreateLead(ctx context.Context, lead *Lead) error {
	lead.ID = uuid.NewString()
	now := time.Now()
	lead.CreatedAt, lead.UpdatedAt = now, now
	if lead.Status == "" {
		lead.Status = LeadOpen
	}

	metadata, err := json.Marshal(lead.Metadata)
	if err != nil {
		return fmt.Errorf("crm: marshal lead metadata: %w", err)
	}
	score, err := json.Marshal(lead.Score)
	if err != nil {
		return fmt.Errorf("crm: marshal lead score: %w", err)
	}

	const q = `
		INSERT INTO leads (id, tenant_code, first_name, last_name, email, phone, pipeline_id, stage_id,
		                    status, deal_value, source, assigned_to, tags, metadata, score, is_archived,
		                    created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
	`
	_, err = r.db.ExecContext(ctx, q, lead.ID, lead.TenantCode, lead.FirstName, lead.LastName, lead.Email,
		lead.Phone, lead.PipelineID, lead.StageID, lead.Status, lead.DealValue, lead.Source, lead.AssignedTo,
		pq.Array(lead.Tags), metadata, score, lead.IsArchived, now)
	if err != nil {
		return fmt.Errorf("crm: create lead: %w", err)
	}
	return nil
}

// UpdateLead persists the full mutable state of an existing lead.
func (r *Repo) UpdateLead(ctx context.Context, lead *Lead) error {
	lead.UpdatedAt = time.Now()

	metadata, err := json.Marshal(lead.Metadata)
	if err != nil {
		return fmt.Errorf("crm: marshal lead metadata: %w", err)
	}
	score, err := json.Marshal(lead.Score)
	if err != nil {
		return fmt.Errorf("crm: marshal lead score: %w", err)
	}

	const q = `
		UPDATE leads SET
			stage_id = $3, status = $4, deal_value = $5, assigned_to = $6, tags = $7,
			metadata = $8, score = $9, last_contacted_at = $10, converted_at = $11,
			is_archived = $12, updated_at = $13
		WHERE tenant_code = $1 AND id = $2
	`
	_, err = r.db.ExecContext(ctx, q, lead.TenantCode, lead.ID, lead.StageID, lead.Status, lead.DealValue,
		lead.AssignedTo, pq.Array(lead.Tags), metadata, score, lead.LastContactedAt, lead.ConvertedAt,
		lead.IsArchived, lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("crm: update lead: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (*Lead, error) {
	var l Lead
	var metadata, score []byte
	if err := row.Scan(&l.ID, &l.TenantCode, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.PipelineID,
		&l.StageID, &l.Status, &l.DealValue, &l.Source, &l.AssignedTo, pq.Array(&l.Tags), &metadata, &score,
		&l.LastContactedAt, &l.ConvertedAt, &l.IsArchived, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
			return nil, err
		}
	}
	if len(score) > 0 {
		if err := json.Unmarshal(score, &l.Score); err != nil {
			return nil, err
		}
	}
	return &l, nil
}

// ---------------------------------------------------------------------------
// Pipelines
// ---------------------------------------------------------------------------

// GetDefaultPipeline returns the tenant's default pipeline, or (nil, nil) if
// none has been provisioned yet.
func (r *Repo) GetDefaultPipeline(ctx context.Context, tenantCode string) (*Pipeline, error) {
	const q = `SELECT id, tenant_code, name, is_default, created_at FROM pipelines WHERE tenant_code = $1 AND is_default = true`
	row := r.db.QueryRowContext(ctx, q, tenantCode)
	var p Pipeline
	if err := row.Scan(&p.ID, &p.TenantCode, &p.Name, &p.IsDefault, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("crm: get default pipeline: %w", err)
	}
	return &p, nil
}

// GetDefaultStage returns a pipeline's default stage, or (nil, nil) if none
// is provisioned.
func (r *Repo) GetDefaultStage(ctx context.Context, tenantCode, pipelineID string) (*PipelineStage, error) {
	const q = `
		SELECT id, tenant_code, pipeline_id, name, "order", is_default, is_won, is_lost, probability
		FROM pipeline_stages WHERE tenant_code = $1 AND pipeline_id = $2 AND is_default = true
	`
	row := r.db.QueryRowContext(ctx, q, tenantCode, pipelineID)
	var s PipelineStage
	if err := row.Scan(&s.ID, &s.TenantCode, &s.PipelineID, &s.Name, &s.Order, &s.IsDefault, &s.IsWon, &s.IsLost, &s.Probability); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("crm: get default stage: %w", err)
	}
	return &s, nil
}

// GetStage looks up a single stage by id.
func (r *Repo) GetStage(ctx context.Context, tenantCode, stageID string) (*PipelineStage, error) {
	const q = `
		SELECT id, tenant_code, pipeline_id, name, "order", is_default, is_won, is_lost, probability
		FROM pipeline_stages WHERE tenant_code = $1 AND id = $2
	`
	row := r.db.QueryRowContext(ctx, q, tenantCode, stageID)
	var s PipelineStage
	if err := row.Scan(&s.ID, &s.TenantCode, &s.PipelineID, &s.Name, &s.Order, &s.IsDefault, &s.IsWon, &s.IsLost, &s.Probability); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("crm: get stage: %w", err)
	}
	return &s, nil
}

// CreateDefaultPipelineAndStage provisions a tenant's first pipeline and
// stage, used by the trigger handler when createLeadIfMissing needs
// somewhere to put a brand-new lead.
func (r *Repo) CreateDefaultPipelineAndStage(ctx context.Context, tenantCode string) (*Pipeline, *PipelineStage, error) {
	p := &Pipeline{ID: uuid.NewString(), TenantCode: tenantCode, Name: "Default", IsDefault: true, CreatedAt: time.Now()}
	const pq1 = `INSERT INTO pipelines (id, tenant_code, name, is_default, created_at) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.db.ExecContext(ctx, pq1, p.ID, p.TenantCode, p.Name, p.IsDefault, p.CreatedAt); err != nil {
		return nil, nil, fmt.Errorf("crm: create default pipeline: %w", err)
	}

	s := &PipelineStage{ID: uuid.NewString(), TenantCode: tenantCode, PipelineID: p.ID, Name: "New", Order: 0, IsDefault: true, Probability: 10}
	const sq = `INSERT INTO pipeline_stages (id, tenant_code, pipeline_id, name, "order", is_default, is_won, is_lost, probability)
	            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	if _, err := r.db.ExecContext(ctx, sq, s.ID, s.TenantCode, s.PipelineID, s.Name, s.Order, s.IsDefault, s.IsWon, s.IsLost, s.Probability); err != nil {
		return nil, nil, fmt.Errorf("crm: create default stage: %w", err)
	}
	return p, s, nil
}

// ---------------------------------------------------------------------------
// Automation rules
// ---------------------------------------------------------------------------

// GetActiveRulesForTrigger loads every active rule for (tenantCode, trigger).
func (r *Repo) GetActiveRulesForTrigger(ctx context.Context, tenantCode string, trigger TriggerKind) ([]AutomationRule, error) {
	const q = `
		SELECT id, tenant_code, trigger, trigger_config, condition, actions, is_active, execution_count, last_executed_at, created_at
		FROM automation_rules WHERE tenant_code = $1 AND trigger = $2 AND is_active = true
	`
	rows, err := r.db.QueryContext(ctx, q, tenantCode, trigger)
	if err != nil {
		return nil, fmt.Errorf("crm: get active rules: %w", err)
	}
	defer rows.Close()

	var rules []AutomationRule
	for rows.Next() {
		var rule AutomationRule
		var triggerConfig, condition, actions []byte
		if err := rows.Scan(&rule.ID, &rule.TenantCode, &rule.Trigger, &triggerConfig, &condition, &actions,
			&rule.IsActive, &rule.ExecutionCount, &rule.LastExecutedAt, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("crm: scan rule: %w", err)
		}
		if err := json.Unmarshal(triggerConfig, &rule.TriggerConfig); err != nil {
			return nil, fmt.Errorf("crm: unmarshal trigger config: %w", err)
		}
		if len(condition) > 0 && string(condition) != "null" {
			var c Condition
			if err := json.Unmarshal(condition, &c); err != nil {
				return nil, fmt.Errorf("crm: unmarshal condition: %w", err)
			}
			rule.Condition = &c
		}
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("crm: unmarshal actions: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListRules returns every automation rule for a tenant, newest first, for
// the read side of the `/automations` CRUD surface (`GET /automations`).
func (r *Repo) ListRules(ctx context.Context, tenantCode string) ([]AutomationRule, error) {
	const q = `
		SELECT id, tenant_code, trigger, trigger_config, condition, actions, is_active, execution_count, last_executed_at, created_at
		FROM automation_rules WHERE tenant_code = $1 ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, q, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("crm: list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]AutomationRule, error) {
	var rules []AutomationRule
	for rows.Next() {
		var rule AutomationRule
		var triggerConfig, condition, actions []byte
		if err := rows.Scan(&rule.ID, &rule.TenantCode, &rule.Trigger, &triggerConfig, &condition, &actions,
			&rule.IsActive, &rule.ExecutionCount, &rule.LastExecutedAt, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("crm: scan rule: %w", err)
		}
		if err := json.Unmarshal(triggerConfig, &rule.TriggerConfig); err != nil {
			return nil, fmt.Errorf("crm: unmarshal trigger config: %w", err)
		}
		if len(condition) > 0 && string(condition) != "null" {
			var c Condition
			if err := json.Unmarshal(condition, &c); err != nil {
				return nil, fmt.Errorf("crm: unmarshal condition: %w", err)
			}
			rule.Condition = &c
		}
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("crm: unmarshal actions: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CreateRule inserts a new automation rule.
func (r *Repo) CreateRule(ctx context.Context, rule *AutomationRule) error {
	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now()

	triggerConfig, err := json.Marshal(rule.TriggerConfig)
	if err != nil {
		return fmt.Errorf("crm: marshal trigger config: %w", err)
	}
	var condition []byte
	if rule.Condition != nil {
		condition, err = json.Marshal(rule.Condition)
		if err != nil {
			return fmt.Errorf("crm: marshal condition: %w", err)
		}
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("crm: marshal actions: %w", err)
	}

	const q = `
		INSERT INTO automation_rules (id, tenant_code, trigger, trigger_config, condition, actions, is_active, execution_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8)
	`
	_, err = r.db.ExecContext(ctx, q, rule.ID, rule.TenantCode, rule.Trigger, triggerConfig, condition, actions, rule.IsActive, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("crm: create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's mutable fields (condition, actions,
// isActive, triggerConfig) by id.
func (r *Repo) UpdateRule(ctx context.Context, rule *AutomationRule) error {
	triggerConfig, err := json.Marshal(rule.TriggerConfig)
	if err != nil {
		return fmt.Errorf("crm: marshal trigger config: %w", err)
	}
	var condition []byte
	if rule.Condition != nil {
		condition, err = json.Marshal(rule.Condition)
		if err != nil {
			return fmt.Errorf("crm: marshal condition: %w", err)
		}
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("crm: marshal actions: %w", err)
	}

	const q = `
		UPDATE automation_rules SET trigger = $3, trigger_config = $4, condition = $5, actions = $6, is_active = $7
		WHERE tenant_code = $1 AND id = $2
	`
	_, err = r.db.ExecContext(ctx, q, rule.TenantCode, rule.ID, rule.Trigger, triggerConfig, condition, actions, rule.IsActive)
	if err != nil {
		return fmt.Errorf("crm: update rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule by id.
func (r *Repo) DeleteRule(ctx context.Context, tenantCode, ruleID string) error {
	const q = `DELETE FROM automation_rules WHERE tenant_code = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, q, tenantCode, ruleID); err != nil {
		return fmt.Errorf("crm: delete rule: %w", err)
	}
	return nil
}

// RecordRuleExecution increments a rule's executionCount and stamps
// lastExecutedAt.
func (r *Repo) RecordRuleExecution(ctx context.Context, tenantCode, ruleID string) error {
	const q = `UPDATE automation_rules SET execution_count = execution_count + 1, last_executed_at = $3 WHERE tenant_code = $1 AND id = $2`
	_, err := r.db.ExecContext(ctx, q, tenantCode, ruleID, time.Now())
	if err != nil {
		return fmt.Errorf("crm: record rule execution: %w", err)
	}
	return nil
}

// CountActiveRulesForTrigger counts matching rules without loading them,
// used by the trigger handler's rulesMatched field ahead of full dispatch.
func (r *Repo) CountActiveRulesForTrigger(ctx context.Context, tenantCode string, trigger TriggerKind) (int, error) {
	const q = `SELECT count(*) FROM automation_rules WHERE tenant_code = $1 AND trigger = $2 AND is_active = true`
	var count int
	if err := r.db.QueryRowContext(ctx, q, tenantCode, trigger).Scan(&count); err != nil {
		return 0, fmt.Errorf("crm: count active rules: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// GetTemplateByName loads a messaging template by name.
func (r *Repo) GetTemplateByName(ctx context.Context, tenantCode, name string) (*MessagingTemplate, error) {
	const q = `SELECT id, tenant_code, name, language, variables, created_at FROM templates WHERE tenant_code = $1 AND name = $2`
	row := r.db.QueryRowContext(ctx, q, tenantCode, name)
	var t MessagingTemplate
	var variables []byte
	if err := row.Scan(&t.ID, &t.TenantCode, &t.Name, &t.Language, &variables, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("crm: get template: %w", err)
	}
	if err := json.Unmarshal(variables, &t.Variables); err != nil {
		return nil, fmt.Errorf("crm: unmarshal template variables: %w", err)
	}
	return &t, nil
}

// ---------------------------------------------------------------------------
// Conversations and messages
// ---------------------------------------------------------------------------

// EnsureConversation returns a (tenantCode, phone) conversation, creating one
// if it does not yet exist.
func (r *Repo) EnsureConversation(ctx context.Context, tenantCode, phone, leadID string) (*Conversation, error) {
	const getQ = `SELECT id, tenant_code, phone, lead_id, created_at, updated_at FROM conversations WHERE tenant_code = $1 AND phone = $2`
	row := r.db.QueryRowContext(ctx, getQ, tenantCode, phone)
	var c Conversation
	err := row.Scan(&c.ID, &c.TenantCode, &c.Phone, &c.LeadID, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return &c, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("crm: get conversation: %w", err)
	}

	now := time.Now()
	c = Conversation{ID: uuid.NewString(), TenantCode: tenantCode, Phone: phone, LeadID: leadID, CreatedAt: now, UpdatedAt: now}
	const insQ = `INSERT INTO conversations (id, tenant_code, phone, lead_id, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$5)`
	if _, err := r.db.ExecContext(ctx, insQ, c.ID, c.TenantCode, c.Phone, c.LeadID, now); err != nil {
		return nil, fmt.Errorf("crm: create conversation: %w", err)
	}
	return &c, nil
}

// CreateMessage records a message within a conversation.
func (r *Repo) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	const q = `
		INSERT INTO messages (id, tenant_code, conversation_id, direction, status, template_name, body, provider_message_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := r.db.ExecContext(ctx, q, msg.ID, msg.TenantCode, msg.ConversationID, msg.Direction, msg.Status,
		msg.TemplateName, msg.Body, msg.ProviderMessageID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("crm: create message: %w", err)
	}
	return nil
}

// LogActivity appends a free-form activity note against a lead (assignment
// changes, provider failures surfaced from inline actions).
func (r *Repo) LogActivity(ctx context.Context, tenantCode, leadID, kind, note string) error {
	const q = `INSERT INTO lead_activities (id, tenant_code, lead_id, kind, note, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.ExecContext(ctx, q, uuid.NewString(), tenantCode, leadID, kind, note, time.Now())
	if err != nil {
		return fmt.Errorf("crm: log activity: %w", err)
	}
	return nil
}
