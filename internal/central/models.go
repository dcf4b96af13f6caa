// Package central implements the control-plane store: the one
// shared Supabase-backed collection set that maps tenants to their
// connection strings and secrets, and holds the cross-tenant Job, EventLog
// and CallbackLog records.
package central

import (
	"time"

	"github.com/ocx/crm-automation/internal/cryptoutil"
)

// Tenant is the control-plane record for a customer of the platform.
type Tenant struct {
	TenantCode string `json:"tenant_code"`
	APIKey     string `json:"api_key"`
	Name       string `json:"name"`
	Status     string `json:"status"` // ACTIVE, TRIAL, SUSPENDED, CANCELLED
	CreatedAt  string `json:"created_at,omitempty"`
}

// IsUsable reports whether the tenant may accept traffic, per
// TenantManager.LoadTenant's ACTIVE/TRIAL check.
func (t *Tenant) IsUsable() bool {
	return t.Status == "ACTIVE" || t.Status == "TRIAL"
}

// TenantConnectionSource is the source of truth for how to reach a
// tenant's own data store. ConnectionString is encrypted at rest.
type TenantConnectionSource struct {
	TenantCode       string `json:"tenant_code"`
	ConnectionString string `json:"connection_string"` // ciphertext
	Active           bool   `json:"active"`
}

// Decrypted returns the plaintext connection string.
func (s *TenantConnectionSource) Decrypted(c *cryptoutil.Cipher) (string, error) {
	return c.DecryptString(s.ConnectionString)
}

// TenantSecrets holds every per-integration credential for a tenant,
// encrypted at rest. Decrypted returns a plaintext copy of all of them.
type TenantSecrets struct {
	TenantCode string `json:"tenant_code"`

	MessagingAPIToken         string `json:"messaging_api_token"`
	MessagingPhoneIdentifier  string `json:"messaging_phone_identifier"`
	MessagingWebhookToken     string `json:"messaging_webhook_token"`

	CalendarClientID         string `json:"calendar_client_id"`
	CalendarClientSecret     string `json:"calendar_client_secret"`
	CalendarRefreshToken     string `json:"calendar_refresh_token"`

	SMTPHost     string `json:"smtp_host"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`

	HMACWebhookSecret string `json:"hmac_webhook_secret"`
}

// Decrypted decrypts every credential field against the given cipher and
// returns the plaintext struct. The stored struct itself is left
// untouched — callers get a plaintext copy, not a mutated ciphertext record.
func (s *TenantSecrets) Decrypted(c *cryptoutil.Cipher) (*DecryptedSecrets, error) {
	dec := &DecryptedSecrets{TenantCode: s.TenantCode}
	fields := []struct {
		enc *string
		dst *string
	}{
		{&s.MessagingAPIToken, &dec.MessagingAPIToken},
		{&s.MessagingPhoneIdentifier, &dec.MessagingPhoneIdentifier},
		{&s.MessagingWebhookToken, &dec.MessagingWebhookToken},
		{&s.CalendarClientID, &dec.CalendarClientID},
		{&s.CalendarClientSecret, &dec.CalendarClientSecret},
		{&s.CalendarRefreshToken, &dec.CalendarRefreshToken},
		{&s.SMTPHost, &dec.SMTPHost},
		{&s.SMTPUser, &dec.SMTPUser},
		{&s.SMTPPassword, &dec.SMTPPassword},
		{&s.HMACWebhookSecret, &dec.HMACWebhookSecret},
	}
	for _, f := range fields {
		plain, err := c.DecryptString(*f.enc)
		if err != nil {
			return nil, err
		}
		*f.dst = plain
	}
	return dec, nil
}

// DecryptedSecrets is the plaintext view of TenantSecrets, handed to
// provider clients. It is never persisted.
type DecryptedSecrets struct {
	TenantCode string

	MessagingAPIToken        string
	MessagingPhoneIdentifier string
	MessagingWebhookToken    string

	CalendarClientID     string
	CalendarClientSecret string
	CalendarRefreshToken string

	SMTPHost     string
	SMTPUser     string
	SMTPPassword string

	HMACWebhookSecret string
}

// JobStatus is one state in a Job's lifecycle.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a durable unit of deferred work in the single central jobs
// collection shared by every tenant.
type Job struct {
	ID          string
	QueueName   string
	Data        JobData
	Priority    int
	RunAt       time.Time
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
}

// JobData is the opaque envelope every job carries:
// {tenantCode, type, payload}.
type JobData struct {
	TenantCode string                 `json:"tenantCode"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
}

// Recognized job types.
const (
	JobTypeAutomationEvent  = "crm.automation_event"
	JobTypeAutomationAction = "crm.automation_action"
	JobTypeEmail            = "crm.email"
	JobTypeMeeting           = "crm.meeting"
	JobTypeReminder          = "crm.reminder"
	JobTypeScoreRefresh      = "crm.score_refresh"
	JobTypeWebhookNotify     = "crm.webhook_notify"
	JobTypeWhatsAppBroadcast = "crm.whatsapp_broadcast"
)

// EventLogStatus is one state in an EventLog's lifecycle.
type EventLogStatus string

const (
	EventReceived   EventLogStatus = "received"
	EventProcessing EventLogStatus = "processing"
	EventCompleted  EventLogStatus = "completed"
	EventFailed     EventLogStatus = "failed"
)

// EventLog is the per-trigger audit record.
type EventLog struct {
	ID             string                 `json:"id,omitempty"`
	TenantCode     string                 `json:"tenant_code"`
	Trigger        string                 `json:"trigger"`
	Phone          string                 `json:"phone"`
	Email          string                 `json:"email,omitempty"`
	Status         EventLogStatus         `json:"status"`
	Payload        map[string]interface{} `json:"payload"`
	RulesMatched   int                    `json:"rules_matched"`
	JobsCreated    int                    `json:"jobs_created"`
	MeetLink       string                 `json:"meet_link,omitempty"`
	CallbackURL    string                 `json:"callback_url,omitempty"`
	CallbackStatus string                 `json:"callback_status,omitempty"`
	Error          string                 `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at,omitempty"`
}

// CallbackLog records one outbound HMAC-signed callback delivery attempt.
type CallbackLog struct {
	ID               string    `json:"id,omitempty"`
	TenantCode       string    `json:"tenant_code"`
	EventLogID       string    `json:"event_log_id,omitempty"`
	CallbackURL      string    `json:"callback_url"`
	Attempt          int       `json:"attempt"`
	HTTPStatus       int       `json:"http_status,omitempty"`
	ResponseSnippet  string    `json:"response_snippet,omitempty"`
	SignatureHeader  string    `json:"signature_header,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}
