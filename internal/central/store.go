package central

import (
	"context"
	"fmt"
	"time"

	supabase "github.com/supabase-community/supabase-go"
)

// Store wraps the Supabase client with CRUD for every control-plane
// collection: clients (tenants), clientsecrets, clientdatasources,
// eventlogs, callbacklogs. Job rows live in the same Postgres project but
// are reached directly over database/sql by the queue package, since the
// claim protocol needs an atomic conditional update PostgREST does not
// expose.
type Store struct {
	client *supabase.Client
}

// NewStore creates a Store against the given Supabase project.
func NewStore(url, serviceKey string) (*Store, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("central: SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("central: new supabase client: %w", err)
	}
	return &Store{client: client}, nil
}

// ---------------------------------------------------------------------------
// Tenants ("clients" table)
// ---------------------------------------------------------------------------

// GetTenant retrieves a tenant by code. Returns (nil, nil) if absent.
func (s *Store) GetTenant(ctx context.Context, tenantCode string) (*Tenant, error) {
	var tenants []Tenant
	_, err := s.client.From("clients").
		Select("*", "", false).
		Eq("tenant_code", tenantCode).
		ExecuteTo(&tenants)
	if err != nil {
		return nil, fmt.Errorf("central: get tenant: %w", err)
	}
	if len(tenants) == 0 {
		return nil, nil
	}
	return &tenants[0], nil
}

// GetTenantByAPIKey looks a tenant up by its raw API key.
func (s *Store) GetTenantByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	var tenants []Tenant
	_, err := s.client.From("clients").
		Select("*", "", false).
		Eq("api_key", apiKey).
		ExecuteTo(&tenants)
	if err != nil {
		return nil, fmt.Errorf("central: get tenant by api key: %w", err)
	}
	if len(tenants) == 0 {
		return nil, nil
	}
	return &tenants[0], nil
}

// CreateTenant inserts a new tenant row (admin provisioning).
func (s *Store) CreateTenant(ctx context.Context, t *Tenant) error {
	var result []Tenant
	_, err := s.client.From("clients").
		Insert(t, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("central: create tenant: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tenant connection sources ("clientdatasources" table)
// ---------------------------------------------------------------------------

// GetConnectionSource retrieves the active connection source for a tenant.
// Returns (nil, nil) if no active source is provisioned.
func (s *Store) GetConnectionSource(ctx context.Context, tenantCode string) (*TenantConnectionSource, error) {
	var sources []TenantConnectionSource
	_, err := s.client.From("clientdatasources").
		Select("*", "", false).
		Eq("tenant_code", tenantCode).
		Eq("active", "true").
		ExecuteTo(&sources)
	if err != nil {
		return nil, fmt.Errorf("central: get connection source: %w", err)
	}
	if len(sources) == 0 {
		return nil, nil
	}
	return &sources[0], nil
}

// UpsertConnectionSource creates or replaces a tenant's connection source.
func (s *Store) UpsertConnectionSource(ctx context.Context, src *TenantConnectionSource) error {
	var result []TenantConnectionSource
	_, err := s.client.From("clientdatasources").
		Upsert(src, "tenant_code", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("central: upsert connection source: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tenant secrets ("clientsecrets" table)
// ---------------------------------------------------------------------------

// GetSecrets retrieves the (still-encrypted) secrets row for a tenant.
func (s *Store) GetSecrets(ctx context.Context, tenantCode string) (*TenantSecrets, error) {
	var secrets []TenantSecrets
	_, err := s.client.From("clientsecrets").
		Select("*", "", false).
		Eq("tenant_code", tenantCode).
		ExecuteTo(&secrets)
	if err != nil {
		return nil, fmt.Errorf("central: get secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, nil
	}
	return &secrets[0], nil
}

// UpsertSecrets creates or replaces a tenant's secrets row. Callers must
// encrypt every field before calling this.
func (s *Store) UpsertSecrets(ctx context.Context, secrets *TenantSecrets) error {
	var result []TenantSecrets
	_, err := s.client.From("clientsecrets").
		Upsert(secrets, "tenant_code", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("central: upsert secrets: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// EventLog ("eventlogs" table)
// ---------------------------------------------------------------------------

// CreateEventLog inserts a new EventLog row and returns its generated ID.
func (s *Store) CreateEventLog(ctx context.Context, e *EventLog) (string, error) {
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	var result []EventLog
	_, err := s.client.From("eventlogs").
		Insert(e, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return "", fmt.Errorf("central: create event log: %w", err)
	}
	if len(result) == 0 {
		return "", fmt.Errorf("central: create event log: no row returned")
	}
	return result[0].ID, nil
}

// UpdateEventLog applies partial field updates to an EventLog row by ID.
func (s *Store) UpdateEventLog(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	var result []EventLog
	_, err := s.client.From("eventlogs").
		Update(fields, "", "").
		Eq("id", id).
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("central: update event log: %w", err)
	}
	return nil
}

// GetEventLogs lists EventLog rows for a tenant, newest first.
func (s *Store) GetEventLogs(ctx context.Context, tenantCode string, limit int) ([]EventLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []EventLog
	_, err := s.client.From("eventlogs").
		Select("*", "", false).
		Eq("tenant_code", tenantCode).
		Order("created_at", nil).
		Limit(limit, "").
		ExecuteTo(&logs)
	if err != nil {
		return nil, fmt.Errorf("central: get event logs: %w", err)
	}
	return logs, nil
}

// ---------------------------------------------------------------------------
// CallbackLog ("callbacklogs" table)
// ---------------------------------------------------------------------------

// CreateCallbackLog inserts a new callback delivery attempt record.
func (s *Store) CreateCallbackLog(ctx context.Context, c *CallbackLog) error {
	c.CreatedAt = time.Now()
	var result []CallbackLog
	_, err := s.client.From("callbacklogs").
		Insert(c, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("central: create callback log: %w", err)
	}
	return nil
}
