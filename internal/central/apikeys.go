package central

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is a tenant-scoped credential. Only KeyHash is persisted; the raw
// secret is shown to the caller once, at creation time.
type APIKey struct {
	KeyID      string     `json:"key_id"`
	TenantCode string     `json:"tenant_code"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"key_hash"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// GetAPIKey looks up an APIKey row by its public key ID.
func (s *Store) GetAPIKey(ctx context.Context, keyID string) (*APIKey, error) {
	var keys []APIKey
	_, err := s.client.From("apikeys").
		Select("*", "", false).
		Eq("key_id", keyID).
		ExecuteTo(&keys)
	if err != nil {
		return nil, fmt.Errorf("central: get api key: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return &keys[0], nil
}

// CreateAPIKey inserts a new APIKey row.
func (s *Store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	key.CreatedAt = time.Now()
	var result []APIKey
	_, err := s.client.From("apikeys").
		Insert(key, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("central: create api key: %w", err)
	}
	return nil
}

// TouchAPIKey records that a key was just used.
func (s *Store) TouchAPIKey(ctx context.Context, keyID string) error {
	now := time.Now()
	var result []APIKey
	_, err := s.client.From("apikeys").
		Update(map[string]interface{}{"last_used_at": now}, "", "").
		Eq("key_id", keyID).
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("central: touch api key: %w", err)
	}
	return nil
}

// IssueAPIKey generates a new key of the form "crm_<keyID>.<secret>", hashes
// the secret with bcrypt, persists the hash, and returns the full key string
// alongside the stored record. The full key is never stored or logged.
func (s *Store) IssueAPIKey(ctx context.Context, tenantCode, name string) (*APIKey, string, error) {
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, "", fmt.Errorf("central: generate key id: %w", err)
	}
	keyID := hex.EncodeToString(idBytes)

	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("central: generate key secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	fullKey := fmt.Sprintf("crm_%s.%s", keyID, secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("central: hash key secret: %w", err)
	}

	key := &APIKey{
		KeyID:      keyID,
		TenantCode: tenantCode,
		Name:       name,
		KeyHash:    string(hash),
		IsActive:   true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, fullKey, nil
}

// ValidateAPIKey parses "crm_<keyID>.<secret>", looks up the key by ID,
// verifies the secret against its bcrypt hash, and returns the owning
// tenant if the key is active, unexpired, and the tenant is usable.
func (s *Store) ValidateAPIKey(ctx context.Context, fullKey string) (*Tenant, error) {
	if !strings.HasPrefix(fullKey, "crm_") {
		return nil, errors.New("central: invalid api key format")
	}
	parts := strings.SplitN(strings.TrimPrefix(fullKey, "crm_"), ".", 2)
	if len(parts) != 2 {
		return nil, errors.New("central: invalid api key format")
	}
	keyID, secret := parts[0], parts[1]

	key, err := s.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("central: invalid api key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)); err != nil {
		return nil, errors.New("central: invalid api key secret")
	}
	if !key.IsActive {
		return nil, errors.New("central: api key inactive")
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, errors.New("central: api key expired")
	}

	tenant, err := s.GetTenant(ctx, key.TenantCode)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, errors.New("central: tenant not found")
	}
	if !tenant.IsUsable() {
		return nil, fmt.Errorf("central: tenant is %s", tenant.Status)
	}

	_ = s.TouchAPIKey(ctx, keyID)
	return tenant, nil
}
