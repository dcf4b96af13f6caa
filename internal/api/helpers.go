package api

import (
	"context"

	"github.com/ocx/crm-automation/internal/apierr"
	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/crm"
)

// repoForTenant resolves tenantCode's live connection through the registry
// and wraps it in a crm.Repo. A dial failure (no provisioned connection
// source, or the database is unreachable) classifies as NotProvisioned
// rather than Internal — it's a tenant configuration problem, not a bug.
func (s *Server) repoForTenant(ctx context.Context, tenantCode string) (*crm.Repo, *apierr.Error) {
	conn, err := s.registry.Resolve(ctx, tenantCode)
	if err != nil {
		return nil, apierr.NotProvisioned("TENANT_NOT_PROVISIONED", err.Error())
	}
	return crm.NewRepo(conn.DB), nil
}

// decryptedSecrets loads and decrypts tenantCode's credential set. A tenant
// with no secrets row yet gets an all-empty DecryptedSecrets rather than an
// error — providers simply report NotProvisioned when they try to use it.
func (s *Server) decryptedSecrets(ctx context.Context, tenantCode string) (*central.DecryptedSecrets, error) {
	secrets, err := s.central.GetSecrets(ctx, tenantCode)
	if err != nil {
		return nil, err
	}
	if secrets == nil {
		return &central.DecryptedSecrets{TenantCode: tenantCode}, nil
	}
	return secrets.Decrypted(s.cipher)
}
