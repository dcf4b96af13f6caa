package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/crm-automation/internal/apierr"
	"github.com/ocx/crm-automation/internal/central"
)

// createClientInput is the admin provisioning request: a new tenant plus
// the connection string its own isolated database lives at.
type createClientInput struct {
	TenantCode       string `json:"tenantCode"`
	Name             string `json:"name"`
	ConnectionString string `json:"connectionString"`
}

type createClientResponse struct {
	TenantCode string `json:"tenantCode"`
	APIKey     string `json:"apiKey"`
}

// handleCreateClient provisions a new tenant: a Tenant row, its encrypted
// connection source, and a freshly issued API key. The full key is returned
// exactly once — it is never recoverable afterward.
func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var in createClientInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CLIENT", "malformed request body")
		return
	}
	if in.TenantCode == "" || in.Name == "" || in.ConnectionString == "" {
		writeError(w, http.StatusBadRequest, "INVALID_CLIENT", "tenantCode, name, and connectionString are required")
		return
	}

	tenant := &central.Tenant{
		TenantCode: in.TenantCode,
		Name:       in.Name,
		Status:     "TRIAL",
	}
	if err := s.central.CreateTenant(r.Context(), tenant); err != nil {
		writeAPIErr(w, apierr.Internal("TENANT_CREATE_FAILED", err))
		return
	}

	encrypted, err := s.cipher.EncryptString(in.ConnectionString)
	if err != nil {
		writeAPIErr(w, apierr.Internal("CONNECTION_ENCRYPT_FAILED", err))
		return
	}
	src := &central.TenantConnectionSource{
		TenantCode:       in.TenantCode,
		ConnectionString: encrypted,
		Active:           true,
	}
	if err := s.central.UpsertConnectionSource(r.Context(), src); err != nil {
		writeAPIErr(w, apierr.Internal("CONNECTION_SOURCE_FAILED", err))
		return
	}

	_, fullKey, err := s.central.IssueAPIKey(r.Context(), in.TenantCode, "default")
	if err != nil {
		writeAPIErr(w, apierr.Internal("API_KEY_ISSUE_FAILED", err))
		return
	}

	writeJSON(w, http.StatusCreated, createClientResponse{TenantCode: in.TenantCode, APIKey: fullKey})
}

// upsertSecretsInput carries a tenant's per-integration credentials in
// plaintext; every field is encrypted before it touches the store.
type upsertSecretsInput struct {
	MessagingAPIToken        string `json:"messagingApiToken"`
	MessagingPhoneIdentifier string `json:"messagingPhoneIdentifier"`
	MessagingWebhookToken    string `json:"messagingWebhookToken"`
	CalendarClientID         string `json:"calendarClientId"`
	CalendarClientSecret     string `json:"calendarClientSecret"`
	CalendarRefreshToken     string `json:"calendarRefreshToken"`
	SMTPHost                 string `json:"smtpHost"`
	SMTPUser                 string `json:"smtpUser"`
	SMTPPassword             string `json:"smtpPassword"`
	HMACWebhookSecret        string `json:"hmacWebhookSecret"`
}

// handleUpsertSecrets encrypts and stores every integration credential for
// the tenant named in the route, replacing whatever was there before.
func (s *Server) handleUpsertSecrets(w http.ResponseWriter, r *http.Request) {
	tenantCode := mux.Vars(r)["code"]

	var in upsertSecretsInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SECRETS", "malformed request body")
		return
	}

	plain := [10]string{
		in.MessagingAPIToken, in.MessagingPhoneIdentifier, in.MessagingWebhookToken,
		in.CalendarClientID, in.CalendarClientSecret, in.CalendarRefreshToken,
		in.SMTPHost, in.SMTPUser, in.SMTPPassword, in.HMACWebhookSecret,
	}
	enc := make([]string, len(plain))
	for i, v := range plain {
		c, err := s.cipher.EncryptString(v)
		if err != nil {
			writeAPIErr(w, apierr.Internal("SECRETS_ENCRYPT_FAILED", err))
			return
		}
		enc[i] = c
	}

	secrets := &central.TenantSecrets{
		TenantCode:               tenantCode,
		MessagingAPIToken:        enc[0],
		MessagingPhoneIdentifier: enc[1],
		MessagingWebhookToken:    enc[2],
		CalendarClientID:         enc[3],
		CalendarClientSecret:     enc[4],
		CalendarRefreshToken:     enc[5],
		SMTPHost:                 enc[6],
		SMTPUser:                 enc[7],
		SMTPPassword:             enc[8],
		HMACWebhookSecret:        enc[9],
	}
	if err := s.central.UpsertSecrets(r.Context(), secrets); err != nil {
		writeAPIErr(w, apierr.Internal("SECRETS_UPSERT_FAILED", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"tenantCode": tenantCode, "status": "updated"})
}
