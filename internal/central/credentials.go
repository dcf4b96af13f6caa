package central

import (
	"context"

	"github.com/ocx/crm-automation/internal/cryptoutil"
	"github.com/ocx/crm-automation/internal/providers"
)

// SecretsCalendarSource adapts the clientsecrets table to the calendar
// provider's credential source: it reads the tenant's encrypted calendar
// OAuth fields and decrypts them on the way out.
type SecretsCalendarSource struct {
	Store  *Store
	Cipher *cryptoutil.Cipher
}

// CalendarCredentials implements providers.CalendarCredentialSource.
func (s *SecretsCalendarSource) CalendarCredentials(ctx context.Context, tenantCode string) (*providers.CalendarCredentials, error) {
	secrets, err := s.Store.GetSecrets(ctx, tenantCode)
	if err != nil {
		return nil, err
	}
	if secrets == nil {
		return nil, nil
	}
	dec, err := secrets.Decrypted(s.Cipher)
	if err != nil {
		return nil, err
	}
	return &providers.CalendarCredentials{
		ClientID:     dec.CalendarClientID,
		ClientSecret: dec.CalendarClientSecret,
		RefreshToken: dec.CalendarRefreshToken,
	}, nil
}

var _ providers.CalendarCredentialSource = (*SecretsCalendarSource)(nil)
