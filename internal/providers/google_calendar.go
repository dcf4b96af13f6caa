package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarCredentials is a tenant's decrypted Google OAuth credential set.
type CalendarCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// CalendarCredentialSource resolves a tenant's calendar credentials. The
// central secrets store (decrypted through the crypto layer) is the
// production implementation.
type CalendarCredentialSource interface {
	CalendarCredentials(ctx context.Context, tenantCode string) (*CalendarCredentials, error)
}

// GoogleCalendarProvider creates meetings on each tenant's own Google
// Calendar using that tenant's stored OAuth refresh token. Service handles
// are cached per tenant; the oauth2 TokenSource refreshes access tokens
// under the hood.
type GoogleCalendarProvider struct {
	source CalendarCredentialSource

	mu       sync.Mutex
	services map[string]*calendar.Service
}

// NewGoogleCalendarProvider builds a provider over the given credential
// source.
func NewGoogleCalendarProvider(source CalendarCredentialSource) *GoogleCalendarProvider {
	return &GoogleCalendarProvider{
		source:   source,
		services: make(map[string]*calendar.Service),
	}
}

func (p *GoogleCalendarProvider) serviceFor(ctx context.Context, tenantCode string) (*calendar.Service, error) {
	p.mu.Lock()
	if svc, ok := p.services[tenantCode]; ok {
		p.mu.Unlock()
		return svc, nil
	}
	p.mu.Unlock()

	creds, err := p.source.CalendarCredentials(ctx, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("providers: load calendar credentials: %w", err)
	}
	if creds == nil || creds.RefreshToken == "" {
		return nil, fmt.Errorf("providers: tenant %s has no calendar credentials", tenantCode)
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope},
	}
	token := &oauth2.Token{RefreshToken: creds.RefreshToken}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(conf.TokenSource(context.Background(), token)))
	if err != nil {
		return nil, fmt.Errorf("providers: build calendar service: %w", err)
	}

	p.mu.Lock()
	p.services[tenantCode] = svc
	p.mu.Unlock()
	return svc, nil
}

// Evict drops a tenant's cached service handle, forcing the next call to
// rebuild it (used after a credential rotation).
func (p *GoogleCalendarProvider) Evict(tenantCode string) {
	p.mu.Lock()
	delete(p.services, tenantCode)
	p.mu.Unlock()
}

// CreateMeeting implements CalendarProvider: it inserts a calendar event
// with a Meet conference attached and returns the join link.
func (p *GoogleCalendarProvider) CreateMeeting(ctx context.Context, tenantCode string, req MeetingRequest) (*MeetingResult, error) {
	svc, err := p.serviceFor(ctx, tenantCode)
	if err != nil {
		return &MeetingResult{Success: false, Error: err.Error()}, nil
	}

	attendees := make([]*calendar.EventAttendee, 0, len(req.Attendees))
	for _, email := range req.Attendees {
		attendees = append(attendees, &calendar.EventAttendee{Email: email})
	}

	event := &calendar.Event{
		Summary: req.Summary,
		Start:   &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
		Attendees: attendees,
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}

	created, err := svc.Events.Insert("primary", event).
		ConferenceDataVersion(1).
		Context(ctx).
		Do()
	if err != nil {
		return &MeetingResult{Success: false, Error: err.Error()}, nil
	}

	return &MeetingResult{
		Success:     true,
		HangoutLink: created.HangoutLink,
		EventID:     created.Id,
	}, nil
}

var _ CalendarProvider = (*GoogleCalendarProvider)(nil)
var _ CalendarProvider = (*HTTPCalendarProvider)(nil)
