// Package providers defines the collaborator contracts required of the
// messaging, email and calendar vendor integrations. The core never speaks
// a vendor wire protocol directly — only these interfaces — so the
// WhatsApp/SMTP/calendar API details stay outside the core.
package providers

import (
	"context"
	"time"
)

// MessagingResult is the outcome of a templated send.
type MessagingResult struct {
	Success          bool
	ProviderMessageID string
	Error            string
}

// MessagingProvider sends a vendor-templated message to a phone number.
type MessagingProvider interface {
	SendTemplated(ctx context.Context, tenantCode, to, templateName, language string, variables []string) (*MessagingResult, error)
}

// EmailMessage is the content of an outbound email.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailResult is the outcome of an email send.
type EmailResult struct {
	Success   bool
	MessageID string
	Error     string
}

// EmailProvider sends email through a tenant's configured SMTP credentials.
type EmailProvider interface {
	SendEmail(ctx context.Context, tenantCode string, msg EmailMessage) (*EmailResult, error)
}

// MeetingRequest describes a calendar event to create.
type MeetingRequest struct {
	Summary   string
	Start     time.Time
	End       time.Time
	Attendees []string
}

// MeetingResult is the outcome of a calendar create call.
type MeetingResult struct {
	Success     bool
	HangoutLink string
	EventID     string
	Error       string
}

// CalendarProvider creates meetings on a tenant's connected calendar.
type CalendarProvider interface {
	CreateMeeting(ctx context.Context, tenantCode string, req MeetingRequest) (*MeetingResult, error)
}
