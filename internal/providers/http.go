package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPMessagingProvider calls a generic messaging-gateway HTTP API using a
// tenant's decrypted API token and phone identifier. The exact vendor
// wire format is deliberately not modeled — only the shape this core needs
// to drive it.
type HTTPMessagingProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPMessagingProvider builds a messaging provider against baseURL.
func NewHTTPMessagingProvider(baseURL string) *HTTPMessagingProvider {
	return &HTTPMessagingProvider{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type messagingSendRequest struct {
	To        string   `json:"to"`
	Template  string   `json:"template"`
	Language  string   `json:"language"`
	Variables []string `json:"variables"`
}

type messagingSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// SendTemplated implements MessagingProvider.
func (p *HTTPMessagingProvider) SendTemplated(ctx context.Context, tenantCode, to, templateName, language string, variables []string) (*MessagingResult, error) {
	body, err := json.Marshal(messagingSendRequest{To: to, Template: templateName, Language: language, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("providers: marshal messaging request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("providers: build messaging request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Code", tenantCode)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return &MessagingResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	var out messagingSendResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &MessagingResult{Success: true, ProviderMessageID: out.MessageID}, nil
	}
	if out.Error == "" {
		out.Error = fmt.Sprintf("messaging gateway returned status %d", resp.StatusCode)
	}
	return &MessagingResult{Success: false, Error: out.Error}, nil
}

// HTTPEmailProvider sends mail through a generic SMTP-relay HTTP gateway.
type HTTPEmailProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPEmailProvider builds an email provider against baseURL.
func NewHTTPEmailProvider(baseURL string) *HTTPEmailProvider {
	return &HTTPEmailProvider{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type emailSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// SendEmail implements EmailProvider.
func (p *HTTPEmailProvider) SendEmail(ctx context.Context, tenantCode string, msg EmailMessage) (*EmailResult, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("providers: build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Code", tenantCode)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return &EmailResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	var out emailSendResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &EmailResult{Success: true, MessageID: out.MessageID}, nil
	}
	if out.Error == "" {
		out.Error = fmt.Sprintf("smtp gateway returned status %d", resp.StatusCode)
	}
	return &EmailResult{Success: false, Error: out.Error}, nil
}

// HTTPCalendarProvider creates meetings through a generic calendar HTTP
// gateway (e.g. a Google Calendar proxy).
type HTTPCalendarProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPCalendarProvider builds a calendar provider against baseURL.
func NewHTTPCalendarProvider(baseURL string) *HTTPCalendarProvider {
	return &HTTPCalendarProvider{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type meetingCreateResponse struct {
	HangoutLink string `json:"hangout_link"`
	EventID     string `json:"event_id"`
	Error       string `json:"error"`
}

// CreateMeeting implements CalendarProvider.
func (p *HTTPCalendarProvider) CreateMeeting(ctx context.Context, tenantCode string, req MeetingRequest) (*MeetingResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal meeting request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("providers: build meeting request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-Code", tenantCode)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return &MeetingResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	var out meetingCreateResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &MeetingResult{Success: true, HangoutLink: out.HangoutLink, EventID: out.EventID}, nil
	}
	if out.Error == "" {
		out.Error = fmt.Sprintf("calendar gateway returned status %d", resp.StatusCode)
	}
	return &MeetingResult{Success: false, Error: out.Error}, nil
}
