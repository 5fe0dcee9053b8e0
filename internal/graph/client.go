package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"deskbot/internal/metrics"

	"log/slog"

	"github.com/google/uuid"
)

const (
	defaultLoginBase = "https://login.microsoftonline.com"
	defaultAPIBase   = "https://graph.microsoft.com/v1.0"
	defaultScope     = "https://graph.microsoft.com/.default"
)

// Client creates Outlook calendar events through the Microsoft Graph API
// using the client-credentials flow.
type Client struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	loginBase  string
	apiBase    string
	tenantID   string
	clientID   string
	secret     string
	timeout    time.Duration

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

// Config holds Graph client configuration.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// LoginBaseURL and APIBaseURL override the Microsoft endpoints, used by tests.
	LoginBaseURL string
	APIBaseURL   string
}

// New creates a Graph client.
func New(logger *slog.Logger, metrics *metrics.Metrics, cfg Config) *Client {
	loginBase := cfg.LoginBaseURL
	if loginBase == "" {
		loginBase = defaultLoginBase
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		logger:     logger.With("component", "graph"),
		metrics:    metrics,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		loginBase:  strings.TrimRight(loginBase, "/"),
		apiBase:    strings.TrimRight(apiBase, "/"),
		tenantID:   cfg.TenantID,
		clientID:   cfg.ClientID,
		secret:     cfg.ClientSecret,
		timeout:    cfg.Timeout,
	}
}

// EventRequest describes one calendar event to create.
type EventRequest struct {
	OrganizerEmail string
	AttendeeEmail  string
	Subject        string
	Start          time.Time
	End            time.Time
	Description    string
}

// ErrRejected marks an event Graph refused to create, as opposed to a
// transport or auth failure.
var ErrRejected = errors.New("graph rejected event")

var errTokenRejected = errors.New("graph token request rejected")

// CreateEvent creates the event on the organizer's calendar. A nil error
// means Graph accepted the event (HTTP 201).
func (c *Client) CreateEvent(ctx context.Context, req EventRequest) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		c.metrics.CalendarEvents.WithLabelValues("error").Inc()
		return fmt.Errorf("acquire token: %w", err)
	}

	payload := eventPayload{
		Subject: req.Subject,
		Body: eventBody{
			ContentType: "HTML",
			Content:     req.Description,
		},
		Start: eventTime{
			DateTime: req.Start.UTC().Format("2006-01-02T15:04:05"),
			TimeZone: "UTC",
		},
		End: eventTime{
			DateTime: req.End.UTC().Format("2006-01-02T15:04:05"),
			TimeZone: "UTC",
		},
		Attendees: []eventAttendee{
			{
				EmailAddress: emailAddress{Address: req.AttendeeEmail},
				Type:         "required",
			},
		},
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/users/%s/calendar/events", c.apiBase, url.PathEscape(req.OrganizerEmail))
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("client-request-id", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.CalendarEvents.WithLabelValues("error").Inc()
		return fmt.Errorf("graph http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		c.metrics.CalendarEvents.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: status=%d body=%s", ErrRejected, resp.StatusCode, string(respBody))
	}

	c.metrics.CalendarEvents.WithLabelValues("created").Inc()
	c.logger.Debug("calendar event created", "organizer", req.OrganizerEmail, "attendee", req.AttendeeEmail)
	return nil
}

// accessToken returns a cached client-credentials token, refreshing it when
// it is within a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedToken != "" && time.Now().Before(c.tokenExpiry.Add(-1*time.Minute)) {
		return c.cachedToken, nil
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.secret)
	form.Set("scope", defaultScope)
	form.Set("grant_type", "client_credentials")

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginBase, url.PathEscape(c.tenantID))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status=%d body=%s", errTokenRejected, resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", errTokenRejected)
	}

	c.cachedToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.cachedToken, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type eventPayload struct {
	Subject   string          `json:"subject"`
	Body      eventBody       `json:"body"`
	Start     eventTime       `json:"start"`
	End       eventTime       `json:"end"`
	Attendees []eventAttendee `json:"attendees"`
}

type eventBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventAttendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type"`
}

type emailAddress struct {
	Address string `json:"address"`
}
