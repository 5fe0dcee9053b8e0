package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deskbot/internal/metrics"

	"log/slog"
)

const (
	groqAPIBase  = "https://api.groq.com/openai/v1"
	providerName = "groq"
)

// Client communicates with the Groq chat-completions API to perform slot
// extraction and answer general queries.
type Client struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
}

// Config holds LLM client configuration.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the Groq endpoint, used by tests.
	BaseURL string
}

// New creates a Groq client.
func New(logger *slog.Logger, metrics *metrics.Metrics, cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = groqAPIBase
	}
	return &Client{
		logger:     logger.With("component", "llm"),
		metrics:    metrics,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
	}
}

// MeetingSlots is the fixed shape extracted from a meeting request. Every
// field is nullable until validated downstream.
type MeetingSlots struct {
	ClientName *string
	Date       *string
	Time       *string
	Duration   *string
	Purpose    *string
}

// PaymentSlots is the fixed shape extracted from a payment reminder request.
type PaymentSlots struct {
	ClientName *string
	AmountDue  *float64
	DueDate    *string
	Purpose    *string
}

// ErrExtraction marks replies that could not be parsed into the expected
// JSON object, or extraction calls that failed outright.
var ErrExtraction = errors.New("extraction failed")

// ExtractMeeting asks the model for meeting fields from free text.
func (c *Client) ExtractMeeting(ctx context.Context, text string) (*MeetingSlots, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant that extracts meeting details and returns them in JSON format."},
			{Role: "user", Content: meetingExtractionPrompt(text)},
		},
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	fields, err := c.extractObject(ctx, payload)
	if err != nil {
		return nil, err
	}

	slots := &MeetingSlots{
		ClientName: stringField(fields, "client_name"),
		Date:       stringField(fields, "date"),
		Time:       stringField(fields, "time"),
		Duration:   stringField(fields, "duration"),
		Purpose:    stringField(fields, "purpose"),
	}
	c.logger.Debug("meeting slots extracted",
		"has_client", slots.ClientName != nil,
		"has_date", slots.Date != nil,
		"has_time", slots.Time != nil)
	return slots, nil
}

// ExtractPayment asks the model for payment reminder fields from free text.
func (c *Client) ExtractPayment(ctx context.Context, text string) (*PaymentSlots, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant that extracts payment reminder details."},
			{Role: "user", Content: paymentExtractionPrompt(text)},
		},
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	fields, err := c.extractObject(ctx, payload)
	if err != nil {
		return nil, err
	}

	slots := &PaymentSlots{
		ClientName: stringField(fields, "client_name"),
		AmountDue:  numberField(fields, "amount_due"),
		DueDate:    stringField(fields, "due_date"),
		Purpose:    stringField(fields, "purpose"),
	}
	c.logger.Debug("payment slots extracted",
		"has_client", slots.ClientName != nil,
		"has_amount", slots.AmountDue != nil)
	return slots, nil
}

// Answer passes a general question through to the model and returns the
// completion verbatim.
func (c *Client) Answer(ctx context.Context, text string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant. Provide clear and concise answers."},
			{Role: "user", Content: text},
		},
		Temperature: 0.7,
	}

	reply, err := c.call(ctx, payload)
	if err != nil {
		return "", err
	}
	c.metrics.LLMRequests.WithLabelValues("success").Inc()
	return strings.TrimSpace(reply), nil
}

// extractObject performs a completion call and parses the reply as a single
// JSON object. Individual fields that are missing or mistyped are handled by
// the field helpers; only an unparseable body is an extraction error.
func (c *Client) extractObject(ctx context.Context, payload chatRequest) (map[string]any, error) {
	reply, err := c.call(ctx, payload)
	if err != nil {
		return nil, err
	}
	c.metrics.LLMRequests.WithLabelValues("success").Inc()

	normalised := normaliseJSON(reply)

	var fields map[string]any
	if err := json.Unmarshal([]byte(normalised), &fields); err != nil {
		c.metrics.Errors.WithLabelValues("llm").Inc()
		snippet := reply
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("%w: parse reply json: %v (snippet=%q)", ErrExtraction, err, snippet)
	}
	return fields, nil
}

func meetingExtractionPrompt(userInput string) string {
	var sb strings.Builder
	sb.WriteString("Extract meeting information from the user's request.\n")
	sb.WriteString("Follow these rules strictly:\n")
	sb.WriteString("1. If client_name, date, time, or purpose is missing, set them as null\n")
	sb.WriteString("2. Format date as YYYY-MM-DD\n")
	sb.WriteString("3. Format time as HH:MM in 24-hour format\n")
	sb.WriteString("4. If duration is not specified, set it as null\n")
	sb.WriteString("5. Extract purpose as a clear, concise statement\n\n")
	sb.WriteString("Respond ONLY with a JSON object containing these fields:\n")
	sb.WriteString("- client_name: string or null\n")
	sb.WriteString("- date: string (YYYY-MM-DD) or null\n")
	sb.WriteString("- time: string (HH:MM) or null\n")
	sb.WriteString("- duration: string or null\n")
	sb.WriteString("- purpose: string or null\n\n")
	sb.WriteString("User request: ")
	sb.WriteString(userInput)
	return sb.String()
}

func paymentExtractionPrompt(userInput string) string {
	var sb strings.Builder
	sb.WriteString("Extract payment reminder information from the user's request.\n")
	sb.WriteString("Follow these rules strictly:\n")
	sb.WriteString("1. If client_name, amount_due, due_date, or purpose is missing, set them as null.\n")
	sb.WriteString("2. Format due_date as YYYY-MM-DD.\n")
	sb.WriteString("3. Extract amount_due as a numeric value or null.\n")
	sb.WriteString("4. Extract purpose as a clear, concise statement.\n\n")
	sb.WriteString("Respond ONLY with a JSON object containing these fields:\n")
	sb.WriteString("- client_name: string or null\n")
	sb.WriteString("- amount_due: number or null\n")
	sb.WriteString("- due_date: string (YYYY-MM-DD) or null\n")
	sb.WriteString("- purpose: string or null\n\n")
	sb.WriteString("User request: ")
	sb.WriteString(userInput)
	return sb.String()
}

func (c *Client) call(ctx context.Context, payload chatRequest) (string, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.LLMRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%s http: %w", providerName, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start).Seconds()
	statusLabel := fmt.Sprintf("%d", resp.StatusCode)
	c.metrics.LLMLatency.WithLabelValues(statusLabel).Observe(latency)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return extractChoiceText(body)
	}

	c.metrics.LLMRequests.WithLabelValues("failed").Inc()
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errQuotaExceeded
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", errUnauthorised
	}
	return "", fmt.Errorf("%s request failed: status=%d body=%s", providerName, resp.StatusCode, string(body))
}

func extractChoiceText(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode %s response: %w", providerName, err)
	}
	for _, choice := range resp.Choices {
		if choice.Message.Content != "" {
			return choice.Message.Content, nil
		}
	}
	return "", fmt.Errorf("no completion text found")
}

var (
	errQuotaExceeded = errors.New("groq quota exceeded")
	errUnauthorised  = errors.New("groq unauthorised")
)

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// normaliseJSON strips markdown code fences and leading prose so the reply
// body parses as a bare JSON object.
func normaliseJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSpace(s)
		if strings.HasPrefix(strings.ToLower(s), "json") {
			if idx := strings.IndexByte(s, '\n'); idx >= 0 {
				s = s[idx+1:]
			} else {
				s = ""
			}
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		if start := strings.Index(s, "{"); start >= 0 {
			if end := strings.LastIndex(s, "}"); end >= start {
				s = s[start : end+1]
			}
		}
	}
	return strings.TrimSpace(s)
}

// stringField returns the trimmed string value at key, or nil when the key
// is absent, null, mistyped, or blank. The JSON string "null" counts as null
// since models occasionally emit it literally.
func stringField(fields map[string]any, key string) *string {
	val, ok := fields[key]
	if !ok || val == nil {
		return nil
	}
	s, ok := val.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// numberField returns the numeric value at key, accepting a numeric string
// as a fallback, or nil when absent or mistyped.
func numberField(fields map[string]any, key string) *float64 {
	val, ok := fields[key]
	if !ok || val == nil {
		return nil
	}
	switch v := val.(type) {
	case float64:
		return &v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || strings.EqualFold(trimmed, "null") {
			return nil
		}
		var f float64
		if _, err := fmt.Sscanf(trimmed, "%f", &f); err == nil {
			return &f
		}
	}
	return nil
}
