package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deskbot/internal/metrics"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New("test", prometheus.NewRegistry())
	return New(logger, m, Config{
		APIKey:  "test-key",
		Model:   "llama-3.1-70b-versatile",
		Timeout: 5 * time.Second,
		BaseURL: server.URL,
	})
}

func completionReply(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestExtractMeeting(t *testing.T) {
	c := newTestClient(t, completionReply(
		`{"client_name":"Acme","date":"2024-03-01","time":"14:00","duration":null,"purpose":"review"}`))

	slots, err := c.ExtractMeeting(context.Background(), "schedule a meeting with Acme")
	require.NoError(t, err)

	require.NotNil(t, slots.ClientName)
	assert.Equal(t, "Acme", *slots.ClientName)
	require.NotNil(t, slots.Date)
	assert.Equal(t, "2024-03-01", *slots.Date)
	require.NotNil(t, slots.Time)
	assert.Equal(t, "14:00", *slots.Time)
	assert.Nil(t, slots.Duration)
	require.NotNil(t, slots.Purpose)
	assert.Equal(t, "review", *slots.Purpose)
}

func TestExtractMeetingRequestShape(t *testing.T) {
	var captured chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		completionReply(`{}`)(w, r)
	})

	_, err := c.ExtractMeeting(context.Background(), "book a call with Acme")
	require.NoError(t, err)

	assert.Equal(t, "llama-3.1-70b-versatile", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[1].Content, "Format date as YYYY-MM-DD")
	assert.Contains(t, captured.Messages[1].Content, "book a call with Acme")
	assert.InDelta(t, 0.1, captured.Temperature, 0.001)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
}

func TestExtractMeetingFencedJSON(t *testing.T) {
	c := newTestClient(t, completionReply("```json\n{\"client_name\":\"Acme\"}\n```"))

	slots, err := c.ExtractMeeting(context.Background(), "meet Acme")
	require.NoError(t, err)
	require.NotNil(t, slots.ClientName)
	assert.Equal(t, "Acme", *slots.ClientName)
}

func TestExtractMeetingMistypedFieldsBecomeNil(t *testing.T) {
	// Wrong-typed individual fields are treated as null, not as failures.
	c := newTestClient(t, completionReply(
		`{"client_name":42,"date":"2024-03-01","time":null,"purpose":"null"}`))

	slots, err := c.ExtractMeeting(context.Background(), "meet someone")
	require.NoError(t, err)
	assert.Nil(t, slots.ClientName)
	require.NotNil(t, slots.Date)
	assert.Nil(t, slots.Time)
	assert.Nil(t, slots.Purpose, "literal \"null\" string counts as null")
}

func TestExtractMeetingUnparseableBody(t *testing.T) {
	c := newTestClient(t, completionReply("I couldn't find any meeting details, sorry!"))

	_, err := c.ExtractMeeting(context.Background(), "gibberish")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractPayment(t *testing.T) {
	c := newTestClient(t, completionReply(
		`{"client_name":"Acme","amount_due":199.5,"due_date":"2024-04-01","purpose":"invoice #42"}`))

	slots, err := c.ExtractPayment(context.Background(), "remind Acme about invoice #42")
	require.NoError(t, err)

	require.NotNil(t, slots.AmountDue)
	assert.InDelta(t, 199.5, *slots.AmountDue, 0.001)
	require.NotNil(t, slots.DueDate)
	assert.Equal(t, "2024-04-01", *slots.DueDate)
}

func TestExtractPaymentNumericString(t *testing.T) {
	c := newTestClient(t, completionReply(`{"client_name":"Acme","amount_due":"250"}`))

	slots, err := c.ExtractPayment(context.Background(), "remind Acme")
	require.NoError(t, err)
	require.NotNil(t, slots.AmountDue)
	assert.InDelta(t, 250, *slots.AmountDue, 0.001)
}

func TestAnswer(t *testing.T) {
	var captured chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		completionReply("  Paris is the capital of France.  ")(w, r)
	})

	answer, err := c.Answer(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", answer)
	assert.Nil(t, captured.ResponseFormat, "general queries do not force JSON output")
	assert.InDelta(t, 0.7, captured.Temperature, 0.001)
}

func TestCallErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"rate limited", http.StatusTooManyRequests},
		{"unauthorised", http.StatusUnauthorized},
		{"server error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":"nope"}`)
			})

			_, err := c.ExtractMeeting(context.Background(), "anything")
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrExtraction, "transport failures are not extraction errors")
		})
	}
}

func TestNormaliseJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normaliseJSON(tt.input))
		})
	}
}
