package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"deskbot/internal/graph"
	"deskbot/internal/llm"
	"deskbot/internal/metrics"
	"deskbot/internal/repo"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	meeting    *llm.MeetingSlots
	meetingErr error
	payment    *llm.PaymentSlots
	paymentErr error
	answer     string
	answerErr  error
}

func (f *fakeExtractor) ExtractMeeting(ctx context.Context, text string) (*llm.MeetingSlots, error) {
	return f.meeting, f.meetingErr
}

func (f *fakeExtractor) ExtractPayment(ctx context.Context, text string) (*llm.PaymentSlots, error) {
	return f.payment, f.paymentErr
}

func (f *fakeExtractor) Answer(ctx context.Context, text string) (string, error) {
	return f.answer, f.answerErr
}

type fakeDirectory struct {
	clients map[string]string
	err     error
}

func (f *fakeDirectory) FindClientByName(ctx context.Context, name string) (*repo.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	email, ok := f.clients[strings.ToLower(name)]
	if !ok {
		return nil, repo.ErrClientNotFound
	}
	return &repo.Client{Name: name, Email: email}, nil
}

type fakeCalendar struct {
	calls []graph.EventRequest
	err   error
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, req graph.EventRequest) error {
	f.calls = append(f.calls, req)
	return f.err
}

func newTestEngine(extractor Extractor, directory Directory, calendar Calendar) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New("test", prometheus.NewRegistry())
	return New(extractor, directory, calendar, nil, nil, m, logger, time.Minute)
}

func meetingSlots() *llm.MeetingSlots {
	return &llm.MeetingSlots{
		ClientName: strPtr("Acme"),
		Date:       strPtr("2024-03-01"),
		Time:       strPtr("14:00"),
		Purpose:    strPtr("review"),
	}
}

func TestHandleMeetingHappyPath(t *testing.T) {
	cal := &fakeCalendar{}
	e := newTestEngine(
		&fakeExtractor{meeting: meetingSlots()},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule a meeting with Acme on March 1st at 2pm for a review")

	assert.Contains(t, reply, "Meeting scheduled with Acme (email: a@x.com) on 2024-03-01 at 14:00 for 1 hour")
	assert.Contains(t, reply, "Purpose: review")
	assert.Contains(t, reply, "Outlook calendar event has been created")

	require.Len(t, cal.calls, 1)
	req := cal.calls[0]
	assert.Equal(t, "user@corp.com", req.OrganizerEmail)
	assert.Equal(t, "a@x.com", req.AttendeeEmail)
	assert.Equal(t, "Meeting with Acme", req.Subject)
	assert.Equal(t, "review", req.Description)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), req.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC), req.End)
}

func TestHandleMeetingDurationParsing(t *testing.T) {
	slots := meetingSlots()
	slots.Duration = strPtr("2 hours")
	cal := &fakeCalendar{}
	e := newTestEngine(
		&fakeExtractor{meeting: slots},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "book a meeting")

	assert.Contains(t, reply, "for 2 hours")
	require.Len(t, cal.calls, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC), cal.calls[0].End)
}

func TestHandleMeetingInvalidDate(t *testing.T) {
	slots := meetingSlots()
	slots.Date = strPtr("2024-13-45")
	cal := &fakeCalendar{}
	e := newTestEngine(
		&fakeExtractor{meeting: slots},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule it")

	assert.Contains(t, reply, "Sorry, an error occurred: Invalid date format: 2024-13-45")
	assert.Empty(t, cal.calls, "no calendar call after a validation failure")
}

func TestHandleMeetingClientNotFound(t *testing.T) {
	slots := meetingSlots()
	slots.ClientName = strPtr("Ghost Co")
	cal := &fakeCalendar{}
	e := newTestEngine(
		&fakeExtractor{meeting: slots},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule a meeting with Ghost Co")

	assert.Contains(t, reply, "Client 'Ghost Co' not found")
	assert.Empty(t, cal.calls, "no event creation for an unresolved client")
}

func TestHandleMeetingDirectoryUnreachable(t *testing.T) {
	e := newTestEngine(
		&fakeExtractor{meeting: meetingSlots()},
		&fakeDirectory{err: fmt.Errorf("dial tcp: connection refused")},
		&fakeCalendar{},
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule a meeting with Acme")

	assert.Equal(t, "Sorry, an error occurred: Database connection failed", reply)
}

func TestHandleMeetingMissingPurpose(t *testing.T) {
	slots := meetingSlots()
	slots.Purpose = nil
	cal := &fakeCalendar{}
	e := newTestEngine(
		&fakeExtractor{meeting: slots},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	res := e.handleMeeting(context.Background(), "user@corp.com", "schedule a meeting with Acme")

	assert.Equal(t, []string{"purpose"}, res.Missing)
	// Booking still proceeds with the default description.
	require.Len(t, cal.calls, 1)
	assert.Equal(t, "Business Meeting", cal.calls[0].Description)
}

func TestHandleMeetingMissingDateSkipsBooking(t *testing.T) {
	slots := meetingSlots()
	slots.Date = nil
	cal := &fakeCalendar{}
	e := newTestEngine(
		&fakeExtractor{meeting: slots},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule a meeting with Acme")

	assert.Equal(t, "I need the following information to schedule the meeting: date", reply)
	assert.Empty(t, cal.calls)
}

func TestHandleMeetingCalendarRejected(t *testing.T) {
	cal := &fakeCalendar{err: fmt.Errorf("%w: status=400", graph.ErrRejected)}
	e := newTestEngine(
		&fakeExtractor{meeting: meetingSlots()},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule a meeting with Acme")

	// The calendar failure is reported alongside the rest of the summary.
	assert.Contains(t, reply, "Meeting scheduled with Acme")
	assert.Contains(t, reply, "Note: Failed to create Outlook calendar event.")
}

func TestHandleMeetingCalendarError(t *testing.T) {
	cal := &fakeCalendar{err: errors.New("token endpoint unreachable")}
	e := newTestEngine(
		&fakeExtractor{meeting: meetingSlots()},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule a meeting with Acme")

	assert.Contains(t, reply, "Meeting scheduled with Acme")
	assert.Contains(t, reply, "Note: Error creating calendar event - error: token endpoint unreachable")
}

func TestHandleMeetingExtractionError(t *testing.T) {
	e := newTestEngine(
		&fakeExtractor{meetingErr: fmt.Errorf("%w: parse reply json", llm.ErrExtraction)},
		&fakeDirectory{},
		&fakeCalendar{},
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "schedule a meeting")

	assert.Contains(t, reply, "Sorry, an error occurred: Error processing meeting request")
}

func TestHandlePayment(t *testing.T) {
	amount := 250.0
	slots := &llm.PaymentSlots{
		ClientName: strPtr("Acme"),
		AmountDue:  &amount,
		DueDate:    strPtr("2024-04-01"),
	}
	e := newTestEngine(
		&fakeExtractor{payment: slots},
		&fakeDirectory{clients: map[string]string{"acme": "a@x.com"}},
		&fakeCalendar{},
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "payment reminder for Acme, 250 due April 1st")

	assert.Equal(t, "Payment reminder for Acme: Due amount: 250. Due date: 2024-04-01.", reply)
}

func TestHandlePaymentClientNameRequired(t *testing.T) {
	e := newTestEngine(
		&fakeExtractor{payment: &llm.PaymentSlots{}},
		&fakeDirectory{},
		&fakeCalendar{},
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "send a payment reminder")

	assert.Equal(t, "Sorry, an error occurred: Client name is required.", reply)
}

func TestHandlePaymentClientNotFound(t *testing.T) {
	e := newTestEngine(
		&fakeExtractor{payment: &llm.PaymentSlots{ClientName: strPtr("Ghost Co")}},
		&fakeDirectory{clients: map[string]string{}},
		&fakeCalendar{},
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "payment reminder for Ghost Co")

	assert.Contains(t, reply, "Client 'Ghost Co' not found.")
}

func TestHandleGeneralQuery(t *testing.T) {
	e := newTestEngine(
		&fakeExtractor{answer: "The capital of France is Paris."},
		&fakeDirectory{},
		&fakeCalendar{},
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "what is the capital of France?")

	assert.Equal(t, "The capital of France is Paris.", reply)
}

func TestHandleTurnGreetingSkipsExternals(t *testing.T) {
	cal := &fakeCalendar{}
	e := newTestEngine(
		&fakeExtractor{meetingErr: errors.New("should not be called")},
		&fakeDirectory{err: errors.New("should not be called")},
		cal,
	)

	reply := e.HandleTurn(context.Background(), "user@corp.com", "hey")

	assert.Equal(t, "Hey! What can I do for you?", reply)
	assert.Empty(t, cal.calls)
}
