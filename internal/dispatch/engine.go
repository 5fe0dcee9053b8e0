package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"deskbot/internal/cache"
	"deskbot/internal/graph"
	"deskbot/internal/llm"
	"deskbot/internal/metrics"
	"deskbot/internal/repo"

	"log/slog"

	"github.com/google/uuid"
)

// Extractor delegates slot filling and general answers to the hosted model.
type Extractor interface {
	ExtractMeeting(ctx context.Context, text string) (*llm.MeetingSlots, error)
	ExtractPayment(ctx context.Context, text string) (*llm.PaymentSlots, error)
	Answer(ctx context.Context, text string) (string, error)
}

// Directory resolves client names against the stored directory.
type Directory interface {
	FindClientByName(ctx context.Context, name string) (*repo.Client, error)
}

// Calendar creates calendar events for booked meetings.
type Calendar interface {
	CreateEvent(ctx context.Context, req graph.EventRequest) error
}

// MessageLog records chat traffic. Failures are non-fatal to the turn.
type MessageLog interface {
	InsertMessage(ctx context.Context, msg repo.MessageRecord) error
}

const (
	turnLimit       = 20
	turnLimitWindow = 10 * time.Minute
)

// Engine routes one chat turn through intent classification, slot filling,
// directory enrichment and the calendar action. Turns are stateless; every
// error converts to a user-visible message at this boundary.
type Engine struct {
	extractor Extractor
	directory Directory
	calendar  Calendar
	log       MessageLog
	cache     *cache.Redis
	metrics   *metrics.Metrics
	logger    *slog.Logger
	lookupTTL time.Duration
}

// New creates a dispatch engine. cache and log may be nil.
func New(extractor Extractor, directory Directory, calendar Calendar, log MessageLog, cache *cache.Redis, metrics *metrics.Metrics, logger *slog.Logger, lookupTTL time.Duration) *Engine {
	return &Engine{
		extractor: extractor,
		directory: directory,
		calendar:  calendar,
		log:       log,
		cache:     cache,
		metrics:   metrics,
		logger:    logger.With("component", "dispatch"),
		lookupTTL: lookupTTL,
	}
}

// HandleTurn processes one user message and returns the formatted reply.
func (e *Engine) HandleTurn(ctx context.Context, userEmail, text string) string {
	turnID := uuid.NewString()
	intent := Classify(text)
	e.metrics.IncomingMessages.WithLabelValues(string(intent)).Inc()
	e.logger.Info("turn started", "turn_id", turnID, "intent", intent, "user", userEmail)
	e.logTurn(ctx, userEmail, "incoming", intent, text)

	var res Result
	switch intent {
	case IntentGreeting:
		res = handleGreeting(text)
	case IntentMeeting, IntentPayment, IntentGeneral:
		if !e.allowTurn(ctx, userEmail) {
			res = Result{Type: ResultGeneral, Message: "You're sending requests a bit quickly. Give me a moment and try again."}
			break
		}
		switch intent {
		case IntentMeeting:
			res = e.handleMeeting(ctx, userEmail, text)
		case IntentPayment:
			res = e.handlePayment(ctx, userEmail, text)
		default:
			res = e.handleGeneral(ctx, text)
		}
	}

	reply := FormatResponse(res)
	e.logger.Info("turn handled", "turn_id", turnID, "intent", intent, "result", res.Type)
	e.logTurn(ctx, userEmail, "outgoing", intent, reply)
	return reply
}

func (e *Engine) handleMeeting(ctx context.Context, userEmail, text string) Result {
	slots, err := e.extractor.ExtractMeeting(ctx, text)
	if err != nil {
		return e.meetingError(err)
	}

	details := &MeetingDetails{
		ClientName: slots.ClientName,
		Date:       slots.Date,
		Time:       slots.Time,
		Duration:   defaultDuration,
		Purpose:    slots.Purpose,
	}
	if slots.Duration != nil {
		details.Duration = *slots.Duration
	}

	if ve := validateDateTime(details.Date, details.Time); ve != nil {
		e.metrics.Errors.WithLabelValues("validation").Inc()
		e.logger.Debug("meeting validation failed", "field", ve.Field)
		return Result{Type: ResultError, Message: ve.Message}
	}

	if details.ClientName != nil {
		email, err := e.resolveClient(ctx, *details.ClientName)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				return Result{Type: ResultError, Message: nf.Error()}
			}
			e.metrics.Errors.WithLabelValues("directory").Inc()
			e.logger.Error("directory lookup failed", "error", err)
			return Result{Type: ResultError, Message: "Database connection failed"}
		}
		details.ClientEmail = email

		// Booking needs a resolved attendee as well as a date and time;
		// an unresolved client never reaches the calendar.
		if details.Date != nil && details.Time != nil {
			e.bookMeeting(ctx, userEmail, details)
		}
	}

	missing := missingMeetingFields(details)
	return Result{
		Type:    ResultMeeting,
		Message: meetingMessage(details, missing),
		Meeting: details,
		Missing: missing,
	}
}

func (e *Engine) bookMeeting(ctx context.Context, userEmail string, d *MeetingDetails) {
	start, err := time.Parse(dateLayout+" "+timeLayout, *d.Date+" "+*d.Time)
	if err != nil {
		d.EventStatus = fmt.Sprintf("%s: %v", eventErrorPrefix, err)
		return
	}
	end := start.Add(time.Duration(parseDurationMinutes(d.Duration)) * time.Minute)

	description := "Business Meeting"
	if d.Purpose != nil {
		description = *d.Purpose
	}

	err = e.calendar.CreateEvent(ctx, graph.EventRequest{
		OrganizerEmail: userEmail,
		AttendeeEmail:  d.ClientEmail,
		Subject:        "Meeting with " + *d.ClientName,
		Start:          start,
		End:            end,
		Description:    description,
	})
	switch {
	case err == nil:
		d.EventStatus = EventCreated
	case errors.Is(err, graph.ErrRejected):
		// Calendar failures are reported alongside the meeting summary,
		// never fatal to the turn.
		e.logger.Warn("calendar event rejected", "error", err)
		d.EventStatus = EventFailed
	default:
		e.metrics.Errors.WithLabelValues("calendar").Inc()
		e.logger.Error("calendar event creation failed", "error", err)
		d.EventStatus = fmt.Sprintf("%s: %v", eventErrorPrefix, err)
	}
}

func (e *Engine) handlePayment(ctx context.Context, userEmail, text string) Result {
	slots, err := e.extractor.ExtractPayment(ctx, text)
	if err != nil {
		return e.paymentError(err)
	}

	details := &PaymentDetails{
		UserEmail:  userEmail,
		ClientName: slots.ClientName,
		AmountDue:  slots.AmountDue,
		DueDate:    slots.DueDate,
		Purpose:    slots.Purpose,
	}

	if ve := validatePayment(details); ve != nil {
		e.metrics.Errors.WithLabelValues("validation").Inc()
		e.logger.Debug("payment validation failed", "field", ve.Field)
		return Result{Type: ResultError, Message: ve.Message}
	}

	email, err := e.resolveClient(ctx, *details.ClientName)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return Result{Type: ResultError, Message: nf.Error() + "."}
		}
		e.metrics.Errors.WithLabelValues("directory").Inc()
		e.logger.Error("directory lookup failed", "error", err)
		return Result{Type: ResultError, Message: "Database connection failed"}
	}
	details.ClientEmail = email

	msg := fmt.Sprintf("Payment reminder for %s: Due amount: %s. Due date: %s.",
		*details.ClientName, formatAmount(details.AmountDue), stringOr(details.DueDate, "not specified"))
	return Result{Type: ResultPayment, Message: msg}
}

func (e *Engine) handleGeneral(ctx context.Context, text string) Result {
	answer, err := e.extractor.Answer(ctx, text)
	if err != nil {
		e.metrics.Errors.WithLabelValues("llm").Inc()
		e.logger.Error("general query failed", "error", err)
		return Result{Type: ResultError, Message: "Error processing query: the assistant is temporarily unavailable. Please try again."}
	}
	return Result{Type: ResultGeneral, Message: answer}
}

func (e *Engine) meetingError(err error) Result {
	e.metrics.Errors.WithLabelValues("llm").Inc()
	if errors.Is(err, llm.ErrExtraction) {
		e.logger.Warn("meeting extraction unparseable", "error", err)
		return Result{Type: ResultError, Message: "Error processing meeting request: I couldn't understand the details. Could you rephrase?"}
	}
	e.logger.Error("meeting extraction failed", "error", err)
	return Result{Type: ResultError, Message: "Error processing meeting request: the assistant is temporarily unavailable. Please try again."}
}

func (e *Engine) paymentError(err error) Result {
	e.metrics.Errors.WithLabelValues("llm").Inc()
	if errors.Is(err, llm.ErrExtraction) {
		e.logger.Warn("payment extraction unparseable", "error", err)
		return Result{Type: ResultError, Message: "An error occurred: I couldn't understand the details. Could you rephrase?"}
	}
	e.logger.Error("payment extraction failed", "error", err)
	return Result{Type: ResultError, Message: "An error occurred: the assistant is temporarily unavailable. Please try again."}
}

// resolveClient returns the directory email for a client name, consulting
// the short-TTL redis cache first. Misses are never cached so a freshly
// added client is visible immediately.
func (e *Engine) resolveClient(ctx context.Context, name string) (string, error) {
	key := "dir:client:" + strings.ToLower(strings.TrimSpace(name))

	if e.cache != nil {
		if email, err := e.cache.Client().Get(ctx, key).Result(); err == nil && email != "" {
			e.metrics.DirectoryLookups.WithLabelValues("cache_hit").Inc()
			return email, nil
		}
	}

	client, err := e.directory.FindClientByName(ctx, name)
	if err != nil {
		if errors.Is(err, repo.ErrClientNotFound) {
			e.metrics.DirectoryLookups.WithLabelValues("not_found").Inc()
			return "", &NotFoundError{Name: name}
		}
		e.metrics.DirectoryLookups.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	e.metrics.DirectoryLookups.WithLabelValues("found").Inc()
	if e.cache != nil {
		if err := e.cache.Client().Set(ctx, key, client.Email, e.lookupTTL).Err(); err != nil {
			e.logger.Warn("lookup cache set failed", "error", err)
		}
	}
	return client.Email, nil
}

// allowTurn rate-limits LLM-backed turns per user over a sliding window.
func (e *Engine) allowTurn(ctx context.Context, userEmail string) bool {
	if e.cache == nil {
		return true
	}
	key := "rl:turn:" + strings.ToLower(userEmail)
	client := e.cache.Client()
	res := client.Incr(ctx, key)
	if res.Err() != nil {
		e.logger.Warn("rate limit incr failed", "error", res.Err())
		return true
	}
	if res.Val() == 1 {
		client.Expire(ctx, key, turnLimitWindow)
	}
	return res.Val() <= turnLimit
}

func (e *Engine) logTurn(ctx context.Context, userEmail, direction string, intent Intent, content string) {
	if e.log == nil {
		return
	}
	if err := e.log.InsertMessage(ctx, repo.MessageRecord{
		UserEmail: userEmail,
		Direction: direction,
		Intent:    string(intent),
		Content:   &content,
	}); err != nil {
		e.logger.Warn("failed logging message", "error", err, "direction", direction)
	}
}

// validatePayment enforces the payment reminder invariants: client name is
// required unconditionally; amount, if present, must be positive; due date,
// if present, must be a calendar date.
func validatePayment(d *PaymentDetails) *ValidationError {
	if d.ClientName == nil || strings.TrimSpace(*d.ClientName) == "" {
		return &ValidationError{Field: "client_name", Message: "Client name is required."}
	}
	if d.AmountDue != nil && *d.AmountDue <= 0 {
		return &ValidationError{Field: "amount_due", Message: "Amount due must be greater than 0."}
	}
	if d.DueDate != nil {
		if _, err := time.Parse(dateLayout, *d.DueDate); err != nil {
			return &ValidationError{Field: "due_date", Message: "Invalid date format. Use YYYY-MM-DD."}
		}
	}
	return nil
}

// meetingMessage builds the turn summary: a request for exactly the missing
// fields, or the scheduled meeting statement.
func meetingMessage(d *MeetingDetails, missing []string) string {
	if len(missing) > 0 {
		return fmt.Sprintf("I need the following information to schedule the meeting: %s.", strings.Join(missing, ", "))
	}
	msg := fmt.Sprintf("Meeting scheduled with %s on %s at %s for %s.", *d.ClientName, *d.Date, *d.Time, d.Duration)
	if d.Purpose != nil {
		msg += fmt.Sprintf(" Purpose: %s.", *d.Purpose)
	}
	return msg
}

func formatAmount(amount *float64) string {
	if amount == nil {
		return "not specified"
	}
	return strconv.FormatFloat(*amount, 'f', -1, 64)
}

func stringOr(val *string, fallback string) string {
	if val == nil {
		return fallback
	}
	return *val
}
