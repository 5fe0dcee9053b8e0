package dispatch

import (
	"fmt"
	"strings"
)

const fallbackReply = "I'm not sure how to handle that request."

// FormatResponse converts a dispatch result into the single display string
// for the turn. Pure and idempotent; an unrecognised tag yields a fixed
// fallback. The meeting branch re-derives the missing-field list from the
// detail fields instead of trusting the upstream list, so a stale or absent
// list cannot mis-render the reply.
func FormatResponse(res Result) string {
	switch res.Type {
	case ResultError:
		return "Sorry, an error occurred: " + res.Message
	case ResultGreeting:
		return res.Message
	case ResultMeeting:
		return formatMeeting(res.Meeting)
	case ResultPayment:
		return res.Message
	case ResultGeneral:
		return res.Message
	default:
		return fallbackReply
	}
}

func formatMeeting(d *MeetingDetails) string {
	if d == nil {
		return fallbackReply
	}

	var missing []string
	if d.ClientName == nil {
		missing = append(missing, "client name")
	}
	if d.Date == nil {
		missing = append(missing, "date")
	}
	if d.Time == nil {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return fmt.Sprintf("I need the following information to schedule the meeting: %s", strings.Join(missing, ", "))
	}

	var sb strings.Builder
	sb.WriteString("Meeting scheduled with ")
	sb.WriteString(*d.ClientName)
	if d.ClientEmail != "" {
		sb.WriteString(fmt.Sprintf(" (email: %s)", d.ClientEmail))
	}
	sb.WriteString(fmt.Sprintf(" on %s at %s", *d.Date, *d.Time))
	if d.Duration != "" {
		sb.WriteString(" for " + d.Duration)
	}
	if d.Purpose != nil {
		sb.WriteString(". Purpose: " + *d.Purpose)
	}

	switch {
	case d.EventStatus == EventCreated:
		sb.WriteString("\nOutlook calendar event has been created and invites have been sent.")
	case d.EventStatus == EventFailed:
		sb.WriteString("\nNote: Failed to create Outlook calendar event.")
	case strings.HasPrefix(d.EventStatus, eventErrorPrefix):
		sb.WriteString("\nNote: Error creating calendar event - " + d.EventStatus)
	}

	return sb.String()
}
