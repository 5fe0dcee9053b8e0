package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04"
	defaultDuration = "1 hour"
	defaultMinutes  = 60
)

// validateDateTime checks the extracted date and time formats independently.
// Nil fields pass; a malformed value fails the whole turn.
func validateDateTime(date, timeOfDay *string) *ValidationError {
	if date != nil {
		if _, err := time.Parse(dateLayout, *date); err != nil {
			return &ValidationError{
				Field:   "date",
				Message: fmt.Sprintf("Invalid date format: %s. Please use YYYY-MM-DD format.", *date),
			}
		}
	}
	if timeOfDay != nil {
		if _, err := time.Parse(timeLayout, *timeOfDay); err != nil {
			return &ValidationError{
				Field:   "time",
				Message: fmt.Sprintf("Invalid time format: %s. Please use HH:MM format (24-hour).", *timeOfDay),
			}
		}
	}
	return nil
}

// parseDurationMinutes turns a free-text duration into minutes using simple
// unit detection. Unrecognised or unparsable input silently defaults to an
// hour; duration is never a validation failure.
func parseDurationMinutes(duration string) int {
	duration = strings.ToLower(strings.TrimSpace(duration))
	if duration == "" {
		return defaultMinutes
	}

	fields := strings.Fields(duration)
	if len(fields) == 0 {
		return defaultMinutes
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return defaultMinutes
	}

	switch {
	case strings.Contains(duration, "hour"):
		return n * 60
	case strings.Contains(duration, "min"):
		return n
	default:
		return defaultMinutes
	}
}

// missingMeetingFields lists the required fields still absent. Duration is
// never missing since it defaults.
func missingMeetingFields(d *MeetingDetails) []string {
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
	if d.Purpose == nil {
		missing = append(missing, "purpose")
	}
	return missing
}
