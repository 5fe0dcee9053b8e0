package dispatch

import "strings"

// Intent is the coarse category assigned to one user message.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentMeeting  Intent = "meeting"
	IntentPayment  Intent = "payment_reminder"
	IntentGeneral  Intent = "general"
)

// Keyword sets checked in priority order; first match wins, so a message
// containing both "hi" and "meeting" resolves to greeting.
var (
	greetingKeywords = []string{"hello", "hi", "hey", "help"}
	meetingKeywords  = []string{"schedule", "meeting", "appointment", "arrange", "book"}
	paymentKeywords  = []string{"payment", "reminder", "due", "amount", "pay", "invoice"}
)

// Classify maps raw message text to an intent. Total over any input;
// no keyword match defaults to general.
func Classify(text string) Intent {
	lower := strings.ToLower(text)

	if containsAny(lower, greetingKeywords) {
		return IntentGreeting
	}
	if containsAny(lower, meetingKeywords) {
		return IntentMeeting
	}
	if containsAny(lower, paymentKeywords) {
		return IntentPayment
	}
	return IntentGeneral
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
