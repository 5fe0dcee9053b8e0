package dispatch

import "strings"

type greeting struct {
	keyword string
	reply   string
}

// Checked in order; first keyword contained in the message wins.
var greetings = []greeting{
	{"hello", "Hello! I'm your AI assistant. I can help you with various tasks including meeting scheduling, answering questions, and more. How can I help you today?"},
	{"hi", "Hi there! How can I assist you today?"},
	{"hey", "Hey! What can I do for you?"},
	{"help", "I can help you with:\n1. Scheduling meetings\n2. Answering general questions\n3. Payment reminders\n4. And more!\nWhat would you like to know about?"},
}

// handleGreeting answers greetings from a canned table without touching any
// external service.
func handleGreeting(text string) Result {
	lower := strings.ToLower(text)
	for _, g := range greetings {
		if strings.Contains(lower, g.keyword) {
			return Result{Type: ResultGreeting, Message: g.reply}
		}
	}
	return Result{Type: ResultUnknown, Message: "How can I assist you today?"}
}
