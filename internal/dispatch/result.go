package dispatch

// ResultType tags the outcome of one dispatched turn.
type ResultType string

const (
	ResultGreeting ResultType = "greeting"
	ResultMeeting  ResultType = "meeting"
	ResultPayment  ResultType = "payment_reminder"
	ResultGeneral  ResultType = "general"
	ResultError    ResultType = "error"
	ResultUnknown  ResultType = "unknown"
)

// Event status values recorded on a meeting after a booking attempt.
const (
	EventCreated     = "created"
	EventFailed      = "failed"
	eventErrorPrefix = "error"
)

// MeetingDetails is the per-turn meeting record. Extracted fields stay nil
// until validated; ClientEmail is only ever populated from the directory,
// never from extractor output. Discarded at end of turn.
type MeetingDetails struct {
	ClientName  *string
	ClientEmail string
	Date        *string
	Time        *string
	Duration    string
	Purpose     *string
	EventStatus string
}

// PaymentDetails is the per-turn payment reminder record.
type PaymentDetails struct {
	UserEmail   string
	ClientName  *string
	ClientEmail string
	AmountDue   *float64
	DueDate     *string
	Purpose     *string
}

// Result is the tagged union passed from handlers to the formatter.
// Meeting and Missing are populated for ResultMeeting only.
type Result struct {
	Type    ResultType
	Message string
	Meeting *MeetingDetails
	Missing []string
}
